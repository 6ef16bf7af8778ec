package history

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by PostgreSQL: a conversations row per id
// and a seq-ordered conversation_messages row per message.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, initial []Message) (string, error) {
	id, err := NewConversationID()
	if err != nil {
		return "", err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("history: begin create: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `INSERT INTO conversations (id) VALUES ($1)`, id); err != nil {
		return "", fmt.Errorf("history: insert conversation: %w", err)
	}
	if err := insertMessages(ctx, tx, id, initial); err != nil {
		return "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("history: commit create: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) Overwrite(ctx context.Context, id string, messages []Message) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("history: begin overwrite: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := touchConversation(ctx, tx, id); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM conversation_messages WHERE conversation_id = $1`, id); err != nil {
		return fmt.Errorf("history: clear messages: %w", err)
	}
	if err := insertMessages(ctx, tx, id, messages); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) Append(ctx context.Context, id string, messages []Message) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("history: begin append: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := touchConversation(ctx, tx, id); err != nil {
		return err
	}
	if err := insertMessages(ctx, tx, id, messages); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) Fetch(ctx context.Context, id string) ([]Message, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM conversations WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("history: check conversation: %w", err)
	}
	if !exists {
		return nil, ErrNotFound
	}

	rows, err := s.db.Query(ctx, `
		SELECT role, content, created_at
		FROM conversation_messages
		WHERE conversation_id = $1
		ORDER BY seq ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("history: fetch messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("history: scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: fetch messages: %w", err)
	}
	return messages, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("history: delete conversation: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func touchConversation(ctx context.Context, tx pgx.Tx, id string) error {
	tag, err := tx.Exec(ctx, `UPDATE conversations SET updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("history: touch conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func insertMessages(ctx context.Context, tx pgx.Tx, id string, messages []Message) error {
	for _, m := range messages {
		_, err := tx.Exec(ctx, `
			INSERT INTO conversation_messages (id, conversation_id, seq, role, content)
			VALUES ($1, $2, COALESCE((SELECT MAX(seq) FROM conversation_messages WHERE conversation_id = $2), 0) + 1, $3, $4)
		`, uuid.New().String(), id, m.Role, m.Content)
		if err != nil {
			return fmt.Errorf("history: insert message: %w", err)
		}
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
