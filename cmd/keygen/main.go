// Command keygen mints a credential token and registers it in the database.
// The raw token is printed once; only its hash is stored.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/af-corp/conduit/internal/credential"
)

func main() {
	owner := flag.String("owner", "", "owner ID the credential belongs to (required)")
	env := flag.String("env", "prod", "environment prefix embedded in the token")
	endpoints := flag.String("endpoints", "all", "comma-separated endpoint allow list")
	limit := flag.Int("limit", 0, "lifetime request limit (0 = unlimited)")
	dbURL := flag.String("db-url", "", "database URL (overrides env)")
	flag.Parse()

	if *owner == "" {
		flag.Usage()
		fmt.Fprintln(os.Stderr, "\nerror: -owner is required")
		os.Exit(1)
	}

	rawToken, err := credential.GenerateToken(*env)
	if err != nil {
		log.Fatalf("failed to generate token: %v", err)
	}

	nc := credential.NewCredential{
		OwnerID:          *owner,
		AllowedEndpoints: splitList(*endpoints),
	}
	if *limit > 0 {
		nc.RequestLimit = limit
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, resolveDSN(*dbURL))
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer pool.Close()

	store := credential.NewPostgresStore(pool, nil)
	if err := store.Add(ctx, rawToken, nc); err != nil {
		log.Fatalf("failed to register credential: %v", err)
	}

	fmt.Println("=== Conduit Credential Generated ===")
	fmt.Println()
	fmt.Printf("  Owner:     %s\n", *owner)
	fmt.Printf("  Prefix:    %s\n", credential.TokenPrefix(rawToken))
	fmt.Printf("  Endpoints: %s\n", *endpoints)
	if *limit > 0 {
		fmt.Printf("  Limit:     %d requests\n", *limit)
	} else {
		fmt.Println("  Limit:     unlimited")
	}
	fmt.Println()
	fmt.Println("  Token (save this, it will NOT be shown again):")
	fmt.Printf("  %s\n", rawToken)
	fmt.Println()
	fmt.Println("====================================")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func resolveDSN(override string) string {
	if override != "" {
		return override
	}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}
	host := envOrDefault("DB_HOST", "localhost")
	port := envOrDefault("DB_PORT", "5432")
	user := envOrDefault("DB_USER", "conduit")
	pass := envOrDefault("DB_PASSWORD", "conduit-dev")
	name := envOrDefault("DB_NAME", "conduit")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, pass, host, port, name)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
