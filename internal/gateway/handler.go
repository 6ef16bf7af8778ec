package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/af-corp/conduit/internal/credential"
	"github.com/af-corp/conduit/internal/generator"
	"github.com/af-corp/conduit/internal/history"
	"github.com/af-corp/conduit/internal/httputil"
	"github.com/af-corp/conduit/internal/pipeline"
	"github.com/af-corp/conduit/internal/ratelimit"
	"github.com/af-corp/conduit/internal/types"
)

// Handler holds dependencies for the endpoint HTTP handlers.
type Handler struct {
	registry *Registry
	limiter  *ratelimit.Limiter
	log      *slog.Logger
}

func NewHandler(registry *Registry, limiter *ratelimit.Limiter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry: registry,
		limiter:  limiter,
		log:      logger,
	}
}

// Routes mounts the endpoint surface on a chi router.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/v1/endpoints", h.ListEndpoints)
	r.Post("/v1/endpoints/{name}/query", h.Query)
	r.Delete("/v1/endpoints/{name}/conversations/{id}", h.DeleteConversation)
}

// Query handles POST /v1/endpoints/{name}/query.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	receivedAt := time.Now()

	name := chi.URLParam(r, "name")
	ep, ok := h.registry.Lookup(name)
	if !ok {
		httputil.WriteNotFoundError(w, reqID, "Unknown endpoint: "+name)
		return
	}

	var req types.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequestError(w, reqID, "Invalid JSON: "+err.Error())
		return
	}
	defer r.Body.Close()

	req.Token = bearerToken(r)
	req.RequestID = reqID
	req.Endpoint = name
	req.ReceivedAt = receivedAt

	if ep.RateLimit.Enabled && h.limiter != nil {
		result, err := h.limiter.CheckOwner(r.Context(), name, limiterKey(req, r), int64(ep.RateLimit.Limit), ep.RateLimit.Window)
		if err == nil && !result.Allowed {
			httputil.WriteRateLimitError(w, reqID, "Rate limit exceeded, retry later")
			return
		}
	}

	resp, err := ep.Pipeline.Handle(r.Context(), req)
	if err != nil {
		h.writeFailure(w, reqID, name, err)
		return
	}

	h.log.Info("request completed",
		"request_id", reqID,
		"endpoint", name,
		"kind", resp.Kind,
		"cached", resp.Cached,
		"chat_id", resp.ChatID,
		"duration_ms", time.Since(receivedAt).Milliseconds(),
	)
	httputil.WriteJSON(w, reqID, resp)
}

// DeleteConversation handles DELETE /v1/endpoints/{name}/conversations/{id}.
func (h *Handler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	name := chi.URLParam(r, "name")
	ep, ok := h.registry.Lookup(name)
	if !ok {
		httputil.WriteNotFoundError(w, reqID, "Unknown endpoint: "+name)
		return
	}
	if ep.History == nil {
		httputil.WriteBadRequestError(w, reqID, "Chat history is not enabled for this endpoint")
		return
	}

	id := chi.URLParam(r, "id")
	deleted, err := ep.History.Delete(r.Context(), id)
	if err != nil {
		h.log.Error("conversation delete failed", "request_id", reqID, "endpoint", name, "error", err)
		httputil.WriteInternalError(w, reqID, "Failed to delete conversation")
		return
	}
	if !deleted {
		httputil.WriteNotFoundError(w, reqID, "Unknown conversation id")
		return
	}

	h.log.Info("conversation deleted", "request_id", reqID, "endpoint", name, "chat_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// ListEndpoints handles GET /v1/endpoints.
func (h *Handler) ListEndpoints(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, w.Header().Get("X-Request-ID"), map[string][]string{
		"endpoints": h.registry.Names(),
	})
}

// writeFailure maps pipeline errors onto the uniform error envelope. Internal
// detail stays in the log; callers get a stable, terse message.
func (h *Handler) writeFailure(w http.ResponseWriter, reqID, endpoint string, err error) {
	h.log.Warn("request failed", "request_id", reqID, "endpoint", endpoint, "error", err)

	switch {
	case errors.Is(err, credential.ErrLimitExceeded):
		httputil.WriteRateLimitError(w, reqID, "Credential request limit exceeded")
	case errors.Is(err, credential.ErrTokenMissing):
		httputil.WriteAuthError(w, reqID, "Authorization required")
	case errors.Is(err, credential.ErrTokenNotFound):
		httputil.WriteAuthError(w, reqID, "Unknown credential")
	case errors.Is(err, credential.ErrDisabled):
		httputil.WriteAuthError(w, reqID, "Credential is disabled")
	case errors.Is(err, credential.ErrOwnerMismatch):
		httputil.WriteAuthError(w, reqID, "Credential owner mismatch")
	case errors.Is(err, credential.ErrEndpointNotAllowed):
		httputil.WriteAuthError(w, reqID, "Endpoint not allowed for this credential")
	case errors.Is(err, credential.ErrStoreNotInitialized):
		httputil.WriteAuthError(w, reqID, "Credential store not initialized")
	case errors.Is(err, history.ErrNotFound):
		httputil.WriteNotFoundError(w, reqID, "Unknown chat id")
	case errors.Is(err, pipeline.ErrInvalidKind):
		httputil.WriteBadRequestError(w, reqID, "Invalid output kind")
	case errors.Is(err, generator.ErrCircuitOpen):
		httputil.WriteUnavailableError(w, reqID, "Generation temporarily unavailable")
	case errors.Is(err, pipeline.ErrGeneration):
		httputil.WriteError(w, reqID, http.StatusBadGateway, "Generation failed")
	default:
		httputil.WriteInternalError(w, reqID, "Internal error")
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// limiterKey picks the most specific stable identity available for rate
// limiting: claimed owner, then credential prefix, then remote address.
func limiterKey(req types.QueryRequest, r *http.Request) string {
	if req.OwnerID != "" {
		return req.OwnerID
	}
	if req.Token != "" {
		return credential.TokenPrefix(req.Token)
	}
	return r.RemoteAddr
}
