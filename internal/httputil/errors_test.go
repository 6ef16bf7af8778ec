package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/af-corp/conduit/internal/types"
)

func TestWriteError_Shape(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, "req-1", http.StatusBadRequest, "query is required")

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %s", ct)
	}
	if id := w.Header().Get("X-Request-ID"); id != "req-1" {
		t.Errorf("request id header = %s", id)
	}

	var body types.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Error != "query is required" {
		t.Errorf("error message = %q", body.Error)
	}
}

func TestWriteHelpers_StatusCodes(t *testing.T) {
	tests := []struct {
		name  string
		write func(http.ResponseWriter, string, string)
		want  int
	}{
		{"auth", WriteAuthError, http.StatusUnauthorized},
		{"bad request", WriteBadRequestError, http.StatusBadRequest},
		{"not found", WriteNotFoundError, http.StatusNotFound},
		{"rate limit", WriteRateLimitError, http.StatusTooManyRequests},
		{"internal", WriteInternalError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w, "req-1", "boom")
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}
