package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/flemzord/hafiza/internal/assistant"
	"github.com/flemzord/hafiza/internal/chat"
	"github.com/flemzord/hafiza/internal/memory"
	"github.com/flemzord/hafiza/internal/provider"
	"github.com/flemzord/hafiza/internal/security"
	"github.com/go-chi/chi/v5"
)

// errorResponse is the body of every non-2xx API response.
type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg, RequestID: w.Header().Get(RequestIDHeader)})
}

// fail maps err to a status code. Unexpected errors are logged and hidden
// behind a generic message.
func (g *Gateway) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		g.logger.Error("gateway: request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", RequestID(r.Context()),
			"error", err,
		)
		writeError(w, code, "internal error")
		return
	}
	writeError(w, code, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, memory.ErrInvalidKind),
		errors.Is(err, memory.ErrEmptyText),
		errors.Is(err, memory.ErrEmptyUser),
		errors.Is(err, memory.ErrEmptyEmbedding),
		errors.Is(err, assistant.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, memory.ErrDimensionMismatch):
		return http.StatusConflict
	case errors.Is(err, chat.ErrConversationNotFound):
		return http.StatusNotFound
	case errors.Is(err, provider.ErrRateLimit):
		return http.StatusTooManyRequests
	case errors.Is(err, memory.ErrEmbedderUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, provider.ErrProviderDown),
		errors.Is(err, provider.ErrAllProviders),
		errors.Is(err, provider.ErrAuthentication),
		errors.Is(err, provider.ErrContextLength):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// decodeJSON reads the request body into v, rejecting unknown fields,
// trailing data and deep nesting.
func decodeJSON(r *http.Request, v any) error {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := security.DecodeStrict(data, v, 0); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// pathID parses the {id} URL parameter.
func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

// queryInt parses an optional non-negative integer query parameter.
func queryInt(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return n, nil
}

// userOr returns userID, or the assistant's default user when blank.
func (g *Gateway) userOr(userID string) string {
	if userID != "" {
		return userID
	}
	return g.defaultUser()
}

func (g *Gateway) defaultUser() string {
	if g.assistant != nil {
		return g.assistant.UserID()
	}
	return assistant.DefaultUserID
}
