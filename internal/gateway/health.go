package gateway

import (
	"net/http"
	"time"
)

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status     string `json:"status"` // "ok" or "degraded"
	Uptime     int64  `json:"uptime_seconds"`
	Embedder   string `json:"embedder,omitempty"`
	Dimensions int    `json:"dimensions,omitempty"`
	Error      string `json:"error,omitempty"`
}

// handleHealth returns 200 when the memory store answers, 503 otherwise.
func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{Status: "ok"}
		if !g.startedAt.IsZero() {
			resp.Uptime = int64(time.Since(g.startedAt).Seconds())
		}
		if g.memories == nil {
			resp.Status = "degraded"
			resp.Error = "memory engine not available"
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}

		emb := g.memories.Embedder()
		resp.Embedder = emb.Model()
		resp.Dimensions = emb.Dimensions()

		if _, err := g.memories.Store().CountByUser(r.Context(), g.defaultUser()); err != nil {
			resp.Status = "degraded"
			resp.Error = "memory store unavailable"
			g.logger.Warn("health: store check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
