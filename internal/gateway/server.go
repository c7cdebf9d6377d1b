package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/flemzord/hafiza/internal/security"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	if g.limiter == nil {
		g.limiter = security.NewRateLimiter(g.config.RateLimit)
	}
	write := g.rateLimit(security.KindWrite)
	search := g.rateLimit(security.KindSearch)

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(middleware.Recoverer)
	if g.metrics != nil {
		r.Use(g.metrics.Middleware)
	}

	// Public, no auth required.
	r.Get("/health", g.handleHealth())
	if g.metrics != nil {
		r.Method(http.MethodGet, "/metrics", g.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		if g.config.Auth.IsConfigured() {
			r.Use(authMiddleware(g.config.Auth, g.logger))
		}
		r.Use(middleware.RequestSize(g.config.MaxBodyBytes))

		r.Route("/memories", func(r chi.Router) {
			r.Get("/", g.handleListMemories())
			r.With(write).Post("/", g.handleCreateMemory())
			r.With(write).Post("/upsert", g.handleUpsertMemory())
			r.Get("/{id}", g.handleGetMemory())
			r.With(write).Patch("/{id}", g.handleUpdateMemory())
			r.Delete("/{id}", g.handleDeleteMemory())
		})
		r.With(search).Post("/search", g.handleSearch())
		r.With(search).Post("/search/scoped", g.handleSearchScoped())
		r.With(search).Post("/context", g.handleContext())

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", g.handleListConversations())
			r.Post("/", g.handleCreateConversation())
			r.Get("/{id}", g.handleGetConversation())
			r.Patch("/{id}", g.handleRenameConversation())
			r.Delete("/{id}", g.handleDeleteConversation())
			r.With(g.rateLimit(security.KindTurn)).Post("/{id}/messages", g.handleTurn())
		})
	})

	return r
}
