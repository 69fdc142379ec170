package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/specdex/internal/workspace"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *workspace.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Elements.
	r.Get("/elements", h.ListElements)
	r.Get("/elements/{id}", h.GetElement)
	r.Get("/elements/{id}/references", h.References)
	r.Get("/elements/{id}/backlinks", h.Backlinks)
	r.Put("/elements/{id}/body", h.ReplaceBody)

	// Search.
	r.Get("/search", h.Search)
	r.Get("/fulltext", h.FullText)

	// Index health.
	r.Get("/validation", h.Validation)
	r.Get("/stats", h.Stats)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
