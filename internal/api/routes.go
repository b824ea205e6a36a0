package api

import (
	"net/http"

	"github.com/ashureev/digdeeper/internal/identity"
	"github.com/ashureev/digdeeper/internal/middleware"
	"github.com/ashureev/digdeeper/internal/ratelimit"
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers the exploration and conversation routes under /api.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		if h.health != nil {
			r.Method(http.MethodGet, "/health", h.health)
		}

		r.Group(func(r chi.Router) {
			r.Use(requireOwner)

			r.Route("/explorations", func(r chi.Router) {
				r.Post("/", h.CreateExploration)
				r.Post("/demo", h.CreateDemo)
				r.Get("/", h.ListExplorations)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.GetExploration)
					r.Patch("/", h.RenameExploration)
					r.Delete("/", h.DeleteExploration)

					r.Post("/segments", h.InsertSegment)
					r.Get("/segments/{segID}/children", h.ChildrenOf)
					r.Patch("/segments/{segID}", h.EditSegment)
					r.Post("/segments/{segID}/toggle", h.ToggleSegment)
					r.Delete("/segments/{segID}", h.RemoveSegment)

					r.With(h.limit(ratelimit.ScopeExplore)).Post("/dig", h.Dig)
					r.Delete("/dig", h.CancelDig)
					r.Delete("/dig/{segID}", h.CancelDig)
				})
			})

			r.Route("/conversations", func(r chi.Router) {
				r.Post("/", h.CreateConversation)
				r.Get("/", h.ListConversations)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.GetConversation)
					r.Delete("/", h.DeleteConversation)
					r.Post("/cancel", h.CancelReply)

					r.Group(func(r chi.Router) {
						r.Use(h.limit(ratelimit.ScopeChat))
						r.Post("/messages", h.SendMessage)
						r.Patch("/messages/{msgID}", h.EditMessage)
						r.Post("/regenerate", h.Regenerate)
					})
					r.With(h.limit(ratelimit.ScopeTitle)).Post("/title", h.Summarize)
				})
			})
		})
	})
}

// limit applies the rate limit for scope, or nothing when no limiter is set.
func (h *Handler) limit(scope string) func(http.Handler) http.Handler {
	if h.limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return middleware.RateLimit(h.limiter, scope, identity.OwnerFromRequest)
}
