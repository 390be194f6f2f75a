// Package http provides HTTP routing and middleware configuration
// for the firewatch service.
package http

import (
	"net/http"

	"github.com/atinyakov/firewatch/internal/middleware"
	"go.uber.org/zap"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// NewRouter constructs and returns an HTTP handler that serves the
// firewatch API under /api.
//
// Routes:
//
//	POST   /api/session                    → sessionHandler.SignIn
//	DELETE /api/session                    → sessionHandler.SignOut (token)
//	GET    /api/session                    → sessionHandler.Current (token)
//	POST   /api/collections                → collectionHandler.Subscribe (token)
//	GET    /api/collections                → collectionHandler.List (token)
//	GET    /api/collections/{name}         → collectionHandler.Get (token)
//	DELETE /api/collections/{name}         → collectionHandler.Dispose (token)
//	GET    /api/collections/{name}/history → collectionHandler.History (token)
//	GET    /api/collections/{name}/events  → collectionHandler.Events (token)
//
// Routes marked (token) require an "Authorization: Bearer" ID token of the
// signed-in principal, checked by authorizer. Every request is logged.
// POST bodies must be JSON.
func NewRouter(
	collectionHandler *CollectionHandler,
	sessionHandler *SessionHandler,
	authorizer middleware.TokenAuthorizer,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Log each request and its metadata
	r.Use(middleware.WithRequestLogging(logger))
	r.Use(chiMiddleware.Recoverer)
	// Lift bearer tokens into the request context
	r.Use(middleware.BearerToken)

	requireToken := middleware.RequireToken(authorizer)

	r.Route("/api", func(r chi.Router) {
		r.Route("/session", func(r chi.Router) {
			r.With(chiMiddleware.AllowContentType("application/json")).
				Post("/", sessionHandler.SignIn)
			r.With(requireToken).Delete("/", sessionHandler.SignOut)
			r.With(requireToken).Get("/", sessionHandler.Current)
		})

		// Protected group: requires the signed-in principal's token
		r.Route("/collections", func(r chi.Router) {
			r.Use(requireToken)
			r.With(chiMiddleware.AllowContentType("application/json")).
				Post("/", collectionHandler.Subscribe)
			r.Get("/", collectionHandler.List)
			r.Get("/{name}", collectionHandler.Get)
			r.Delete("/{name}", collectionHandler.Dispose)
			r.Get("/{name}/history", collectionHandler.History)
			r.Get("/{name}/events", collectionHandler.Events)
		})
	})

	return r
}
