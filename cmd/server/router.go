package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/HammerMeetNail/nearby/internal/config"
	"github.com/HammerMeetNail/nearby/internal/handlers"
	"github.com/HammerMeetNail/nearby/internal/logging"
	"github.com/HammerMeetNail/nearby/internal/middleware"
	"github.com/HammerMeetNail/nearby/internal/mute"
	"github.com/HammerMeetNail/nearby/internal/services"
	"github.com/HammerMeetNail/nearby/internal/ws"
)

type routerDeps struct {
	cfg         *config.Config
	logger      *logging.Logger
	db          handlers.HealthChecker
	redis       handlers.HealthChecker
	hub         *ws.Hub
	users       services.UserServiceInterface
	invitations services.InvitationServiceInterface
	messages    services.MessageServiceInterface
	rooms       services.EventRoomServiceInterface
	mutes       mute.Backend
	muteNotify  mute.Publisher
	limiter     *middleware.RateLimiter
}

// newServer builds the full handler chain. Outermost first: security headers,
// token parsing, request logging, CORS, then the router.
func newServer(d routerDeps) http.Handler {
	auth := middleware.NewAuthMiddleware(d.cfg.Auth.JWTSecret, d.cfg.Auth.Issuer)

	healthHandler := handlers.NewHealthHandler(d.db, d.redis, d.hub)
	invitationHandler := handlers.NewInvitationHandler(d.invitations, d.users)
	messageHandler := handlers.NewMessageHandler(d.messages, d.cfg.Chat.MaxMessageLength)
	inboxHandler := handlers.NewInboxHandler(d.invitations, d.rooms, d.messages, d.mutes)
	if d.muteNotify != nil {
		inboxHandler.SetMuteNotifier(d.muteNotify)
	}
	wsHandler := handlers.NewWSHandler(d.hub, d.cfg.Chat.AllowedOrigins)

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.cfg.Chat.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{middleware.RequestIDHeader, "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Get("/live", healthHandler.Live)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth)
		if d.limiter != nil {
			r.Use(d.limiter.Middleware)
		}

		r.Get("/ws", wsHandler.ServeWS)

		r.Route("/api", func(r chi.Router) {
			r.Get("/inbox", inboxHandler.Get)
			r.Get("/mutes", inboxHandler.ListMutes)

			r.Route("/invitations", func(r chi.Router) {
				r.Get("/", invitationHandler.List)
				r.Post("/", invitationHandler.Send)
				r.Post("/{id}/accept", invitationHandler.Accept)
				r.Post("/{id}/decline", invitationHandler.Decline)
				r.Delete("/{id}", invitationHandler.Cancel)
			})

			r.Route("/threads/{thread}", func(r chi.Router) {
				r.Get("/messages", messageHandler.List)
				r.Post("/messages", messageHandler.Send)
				r.Post("/read", messageHandler.MarkRead)
				r.Put("/mute", inboxHandler.SetMute)
			})
		})
	})

	var handler http.Handler = r
	handler = middleware.NewRequestLogger(d.logger).Apply(handler)
	handler = auth.Authenticate(handler)
	handler = middleware.NewSecurityHeaders(d.cfg.Server.Secure).Apply(handler)
	return handler
}
