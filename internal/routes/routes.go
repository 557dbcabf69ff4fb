package routes

import (
	"github.com/BradenHooton/marketauth/internal/auth"
	"github.com/BradenHooton/marketauth/internal/handlers"
	"github.com/BradenHooton/marketauth/internal/middleware"
	"github.com/go-chi/chi/v5"
)

// Handlers groups the HTTP handlers mounted by RegisterRoutes
type Handlers struct {
	Auth   *handlers.AuthHandler
	Users  *handlers.UserHandler
	OAuth  *handlers.OAuthHandler
	Health handlers.Pinger
}

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	h Handlers,
	sessions auth.SessionValidator,
	rateLimitConfig middleware.RateLimitConfig,
) {
	health := handlers.Health(h.Health)
	router.Get("/health", health)

	router.Route("/api", func(r chi.Router) {
		r.Get("/health", health)

		// Credential endpoints share one per-IP budget
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitByIP(rateLimitConfig))
			r.Get("/captcha", h.Auth.Captcha)
			r.Post("/login", h.Auth.Login)
			r.Post("/register", h.Auth.Register)
		})

		// Provider redirects; the link callback identifies the user by its signed state
		r.Get("/login/{provider}/init", h.OAuth.InitLogin)
		r.Get("/login/{provider}/callback", h.OAuth.LoginCallback)
		r.Get("/link/{provider}/callback", h.OAuth.LinkCallback)

		// Session required
		r.Group(func(r chi.Router) {
			r.Use(auth.AuthMiddleware(sessions))
			r.Get("/profile", h.Users.Profile)
			r.Post("/user/username", h.Users.ChangeUsername)
			r.Post("/user/password", h.Users.ChangePassword)
			r.Get("/link/{provider}/init", h.OAuth.InitLink)
		})
	})
}
