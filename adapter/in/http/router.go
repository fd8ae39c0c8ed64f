package http

import (
	"github.com/gofiber/fiber/v2"

	"mailbridge/core/service/auth"
	"mailbridge/infra/middleware"
)

// Handlers bundles everything the router mounts.
type Handlers struct {
	Auth     *AuthHandler
	Accounts *AccountHandler
	Emails   *EmailHandler
	Search   *SearchHandler
	Health   *HealthHandler
}

// RegisterRoutes mounts the API. Everything under /api except auth and the
// OAuth callback sits behind the bearer middleware.
func RegisterRoutes(app *fiber.App, h Handlers, authService *auth.Service) {
	app.Get("/health", h.Health.Live)
	app.Get("/health/ready", h.Health.Ready)

	api := app.Group("/api")

	authGroup := api.Group("/auth")
	authGroup.Post("/signup", h.Auth.Signup)
	authGroup.Post("/login", h.Auth.Login)
	authGroup.Post("/refresh", h.Auth.Refresh)

	// The OAuth callback is hit by a browser redirect from Microsoft; the
	// state nonce carries the user binding instead of a bearer token.
	api.Get("/accounts/oauth/callback", h.Accounts.OAuthCallback)

	protected := api.Group("", middleware.Auth(authService))
	protected.Post("/auth/logout", h.Auth.Logout)

	accounts := protected.Group("/accounts")
	accounts.Post("/", h.Accounts.Register)
	accounts.Get("/", h.Accounts.List)
	accounts.Get("/oauth/start", h.Accounts.OAuthStart)
	accounts.Get("/:id", h.Accounts.Get)
	accounts.Patch("/:id", h.Accounts.UpdatePassword)
	accounts.Delete("/:id", h.Accounts.Delete)
	accounts.Post("/:id/sync", h.Accounts.TriggerSync)

	emails := protected.Group("/emails")
	emails.Get("/", h.Emails.List)
	emails.Get("/:id", h.Emails.Get)
	emails.Patch("/:id/read", h.Emails.SetReadStatus)
	emails.Delete("/:id", h.Emails.Delete)

	protected.Get("/search", h.Search.Search)
}
