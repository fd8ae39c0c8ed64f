package bootstrap

import (
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	apihttp "mailbridge/adapter/in/http"
	"mailbridge/config"
	"mailbridge/infra/middleware"
	"mailbridge/pkg/logger"
)

// NewAPI builds the fiber application with the full route surface.
func NewAPI(cfg *config.Config) (*fiber.App, func(), error) {
	initLogger(cfg, "mailbridge-api")

	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		return nil, nil, err
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler,
		DisableStartupMessage: cfg.IsProduction(),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		BodyLimit:             10 * 1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(compress.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.ClientURL,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PATCH, DELETE, OPTIONS",
	}))

	handlers := apihttp.Handlers{
		Auth:     apihttp.NewAuthHandler(deps.AuthService),
		Accounts: apihttp.NewAccountHandler(deps.AccountService, cfg.ClientURL),
		Emails:   apihttp.NewEmailHandler(deps.EmailService),
		Search:   apihttp.NewSearchHandler(deps.SearchService),
		Health:   apihttp.NewHealthHandler(deps.DB, deps.Redis),
	}
	apihttp.RegisterRoutes(app, handlers, deps.AuthService)

	logger.Info("API assembled")
	return app, cleanup, nil
}

func initLogger(cfg *config.Config, service string) {
	level := logger.LevelInfo
	if cfg.IsDevelopment() {
		level = logger.LevelDebug
	}
	logger.Init(logger.Config{Level: level, Service: service})
}
