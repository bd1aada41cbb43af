package server

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"go.uber.org/zap"

	"searchproxy/internal/config"
	"searchproxy/internal/cors"
	"searchproxy/internal/models"
	"searchproxy/internal/request"
)

// Server wraps the Fiber app and configuration.
type Server struct {
	App *fiber.App
	Cfg *config.Config
	Log *zap.Logger
}

// New creates a new server with middleware configured. The origin middleware
// wraps the classifier so every response gets origin headers, including
// classification failures and unmatched routes.
func New(cfg *config.Config, log *zap.Logger) *Server {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			message := "Internal Server Error"

			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
				message = e.Message
			}

			return c.Status(code).JSON(models.NewError("internal", message, nil))
		},
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.Middleware())
	app.Use(request.Middleware(cfg.SSRSecret))

	return &Server{
		App: app,
		Cfg: cfg,
		Log: log,
	}
}

// Start starts the server with the configured address.
func (s *Server) Start() error {
	s.Log.Info("server starting", zap.String("addr", s.Cfg.ServerAddr))
	return s.App.Listen(s.Cfg.ServerAddr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	return s.App.Shutdown()
}
