package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/mohans/mineru-api/internal/apperrors"
)

type ServerConfig struct {
	Host      string
	Port      int
	BodyLimit int
	AccessLog bool
}

type HttpServer struct {
	cfg    ServerConfig
	app    *fiber.App
	logger *slog.Logger
}

func NewHttpServer(cfg ServerConfig, log *slog.Logger) *HttpServer {
	if log == nil {
		log = slog.Default()
	}
	bodyLimit := cfg.BodyLimit
	if bodyLimit <= 0 {
		bodyLimit = 200 * 1024 * 1024
	}

	app := fiber.New(fiber.Config{
		AppName:               "mineru-api",
		BodyLimit:             bodyLimit,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(log),
	})

	// middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Accept,Content-Type",
		MaxAge:       300,
	}))
	if cfg.AccessLog {
		app.Use(logger.New(logger.Config{
			Format:     "${time} ${status} - ${latency} ${method} ${path}\n",
			TimeFormat: "2006/01/02 15:04:05",
			Output:     os.Stdout,
		}))
	}

	// health check route
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ping": "pong"})
	})

	return &HttpServer{cfg: cfg, app: app, logger: log}
}

func (s *HttpServer) SetupRoute(h *TaskHandler) {
	s.app.Post("/upload", h.Upload)
	s.app.Get("/task/:task_id", h.Get)
	s.app.Get("/task/:task_id/artifacts/:kind", h.Artifact)
	s.app.Get("/stats", h.Stats)

	s.app.Use(func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "Not Found")
	})
}

// App exposes the fiber app, mainly for app.Test in tests.
func (s *HttpServer) App() *fiber.App { return s.app }

func (s *HttpServer) Start() {
	serverAddr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	go func() {
		s.logger.Info("http server listening", "addr", serverAddr)
		if err := s.app.Listen(serverAddr); err != nil {
			s.logger.Error("http server stopped", "error", err)
		}
	}()
}

func (s *HttpServer) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// errorHandler renders every error as {"detail": ...}.
func errorHandler(log *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		msg := "Internal Server Error"

		var fe *fiber.Error
		if appErr, ok := apperrors.As(err); ok {
			code = appErr.MapToHttpCode()
			msg = appErr.Message
		} else if errors.As(err, &fe) {
			code = fe.Code
			msg = fe.Message
		}
		if code >= fiber.StatusInternalServerError {
			log.Error("request failed", "method", c.Method(), "path", c.Path(), "status", code, "error", err)
		}
		return c.Status(code).JSON(ErrorResponse{Detail: msg})
	}
}
