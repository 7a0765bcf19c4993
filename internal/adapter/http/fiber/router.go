// Package fiber assembles the REST façade: a gofiber/fiber app with
// the teacher's CORS/circuit-breaker/error-handler middleware stack,
// routed to the four endpoints spec §6 names.
package fiber

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/evcharge/ems-coordinator/internal/adapter/http/fiber/handlers"
	"github.com/evcharge/ems-coordinator/internal/adapter/http/fiber/middleware"
	"github.com/evcharge/ems-coordinator/internal/coordinator"
	"github.com/evcharge/ems-coordinator/pkg/config"
)

// New builds the fiber app wired to coord. It does not call Listen;
// callers own the server lifecycle (cmd/server does, for graceful
// shutdown ordering against the coordinator and fabric adapter).
func New(coord *coordinator.Coordinator, cfg *config.Config, log *zap.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: middleware.ErrorHandler(log),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	})

	app.Use(middleware.NewCORS(cfg.CORS))
	if cfg.CircuitBreaker.Enabled {
		app.Use(middleware.CircuitBreakerWithConfig(middleware.CircuitBreakerConfig{
			Logger:      log,
			Name:        "ems-coordinator-api",
			MaxRequests: uint32(cfg.CircuitBreaker.MaxRequests),
			Interval:    cfg.CircuitBreaker.Interval,
			Timeout:     cfg.CircuitBreaker.Timeout,
		}))
	}

	h := handlers.NewSessionHandler(coord)
	app.Post("/sessions", h.Start)
	app.Post("/sessions/:id/stop", h.Stop)
	app.Post("/sessions/:id/power-update", h.PowerUpdate)
	app.Get("/station/status", h.StationStatus)

	return app
}
