// Package main provides the cadence API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/cadencehq/cadence/pkg/persistence"
	"github.com/cadencehq/cadence/pkg/services"
	"github.com/cadencehq/cadence/pkg/watcher"
	"github.com/cadencehq/cadence/pkg/web"
	"github.com/cadencehq/cadence/pkg/workflow"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	engine      *workflow.Engine
	watcher     *watcher.Watcher
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	engine *workflow.Engine,
	w *watcher.Watcher,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		engine:      engine,
		watcher:     w,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	workflowService := services.NewWorkflow(a.persistence)
	enrollmentService := services.NewEnrollment(a.persistence)

	handlers := web.NewAPIHandlers(workflowService, enrollmentService, a.engine, a.watcher, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Cadence API")
	})

	w := app.Group("/workflows")
	w.Get("/", handlers.GetWorkflows)
	w.Post("/", handlers.CreateWorkflow)
	w.Get("/:id", handlers.GetWorkflow)
	w.Patch("/:id", handlers.UpdateWorkflow)
	w.Delete("/:id", handlers.ArchiveWorkflow)
	w.Post("/:id/activate", handlers.ActivateWorkflow)
	w.Post("/:id/pause", handlers.PauseWorkflow)

	e := app.Group("/enrollments")
	e.Get("/", handlers.GetEnrollments)
	e.Get("/:id", handlers.GetEnrollment)

	app.Post("/events", handlers.IngestEvent)
	app.Post("/sweeps", handlers.TriggerSweep)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
