// Package main provides the Approvalflow API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/procurio/approvalflow/pkg/directory"
	"github.com/procurio/approvalflow/pkg/eventbus"
	"github.com/procurio/approvalflow/pkg/persistence"
	"github.com/procurio/approvalflow/pkg/services"
	"github.com/procurio/approvalflow/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	directory   directory.Directory
	eventBus    eventbus.EventBus
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	directory directory.Directory,
	eventBus eventbus.EventBus,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		directory:   directory,
		eventBus:    eventBus,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	resolver := services.NewStepResolver(a.directory)
	workflowService := services.NewWorkflow(a.persistence)
	requestService := services.NewRequest(a.persistence, resolver, a.eventBus, a.logger)
	processor := services.NewProcessor(a.persistence, a.directory, resolver, a.eventBus, a.logger)
	overdueDetector := services.NewOverdueDetector(a.persistence, a.eventBus, a.logger)
	statistics := services.NewStatistics(a.persistence, a.logger)

	handlers := web.NewAPIHandlers(workflowService, requestService, processor, overdueDetector, statistics, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Approvalflow API")
	})

	w := app.Group("/workflows")
	w.Get("/", handlers.GetWorkflows)
	w.Post("/", handlers.CreateWorkflow)
	w.Post("/import", handlers.ImportWorkflow)
	w.Get("/:id", handlers.GetWorkflow)
	w.Patch("/:id", handlers.UpdateWorkflow)
	w.Delete("/:id", handlers.DeleteWorkflow)
	w.Post("/:id/activate", handlers.ActivateWorkflow)
	w.Post("/:id/deactivate", handlers.DeactivateWorkflow)

	// Step endpoints:
	w.Post("/:id/steps", handlers.AddStep)
	w.Patch("/:id/steps/:order", handlers.UpdateStep)
	w.Delete("/:id/steps/:order", handlers.DeleteStep)

	r := app.Group("/requests")
	r.Get("/", handlers.GetRequests)
	r.Post("/", handlers.CreateRequest)
	r.Get("/overdue", handlers.GetOverdueRequests)
	r.Get("/:id", handlers.GetRequest)
	r.Post("/:id/start", handlers.StartRequest)
	r.Post("/:id/actions", handlers.ProcessAction)
	r.Get("/:id/actions", handlers.GetRequestActions)

	app.Get("/statistics", handlers.GetStatistics)
	app.Get("/statistics/users/:userId", handlers.GetUserStatistics)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
