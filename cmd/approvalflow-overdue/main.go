// Package main provides the overdue sweep scheduler. It periodically scans
// for in-progress requests past their step due date and publishes an overdue
// event for each one.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	cli "github.com/urfave/cli/v3"

	"github.com/procurio/approvalflow/pkg/cmd"
	"github.com/procurio/approvalflow/pkg/log"
	"github.com/procurio/approvalflow/pkg/otelhelper"
	"github.com/procurio/approvalflow/pkg/services"
)

const defaultSchedule = "*/15 * * * *"

func main() {
	logger := log.WithModule("overdue")

	command := &cli.Command{
		Name:                  "approvalflow-overdue",
		Usage:                 "Flag overdue approval requests on a schedule",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "event-bus",
				Usage:    "Event bus type (kafka, gochannel)",
				Value:    "kafka",
				Required: false,
				Sources:  cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "schedule",
				Usage:   "Cron expression for the sweep interval",
				Value:   defaultSchedule,
				Sources: cli.EnvVars("OVERDUE_SCHEDULE"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			tracerProvider, err := otelhelper.InitTracer(ctx, "approvalflow-overdue")
			if err != nil {
				return fmt.Errorf("failed to initialize tracer: %w", err)
			}

			defer func() {
				if err := tracerProvider.Shutdown(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
				}
			}()

			logger.InfoContext(ctx, "Initializing Approvalflow overdue sweeper")

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))

			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			detector := services.NewOverdueDetector(persistence, eventBus, logger)

			scheduler := cron.New()

			_, err = scheduler.AddFunc(command.String("schedule"), func() {
				_, err := detector.Sweep(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Overdue sweep failed", "error", err)
				}
			})
			if err != nil {
				return err
			}

			scheduler.Start()
			defer scheduler.Stop()

			logger.InfoContext(ctx, "Overdue sweeper started", "schedule", command.String("schedule"))

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			logger.InfoContext(ctx, "Shutting down overdue sweeper")

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
