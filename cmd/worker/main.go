package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	temporalclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/edvin/oncall/internal/activity"
	"github.com/edvin/oncall/internal/config"
	"github.com/edvin/oncall/internal/core"
	"github.com/edvin/oncall/internal/db"
	"github.com/edvin/oncall/internal/escalation"
	"github.com/edvin/oncall/internal/logging"
	"github.com/edvin/oncall/internal/metrics"
	"github.com/edvin/oncall/internal/notify"
	"github.com/edvin/oncall/internal/seed"
	"github.com/edvin/oncall/internal/workflow"
)

const taskQueue = "oncall-tasks"

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate("worker"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	metrics.RegisterPgxPoolMetrics(pool)

	services := core.NewServices(pool, time.Duration(cfg.PolicyCacheTTLSeconds)*time.Second)

	if cfg.PolicySeedPath != "" {
		f, err := seed.Load(cfg.PolicySeedPath)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.PolicySeedPath).Msg("failed to load policy seed")
		}
		if err := seed.Apply(ctx, f, services.Policy, logger); err != nil {
			logger.Fatal().Err(err).Msg("failed to apply policy seed")
		}
	}

	dispatcher := buildDispatcher(cfg, logger, services.Notification)
	resolver := escalation.NewResolver(services.Incident, services.User, logger)
	executor := escalation.NewExecutor(resolver, services.Incident, dispatcher, logger)
	evaluator := escalation.NewEvaluator(services.Incident, services.Policy, services.Event, executor, logger)

	tc, err := temporalclient.Dial(temporalclient.Options{HostPort: cfg.TemporalAddress})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to temporal")
	}
	defer tc.Close()

	w := worker.New(tc, taskQueue, worker.Options{})

	w.RegisterActivity(activity.NewEscalation(services.Incident, evaluator, logger))
	w.RegisterWorkflow(workflow.EscalationSweepWorkflow)

	if cfg.MetricsListenAddr != "" {
		metricsSrv := metrics.NewServer(cfg.MetricsListenAddr)
		go func() {
			logger.Info().Str("addr", cfg.MetricsListenAddr).Msg("starting metrics server")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	go func() {
		logger.Info().Str("taskQueue", taskQueue).Msg("starting temporal worker")
		if err := w.Run(worker.InterruptCh()); err != nil {
			logger.Fatal().Err(err).Msg("worker failed")
		}
	}()

	// Register cron schedules. Errors for already-existing schedules are
	// ignored so that re-deploys do not fail.
	registerCronSchedules(ctx, tc, cfg, logger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down worker")
	cancel()
}

func registerCronSchedules(ctx context.Context, tc temporalclient.Client, cfg *config.Config, logger zerolog.Logger) {
	scheduleClient := tc.ScheduleClient()

	id := "escalation-sweep-cron"
	_, err := scheduleClient.Create(ctx, temporalclient.ScheduleOptions{
		ID: id,
		Spec: temporalclient.ScheduleSpec{
			CronExpressions: []string{cfg.SweepCron},
		},
		Action: &temporalclient.ScheduleWorkflowAction{
			ID:        id,
			Workflow:  workflow.EscalationSweepWorkflow,
			TaskQueue: taskQueue,
		},
	})
	if err != nil {
		if strings.Contains(err.Error(), "already exists") || strings.Contains(err.Error(), "AlreadyExists") || strings.Contains(err.Error(), "already registered") {
			logger.Info().Str("id", id).Msg("cron schedule already exists, skipping")
		} else {
			logger.Fatal().Err(err).Str("id", id).Msg("failed to create cron schedule")
		}
	} else {
		logger.Info().Str("id", id).Str("cron", cfg.SweepCron).Msg("created cron schedule")
	}
}

// buildDispatcher assembles the notification transport chain from config.
// Every delivery goes through the recording layer so the audit trail is
// complete regardless of transport.
func buildDispatcher(cfg *config.Config, logger zerolog.Logger, recorder notify.Recorder) notify.Dispatcher {
	dispatchers := []notify.Dispatcher{notify.NewLogDispatcher(logger, cfg.EmailFromAddr)}
	if cfg.SlackToken != "" && cfg.SlackChannel != "" {
		dispatchers = append(dispatchers, notify.NewSlackDispatcher(cfg.SlackToken, cfg.SlackChannel))
	}
	if cfg.WebhookURL != "" {
		dispatchers = append(dispatchers, notify.NewWebhookDispatcher(cfg.WebhookURL))
	}

	var d notify.Dispatcher = dispatchers[0]
	if len(dispatchers) > 1 {
		d = notify.NewMultiDispatcher(dispatchers...)
	}
	return notify.NewRecordingDispatcher(d, recorder)
}
