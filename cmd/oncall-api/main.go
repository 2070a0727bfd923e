package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/edvin/oncall/internal/api"
	"github.com/edvin/oncall/internal/config"
	"github.com/edvin/oncall/internal/core"
	"github.com/edvin/oncall/internal/db"
	"github.com/edvin/oncall/internal/escalation"
	"github.com/edvin/oncall/internal/logging"
	"github.com/edvin/oncall/internal/metrics"
	"github.com/edvin/oncall/internal/notify"
)

func main() {
	if len(os.Args) >= 2 && os.Args[1] == "create-api-key" {
		createAPIKey(os.Args[2:])
		return
	}

	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	migrateDirFlag := flag.String("migrate-dir", "migrations/core", "Migration files directory")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate("oncall-api"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	if *migrateFlag {
		logger.Info().Str("dir", *migrateDirFlag).Msg("running database migrations")
		if err := db.RunMigrations(cfg.DatabaseURL, *migrateDirFlag); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	metrics.RegisterPgxPoolMetrics(pool)

	tc, err := temporalclient.Dial(temporalclient.Options{HostPort: cfg.TemporalAddress})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to temporal")
	}
	defer tc.Close()

	services := core.NewServices(pool, time.Duration(cfg.PolicyCacheTTLSeconds)*time.Second)
	dispatcher := buildDispatcher(cfg, logger, services.Notification)

	resolver := escalation.NewResolver(services.Incident, services.User, logger)
	executor := escalation.NewExecutor(resolver, services.Incident, dispatcher, logger)
	evaluator := escalation.NewEvaluator(services.Incident, services.Policy, services.Event, executor, logger)

	srv := api.NewServer(logger, pool, tc, services, evaluator, cfg)

	httpServer := &http.Server{
		Addr:         cfg.HTTPListenAddr,
		Handler:      srv,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPListenAddr).Msg("starting API server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
}

func createAPIKey(args []string) {
	fs := flag.NewFlagSet("create-api-key", flag.ExitOnError)
	name := fs.String("name", "", "Name for the API key (required)")
	fs.Parse(args)

	if *name == "" {
		fmt.Fprintln(os.Stderr, "error: --name is required")
		fmt.Fprintln(os.Stderr, "usage: oncall-api create-api-key --name <name>")
		os.Exit(1)
	}

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	svc := core.NewAPIKeyService(pool)
	key, rawKey, err := svc.Create(ctx, *name, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to create API key: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("API key created successfully.\n\n")
	fmt.Printf("  Name:   %s\n", key.Name)
	fmt.Printf("  ID:     %s\n", key.ID)
	fmt.Printf("  Key:    %s\n\n", rawKey)
	fmt.Printf("Save this key, it will not be shown again.\n")
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
