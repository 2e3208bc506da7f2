// Command kernel runs the agent-kernel HTTP server: the event-sourcing
// write path, the claim-lease coordinator's background sweep, and the
// retention sweep, following cmd/tarsy/main.go's godotenv-then-config-
// then-serve startup shape and its graceful-shutdown-on-signal pattern.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/codeready-toolchain/agentkernel/pkg/approvals"
	"github.com/codeready-toolchain/agentkernel/pkg/claims"
	"github.com/codeready-toolchain/agentkernel/pkg/config"
	"github.com/codeready-toolchain/agentkernel/pkg/dbx"
	"github.com/codeready-toolchain/agentkernel/pkg/eventstore"
	"github.com/codeready-toolchain/agentkernel/pkg/httpapi"
	"github.com/codeready-toolchain/agentkernel/pkg/learning"
	"github.com/codeready-toolchain/agentkernel/pkg/livetail"
	"github.com/codeready-toolchain/agentkernel/pkg/policy"
	"github.com/codeready-toolchain/agentkernel/pkg/projector"
	"github.com/codeready-toolchain/agentkernel/pkg/retention"
	"github.com/codeready-toolchain/agentkernel/pkg/rooms"
	"github.com/codeready-toolchain/agentkernel/pkg/runs"
	"github.com/codeready-toolchain/agentkernel/pkg/security"
)

func main() {
	envFile := flag.String("env-file", getEnv("KERNEL_ENV_FILE", ".env"), "Path to a .env file to load before reading configuration")
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	if err := godotenv.Load(*envFile); err != nil {
		log.Warn("could not load env file, continuing with existing environment", "path", *envFile, "error", err)
	} else {
		log.Info("loaded environment file", "path", *envFile)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("kernel exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	pool, err := dbx.Open(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer pool.Close()
	log.Info("connected to postgres and applied migrations", "database", cfg.DB.Database)

	principals := security.NewPrincipals(pool.Pool)
	detector := security.NewDefaultSecretDetector()
	store := eventstore.New(pool.Pool, principals, detector)

	issuer, err := security.NewCapabilityIssuer(cfg.JWTSigningKey, pool.Pool)
	if err != nil {
		return err
	}
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}
	egressLimiter := security.NewEgressLimiter(redisClient, pool.Pool, int64(cfg.EgressHourlyQuota))
	basePolicy := policy.NewBasePolicy(pool.Pool, cfg.KillSwitchActive)
	registry, err := policy.NewRegistry()
	if err != nil {
		return err
	}

	learningSink := learning.NewBoundedSink(pool.Pool, 256, log.With("component", "learning"))
	defer learningSink.Close()
	learningAdapter := learning.NewPolicyAdapter(learningSink)

	gate := policy.NewGate(registry, principals, issuer, egressLimiter, basePolicy, store, learningAdapter, cfg.EnforcementMode, log.With("component", "policy"))

	roomsEngine := projector.NewEngine(pool.Pool, projector.RoomsProjector{})
	roomsSvc := rooms.NewService(pool.Pool, store, roomsEngine)

	approvalsEngine := projector.NewEngine(pool.Pool, projector.ApprovalsProjector{})
	approvalsSvc := approvals.NewService(pool.Pool, store, approvalsEngine)

	runsEngine := projector.NewEngine(pool.Pool, projector.RunsProjector{})
	runsSvc := runs.NewService(pool.Pool, store, runsEngine)

	coordinator := claims.NewCoordinator(pool.Pool, store, runsEngine, claims.Config{
		LeaseDuration:        cfg.LeaseDuration,
		HeartbeatMinInterval: cfg.HeartbeatMinInterval,
		MaxClaimAge:          cfg.MaxClaimAge,
		SweepInterval:        cfg.Queue.SweepInterval,
	}, log.With("component", "claims"))
	coordinator.StartSweep(ctx)
	defer coordinator.StopSweep()

	hub, err := livetail.NewHub(ctx, cfg.DB.DSN(), store, 64, log.With("component", "livetail"))
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		hub.Close(closeCtx)
	}()

	retentionSvc := retention.NewService(pool.Pool, cfg.Retention, log.With("component", "retention"))
	retentionSvc.Start(ctx)
	defer retentionSvc.Stop()

	server := httpapi.NewServer(httpapi.Deps{
		Rooms:     roomsSvc,
		Approvals: approvalsSvc,
		Runs:      runsSvc,
		Claims:    coordinator,
		Gate:      gate,
		Hub:       hub,
		Events:    store,
		Log:       log.With("component", "httpapi"),
	})

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.HTTPAddr); err != nil {
			errCh <- err
		}
	}()
	log.Info("kernel listening", "addr", cfg.HTTPAddr)

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
