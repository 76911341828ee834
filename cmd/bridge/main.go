package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/technosupport/sentry-bridge/internal/actions"
	"github.com/technosupport/sentry-bridge/internal/api"
	"github.com/technosupport/sentry-bridge/internal/audit"
	"github.com/technosupport/sentry-bridge/internal/bus"
	"github.com/technosupport/sentry-bridge/internal/config"
	"github.com/technosupport/sentry-bridge/internal/confirm"
	"github.com/technosupport/sentry-bridge/internal/deliver"
	"github.com/technosupport/sentry-bridge/internal/frigate"
	"github.com/technosupport/sentry-bridge/internal/history"
	"github.com/technosupport/sentry-bridge/internal/intake"
	"github.com/technosupport/sentry-bridge/internal/logging"
	"github.com/technosupport/sentry-bridge/internal/pipeline"
	"github.com/technosupport/sentry-bridge/internal/policy"
	"github.com/technosupport/sentry-bridge/internal/scoring"
	"github.com/technosupport/sentry-bridge/internal/vision"
)

const defaultConfigPath = "/etc/sentry-bridge/config.json"

// shutdownGrace bounds how long in-flight events may drain after SIGTERM.
const shutdownGrace = 20 * time.Second

func main() {
	configPath := defaultConfigPath
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	bootLog := logging.Setup("info")

	// 1. Config: invalid startup config is the only fatal error.
	store, err := config.NewStore(configPath, logging.ForComponent(bootLog, "config"))
	if err != nil {
		bootLog.Fatal().Err(err).Str("path", configPath).Msg("refusing to start on invalid config")
	}
	cfg := store.Snapshot()

	log := logging.Setup(cfg.LogLevel)
	log.Info().Str("config", configPath).Msg("sentry bridge starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Shared infrastructure
	busClient := bus.New(cfg.Bus, logging.ForComponent(log, "bus"))
	if err := busClient.Connect(); err != nil {
		// Auto-reconnect keeps trying; a cold broker must not kill the bridge.
		log.Warn().Err(err).Msg("initial bus connect failed, background reconnect active")
	}

	nvr := frigate.New(logging.ForComponent(log, "frigate"))
	visionClient := vision.New(logging.ForComponent(log, "vision"))
	hub := policy.NewHubClient(logging.ForComponent(log, "hub"))

	memory := history.NewStore(
		func() string { return store.Snapshot().History.File },
		func() int { return store.Snapshot().History.MaxLines },
		logging.ForComponent(log, "history"),
	)
	policyEngine := policy.NewEngine(hub, memory, logging.ForComponent(log, "policy"))
	scorer := scoring.New(logging.ForComponent(log, "scoring"))
	confirmer := confirm.New(nvr, visionClient, scorer, logging.ForComponent(log, "confirm"))
	executor := actions.NewExecutor(
		actions.NewHubCaller(logging.ForComponent(log, "hub")),
		nvr,
		logging.ForComponent(log, "actions"),
	)
	delivery := deliver.New(logging.ForComponent(log, "deliver"))
	trail := audit.NewTrail(
		func() string { return store.Snapshot().Audit.File },
		func() string { return store.Snapshot().Audit.SigningKey },
		logging.ForComponent(log, "audit"),
	)

	// 3. Intake + pipeline
	states := intake.NewStateMap()
	queue := intake.NewQueue(cfg.QueueSize, logging.ForComponent(log, "intake"))
	in := intake.New(states, queue,
		func() time.Duration { return time.Duration(store.Snapshot().CooldownSeconds) * time.Second },
		logging.ForComponent(log, "intake"),
	)

	pipe := pipeline.New(pipeline.Deps{
		Store:   store,
		Queue:   queue,
		Pub:     busClient,
		NVR:     nvr,
		Vision:  visionClient,
		Policy:  policyEngine,
		Scorer:  scorer,
		Confirm: confirmer,
		Actions: executor,
		Deliver: delivery,
		Memory:  memory,
		Audit:   trail,
	}, logging.ForComponent(log, "pipeline"))
	pipe.Start(ctx, cfg.Workers)

	if err := busClient.Subscribe(cfg.Bus.SubscribeTopic, in.HandleMessage); err != nil {
		log.Error().Err(err).Msg("initial subscribe failed, will retry on reconnect")
	}

	// 4. Background services
	store.Watch(ctx)
	sweeper := frigate.NewSweeper(
		func() string { return store.Snapshot().NVR.WorkspaceDir },
		func() time.Duration { return time.Duration(store.Snapshot().StagingTTLSeconds) * time.Second },
		logging.ForComponent(log, "sweeper"),
	)
	go sweeper.Run(ctx)

	apiServer := api.NewServer(store, states, queue, busClient, visionClient, logging.ForComponent(log, "api"))
	httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: apiServer.Router()}
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("operational API listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("operational API failed")
		}
	}()

	if cfg.Toggles.Audit {
		_ = trail.Append("bridge", "startup", map[string]interface{}{"config": configPath})
	}

	// 5. Graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutdown signal received, draining")

	cancel()

	done := make(chan struct{})
	go func() {
		pipe.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		log.Warn().Msg("drain grace period elapsed, forcing exit")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)

	// Flush QoS-1 publications before dropping the connection.
	busClient.Close(2 * time.Second)
	log.Info().Msg("sentry bridge stopped")
}
