package app

import (
	"context"
	"fmt"
	"time"

	"github.com/joho/godotenv"

	"bridged/internal/retention"
	"bridged/pkg/adapter"
	"bridged/pkg/api/handlers"
	"bridged/pkg/config"
	"bridged/pkg/coordinator"
	"bridged/pkg/logger"
	"bridged/pkg/presence"
	"bridged/pkg/store"
	"bridged/pkg/stream"
	"bridged/pkg/validation"
)

// App encapsulates the server components and lifecycle.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string

	streams  *stream.Broadcaster
	registry *presence.Registry
	coord    *coordinator.Coordinator
}

// New initializes everything that does not need a running context: config
// validation, the store, the broadcaster and the presence registry. Call Run
// to start the coordinator, retention and the HTTP server.
func New(eff config.EffectiveConfigResult, version, commit, buildDate string) (*App, error) {
	_ = godotenv.Load(".env")

	if err := validateConfig(eff); err != nil {
		return nil, err
	}

	if err := store.Open(eff.DBPath); err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", eff.DBPath, err)
	}
	// heal the thread index before serving reads
	if err := store.RebuildIndex(); err != nil {
		return nil, fmt.Errorf("index rebuild failed: %w", err)
	}

	cfg := eff.Config
	a := &App{eff: eff, version: version, commit: commit, buildDate: buildDate}
	a.streams = stream.New(store.ReadEvents, cfg.Stream.SubscriberBuffer)
	store.SetPublishHook(a.streams.Publish)
	a.registry = presence.NewRegistry(cfg.Presence.TTL.Duration())

	handlers.Configure(a.streams, a.registry,
		validation.Rules{MaxContentBytes: cfg.Validation.MaxContentBytes.Int()},
		cfg.Stream.KeepAlive.Duration())

	if cfg.Coordinator.Enabled {
		a.coord = coordinator.New(coordinator.Options{
			ID:             cfg.Coordinator.ID,
			StartupMode:    cfg.Coordinator.StartupMode,
			ContextWindow:  cfg.Coordinator.ContextWindow,
			AdapterTimeout: cfg.Coordinator.AdapterTimeout.Duration(),
			MaxReplySize:   cfg.Coordinator.MaxReplySize.Int(),
			ThreadPoll:     cfg.Coordinator.ThreadPoll.Duration(),
			MentionPrefix:  cfg.Coordinator.MentionPrefix,
			Gateway:        &adapter.ExecGateway{Adapters: cfg.Coordinator.Adapters},
			Streams:        a.streams,
			Presence:       a.registry,
		})
	}
	return a, nil
}

// Run starts the coordinator, retention and the HTTP server, and blocks
// until ctx is canceled or a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	a.printBanner()

	if a.coord != nil {
		a.coord.Start(ctx)
	}

	stopRetention, err := retention.Start(ctx, a.eff.Config.Retention)
	if err != nil {
		return err
	}
	defer stopRetention()

	errCh := a.startHTTP(ctx)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		a.shutdown()
		return err
	}
	a.shutdown()
	return nil
}

func (a *App) shutdown() {
	if a.coord != nil {
		done := make(chan struct{})
		go func() {
			a.coord.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			logger.Warn("coordinator_drain_timeout")
		}
	}
	if err := store.Close(); err != nil {
		logger.Error("store_close_failed", "error", err)
	}
}
