// Package retention runs scheduled maintenance over the event store:
// pruning of expired coordinator idempotency marks and, when enabled,
// rebuilding thread index records from their logs.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"bridged/pkg/config"
	"bridged/pkg/logger"
	"bridged/pkg/store"
)

// Start starts the maintenance scheduler if enabled. Returns a cancel func.
func Start(ctx context.Context, cfg config.RetentionConfig) (context.CancelFunc, error) {
	if !cfg.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}

	cronExpr := cfg.Cron
	if cronExpr == "" {
		cronExpr = "0 3 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", cfg.Cron)
		return nil, fmt.Errorf("invalid retention cron expression: %s", cfg.Cron)
	}

	logger.Info("retention_enabled", "cron", cronExpr, "seen_max_age", cfg.SeenMaxAge.Duration().String())
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, cfg, cronExpr)
	return cancel, nil
}

// runScheduler uses gronx to compute the next tick for the configured cron
// expression and sleeps until that time.
func runScheduler(ctx context.Context, cfg config.RetentionConfig, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		wait := time.Until(next)
		if wait < time.Second {
			wait = time.Second
		}
		select {
		case <-time.After(wait):
			if err := RunOnce(cfg); err != nil {
				logger.Error("retention_run_error", "error", err)
			}
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}

// RunOnce performs a single maintenance pass. Exported so tests and admin
// tooling can trigger it without the scheduler.
func RunOnce(cfg config.RetentionConfig) error {
	start := time.Now()
	pruned, err := store.PruneSeen(cfg.SeenMaxAge.Duration())
	if err != nil {
		return err
	}
	if cfg.RebuildIndex {
		if err := store.RebuildIndex(); err != nil {
			return err
		}
	}
	logger.Info("retention_run_complete", "pruned_seen", pruned, "took", time.Since(start).String())
	return nil
}
