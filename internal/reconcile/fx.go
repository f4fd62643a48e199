package reconcile

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func registerJobs(lc fx.Lifecycle, r *Reconciler, log *zap.Logger) error {
	c := cron.New()

	if _, err := c.AddFunc("@hourly", func() {
		if err := r.EvictDedup(context.Background()); err != nil {
			log.Error("dedup eviction job failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	if _, err := c.AddFunc("15 2 * * *", func() {
		if err := r.SweepOverages(context.Background()); err != nil {
			log.Error("overage sweep job failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	if _, err := c.AddFunc("45 3 * * *", func() {
		if err := r.TrimUsage(context.Background()); err != nil {
			log.Error("usage trim job failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			c.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			stopped := c.Stop()
			select {
			case <-stopped.Done():
			case <-ctx.Done():
			}
			return nil
		},
	})
	return nil
}

// Module wires the periodic reconciliation jobs.
var Module = fx.Module("reconcile",
	fx.Provide(New),
	fx.Invoke(registerJobs),
)
