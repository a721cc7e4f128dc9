package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/alpenmeteo/townpick/internal/config"
)

const (
	defaultCheckInterval = 5 * time.Minute

	// A single check hits the store and possibly the webhook; a hung
	// backend must not stall the loop past the next tick.
	checkTimeout = 30 * time.Second
)

// Checker drives Collector and Alerter on a fixed schedule.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration
	lookback  int
}

// NewChecker creates a background alert checker. A non-positive
// check interval falls back to five minutes.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		interval:  interval,
		lookback:  cfg.LookbackWindowHours,
	}
}

// Run checks once immediately, then on every tick until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting alert checker",
		zap.Duration("interval", c.interval),
		zap.Int("lookback_hours", c.lookback),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if triggered, sent := c.check(ctx, log); triggered > 0 {
			log.Info("monitoring: alerts dispatched",
				zap.Int("triggered", triggered),
				zap.Int("sent", sent),
			)
		}

		select {
		case <-ctx.Done():
			log.Info("alert checker stopped")
			return
		case <-ticker.C:
		}
	}
}

func (c *Checker) check(ctx context.Context, log *zap.Logger) (triggered, sent int) {
	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	snap, err := c.collector.Collect(checkCtx, c.lookback)
	if err != nil {
		log.Error("monitoring: collect failed", zap.Error(err))
		return 0, 0
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		log.Debug("monitoring: window healthy",
			zap.Int("runs", snap.RunsTotal),
			zap.Int("towns", snap.TownsProcessed),
		)
		return 0, 0
	}

	return len(alerts), c.alerter.SendAlerts(checkCtx, alerts)
}
