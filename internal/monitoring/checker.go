package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/screening-cli/internal/config"
)

// Report is the outcome of one health check.
type Report struct {
	*Snapshot
	Alerts []Alert `json:"alerts"`
	Sent   int     `json:"sent"`
}

// Checker evaluates run health on a schedule. An alert type is delivered
// once when it starts firing and again only after it has cleared.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig

	mu     sync.Mutex
	firing map[AlertType]bool
}

// NewChecker creates a health checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		firing:    make(map[AlertType]bool),
	}
}

// Run checks immediately and then on every interval until ctx is done.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting run health checker",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := c.Check(ctx, true); err != nil && ctx.Err() == nil {
			log.Error("monitoring: health check failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			log.Info("run health checker stopped")
			return
		case <-ticker.C:
		}
	}
}

// Check collects a snapshot and evaluates it. With notify set, newly firing
// alerts go to the webhook.
func (c *Checker) Check(ctx context.Context, notify bool) (*Report, error) {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: collect")
	}

	rep := &Report{Snapshot: snap, Alerts: c.alerter.Evaluate(snap)}
	if notify {
		if fresh := c.transition(rep.Alerts); len(fresh) > 0 {
			rep.Sent = c.alerter.SendAlerts(ctx, fresh)
		}
	}

	if len(rep.Alerts) > 0 {
		zap.L().Info("monitoring: alerts firing",
			zap.Int("alerts", len(rep.Alerts)),
			zap.Int("sent", rep.Sent),
			zap.Float64("fail_rate", snap.FailRate),
		)
	}
	return rep, nil
}

// transition records the currently firing set and returns the alerts that
// were not firing on the previous check.
func (c *Checker) transition(alerts []Alert) []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := make(map[AlertType]bool, len(alerts))
	var fresh []Alert
	for _, a := range alerts {
		now[a.Type] = true
		if !c.firing[a.Type] {
			fresh = append(fresh, a)
		}
	}
	c.firing = now
	return fresh
}
