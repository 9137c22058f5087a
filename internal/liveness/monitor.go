// Package liveness is the fleet's failure detector: a periodic sweep that
// reclassifies machines as offline once their heartbeat is overdue.
package liveness

import (
	"context"
	"fmt"
	"time"

	"github.com/devghori1264/aerophoenix/fleetwatch/internal/events"
	"github.com/devghori1264/aerophoenix/fleetwatch/internal/metrics"
	"github.com/devghori1264/aerophoenix/fleetwatch/internal/models"
	"github.com/devghori1264/aerophoenix/fleetwatch/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	// DefaultOfflineThreshold is the heartbeat gap after which a machine is offline.
	DefaultOfflineThreshold = 10 * time.Second
	// DefaultSweepInterval is how often the sweep runs.
	DefaultSweepInterval = 5 * time.Second
)

// MachineSweeper is the slice of the machine store the monitor needs.
type MachineSweeper interface {
	ListStaleOnline(ctx context.Context, cutoff time.Time) ([]*models.Machine, error)
	MarkOffline(ctx context.Context, id string, cutoff, at time.Time) (*models.Machine, bool, error)
}

type BusinessHours interface {
	IsBusinessHours(t time.Time) bool
}

type Raiser interface {
	Raise(ctx context.Context, machineID, alertType, message string) (*models.Alert, error)
}

// SweepResult summarises one tick.
type SweepResult struct {
	WentOffline []string
	Alerted     int
	Failed      int
}

// Monitor selects only machines that are still online, so each online period
// ends in at most one offline transition no matter how many sweeps run.
type Monitor struct {
	store     MachineSweeper
	gate      BusinessHours
	raiser    Raiser
	events    *events.Emitter
	metrics   *metrics.Metrics
	logger    *zap.Logger
	threshold time.Duration
	interval  time.Duration
	now       func() time.Time
}

// NewMonitor creates a Monitor. If threshold or interval are zero, defaults are used.
func NewMonitor(store MachineSweeper, gate BusinessHours, raiser Raiser, em *events.Emitter, m *metrics.Metrics, threshold, interval time.Duration, logger *zap.Logger) *Monitor {
	if threshold <= 0 {
		threshold = DefaultOfflineThreshold
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Monitor{
		store:     store,
		gate:      gate,
		raiser:    raiser,
		events:    em,
		metrics:   m,
		logger:    logger.Named("liveness"),
		threshold: threshold,
		interval:  interval,
		now:       time.Now,
	}
}

func (m *Monitor) SetClock(now func() time.Time) {
	m.now = now
}

func (m *Monitor) Threshold() time.Duration {
	return m.threshold
}

func (m *Monitor) Interval() time.Duration {
	return m.interval
}

// Run sweeps every interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("liveness monitor started",
		zap.Duration("threshold", m.threshold),
		zap.Duration("interval", m.interval))
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("liveness monitor stopped")
			return nil
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep runs one detection pass.
func (m *Monitor) Sweep(ctx context.Context) SweepResult {
	start := time.Now()
	defer func() { m.metrics.ObserveSweep(time.Since(start)) }()

	ctx, span := tracing.Tracer().Start(ctx, "liveness.sweep")
	defer span.End()

	var res SweepResult
	now := m.now()
	cutoff := now.Add(-m.threshold)
	stale, err := m.store.ListStaleOnline(ctx, cutoff)
	if err != nil {
		m.logger.Error("failed to list stale machines", zap.Error(err))
		res.Failed++
		return res
	}

	for _, candidate := range stale {
		machine, changed, err := m.store.MarkOffline(ctx, candidate.ID, cutoff, now)
		if err != nil {
			m.logger.Error("failed to mark machine offline", zap.String("machine_id", candidate.ID), zap.Error(err))
			res.Failed++
			continue
		}
		if !changed {
			// heartbeat arrived after the selection
			continue
		}
		res.WentOffline = append(res.WentOffline, machine.ID)
		m.metrics.MachineWentOffline()

		gap := now.Sub(machine.LastHeartbeat).Round(time.Second)
		m.logger.Info("machine offline",
			zap.String("machine_id", machine.ID),
			zap.String("name", machine.DisplayName()),
			zap.Duration("since_heartbeat", gap))

		if err := m.events.StatusChanged(ctx, machine, models.StatusOnline); err != nil {
			m.logger.Warn("status publish failed", zap.String("machine_id", machine.ID), zap.Error(err))
		}

		if !m.gate.IsBusinessHours(now) {
			m.metrics.AlertSuppressed(models.AlertOffline, metrics.ReasonAfterHours)
			continue
		}
		msg := fmt.Sprintf("Machine %s is offline (no heartbeat for %s)", machine.DisplayName(), gap)
		alert, err := m.raiser.Raise(ctx, machine.ID, models.AlertOffline, msg)
		if err != nil {
			m.logger.Error("failed to raise offline alert", zap.String("machine_id", machine.ID), zap.Error(err))
			res.Failed++
			continue
		}
		if alert != nil {
			res.Alerted++
		}
	}

	span.SetAttributes(
		attribute.Int("machines.stale", len(stale)),
		attribute.Int("machines.offline", len(res.WentOffline)),
	)
	return res
}
