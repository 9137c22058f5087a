// Package health turns a machine's recent telemetry into alert verdicts. It
// runs inline with every heartbeat, never on a timer.
package health

import (
	"context"
	"fmt"
	"time"

	"github.com/devghori1264/aerophoenix/fleetwatch/internal/models"
	"github.com/devghori1264/aerophoenix/fleetwatch/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	DefaultCPUThreshold = 95.0
	DefaultWindow       = 2 * time.Minute
	DefaultMinSamples   = 6
)

// SampleWindow aggregates a machine's recent cpu samples.
type SampleWindow interface {
	CPUWindow(ctx context.Context, machineID string, since time.Time) (float64, int, error)
}

// Raiser is the alert sink a triggered condition is reported to.
type Raiser interface {
	Raise(ctx context.Context, machineID, alertType, message string) (*models.Alert, error)
}

type Config struct {
	CPUThreshold float64
	Window       time.Duration
	// MinSamples is the smallest window population that can trigger.
	MinSamples int
}

// Verdict describes one evaluation. Skipped means the current sample was
// below the threshold and the window was never read.
type Verdict struct {
	Condition string
	Skipped   bool
	Triggered bool
	Average   float64
	Samples   int
}

// CPUSustained is the pure HIGH_CPU rule: enough samples in the window and an
// average that is itself at or above the threshold.
func CPUSustained(avg float64, samples int, cfg Config) bool {
	return samples >= cfg.MinSamples && avg >= cfg.CPUThreshold
}

type Evaluator struct {
	window SampleWindow
	raiser Raiser
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

func NewEvaluator(window SampleWindow, raiser Raiser, cfg Config, logger *zap.Logger) *Evaluator {
	if cfg.CPUThreshold <= 0 {
		cfg.CPUThreshold = DefaultCPUThreshold
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = DefaultMinSamples
	}
	return &Evaluator{
		window: window,
		raiser: raiser,
		cfg:    cfg,
		logger: logger.Named("health"),
		now:    time.Now,
	}
}

func (e *Evaluator) SetClock(now func() time.Time) {
	e.now = now
}

// EvaluateCPU checks the HIGH_CPU condition for m given its newest cpu value.
// HIGH_CPU alerts are raised at any hour.
func (e *Evaluator) EvaluateCPU(ctx context.Context, m *models.Machine, cpu float64) (Verdict, error) {
	v := Verdict{Condition: models.AlertHighCPU}
	if cpu < e.cfg.CPUThreshold {
		v.Skipped = true
		return v, nil
	}

	ctx, span := tracing.Tracer().Start(ctx, "health.cpu")
	defer span.End()

	avg, n, err := e.window.CPUWindow(ctx, m.ID, e.now().Add(-e.cfg.Window))
	if err != nil {
		return v, fmt.Errorf("cpu window for %s: %w", m.ID, err)
	}
	v.Average, v.Samples = avg, n
	span.SetAttributes(
		attribute.String("machine.id", m.ID),
		attribute.Float64("cpu.average", avg),
		attribute.Int("cpu.samples", n),
	)
	if !CPUSustained(avg, n, e.cfg) {
		e.logger.Debug("cpu spike below sustained threshold",
			zap.String("machine_id", m.ID),
			zap.Float64("avg", avg),
			zap.Int("samples", n))
		return v, nil
	}

	v.Triggered = true
	msg := fmt.Sprintf("High CPU on %s: %.1f%% average over the last %s (%d samples)",
		m.DisplayName(), avg, e.cfg.Window, n)
	if _, err := e.raiser.Raise(ctx, m.ID, models.AlertHighCPU, msg); err != nil {
		return v, fmt.Errorf("raise high cpu for %s: %w", m.ID, err)
	}
	return v, nil
}
