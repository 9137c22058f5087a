// Package alerting deduplicates, persists and announces alerts.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/devghori1264/aerophoenix/fleetwatch/internal/events"
	"github.com/devghori1264/aerophoenix/fleetwatch/internal/metrics"
	"github.com/devghori1264/aerophoenix/fleetwatch/internal/models"
	"github.com/devghori1264/aerophoenix/fleetwatch/internal/notifier"
	"github.com/devghori1264/aerophoenix/fleetwatch/internal/storage"
	"github.com/devghori1264/aerophoenix/fleetwatch/internal/tracing"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// DefaultDedupeWindow is how long a (machine, type) pair stays silenced after
// an alert is created.
const DefaultDedupeWindow = 5 * time.Minute

type Config struct {
	DedupeWindow time.Duration
	// Recipient is passed to the notifier for every alert.
	Recipient string
}

// Engine raises and resolves alerts. The duplicate check is a read followed by
// a write without a lock, so two concurrent raises for the same pair can both
// pass it; heartbeats are never blocked to prevent that.
type Engine struct {
	store    storage.AlertStore
	notifier notifier.Notifier
	events   *events.Emitter
	metrics  *metrics.Metrics
	logger   *zap.Logger
	cfg      Config
	now      func() time.Time
	newID    func() string
}

func NewEngine(store storage.AlertStore, n notifier.Notifier, em *events.Emitter, m *metrics.Metrics, cfg Config, logger *zap.Logger) *Engine {
	if cfg.DedupeWindow <= 0 {
		cfg.DedupeWindow = DefaultDedupeWindow
	}
	return &Engine{
		store:    store,
		notifier: n,
		events:   em,
		metrics:  m,
		logger:   logger.Named("alerting"),
		cfg:      cfg,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// SetClock replaces the engine's time source. Must be called before use.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Raise creates an alert unless one of the same (machine, type) was created
// within the dedupe window. It returns nil, nil for a suppressed duplicate.
// Notification and publication failures are logged; the alert still counts
// as raised once it is persisted.
func (e *Engine) Raise(ctx context.Context, machineID, alertType, message string) (*models.Alert, error) {
	ctx, span := tracing.Tracer().Start(ctx, "alert.raise")
	defer span.End()
	span.SetAttributes(
		attribute.String("machine.id", machineID),
		attribute.String("alert.type", alertType),
	)

	now := e.now()
	existing, err := e.store.FindRecentAlert(ctx, machineID, alertType, now.Add(-e.cfg.DedupeWindow))
	switch {
	case err == nil:
		e.metrics.AlertSuppressed(alertType, metrics.ReasonDuplicate)
		e.logger.Debug("duplicate alert suppressed",
			zap.String("machine_id", machineID),
			zap.String("type", alertType),
			zap.String("existing_id", existing.ID))
		span.SetAttributes(attribute.Bool("alert.duplicate", true))
		return nil, nil
	case !errors.Is(err, storage.ErrNotFound):
		e.metrics.AlertSuppressed(alertType, metrics.ReasonStoreFailed)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("lookup recent %s alert: %w", alertType, err)
	}

	alert := &models.Alert{
		ID:        e.newID(),
		MachineID: machineID,
		Type:      alertType,
		Message:   message,
		CreatedAt: now,
	}
	if err := e.store.InsertAlert(ctx, alert); err != nil {
		e.metrics.AlertSuppressed(alertType, metrics.ReasonStoreFailed)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("insert %s alert: %w", alertType, err)
	}
	e.metrics.AlertRaised(alertType)
	e.logger.Info("alert raised",
		zap.String("alert_id", alert.ID),
		zap.String("machine_id", machineID),
		zap.String("type", alertType),
		zap.String("message", message))

	if e.notifier != nil {
		if err := e.notifier.Notify(ctx, e.cfg.Recipient, message); err != nil {
			e.metrics.NotifyFailed()
			e.logger.Warn("notification failed", zap.String("alert_id", alert.ID), zap.Error(err))
		}
	}
	if err := e.events.AlertCreated(ctx, alert); err != nil {
		e.logger.Warn("alert publish failed", zap.String("alert_id", alert.ID), zap.Error(err))
	}
	return alert, nil
}

// Resolve marks every open alert of (machine, type) resolved. Resolving
// nothing is not an error.
func (e *Engine) Resolve(ctx context.Context, machineID, alertType string) (int, error) {
	n, err := e.store.ResolveAlerts(ctx, machineID, alertType, e.now())
	if err != nil {
		return 0, fmt.Errorf("resolve %s alerts for %s: %w", alertType, machineID, err)
	}
	if n > 0 {
		e.logger.Info("alerts resolved",
			zap.String("machine_id", machineID),
			zap.String("type", alertType),
			zap.Int("count", n))
	}
	return n, nil
}

// ResolveByID resolves one alert chosen by an operator.
func (e *Engine) ResolveByID(ctx context.Context, id string) (*models.Alert, error) {
	return e.store.ResolveAlert(ctx, id, e.now())
}

func (e *Engine) List(ctx context.Context, f models.AlertFilter) ([]*models.Alert, error) {
	return e.store.ListAlerts(ctx, f)
}
