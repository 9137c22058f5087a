// Package server is the telemetry ingestor: the transport-independent service
// behind the HTTP and gRPC heartbeat endpoints, plus the operator read and
// command paths that share its dependencies.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/devghori1264/aerophoenix/fleetwatch/internal/events"
	"github.com/devghori1264/aerophoenix/fleetwatch/internal/health"
	"github.com/devghori1264/aerophoenix/fleetwatch/internal/mailbox"
	"github.com/devghori1264/aerophoenix/fleetwatch/internal/metrics"
	"github.com/devghori1264/aerophoenix/fleetwatch/internal/models"
	"github.com/devghori1264/aerophoenix/fleetwatch/internal/storage"
	"github.com/devghori1264/aerophoenix/fleetwatch/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	ErrMachineIDRequired = errors.New("machineId required")
	ErrCommandRequired   = errors.New("command required")
)

// DefaultSampleRetention is how many samples are kept per machine.
const DefaultSampleRetention = 10

// Best-effort ingestion steps, as reported in IngestResult.Failures.
const (
	StepHistory  = "history"
	StepResolve  = "resolve"
	StepEvaluate = "evaluate"
	StepPublish  = "publish"
)

// Response messages.
const (
	MsgRecorded       = "heartbeat recorded"
	MsgUnknownMachine = "machine not registered"
)

// CPUEvaluator is the inline health check run on every heartbeat.
type CPUEvaluator interface {
	EvaluateCPU(ctx context.Context, m *models.Machine, cpu float64) (health.Verdict, error)
}

// AlertManager is the part of the alert engine the ingestor and operator
// paths use.
type AlertManager interface {
	Resolve(ctx context.Context, machineID, alertType string) (int, error)
	ResolveByID(ctx context.Context, id string) (*models.Alert, error)
	List(ctx context.Context, f models.AlertFilter) ([]*models.Alert, error)
}

type Config struct {
	SampleRetention int
}

// StepFailure records a best-effort step that failed and was swallowed.
type StepFailure struct {
	Step string
	Err  error
}

func (f StepFailure) Error() string {
	return f.Step + ": " + f.Err.Error()
}

// IngestResult is the outcome of one heartbeat. Known is false when the
// machine is not registered; in that case only the mailbox was consulted.
type IngestResult struct {
	MachineID string
	Known     bool
	Command   *models.Command
	Failures  []StepFailure
}

// Failed reports whether the named step failed.
func (r *IngestResult) Failed(step string) bool {
	for _, f := range r.Failures {
		if f.Step == step {
			return true
		}
	}
	return false
}

// Response renders the result in the wire shape agents expect.
func (r *IngestResult) Response() HeartbeatResponse {
	resp := HeartbeatResponse{Message: MsgRecorded}
	if !r.Known {
		resp.Message = MsgUnknownMachine
	}
	if r.Command != nil {
		name := r.Command.Name
		resp.Command = &name
		resp.Payload = r.Command.Payload
	}
	return resp
}

// Service ingests heartbeats and serves the operator paths.
type Service struct {
	store     storage.Store
	mailbox   *mailbox.Mailbox
	evaluator CPUEvaluator
	alerts    AlertManager
	events    *events.Emitter
	metrics   *metrics.Metrics
	logger    *zap.Logger
	cfg       Config
	now       func() time.Time
}

func NewService(store storage.Store, mb *mailbox.Mailbox, eval CPUEvaluator, alerts AlertManager, em *events.Emitter, m *metrics.Metrics, cfg Config, logger *zap.Logger) *Service {
	if cfg.SampleRetention <= 0 {
		cfg.SampleRetention = DefaultSampleRetention
	}
	return &Service{
		store:     store,
		mailbox:   mb,
		evaluator: eval,
		alerts:    alerts,
		events:    em,
		metrics:   m,
		logger:    logger.Named("ingest"),
		cfg:       cfg,
		now:       time.Now,
	}
}

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Heartbeat records one agent report. Only a missing machine id or a failed
// write of the machine row fail the call; every later step is best-effort and
// reported in the result. The mailbox is popped in all other cases, including
// for machines that are not registered.
func (s *Service) Heartbeat(ctx context.Context, req HeartbeatRequest) (*IngestResult, error) {
	id := strings.TrimSpace(req.MachineID)
	if id == "" {
		s.metrics.Heartbeat(metrics.ResultInvalid)
		return nil, ErrMachineIDRequired
	}

	ctx, span := tracing.Tracer().Start(ctx, "ingest.heartbeat",
		trace.WithAttributes(attribute.String("machine.id", id)))
	defer span.End()

	res := &IngestResult{MachineID: id}
	now := s.now()
	sample := req.Metrics()

	machine, previous, err := s.store.RecordHeartbeat(ctx, id, sample, now)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.metrics.Heartbeat(metrics.ResultUnknown)
		s.logger.Warn("heartbeat from unregistered machine", zap.String("machine_id", id))
	case err != nil:
		s.metrics.Heartbeat(metrics.ResultError)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("record heartbeat for %s: %w", id, err)
	default:
		res.Known = true
		s.metrics.Heartbeat(metrics.ResultOK)
		s.afterRecord(ctx, res, machine, previous, sample, now)
	}

	if cmd, ok := s.mailbox.Take(id); ok {
		res.Command = &cmd
		s.metrics.CommandDelivered()
		s.logger.Info("command delivered",
			zap.String("machine_id", id),
			zap.String("command", cmd.Name))
	}

	span.SetAttributes(
		attribute.Bool("machine.known", res.Known),
		attribute.Int("ingest.failed_steps", len(res.Failures)),
	)
	return res, nil
}

func (s *Service) afterRecord(ctx context.Context, res *IngestResult, machine *models.Machine, previous string, sample models.Metrics, now time.Time) {
	err := s.store.AppendSample(ctx, models.TelemetrySample{
		MachineID:  machine.ID,
		Metrics:    sample,
		CapturedAt: now,
	})
	if err == nil {
		_, err = s.store.PruneSamples(ctx, machine.ID, s.cfg.SampleRetention)
	}
	if err != nil {
		s.fail(res, StepHistory, err)
	}

	cameBack := previous != models.StatusOnline
	if cameBack {
		s.logger.Info("machine online",
			zap.String("machine_id", machine.ID),
			zap.String("previous", previous))
		if previous == models.StatusOffline {
			if _, err := s.alerts.Resolve(ctx, machine.ID, models.AlertOffline); err != nil {
				s.fail(res, StepResolve, err)
			}
		}
	}

	if _, err := s.evaluator.EvaluateCPU(ctx, machine, sample.CPUPercent); err != nil {
		s.fail(res, StepEvaluate, err)
	}

	var perr error
	if cameBack {
		perr = s.events.StatusChanged(ctx, machine, previous)
	}
	if err := s.events.MachineUpdated(ctx, machine); err != nil {
		perr = err
	}
	if perr != nil {
		s.fail(res, StepPublish, perr)
	}
}

func (s *Service) fail(res *IngestResult, step string, err error) {
	res.Failures = append(res.Failures, StepFailure{Step: step, Err: err})
	s.metrics.StepFailed(step)
	s.logger.Warn("ingest step failed",
		zap.String("machine_id", res.MachineID),
		zap.String("step", step),
		zap.Error(err))
}

// RegisterMachine creates an offline machine or renames an existing one.
func (s *Service) RegisterMachine(ctx context.Context, req RegisterRequest) (*models.Machine, bool, error) {
	id := strings.TrimSpace(req.MachineID)
	if id == "" {
		return nil, false, ErrMachineIDRequired
	}
	m, created, err := s.store.RegisterMachine(ctx, id, strings.TrimSpace(req.Name), s.now())
	if err != nil {
		return nil, false, fmt.Errorf("register %s: %w", id, err)
	}
	if created {
		s.logger.Info("machine registered", zap.String("machine_id", id), zap.String("name", m.Name))
	}
	return m, created, nil
}

func (s *Service) GetMachine(ctx context.Context, id string) (*models.Machine, error) {
	return s.store.GetMachine(ctx, id)
}

func (s *Service) ListMachines(ctx context.Context) ([]*models.Machine, error) {
	return s.store.ListMachines(ctx)
}

// RecentSamples returns up to limit samples for a registered machine, newest
// first. A non-positive limit returns the whole retained history.
func (s *Service) RecentSamples(ctx context.Context, id string, limit int) ([]models.TelemetrySample, error) {
	if _, err := s.store.GetMachine(ctx, id); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > s.cfg.SampleRetention {
		limit = s.cfg.SampleRetention
	}
	return s.store.RecentSamples(ctx, id, limit)
}

// EnqueueCommand places cmd in the machine's mailbox, replacing anything
// not yet delivered.
func (s *Service) EnqueueCommand(id string, req CommandRequest) (models.Command, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return models.Command{}, ErrMachineIDRequired
	}
	name := strings.TrimSpace(req.Command)
	if name == "" {
		return models.Command{}, ErrCommandRequired
	}
	cmd := models.Command{Name: name, QueuedAt: s.now()}
	if len(req.Payload) > 0 && string(req.Payload) != "null" {
		cmd.Payload = req.Payload
	}
	s.mailbox.Add(id, cmd)
	s.metrics.CommandQueued()
	s.logger.Info("command queued", zap.String("machine_id", id), zap.String("command", name))
	return cmd, nil
}

// PeekCommand shows the pending command without consuming it.
func (s *Service) PeekCommand(id string) (models.Command, bool) {
	return s.mailbox.Peek(id)
}

// CommandResult republishes an agent's command output unchanged. Nothing is
// stored, so a failed publish is returned to the caller.
func (s *Service) CommandResult(ctx context.Context, id string, raw json.RawMessage) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrMachineIDRequired
	}
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := s.events.CommandResult(ctx, id, raw); err != nil {
		s.logger.Warn("command result publish failed", zap.String("machine_id", id), zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) Alerts(ctx context.Context, f models.AlertFilter) ([]*models.Alert, error) {
	return s.alerts.List(ctx, f)
}

func (s *Service) ResolveAlert(ctx context.Context, id string) (*models.Alert, error) {
	return s.alerts.ResolveByID(ctx, id)
}
