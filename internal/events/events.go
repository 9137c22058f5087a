// Package events fans engine state changes out to dashboard consumers over a
// publish/subscribe channel. It is an observability path only: nothing sent
// here ever controls an agent.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/devghori1264/aerophoenix/fleetwatch/internal/models"
)

// Event names carried in the envelope.
const (
	MachineMetrics       = "machine.metrics"
	MachineStatusChanged = "machine.status_changed"
	AlertCreated         = "alert.created"
	CommandResult        = "machine.command_result"
)

// SubjectPrefix roots every subject this service publishes on.
const SubjectPrefix = "fleet"

// Publisher is the transport the Emitter writes to (NATS, Kafka, ...).
type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte) error
}

// Envelope is the JSON document published for every event.
type Envelope struct {
	Event     string      `json:"event"`
	MachineID string      `json:"machineId,omitempty"`
	Time      time.Time   `json:"time"`
	Data      interface{} `json:"data"`
}

// StatusChange is the payload of MachineStatusChanged.
type StatusChange struct {
	From          string    `json:"from"`
	To            string    `json:"to"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
}

func MetricsSubject(machineID string) string {
	return fmt.Sprintf("%s.machine.%s.metrics", SubjectPrefix, machineID)
}

func StatusSubject(machineID string) string {
	return fmt.Sprintf("%s.machine.%s.status", SubjectPrefix, machineID)
}

func CommandResultSubject(machineID string) string {
	return fmt.Sprintf("%s.machine.%s.command_result", SubjectPrefix, machineID)
}

func AlertSubject() string {
	return SubjectPrefix + ".alert.created"
}

// Emitter encodes domain events and hands them to a Publisher. A nil
// Publisher turns every call into a no-op.
type Emitter struct {
	pub Publisher
	now func() time.Time
}

func NewEmitter(pub Publisher) *Emitter {
	return &Emitter{pub: pub, now: time.Now}
}

func (e *Emitter) SetClock(now func() time.Time) {
	e.now = now
}

func (e *Emitter) MachineUpdated(ctx context.Context, m *models.Machine) error {
	return e.emit(ctx, MetricsSubject(m.ID), Envelope{
		Event:     MachineMetrics,
		MachineID: m.ID,
		Data:      m,
	})
}

func (e *Emitter) StatusChanged(ctx context.Context, m *models.Machine, from string) error {
	return e.emit(ctx, StatusSubject(m.ID), Envelope{
		Event:     MachineStatusChanged,
		MachineID: m.ID,
		Data: StatusChange{
			From:          from,
			To:            m.Status,
			LastHeartbeat: m.LastHeartbeat,
		},
	})
}

func (e *Emitter) AlertCreated(ctx context.Context, a *models.Alert) error {
	return e.emit(ctx, AlertSubject(), Envelope{
		Event:     AlertCreated,
		MachineID: a.MachineID,
		Data:      a,
	})
}

// CommandResult republishes an agent's command output verbatim.
func (e *Emitter) CommandResult(ctx context.Context, machineID string, raw json.RawMessage) error {
	return e.emit(ctx, CommandResultSubject(machineID), Envelope{
		Event:     CommandResult,
		MachineID: machineID,
		Data:      raw,
	})
}

func (e *Emitter) emit(ctx context.Context, subject string, env Envelope) error {
	if e == nil || e.pub == nil {
		return nil
	}
	env.Time = e.now().UTC()
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s: %w", env.Event, err)
	}
	if err := e.pub.Publish(ctx, subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}
