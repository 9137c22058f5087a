package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/devghori1264/aerophoenix/fleetwatch/internal/models"
)

func TestEmitterSubjectsAndEnvelope(t *testing.T) {
	rec := &Recorder{}
	em := NewEmitter(rec)
	fixed := time.Date(2026, 3, 4, 2, 0, 0, 0, time.UTC)
	em.SetClock(func() time.Time { return fixed })
	ctx := context.Background()

	m := &models.Machine{ID: "m-1", Name: "web", Status: models.StatusOffline}
	if err := em.StatusChanged(ctx, m, models.StatusOnline); err != nil {
		t.Fatalf("status: %v", err)
	}
	if err := em.AlertCreated(ctx, &models.Alert{ID: "a-1", MachineID: "m-1", Type: models.AlertOffline}); err != nil {
		t.Fatalf("alert: %v", err)
	}
	if err := em.CommandResult(ctx, "m-1", json.RawMessage(`{"output":"ok"}`)); err != nil {
		t.Fatalf("command result: %v", err)
	}

	msgs := rec.Messages()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	wantSubjects := []string{"fleet.machine.m-1.status", "fleet.alert.created", "fleet.machine.m-1.command_result"}
	for i, want := range wantSubjects {
		if msgs[i].Subject != want {
			t.Fatalf("message %d subject = %s, want %s", i, msgs[i].Subject, want)
		}
	}

	env, data, err := msgs[0].Decode()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Event != MachineStatusChanged || env.MachineID != "m-1" || !env.Time.Equal(fixed) {
		t.Fatalf("unexpected envelope %+v", env)
	}
	var change StatusChange
	if err := json.Unmarshal(data, &change); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if change.From != models.StatusOnline || change.To != models.StatusOffline {
		t.Fatalf("unexpected status change %+v", change)
	}

	_, data, _ = msgs[2].Decode()
	if string(data) != `{"output":"ok"}` {
		t.Fatalf("command result not republished verbatim: %s", data)
	}
}

func TestEmitterWithoutPublisher(t *testing.T) {
	var nilEmitter *Emitter
	if err := nilEmitter.MachineUpdated(context.Background(), &models.Machine{ID: "m-1"}); err != nil {
		t.Fatalf("nil emitter must be a no-op, got %v", err)
	}
	if err := NewEmitter(nil).MachineUpdated(context.Background(), &models.Machine{ID: "m-1"}); err != nil {
		t.Fatalf("emitter without publisher must be a no-op, got %v", err)
	}
}

func TestEmitterWrapsPublishError(t *testing.T) {
	rec := &Recorder{}
	boom := errors.New("broker down")
	rec.FailWith(boom)

	err := NewEmitter(rec).MachineUpdated(context.Background(), &models.Machine{ID: "m-1"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped broker error, got %v", err)
	}
}
