package liveness

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/devghori1264/aerophoenix/fleetwatch/internal/alerting"
	"github.com/devghori1264/aerophoenix/fleetwatch/internal/events"
	"github.com/devghori1264/aerophoenix/fleetwatch/internal/models"
	"github.com/devghori1264/aerophoenix/fleetwatch/internal/storage"
	"go.uber.org/zap/zaptest"
)

type fixedGate bool

func (g fixedGate) IsBusinessHours(time.Time) bool { return bool(g) }

type setup struct {
	monitor *Monitor
	store   *storage.BadgerStore
	rec     *events.Recorder
	now     time.Time
}

func newSetup(t *testing.T, open bool) *setup {
	t.Helper()
	store, err := storage.NewInMemoryStore()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	s := &setup{
		store: store,
		rec:   &events.Recorder{},
		now:   time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC),
	}
	logger := zaptest.NewLogger(t)
	emitter := events.NewEmitter(s.rec)
	engine := alerting.NewEngine(store, nil, emitter, nil, alerting.Config{}, logger)
	engine.SetClock(func() time.Time { return s.now })
	s.monitor = NewMonitor(store, fixedGate(open), engine, emitter, nil, 10*time.Second, time.Second, logger)
	s.monitor.SetClock(func() time.Time { return s.now })

	ctx := context.Background()
	if _, _, err := store.RegisterMachine(ctx, "m-1", "web-01", s.now); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, _, err := store.RecordHeartbeat(ctx, "m-1", models.Metrics{CPUPercent: 10}, s.now); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	return s
}

func (s *setup) offlineAlerts(t *testing.T) []*models.Alert {
	t.Helper()
	all, err := s.store.ListAlerts(context.Background(), models.AlertFilter{})
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	var out []*models.Alert
	for _, a := range all {
		if a.Type == models.AlertOffline {
			out = append(out, a)
		}
	}
	return out
}

func TestSweepDuringBusinessHours(t *testing.T) {
	s := newSetup(t, true)
	ctx := context.Background()

	s.now = s.now.Add(5 * time.Second)
	if res := s.monitor.Sweep(ctx); len(res.WentOffline) != 0 {
		t.Fatalf("fresh machine marked offline: %+v", res)
	}

	s.now = s.now.Add(6 * time.Second)
	res := s.monitor.Sweep(ctx)
	if len(res.WentOffline) != 1 || res.Alerted != 1 {
		t.Fatalf("expected one transition and one alert, got %+v", res)
	}

	m, _ := s.store.GetMachine(ctx, "m-1")
	if m.Status != models.StatusOffline {
		t.Fatalf("expected offline, got %s", m.Status)
	}
	alerts := s.offlineAlerts(t)
	if len(alerts) != 1 {
		t.Fatalf("expected one OFFLINE alert, got %d", len(alerts))
	}
	if alerts[0].Message != "Machine web-01 is offline (no heartbeat for 11s)" {
		t.Fatalf("unexpected message %q", alerts[0].Message)
	}
	if got := len(s.rec.Events(events.MachineStatusChanged)); got != 1 {
		t.Fatalf("expected one status event, got %d", got)
	}
}

func TestRepeatedSweepsAreIdempotent(t *testing.T) {
	s := newSetup(t, true)
	ctx := context.Background()

	s.now = s.now.Add(11 * time.Second)
	s.monitor.Sweep(ctx)

	// well past the dedupe window too
	for i := 0; i < 5; i++ {
		s.now = s.now.Add(10 * time.Minute)
		if res := s.monitor.Sweep(ctx); len(res.WentOffline) != 0 || res.Alerted != 0 {
			t.Fatalf("sweep %d re-fired for an offline machine: %+v", i, res)
		}
	}
	if got := len(s.rec.Events(events.MachineStatusChanged)); got != 1 {
		t.Fatalf("expected exactly one status event, got %d", got)
	}
	if got := len(s.offlineAlerts(t)); got != 1 {
		t.Fatalf("expected exactly one OFFLINE alert, got %d", got)
	}
}

func TestSweepOutsideBusinessHours(t *testing.T) {
	s := newSetup(t, false)
	ctx := context.Background()

	s.now = s.now.Add(11 * time.Second)
	res := s.monitor.Sweep(ctx)
	if len(res.WentOffline) != 1 || res.Alerted != 0 {
		t.Fatalf("expected transition without alert, got %+v", res)
	}
	m, _ := s.store.GetMachine(ctx, "m-1")
	if m.Status != models.StatusOffline {
		t.Fatalf("status must still flip after hours, got %s", m.Status)
	}
	if got := len(s.rec.Events(events.MachineStatusChanged)); got != 1 {
		t.Fatalf("status event must still publish after hours, got %d", got)
	}
	if got := len(s.offlineAlerts(t)); got != 0 {
		t.Fatalf("expected no OFFLINE alert after hours, got %d", got)
	}
}

func TestSweepSurvivesPublishFailure(t *testing.T) {
	s := newSetup(t, true)
	s.rec.FailWith(errors.New("broker down"))

	s.now = s.now.Add(11 * time.Second)
	res := s.monitor.Sweep(context.Background())
	if len(res.WentOffline) != 1 || res.Alerted != 1 {
		t.Fatalf("publish failure must not stop the sweep, got %+v", res)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s := newSetup(t, true)
	mon := NewMonitor(s.store, fixedGate(true), nil, nil, nil, time.Hour, 10*time.Millisecond, zaptest.NewLogger(t))
	mon.SetClock(func() time.Time { return s.now })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mon.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop after cancel")
	}
}

func TestDefaults(t *testing.T) {
	mon := NewMonitor(nil, fixedGate(true), nil, nil, nil, 0, 0, zaptest.NewLogger(t))
	if mon.Threshold() != DefaultOfflineThreshold || mon.Interval() != DefaultSweepInterval {
		t.Fatalf("defaults not applied: %v %v", mon.Threshold(), mon.Interval())
	}
}
