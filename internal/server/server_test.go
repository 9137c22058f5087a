package server

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/devghori1264/aerophoenix/fleetwatch/internal/alerting"
	"github.com/devghori1264/aerophoenix/fleetwatch/internal/bizhours"
	"github.com/devghori1264/aerophoenix/fleetwatch/internal/events"
	"github.com/devghori1264/aerophoenix/fleetwatch/internal/health"
	"github.com/devghori1264/aerophoenix/fleetwatch/internal/liveness"
	"github.com/devghori1264/aerophoenix/fleetwatch/internal/mailbox"
	"github.com/devghori1264/aerophoenix/fleetwatch/internal/models"
	"github.com/devghori1264/aerophoenix/fleetwatch/internal/storage"
	"go.uber.org/zap/zaptest"
)

var zone = time.FixedZone("+07:00", 7*3600)

// harness wires the real components around an in-memory store and a shared
// fake clock.
type harness struct {
	svc     *Service
	store   *storage.BadgerStore
	mailbox *mailbox.Mailbox
	engine  *alerting.Engine
	monitor *liveness.Monitor
	rec     *events.Recorder
	now     time.Time
}

func newHarness(t *testing.T, start time.Time) *harness {
	t.Helper()
	store, err := storage.NewInMemoryStore()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	gate, err := bizhours.New("08:30", "18:15", "+07:00")
	if err != nil {
		t.Fatalf("gate: %v", err)
	}

	h := &harness{store: store, mailbox: mailbox.New(), rec: &events.Recorder{}, now: start}
	clock := func() time.Time { return h.now }
	logger := zaptest.NewLogger(t)
	emitter := events.NewEmitter(h.rec)
	emitter.SetClock(clock)

	h.engine = alerting.NewEngine(store, nil, emitter, nil, alerting.Config{}, logger)
	h.engine.SetClock(clock)
	eval := health.NewEvaluator(store, h.engine, health.Config{}, logger)
	eval.SetClock(clock)
	h.svc = NewService(store, h.mailbox, eval, h.engine, emitter, nil, Config{}, logger)
	h.svc.SetClock(clock)
	h.monitor = liveness.NewMonitor(store, gate, h.engine, emitter, nil, 0, 0, logger)
	h.monitor.SetClock(clock)
	return h
}

func (h *harness) register(t *testing.T, id, name string) {
	t.Helper()
	if _, _, err := h.svc.RegisterMachine(context.Background(), RegisterRequest{MachineID: id, Name: name}); err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
}

func (h *harness) beat(t *testing.T, id string, cpu float64) *IngestResult {
	t.Helper()
	res, err := h.svc.Heartbeat(context.Background(), HeartbeatRequest{MachineID: id, CPUPercent: Float(cpu)})
	if err != nil {
		t.Fatalf("heartbeat %s: %v", id, err)
	}
	return res
}

func (h *harness) alerts(t *testing.T, alertType string) []*models.Alert {
	t.Helper()
	all, err := h.svc.Alerts(context.Background(), models.AlertFilter{})
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	var out []*models.Alert
	for _, a := range all {
		if a.Type == alertType {
			out = append(out, a)
		}
	}
	return out
}

func TestHeartbeatRequiresMachineID(t *testing.T) {
	h := newHarness(t, time.Date(2026, 3, 4, 9, 0, 0, 0, zone))

	_, err := h.svc.Heartbeat(context.Background(), HeartbeatRequest{MachineID: "  "})
	if !errors.Is(err, ErrMachineIDRequired) {
		t.Fatalf("expected ErrMachineIDRequired, got %v", err)
	}
	if len(h.rec.Messages()) != 0 {
		t.Fatalf("rejected heartbeat must not publish")
	}
}

func TestHeartbeatUpdatesMachineAndHistory(t *testing.T) {
	h := newHarness(t, time.Date(2026, 3, 4, 9, 0, 0, 0, zone))
	h.register(t, "m-1", "web-01")
	ctx := context.Background()

	res := h.beat(t, "m-1", 42)
	if !res.Known || len(res.Failures) != 0 || res.Command != nil {
		t.Fatalf("unexpected result: %+v", res)
	}

	m, err := h.svc.GetMachine(ctx, "m-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if m.Status != models.StatusOnline || m.CPUPercent != 42 || !m.LastHeartbeat.Equal(h.now) {
		t.Fatalf("machine not updated: %+v", m)
	}

	samples, err := h.svc.RecentSamples(ctx, "m-1", 0)
	if err != nil || len(samples) != 1 {
		t.Fatalf("expected one sample, got %d (%v)", len(samples), err)
	}
	if got := len(h.rec.Events(events.MachineMetrics)); got != 1 {
		t.Fatalf("expected one metrics event, got %d", got)
	}
	// registered offline, so the first heartbeat is a transition
	if got := len(h.rec.Events(events.MachineStatusChanged)); got != 1 {
		t.Fatalf("expected one status event, got %d", got)
	}

	h.now = h.now.Add(5 * time.Second)
	h.beat(t, "m-1", 43)
	if got := len(h.rec.Events(events.MachineStatusChanged)); got != 1 {
		t.Fatalf("online heartbeat must not publish a status change, got %d", got)
	}
}

func TestHeartbeatRetention(t *testing.T) {
	h := newHarness(t, time.Date(2026, 3, 4, 9, 0, 0, 0, zone))
	h.register(t, "m-1", "")

	for i := 0; i < 11; i++ {
		h.now = h.now.Add(time.Second)
		h.beat(t, "m-1", float64(i))
	}
	samples, err := h.svc.RecentSamples(context.Background(), "m-1", 0)
	if err != nil {
		t.Fatalf("samples: %v", err)
	}
	if len(samples) != 10 {
		t.Fatalf("expected 10 retained samples, got %d", len(samples))
	}
	if samples[0].CPUPercent != 10 || samples[9].CPUPercent != 1 {
		t.Fatalf("expected newest first 10..1, got %v..%v", samples[0].CPUPercent, samples[9].CPUPercent)
	}
}

func TestHeartbeatUnknownMachine(t *testing.T) {
	h := newHarness(t, time.Date(2026, 3, 4, 9, 0, 0, 0, zone))
	if _, err := h.svc.EnqueueCommand("ghost", CommandRequest{Command: "reboot"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	res := h.beat(t, "ghost", 99)
	if res.Known {
		t.Fatal("unregistered machine reported as known")
	}
	if res.Command == nil || res.Command.Name != "reboot" {
		t.Fatalf("mailbox must still be popped, got %+v", res.Command)
	}
	if resp := res.Response(); resp.Message != MsgUnknownMachine {
		t.Fatalf("unexpected message %q", resp.Message)
	}
	if len(h.rec.Messages()) != 0 {
		t.Fatalf("unregistered machine must not publish, got %d messages", len(h.rec.Messages()))
	}
	if _, err := h.svc.GetMachine(context.Background(), "ghost"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("heartbeat must not create machines, got %v", err)
	}
}

func TestCommandDeliveredOnce(t *testing.T) {
	h := newHarness(t, time.Date(2026, 3, 4, 9, 0, 0, 0, zone))
	h.register(t, "m-1", "")

	if _, err := h.svc.EnqueueCommand("m-1", CommandRequest{Command: "noop"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	_, err := h.svc.EnqueueCommand("m-1", CommandRequest{
		Command: "restart-service",
		Payload: json.RawMessage(`{"name":"nginx"}`),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if cmd, ok := h.svc.PeekCommand("m-1"); !ok || cmd.Name != "restart-service" {
		t.Fatalf("peek should show the latest command, got %+v %v", cmd, ok)
	}

	first := h.beat(t, "m-1", 10).Response()
	if first.Command == nil || *first.Command != "restart-service" || string(first.Payload) != `{"name":"nginx"}` {
		t.Fatalf("unexpected first response: %+v", first)
	}
	second := h.beat(t, "m-1", 10).Response()
	if second.Command != nil || second.Payload != nil {
		t.Fatalf("command delivered twice: %+v", second)
	}
}

func TestEnqueueCommandValidation(t *testing.T) {
	h := newHarness(t, time.Date(2026, 3, 4, 9, 0, 0, 0, zone))
	if _, err := h.svc.EnqueueCommand("m-1", CommandRequest{Command: " "}); !errors.Is(err, ErrCommandRequired) {
		t.Fatalf("expected ErrCommandRequired, got %v", err)
	}
	if h.mailbox.Len() != 0 {
		t.Fatal("invalid command reached the mailbox")
	}
	cmd, err := h.svc.EnqueueCommand("m-1", CommandRequest{Command: "ping", Payload: json.RawMessage("null")})
	if err != nil || cmd.Payload != nil {
		t.Fatalf("null payload should be dropped: %+v %v", cmd, err)
	}
}

func TestHighCPUNeedsSustainedWindow(t *testing.T) {
	h := newHarness(t, time.Date(2026, 3, 4, 20, 0, 0, 0, zone))
	h.register(t, "m-1", "db-01")

	for i := 0; i < 5; i++ {
		h.now = h.now.Add(10 * time.Second)
		h.beat(t, "m-1", 96)
	}
	if got := len(h.alerts(t, models.AlertHighCPU)); got != 0 {
		t.Fatalf("five samples must not alert, got %d", got)
	}

	// sixth sample in the window; HIGH_CPU ignores business hours
	h.now = h.now.Add(10 * time.Second)
	h.beat(t, "m-1", 96)
	if got := len(h.alerts(t, models.AlertHighCPU)); got != 1 {
		t.Fatalf("expected one HIGH_CPU alert, got %d", got)
	}

	h.now = h.now.Add(10 * time.Second)
	h.beat(t, "m-1", 99)
	if got := len(h.alerts(t, models.AlertHighCPU)); got != 1 {
		t.Fatalf("dedupe window breached, got %d", got)
	}
}

func TestHeartbeatSurvivesPublishFailure(t *testing.T) {
	h := newHarness(t, time.Date(2026, 3, 4, 9, 0, 0, 0, zone))
	h.register(t, "m-1", "")
	h.rec.FailWith(errors.New("nats: connection closed"))

	res := h.beat(t, "m-1", 20)
	if !res.Known || !res.Failed(StepPublish) {
		t.Fatalf("expected a swallowed publish failure, got %+v", res)
	}
	if res.Failed(StepHistory) || res.Failed(StepEvaluate) {
		t.Fatalf("unexpected failures: %+v", res.Failures)
	}
}

func TestCommandResultRepublished(t *testing.T) {
	h := newHarness(t, time.Date(2026, 3, 4, 9, 0, 0, 0, zone))
	raw := json.RawMessage(`{"output":"ok","error":""}`)
	if err := h.svc.CommandResult(context.Background(), "m-1", raw); err != nil {
		t.Fatalf("command result: %v", err)
	}
	msgs := h.rec.Events(events.CommandResult)
	if len(msgs) != 1 || msgs[0].Subject != events.CommandResultSubject("m-1") {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
	_, data, err := msgs[0].Decode()
	if err != nil || string(data) != string(raw) {
		t.Fatalf("payload not verbatim: %s (%v)", data, err)
	}
}

func TestFleetDuringBusinessHours(t *testing.T) {
	// Wednesday 09:00 local
	h := newHarness(t, time.Date(2026, 3, 4, 9, 0, 0, 0, zone))
	h.register(t, "m-1", "web-01")
	ctx := context.Background()

	h.beat(t, "m-1", 30)
	h.now = h.now.Add(11 * time.Second)
	res := h.monitor.Sweep(ctx)
	if len(res.WentOffline) != 1 || res.Alerted != 1 {
		t.Fatalf("unexpected sweep: %+v", res)
	}
	offline := h.alerts(t, models.AlertOffline)
	if len(offline) != 1 || offline[0].Resolved {
		t.Fatalf("expected one open OFFLINE alert, got %+v", offline)
	}

	// the machine comes back
	h.now = h.now.Add(time.Minute)
	if r := h.beat(t, "m-1", 30); len(r.Failures) != 0 {
		t.Fatalf("unexpected failures: %+v", r.Failures)
	}
	offline = h.alerts(t, models.AlertOffline)
	if len(offline) != 1 || !offline[0].Resolved {
		t.Fatalf("OFFLINE alert should be resolved on return, got %+v", offline)
	}
	m, _ := h.svc.GetMachine(ctx, "m-1")
	if m.Status != models.StatusOnline {
		t.Fatalf("expected online, got %s", m.Status)
	}
}

func TestFleetOutsideBusinessHours(t *testing.T) {
	// Wednesday 19:00 local
	h := newHarness(t, time.Date(2026, 3, 4, 19, 0, 0, 0, zone))
	h.register(t, "m-1", "web-01")
	ctx := context.Background()

	h.beat(t, "m-1", 30)
	h.now = h.now.Add(11 * time.Second)
	res := h.monitor.Sweep(ctx)
	if len(res.WentOffline) != 1 || res.Alerted != 0 {
		t.Fatalf("unexpected sweep: %+v", res)
	}
	if got := len(h.alerts(t, models.AlertOffline)); got != 0 {
		t.Fatalf("no OFFLINE alert expected after hours, got %d", got)
	}
	m, _ := h.svc.GetMachine(ctx, "m-1")
	if m.Status != models.StatusOffline {
		t.Fatalf("expected offline, got %s", m.Status)
	}
	// offline to online on the first heartbeat, then back from the sweep
	if got := len(h.rec.Events(events.MachineStatusChanged)); got != 2 {
		t.Fatalf("expected two status events, got %d", got)
	}
}

func TestFloatCoercion(t *testing.T) {
	body := `{"machineId":"m-1","cpuPercent":"97.5","ramPercent":null,"diskFreePercent":"n/a","temperatureC":true}`
	var req HeartbeatRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := req.Metrics()
	want := models.Metrics{CPUPercent: 97.5}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}

	if err := json.Unmarshal([]byte(`{"machineId":"m-1","cpuPercent":12,"ramPercent":" 33 "}`), &req); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if req.CPUPercent != 12 || req.RAMPercent != 33 {
		t.Fatalf("unexpected values: %+v", req)
	}
}
