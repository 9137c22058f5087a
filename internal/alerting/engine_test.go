package alerting

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/devghori1264/aerophoenix/fleetwatch/internal/events"
	"github.com/devghori1264/aerophoenix/fleetwatch/internal/models"
	"github.com/devghori1264/aerophoenix/fleetwatch/internal/storage"
	"go.uber.org/zap/zaptest"
)

type fakeNotifier struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (f *fakeNotifier) Notify(_ context.Context, recipient, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, recipient+": "+text)
	return f.err
}

type harness struct {
	engine   *Engine
	store    *storage.BadgerStore
	notifier *fakeNotifier
	rec      *events.Recorder
	now      time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := storage.NewInMemoryStore()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	h := &harness{
		store:    store,
		notifier: &fakeNotifier{},
		rec:      &events.Recorder{},
		now:      time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC),
	}
	h.engine = NewEngine(store, h.notifier, events.NewEmitter(h.rec), nil,
		Config{Recipient: "#ops"}, zaptest.NewLogger(t))
	h.engine.SetClock(func() time.Time { return h.now })
	return h
}

func TestRaiseDedupeWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.engine.Raise(ctx, "m-1", models.AlertHighCPU, "cpu hot")
	if err != nil || first == nil {
		t.Fatalf("first raise: alert=%v err=%v", first, err)
	}

	h.now = h.now.Add(4 * time.Minute)
	dup, err := h.engine.Raise(ctx, "m-1", models.AlertHighCPU, "cpu hot again")
	if err != nil || dup != nil {
		t.Fatalf("expected duplicate suppression, got alert=%v err=%v", dup, err)
	}

	all, _ := h.store.ListAlerts(ctx, models.AlertFilter{})
	if len(all) != 1 {
		t.Fatalf("expected 1 alert row within window, got %d", len(all))
	}

	h.now = first.CreatedAt.Add(5*time.Minute + time.Second)
	third, err := h.engine.Raise(ctx, "m-1", models.AlertHighCPU, "still hot")
	if err != nil || third == nil {
		t.Fatalf("expected new alert after window, got alert=%v err=%v", third, err)
	}
	all, _ = h.store.ListAlerts(ctx, models.AlertFilter{})
	if len(all) != 2 {
		t.Fatalf("expected 2 alert rows after window, got %d", len(all))
	}

	if len(h.notifier.sent) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(h.notifier.sent))
	}
	if got := len(h.rec.Events(events.AlertCreated)); got != 2 {
		t.Fatalf("expected 2 alert.created events, got %d", got)
	}
}

func TestRaiseDedupeIgnoresResolvedState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.engine.Raise(ctx, "m-1", models.AlertOffline, "down"); err != nil {
		t.Fatalf("raise: %v", err)
	}
	if _, err := h.engine.Resolve(ctx, "m-1", models.AlertOffline); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	h.now = h.now.Add(time.Minute)
	again, err := h.engine.Raise(ctx, "m-1", models.AlertOffline, "down again")
	if err != nil || again != nil {
		t.Fatalf("resolved alert inside window must still suppress, got %v err=%v", again, err)
	}
}

func TestRaiseDistinctPairs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, pair := range [][2]string{
		{"m-1", models.AlertHighCPU},
		{"m-1", models.AlertOffline},
		{"m-2", models.AlertHighCPU},
	} {
		a, err := h.engine.Raise(ctx, pair[0], pair[1], "x")
		if err != nil || a == nil {
			t.Fatalf("raise %v: alert=%v err=%v", pair, a, err)
		}
	}
}

func TestRaiseSurvivesNotifierAndPublisherFailure(t *testing.T) {
	h := newHarness(t)
	h.notifier.err = errors.New("chat api down")
	h.rec.FailWith(errors.New("broker down"))

	a, err := h.engine.Raise(context.Background(), "m-1", models.AlertOffline, "down")
	if err != nil || a == nil {
		t.Fatalf("alert must be raised despite delivery failures, got %v err=%v", a, err)
	}
	stored, err := h.store.GetAlert(context.Background(), a.ID)
	if err != nil || stored.Resolved {
		t.Fatalf("expected persisted open alert, got %+v err=%v", stored, err)
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if n, err := h.engine.Resolve(ctx, "m-1", models.AlertHighCPU); err != nil || n != 0 {
		t.Fatalf("resolving nothing: n=%d err=%v", n, err)
	}
	if _, err := h.engine.Raise(ctx, "m-1", models.AlertHighCPU, "hot"); err != nil {
		t.Fatalf("raise: %v", err)
	}
	if n, err := h.engine.Resolve(ctx, "m-1", models.AlertHighCPU); err != nil || n != 1 {
		t.Fatalf("first resolve: n=%d err=%v", n, err)
	}
	if n, err := h.engine.Resolve(ctx, "m-1", models.AlertHighCPU); err != nil || n != 0 {
		t.Fatalf("second resolve: n=%d err=%v", n, err)
	}
}

func TestResolveByID(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a, _ := h.engine.Raise(ctx, "m-1", models.AlertHighCPU, "hot")
	got, err := h.engine.ResolveByID(ctx, a.ID)
	if err != nil || !got.Resolved || got.ResolvedAt == nil || !got.ResolvedAt.Equal(h.now) {
		t.Fatalf("manual resolve: %+v err=%v", got, err)
	}
	if _, err := h.engine.ResolveByID(ctx, "nope"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
