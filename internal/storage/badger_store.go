package storage

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devghori1264/aerophoenix/fleetwatch/internal/models"
	badger "github.com/dgraph-io/badger/v4"
)

var (
	ErrNotFound = errors.New("not found")
)

// maxConflictRetries bounds how often a write is replayed after Badger reports
// a transaction conflict. Machine rows never get here: their writers are
// serialized per machine by acquireOpLock.
const maxConflictRetries = 5

// MachineStore persists machines and their liveness state.
type MachineStore interface {
	GetMachine(ctx context.Context, id string) (*models.Machine, error)
	ListMachines(ctx context.Context) ([]*models.Machine, error)
	RegisterMachine(ctx context.Context, id, name string, at time.Time) (*models.Machine, bool, error)
	RecordHeartbeat(ctx context.Context, id string, metrics models.Metrics, at time.Time) (*models.Machine, string, error)
	ListStaleOnline(ctx context.Context, cutoff time.Time) ([]*models.Machine, error)
	MarkOffline(ctx context.Context, id string, cutoff, at time.Time) (*models.Machine, bool, error)
}

// SampleStore keeps the bounded per-machine telemetry history.
type SampleStore interface {
	AppendSample(ctx context.Context, s models.TelemetrySample) error
	PruneSamples(ctx context.Context, machineID string, keep int) (int, error)
	RecentSamples(ctx context.Context, machineID string, limit int) ([]models.TelemetrySample, error)
	CPUWindow(ctx context.Context, machineID string, since time.Time) (float64, int, error)
}

// AlertStore persists alerts and answers the dedupe lookup.
type AlertStore interface {
	InsertAlert(ctx context.Context, a *models.Alert) error
	GetAlert(ctx context.Context, id string) (*models.Alert, error)
	FindRecentAlert(ctx context.Context, machineID, alertType string, since time.Time) (*models.Alert, error)
	ResolveAlerts(ctx context.Context, machineID, alertType string, at time.Time) (int, error)
	ResolveAlert(ctx context.Context, id string, at time.Time) (*models.Alert, error)
	ListAlerts(ctx context.Context, f models.AlertFilter) ([]*models.Alert, error)
}

// Store is everything the engine needs from durable storage.
type Store interface {
	MachineStore
	SampleStore
	AlertStore
	Close() error
}

// BadgerStore implements Store with Badger DB.
type BadgerStore struct {
	db  *badger.DB
	seq atomic.Uint64
	// per-machine write locks; concurrent heartbeats for one machine queue
	// here instead of failing on a transaction conflict
	opMu sync.Map
}

var _ Store = (*BadgerStore)(nil)

func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(filepath.Clean(path))
	opts.Logger = nil                         // badger's own logger is too chatty for the service log
	opts = opts.WithValueLogFileSize(1 << 20) // smaller value log for local dev
	return open(opts)
}

// NewInMemoryStore opens a Badger instance that never touches disk.
func NewInMemoryStore() (*BadgerStore, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return open(opts)
}

func open(opts badger.Options) (*BadgerStore, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// update runs fn in a read-write transaction, replaying it on conflicts.
func (s *BadgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

// acquireOpLock ensures only one machine-row write per machine at a time.
func (s *BadgerStore) acquireOpLock(id string) *sync.Mutex {
	v, _ := s.opMu.LoadOrStore(id, &sync.Mutex{})
	mtx := v.(*sync.Mutex)
	mtx.Lock()
	return mtx
}

func (s *BadgerStore) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(fn)
}

func getJSON(txn *badger.Txn, key []byte, out interface{}) error {
	item, err := txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		return err
	}
	return item.Value(func(v []byte) error {
		return json.Unmarshal(v, out)
	})
}

func setJSON(txn *badger.Txn, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

// reverseSeekKey positions a reverse iterator at the last key under prefix.
func reverseSeekKey(prefix []byte) []byte {
	k := make([]byte, len(prefix)+1)
	copy(k, prefix)
	k[len(prefix)] = 0xFF
	return k
}
