package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/devghori1264/aerophoenix/fleetwatch/internal/models"
	badger "github.com/dgraph-io/badger/v4"
)

func (s *BadgerStore) GetMachine(ctx context.Context, id string) (*models.Machine, error) {
	var out models.Machine
	err := s.view(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, machineKey(id), &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListMachines returns every machine ordered by display name.
func (s *BadgerStore) ListMachines(ctx context.Context) ([]*models.Machine, error) {
	var out []*models.Machine
	err := s.view(ctx, func(txn *badger.Txn) error {
		return eachMachine(txn, func(m *models.Machine) {
			out = append(out, m)
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName() != out[j].DisplayName() {
			return out[i].DisplayName() < out[j].DisplayName()
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// RegisterMachine creates an offline machine, or renames an existing one.
// The boolean reports whether a new row was created.
func (s *BadgerStore) RegisterMachine(ctx context.Context, id, name string, at time.Time) (*models.Machine, bool, error) {
	defer s.acquireOpLock(id).Unlock()
	var (
		out     models.Machine
		created bool
	)
	err := s.update(ctx, func(txn *badger.Txn) error {
		created = false
		err := getJSON(txn, machineKey(id), &out)
		switch {
		case errors.Is(err, ErrNotFound):
			out = models.Machine{
				ID:           id,
				Name:         name,
				Status:       models.StatusOffline,
				RegisteredAt: at,
				UpdatedAt:    at,
			}
			created = true
		case err != nil:
			return err
		default:
			if name != "" {
				out.Name = name
			}
			out.UpdatedAt = at
		}
		return setJSON(txn, machineKey(id), &out)
	})
	if err != nil {
		return nil, false, err
	}
	return &out, created, nil
}

// RecordHeartbeat stores the reported metrics, stamps the heartbeat time and
// forces the machine online. It returns the updated machine and the status
// it had before.
func (s *BadgerStore) RecordHeartbeat(ctx context.Context, id string, metrics models.Metrics, at time.Time) (*models.Machine, string, error) {
	defer s.acquireOpLock(id).Unlock()
	var (
		m        models.Machine
		previous string
	)
	err := s.update(ctx, func(txn *badger.Txn) error {
		if err := getJSON(txn, machineKey(id), &m); err != nil {
			return err
		}
		previous = m.Status
		m.Metrics = metrics
		m.LastHeartbeat = at
		m.Status = models.StatusOnline
		m.UpdatedAt = at
		return setJSON(txn, machineKey(id), &m)
	})
	if err != nil {
		return nil, "", err
	}
	return &m, previous, nil
}

// ListStaleOnline returns online machines whose last heartbeat is before cutoff.
func (s *BadgerStore) ListStaleOnline(ctx context.Context, cutoff time.Time) ([]*models.Machine, error) {
	var out []*models.Machine
	err := s.view(ctx, func(txn *badger.Txn) error {
		return eachMachine(txn, func(m *models.Machine) {
			if isStale(m, cutoff) {
				out = append(out, m)
			}
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkOffline flips a machine offline only if it is still online and still
// stale at commit time, so a heartbeat that lands between the sweep's read and
// this write keeps the machine online.
func (s *BadgerStore) MarkOffline(ctx context.Context, id string, cutoff, at time.Time) (*models.Machine, bool, error) {
	defer s.acquireOpLock(id).Unlock()
	var (
		out     models.Machine
		changed bool
	)
	err := s.update(ctx, func(txn *badger.Txn) error {
		changed = false
		if err := getJSON(txn, machineKey(id), &out); err != nil {
			return err
		}
		if !isStale(&out, cutoff) {
			return nil
		}
		out.Status = models.StatusOffline
		out.UpdatedAt = at
		changed = true
		return setJSON(txn, machineKey(id), &out)
	})
	if err != nil {
		return nil, false, err
	}
	return &out, changed, nil
}

func isStale(m *models.Machine, cutoff time.Time) bool {
	return m.IsOnline() && m.LastHeartbeat.Before(cutoff)
}

func eachMachine(txn *badger.Txn, fn func(m *models.Machine)) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(machinePrefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		var m models.Machine
		err := it.Item().Value(func(v []byte) error {
			return json.Unmarshal(v, &m)
		})
		if err != nil {
			return err
		}
		fn(&m)
	}
	return nil
}
