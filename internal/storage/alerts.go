package storage

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/devghori1264/aerophoenix/fleetwatch/internal/models"
	badger "github.com/dgraph-io/badger/v4"
)

// InsertAlert writes the alert row and its (machine, type, created) index entry.
func (s *BadgerStore) InsertAlert(ctx context.Context, a *models.Alert) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		if err := setJSON(txn, alertKey(a.ID), a); err != nil {
			return err
		}
		return txn.Set(alertIndexKey(a.MachineID, a.Type, a.CreatedAt, a.ID), nil)
	})
}

func (s *BadgerStore) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	var out models.Alert
	err := s.view(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, alertKey(id), &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// FindRecentAlert returns the newest alert for (machine, type) created at or
// after since, resolved or not. ErrNotFound means none exists.
func (s *BadgerStore) FindRecentAlert(ctx context.Context, machineID, alertType string, since time.Time) (*models.Alert, error) {
	prefix := alertIndexPrefix(machineID, alertType)
	var out *models.Alert
	err := s.view(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.Reverse = true
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek(reverseSeekKey(prefix))
		if !it.ValidForPrefix(prefix) {
			return ErrNotFound
		}
		createdAt, id, err := parseIndexSuffix(it.Item().Key(), prefix)
		if err != nil {
			return err
		}
		if createdAt.Before(since) {
			return ErrNotFound
		}
		var a models.Alert
		if err := getJSON(txn, alertKey(id), &a); err != nil {
			return err
		}
		out = &a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ResolveAlerts marks every unresolved alert of (machine, type) resolved and
// returns how many changed.
func (s *BadgerStore) ResolveAlerts(ctx context.Context, machineID, alertType string, at time.Time) (int, error) {
	prefix := alertIndexPrefix(machineID, alertType)
	var resolved int
	err := s.update(ctx, func(txn *badger.Txn) error {
		resolved = 0
		var ids []string
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		for it.Rewind(); it.Valid(); it.Next() {
			_, id, err := parseIndexSuffix(it.Item().Key(), prefix)
			if err != nil {
				it.Close()
				return err
			}
			ids = append(ids, id)
		}
		it.Close()

		for _, id := range ids {
			var a models.Alert
			if err := getJSON(txn, alertKey(id), &a); err != nil {
				return err
			}
			if a.Resolved {
				continue
			}
			markResolved(&a, at)
			if err := setJSON(txn, alertKey(id), &a); err != nil {
				return err
			}
			resolved++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return resolved, nil
}

// ResolveAlert resolves a single alert by ID. Resolving twice keeps the
// original resolution time.
func (s *BadgerStore) ResolveAlert(ctx context.Context, id string, at time.Time) (*models.Alert, error) {
	var out models.Alert
	err := s.update(ctx, func(txn *badger.Txn) error {
		if err := getJSON(txn, alertKey(id), &out); err != nil {
			return err
		}
		if out.Resolved {
			return nil
		}
		markResolved(&out, at)
		return setJSON(txn, alertKey(id), &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListAlerts returns alerts newest first, filtered by resolved state and
// truncated to f.Limit when positive.
func (s *BadgerStore) ListAlerts(ctx context.Context, f models.AlertFilter) ([]*models.Alert, error) {
	var out []*models.Alert
	err := s.view(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(alertPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var a models.Alert
			err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &a)
			})
			if err != nil {
				return err
			}
			if f.Resolved != nil && a.Resolved != *f.Resolved {
				continue
			}
			out = append(out, &a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func markResolved(a *models.Alert, at time.Time) {
	t := at
	a.Resolved = true
	a.ResolvedAt = &t
}
