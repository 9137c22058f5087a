package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/devghori1264/aerophoenix/fleetwatch/internal/models"
	badger "github.com/dgraph-io/badger/v4"
)

func (s *BadgerStore) AppendSample(ctx context.Context, sample models.TelemetrySample) error {
	key := sampleKey(sample.MachineID, sample.CapturedAt, s.seq.Add(1))
	return s.update(ctx, func(txn *badger.Txn) error {
		return setJSON(txn, key, &sample)
	})
}

// PruneSamples deletes all but the newest keep samples for a machine and
// returns how many were removed.
func (s *BadgerStore) PruneSamples(ctx context.Context, machineID string, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	prefix := sampleMachinePrefix(machineID)
	var removed int
	err := s.update(ctx, func(txn *badger.Txn) error {
		removed = 0
		var stale [][]byte
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.Reverse = true
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		seen := 0
		for it.Seek(reverseSeekKey(prefix)); it.ValidForPrefix(prefix); it.Next() {
			seen++
			if seen > keep {
				stale = append(stale, it.Item().KeyCopy(nil))
			}
		}
		it.Close()

		for _, k := range stale {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// RecentSamples returns up to limit samples, newest first. A non-positive
// limit returns everything retained.
func (s *BadgerStore) RecentSamples(ctx context.Context, machineID string, limit int) ([]models.TelemetrySample, error) {
	var out []models.TelemetrySample
	err := s.view(ctx, func(txn *badger.Txn) error {
		return eachSampleDesc(txn, machineID, func(sample models.TelemetrySample) bool {
			out = append(out, sample)
			return limit <= 0 || len(out) < limit
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CPUWindow returns the average cpu% and the number of samples captured at or
// after since.
func (s *BadgerStore) CPUWindow(ctx context.Context, machineID string, since time.Time) (float64, int, error) {
	var (
		sum   float64
		count int
	)
	err := s.view(ctx, func(txn *badger.Txn) error {
		return eachSampleDesc(txn, machineID, func(sample models.TelemetrySample) bool {
			if sample.CapturedAt.Before(since) {
				return false
			}
			sum += sample.CPUPercent
			count++
			return true
		})
	})
	if err != nil {
		return 0, 0, err
	}
	if count == 0 {
		return 0, 0, nil
	}
	return sum / float64(count), count, nil
}

// eachSampleDesc walks a machine's samples newest first until fn returns false.
func eachSampleDesc(txn *badger.Txn, machineID string, fn func(models.TelemetrySample) bool) error {
	prefix := sampleMachinePrefix(machineID)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.Reverse = true
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(reverseSeekKey(prefix)); it.ValidForPrefix(prefix); it.Next() {
		var sample models.TelemetrySample
		err := it.Item().Value(func(v []byte) error {
			return json.Unmarshal(v, &sample)
		})
		if err != nil {
			return err
		}
		if !fn(sample) {
			return nil
		}
	}
	return nil
}
