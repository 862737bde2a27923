// SPDX-License-Identifier: AGPL-3.0-or-later
package jobs

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/spacedriveapp/spacedrive-core/internal/logging"
)

// checkpointStore durably persists one checkpoint per in-flight job,
// independent of the pending_jobs.bin snapshot written at shutdown. A
// checkpoint lands here the instant a worker pauses or takes a mid-run
// checkpoint, so a crash between two shutdown snapshots still loses at
// most the work since the last suspension point rather than the whole
// run. Mirrors the teacher's BadgerWAL: durable pre-publish staging
// traded here for durable pre-resume staging.
type checkpointStore struct {
	db *badger.DB
}

func openCheckpointStore(dir string) (*checkpointStore, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("jobs: open checkpoint store: %w", err)
	}
	return &checkpointStore{db: db}, nil
}

func (s *checkpointStore) put(id JobID, entry StoredJobEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("jobs: marshal checkpoint: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(id[:], data)
	})
}

func (s *checkpointStore) get(id JobID) (StoredJobEntry, bool, error) {
	var entry StoredJobEntry
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(id[:])
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if err != nil {
		return StoredJobEntry{}, false, fmt.Errorf("jobs: get checkpoint: %w", err)
	}
	return entry, found, nil
}

func (s *checkpointStore) delete(id JobID) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(id[:])
	})
	if err != nil {
		return fmt.Errorf("jobs: delete checkpoint: %w", err)
	}
	return nil
}

// all returns every currently-stored checkpoint. System.Init adds the ones
// pending_jobs.bin does not list to its cold-resume set.
func (s *checkpointStore) all() ([]StoredJobEntry, error) {
	var entries []StoredJobEntry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var entry StoredJobEntry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				logging.WithComponent("jobs").Warn().Err(err).Msg("skipping malformed checkpoint")
				continue
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("jobs: list checkpoints: %w", err)
	}
	return entries, nil
}

func (s *checkpointStore) close() error {
	return s.db.Close()
}
