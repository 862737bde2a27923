// SPDX-License-Identifier: AGPL-3.0-or-later
package synclog

import (
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// staging durably holds ops this device has produced but that the library's
// leader has not yet sequenced, so a crash between "op written locally" and
// "leader assigns seq" doesn't lose the op. Grounded on the teacher's
// BadgerWAL pending/confirmed split (internal/wal/wal.go): pending here is
// "not yet sequenced", confirmed is "has an AssignSeq call durably recorded
// and can be dropped from staging".
type staging struct {
	db *badger.DB
}

func openStaging(dir string) (*staging, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("synclog: open staging store at %s: %w", dir, err)
	}
	return &staging{db: db}, nil
}

func stagingKey(opID string) []byte { return []byte("pending/" + opID) }

func (s *staging) put(op Op) error {
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("synclog: marshal staged op: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(stagingKey(op.HLC().String()), data)
	})
}

func (s *staging) delete(opID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(stagingKey(opID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
}

// pending returns every op still awaiting sequencing. SelfAssignSeq reads
// it to number staged ops, and its length feeds the staging depth gauge.
func (s *staging) pending() ([]Op, error) {
	var out []Op
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte("pending/")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var op Op
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &op)
			}); err != nil {
				return err
			}
			out = append(out, op)
		}
		return nil
	})
	return out, err
}

func (s *staging) close() error { return s.db.Close() }
