// SPDX-License-Identifier: AGPL-3.0-or-later
package synclog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/spacedriveapp/spacedrive-core/internal/clock"
)

// fakeStore is an in-memory Store used only by this package's tests; the
// real implementation is internal/storage.
type fakeStore struct {
	ops        map[string]Op
	sharedHLC  map[string]string // "model/recordID/field" -> HLC string
	relHLC     map[string]string // "relation/aID/bID" -> HLC string
	highestSeq map[string]int64

	opsSinceLimit int // limit passed to the last OpsSince call
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		ops:        make(map[string]Op),
		sharedHLC:  make(map[string]string),
		relHLC:     make(map[string]string),
		highestSeq: make(map[string]int64),
	}
}

func sharedKey(model string, recordID []byte, field string) string {
	return model + "/" + string(recordID) + "/" + field
}

func relKey(relation string, aID, bID []byte) string {
	return relation + "/" + string(aID) + "/" + string(bID)
}

func (f *fakeStore) AppendOps(ctx context.Context, ops []Op, mutate func(context.Context) error) error {
	if mutate != nil {
		if err := mutate(ctx); err != nil {
			return err
		}
	}
	for _, op := range ops {
		f.ops[op.HLC().String()] = op
		switch op.Kind {
		case OpKindShared:
			f.sharedHLC[sharedKey(op.Shared.Model, op.Shared.RecordID, op.Shared.Field)] = op.HLC().String()
		case OpKindRelation:
			f.relHLC[relKey(op.Relation.Relation, op.Relation.AID, op.Relation.BID)] = op.HLC().String()
		}
	}
	return nil
}

func (f *fakeStore) LastSharedHLC(ctx context.Context, model string, recordID []byte, field string) (string, bool, error) {
	id, ok := f.sharedHLC[sharedKey(model, recordID, field)]
	return id, ok, nil
}

func (f *fakeStore) LastRelationHLC(ctx context.Context, relation string, aID, bID []byte) (string, bool, error) {
	id, ok := f.relHLC[relKey(relation, aID, bID)]
	return id, ok, nil
}

func (f *fakeStore) OpsSince(ctx context.Context, fromHLC string, limit int) ([]Op, bool, error) {
	f.opsSinceLimit = limit
	return nil, false, nil
}

func (f *fakeStore) AssignSeq(ctx context.Context, libraryID, opID string, seq int64) error {
	if seq > f.highestSeq[libraryID] {
		f.highestSeq[libraryID] = seq
	}
	return nil
}

func (f *fakeStore) HighestSeq(ctx context.Context, libraryID string) (int64, error) {
	return f.highestSeq[libraryID], nil
}

func newTestLog(t *testing.T) (*Log, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	l, err := New(store, filepath.Join(t.TempDir(), "staging"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, l.Close()) })
	return l, store
}

func TestWriteLocalStagesAndPersists(t *testing.T) {
	l, store := newTestLog(t)
	device := uuid.New()
	op := SharedOpOf(SharedOp{
		ID:       clock.HLC{Timestamp: 1, Counter: 0, DeviceID: device},
		Device:   device,
		Model:    "entries",
		RecordID: []byte("entry-1"),
		Field:    "name",
		Value:    []byte("a.txt"),
	})

	mutated := false
	err := l.WriteLocal(context.Background(), []Op{op}, func(context.Context) error {
		mutated = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, mutated)
	require.Len(t, store.ops, 1)

	pending, err := l.staging.pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestSelfAssignSeqClearsStaging(t *testing.T) {
	l, store := newTestLog(t)
	device := uuid.New()
	libraryID := uuid.New().String()

	for i := uint64(0); i < 3; i++ {
		op := SharedOpOf(SharedOp{
			ID:       clock.HLC{Timestamp: i + 1, Counter: 0, DeviceID: device},
			Device:   device,
			Model:    "entries",
			RecordID: []byte("entry-1"),
			Field:    "name",
			Value:    []byte("a.txt"),
		})
		require.NoError(t, l.WriteLocal(context.Background(), []Op{op}, nil))
	}

	next, err := l.SelfAssignSeq(context.Background(), libraryID, 1)
	require.NoError(t, err)
	require.Equal(t, int64(4), next)

	pending, err := l.staging.pending()
	require.NoError(t, err)
	require.Empty(t, pending)
	require.Equal(t, int64(3), store.highestSeq[libraryID])
}

func TestIngestRemoteAppliesOnlyWhenHLCWins(t *testing.T) {
	l, _ := newTestLog(t)
	deviceA, deviceB := uuid.New(), uuid.New()

	var applied []string
	l.RegisterSharedApply("entries", func(_ context.Context, op SharedOp) error {
		applied = append(applied, string(op.Value))
		return nil
	})

	older := SharedOpOf(SharedOp{
		ID:       clock.HLC{Timestamp: 1, DeviceID: deviceA},
		Device:   deviceA,
		Model:    "entries",
		RecordID: []byte("entry-1"),
		Field:    "name",
		Value:    []byte("old-name.txt"),
	})
	newer := SharedOpOf(SharedOp{
		ID:       clock.HLC{Timestamp: 2, DeviceID: deviceB},
		Device:   deviceB,
		Model:    "entries",
		RecordID: []byte("entry-1"),
		Field:    "name",
		Value:    []byte("new-name.txt"),
	})

	n, err := l.IngestRemote(context.Background(), []Op{older})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = l.IngestRemote(context.Background(), []Op{newer})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// A stale op arriving after the newer one must not overwrite it.
	stale := SharedOpOf(SharedOp{
		ID:       clock.HLC{Timestamp: 1, Counter: 1, DeviceID: deviceA},
		Device:   deviceA,
		Model:    "entries",
		RecordID: []byte("entry-1"),
		Field:    "name",
		Value:    []byte("stale-name.txt"),
	})
	n, err = l.IngestRemote(context.Background(), []Op{stale})
	require.NoError(t, err)
	require.Equal(t, 0, n)

	require.Equal(t, []string{"old-name.txt", "new-name.txt"}, applied)
}

func TestIngestRemoteNotifiesSubscribers(t *testing.T) {
	l, _ := newTestLog(t)
	ch, unsubscribe := l.Subscribe()
	defer unsubscribe()

	device := uuid.New()
	op := SharedOpOf(SharedOp{
		ID:       clock.HLC{Timestamp: 1, DeviceID: device},
		Device:   device,
		Model:    "entries",
		RecordID: []byte("entry-1"),
		Field:    "name",
		Value:    []byte("a.txt"),
	})

	_, err := l.IngestRemote(context.Background(), []Op{op})
	require.NoError(t, err)

	select {
	case n := <-ch:
		require.Equal(t, 1, n.Applied)
		require.False(t, n.Lagged)
	default:
		t.Fatal("expected a notification")
	}
}

func TestBackfillCapsLimit(t *testing.T) {
	l, store := newTestLog(t)
	resp, err := l.Backfill(context.Background(), BackfillRequest{FromHLC: "", Limit: 5000})
	require.NoError(t, err)
	require.Equal(t, 1000, store.opsSinceLimit)
	require.Empty(t, resp.Ops)
	require.False(t, resp.HasMore)
}
