// SPDX-License-Identifier: AGPL-3.0-or-later
package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/thejerf/suture/v4"
)

// fakeStore is an in-memory Store used only by this package's tests.
type fakeStore struct {
	mu   sync.Mutex
	data map[uuid.UUID]Settings
}

func newFakeStore() *fakeStore { return &fakeStore{data: make(map[uuid.UUID]Settings)} }

func (f *fakeStore) PutSettings(_ context.Context, locationID uuid.UUID, settings Settings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[locationID] = settings
	return nil
}

func (f *fakeStore) GetSettings(_ context.Context, locationID uuid.UUID) (Settings, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.data[locationID]
	return s, ok, nil
}

func (f *fakeStore) DeleteSettings(_ context.Context, locationID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, locationID)
	return nil
}

// counter is a goroutine-safe int used by countingService to report its
// lifecycle to assertions running on another goroutine.
type counter struct {
	mu sync.Mutex
	n  int
}

func (c *counter) inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *counter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// countingService is a suture.Service test double that counts starts and
// stops, used to verify the coordinator actually starts/stops what its
// factories build.
type countingService struct {
	name    string
	starts  *counter
	stopped *counter
}

func (s *countingService) Serve(ctx context.Context) error {
	s.starts.inc()
	<-ctx.Done()
	s.stopped.inc()
	return ctx.Err()
}

func (s *countingService) String() string { return s.name }

var _ suture.Service = (*countingService)(nil)

func TestApplyStartsOnlyEnabledServicesWithAFactory(t *testing.T) {
	store := newFakeStore()
	watcherStarts, watcherStops := &counter{}, &counter{}
	locationID := uuid.New()

	coord := New(store, Factories{
		Watcher: func(_ context.Context, _ uuid.UUID, _ []byte) (suture.Service, error) {
			return &countingService{name: "watcher", starts: watcherStarts, stopped: watcherStops}, nil
		},
		// Sync has no factory; enabling it in Settings below must not start anything.
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go coord.Serve(ctx)

	err := coord.Apply(context.Background(), locationID, Settings{
		Watcher: ServiceToggle{Enabled: true},
		Sync:    ServiceToggle{Enabled: true},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return watcherStarts.get() == 1 }, time.Second, 10*time.Millisecond)

	stored, ok, err := store.GetSettings(context.Background(), locationID)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, stored.Watcher.Enabled)
}

func TestApplyReRegistersAcrossSettingsChanges(t *testing.T) {
	store := newFakeStore()
	starts, stops := &counter{}, &counter{}
	locationID := uuid.New()

	coord := New(store, Factories{
		Watcher: func(_ context.Context, _ uuid.UUID, _ []byte) (suture.Service, error) {
			return &countingService{name: "watcher", starts: starts, stopped: stops}, nil
		},
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go coord.Serve(ctx)

	require.NoError(t, coord.Apply(context.Background(), locationID, Settings{
		Watcher: ServiceToggle{Enabled: true},
	}))
	require.Eventually(t, func() bool { return starts.get() == 1 }, time.Second, 10*time.Millisecond)

	// Disabling the watcher and re-applying must stop the running instance.
	require.NoError(t, coord.Apply(context.Background(), locationID, Settings{
		Watcher: ServiceToggle{Enabled: false},
	}))
	require.Eventually(t, func() bool { return stops.get() == 1 }, time.Second, 10*time.Millisecond)
}

func TestRemoveStopsServicesAndDeletesSettings(t *testing.T) {
	store := newFakeStore()
	starts, stops := &counter{}, &counter{}
	locationID := uuid.New()

	coord := New(store, Factories{
		Watcher: func(_ context.Context, _ uuid.UUID, _ []byte) (suture.Service, error) {
			return &countingService{name: "watcher", starts: starts, stopped: stops}, nil
		},
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go coord.Serve(ctx)

	require.NoError(t, coord.Apply(context.Background(), locationID, Settings{
		Watcher: ServiceToggle{Enabled: true},
	}))
	require.Eventually(t, func() bool { return starts.get() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, coord.Remove(context.Background(), locationID))
	require.Eventually(t, func() bool { return stops.get() == 1 }, time.Second, 10*time.Millisecond)

	_, ok, err := store.GetSettings(context.Background(), locationID)
	require.NoError(t, err)
	require.False(t, ok)
}
