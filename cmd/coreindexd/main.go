// SPDX-License-Identifier: AGPL-3.0-or-later

// Command coreindexd is the local-first file index and sync daemon: it
// owns one device's DuckDB-backed entry index per library, the job system
// that runs indexing work, the filesystem watcher that keeps it current,
// and the per-location coordinator that starts/stops watcher,
// stale-detector and sync services as locations are added and configured.
//
// # Application Architecture
//
// main initializes components in the following order:
//
//  1. Configuration: layered env/file/default load via internal/config
//  2. Storage: open the DuckDB-backed relational store
//  3. Device and library bootstrap: ensure this device and a default
//     library exist, then load every already-known location
//  4. Domain services: jobs, sync log, clock, leader election, transport,
//     ephemeral cache, query, tags, sidecar, locations
//  5. Coordinator: wires the watcher/stale-detector/sync ServiceFactory
//     implementations and re-registers every known location
//  6. Root supervisor: the job system and the coordinator run as
//     sibling suture services under one root supervisor
//
// # Signal Handling
//
// SIGINT and SIGTERM cancel the root context, which propagates down
// through the supervisor tree; main waits for every service to stop
// before exiting.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/spacedriveapp/spacedrive-core/internal/clock"
	"github.com/spacedriveapp/spacedrive-core/internal/config"
	"github.com/spacedriveapp/spacedrive-core/internal/coordinator"
	"github.com/spacedriveapp/spacedrive-core/internal/ephemeral"
	"github.com/spacedriveapp/spacedrive-core/internal/indexer"
	"github.com/spacedriveapp/spacedrive-core/internal/jobs"
	"github.com/spacedriveapp/spacedrive-core/internal/leader"
	"github.com/spacedriveapp/spacedrive-core/internal/locations"
	"github.com/spacedriveapp/spacedrive-core/internal/logging"
	"github.com/spacedriveapp/spacedrive-core/internal/models"
	"github.com/spacedriveapp/spacedrive-core/internal/query"
	"github.com/spacedriveapp/spacedrive-core/internal/sidecar"
	"github.com/spacedriveapp/spacedrive-core/internal/storage"
	"github.com/spacedriveapp/spacedrive-core/internal/synclog"
	"github.com/spacedriveapp/spacedrive-core/internal/tags"
	"github.com/spacedriveapp/spacedrive-core/internal/transport"
	"github.com/spacedriveapp/spacedrive-core/internal/watcher"
)

// coordinatorStopper defers to a *coordinator.Coordinator set after
// construction, breaking the cycle between locations.NewService (which
// needs a stopper) and coordinator.New (whose factories reference
// locationsSvc). Remove is a no-op until set is called.
type coordinatorStopper struct {
	coord *coordinator.Coordinator
}

func (s *coordinatorStopper) set(c *coordinator.Coordinator) { s.coord = c }

func (s *coordinatorStopper) Remove(ctx context.Context, locationID uuid.UUID) error {
	if s.coord == nil {
		return nil
	}
	return s.coord.Remove(ctx, locationID)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: cfg.Logging.Timestamp,
	})
	logging.Info().Msg("starting coreindexd")

	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open storage")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing storage")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deviceSlug := cfg.Device.Slug
	if deviceSlug == "" {
		if host, err := os.Hostname(); err == nil {
			deviceSlug = host
		} else {
			deviceSlug = "coreindexd"
		}
	}
	device, err := store.GetOrCreateDevice(ctx, deviceSlug, cfg.Device.Name)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to bootstrap device identity")
	}
	logging.Info().Str("device_id", device.ID.String()).Str("slug", device.Slug).Msg("device identity established")

	libraries, err := bootstrapLibraries(ctx, store, cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to bootstrap libraries")
	}

	jobsSystem, err := jobs.New(cfg.Database.DataDir, cfg.Jobs.MaxWorkersPerName)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open job system")
	}

	ix := indexer.New(indexer.OSFileSystem{}, store, indexer.OSFileOpener{},
		func(path string) (int64, bool) {
			mtime, ok, err := store.GetDirectoryMtime(ctx, path)
			if err != nil {
				return 0, false
			}
			return mtime, ok
		})
	jobsSystem.RegisterJobType(indexer.JobName, indexer.NewFactory(ix))

	clockGen := clock.NewGenerator(device.ID)
	leaderMgr := leader.NewManager(device.ID)

	syncLog, err := synclog.New(store, filepath.Join(cfg.Database.DataDir, "synclog-staging"))
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open sync log")
	}
	defer func() {
		if err := syncLog.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing sync log")
		}
	}()

	tr, err := transport.New(transport.Kind(cfg.Transport.Kind), transport.Config{
		DeviceID:       device.ID,
		NATSURL:        cfg.Transport.NATSURL,
		EmbeddedServer: cfg.Transport.EmbeddedServer,
		StoreDir:       cfg.Transport.StoreDir,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to initialize transport")
	}
	defer func() {
		if err := tr.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing transport")
		}
	}()

	_ = tags.NewService(store, syncLog, clockGen, device.ID)
	_ = sidecar.NewService(store)
	querySvc := query.NewService(store)

	stopper := &coordinatorStopper{}
	locationsSvc := locations.NewService(store, jobsSystem, stopper)

	caches := make(map[uuid.UUID]*ephemeral.Cache, len(libraries))
	for _, lib := range libraries {
		cache := ephemeral.NewCache(lib.ID, cfg.Indexing.EphemeralCacheIdleTimeout)
		caches[lib.ID] = cache
		locationsSvc.RegisterCache(lib.ID, cache)
		querySvc.RegisterCache(lib.ID, cache)
	}

	router := newWatchRouter(locationsSvc, 2*time.Second)
	sharedWatcher, err := watcher.New(router, router, cfg.Watcher.TickInterval)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to start filesystem watcher")
	}
	defer func() {
		if err := sharedWatcher.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing filesystem watcher")
		}
	}()

	syncRegistry := newSyncRegistry()
	factories := coordinator.Factories{
		Watcher:       watcherServiceFactory(store, sharedWatcher, router),
		StaleDetector: staleDetectorFactory(store, locationsSvc, cfg.Indexing.StaleRescanInterval),
		Sync:          syncServiceFactory(store, syncLog, clockGen, leaderMgr, tr, device, syncRegistry),
	}

	slogLogger := logging.NewSlogLogger()
	coord := coordinator.New(store, factories, slogLogger)
	stopper.set(coord)

	allLocations, err := reregisterLocations(ctx, store, coord, libraries, leaderMgr)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to re-register locations")
	}
	logging.Info().Int("locations", len(allLocations)).Int("libraries", len(libraries)).Msg("topology loaded")

	libraryExists := make(map[uuid.UUID]bool, len(libraries))
	for _, lib := range libraries {
		libraryExists[lib.ID] = true
	}
	if err := jobsSystem.Init(ctx, func(owner uuid.UUID) bool { return libraryExists[owner] }); err != nil {
		logging.Error().Err(err).Msg("failed to cold-resume pending jobs")
	}

	root := suture.New("coreindexd", suture.Spec{
		EventHook:        (&sutureslog.Handler{Logger: slogLogger}).MustHook(),
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          10 * time.Second,
	})
	root.Add(jobsSystem)
	root.Add(coord)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("root supervisor starting")
	errCh := root.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("root supervisor exited with error")
		}
	}
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("root supervisor shutdown error")
		}
	}

	logging.Info().Msg("coreindexd stopped")
}

// bootstrapLibraries ensures at least one library exists (a fresh install
// starts with exactly one, named after cfg.Library.DefaultName) and
// returns every library known to this store.
func bootstrapLibraries(ctx context.Context, store *storage.Store, cfg *config.Config) ([]models.Library, error) {
	existing, err := store.ListLibraries(ctx)
	if err != nil {
		return nil, fmt.Errorf("list libraries: %w", err)
	}
	if len(existing) > 0 {
		return existing, nil
	}

	lib := models.Library{
		ID:        uuid.New(),
		Name:      cfg.Library.DefaultName,
		CreatedAt: time.Now().UTC(),
	}
	if err := store.CreateLibrary(ctx, lib); err != nil {
		return nil, fmt.Errorf("create default library: %w", err)
	}
	logging.Info().Str("library_id", lib.ID.String()).Str("name", lib.Name).Msg("created default library")
	return []models.Library{lib}, nil
}

// reregisterLocations loads every location of every library and applies
// its persisted coordinator settings, or a default all-enabled setting for
// a location seen for the first time (matching spec.md §4.I's wording that
// a location starts watched once it's imported). It also seeds each
// library's leader manager so a device restarting mid-lease doesn't start
// a spurious election.
func reregisterLocations(ctx context.Context, store *storage.Store, coord *coordinator.Coordinator, libraries []models.Library, leaderMgr *leader.Manager) ([]models.Location, error) {
	var all []models.Location
	for _, lib := range libraries {
		locs, err := store.ListLocations(ctx, lib.ID)
		if err != nil {
			return nil, fmt.Errorf("list locations for library %s: %w", lib.ID, err)
		}

		if record, ok, err := store.GetLeaderRecord(ctx, lib.ID); err == nil && ok {
			leaderMgr.UpdateLeadership(lib.ID, record)
		}

		for _, loc := range locs {
			settings, ok, err := store.GetSettings(ctx, loc.ID)
			if err != nil {
				return nil, fmt.Errorf("load settings for location %s: %w", loc.ID, err)
			}
			if !ok {
				settings = coordinator.Settings{
					Watcher:       coordinator.ServiceToggle{Enabled: true},
					StaleDetector: coordinator.ServiceToggle{Enabled: true},
					Sync:          coordinator.ServiceToggle{Enabled: true},
				}
			}
			if err := coord.Apply(ctx, loc.ID, settings); err != nil {
				return nil, fmt.Errorf("apply settings for location %s: %w", loc.ID, err)
			}
			all = append(all, loc)
		}
	}
	return all, nil
}
