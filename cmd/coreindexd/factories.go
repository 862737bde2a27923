// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/thejerf/suture/v4"

	"github.com/spacedriveapp/spacedrive-core/internal/coordinator"
	"github.com/spacedriveapp/spacedrive-core/internal/locations"
	"github.com/spacedriveapp/spacedrive-core/internal/logging"
	"github.com/spacedriveapp/spacedrive-core/internal/models"
	"github.com/spacedriveapp/spacedrive-core/internal/storage"
	"github.com/spacedriveapp/spacedrive-core/internal/watcher"
)

func locationNotFound(id uuid.UUID) error {
	return fmt.Errorf("%w: location %s", models.ErrStructural, id)
}

// noopService satisfies suture.Service for a toggle that has nothing to
// run in this process (a library's sync service is already running under
// a sibling location; see syncServiceFactory). It simply blocks until the
// coordinator stops it.
type noopService struct{ name string }

func (n noopService) Serve(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }
func (n noopService) String() string                  { return n.name }

// watchToggleService registers one location's root with the process-wide
// shared watcher on Serve and unregisters it when stopped. A single
// watcher.Watcher is constructed once in main; a per-location "watcher
// service" in the coordinator's sense is just that location's
// registration lifetime against the one shared instance.
type watchToggleService struct {
	loc           models.Location
	sharedWatcher *watcher.Watcher
	router        *watchRouter
}

func (w *watchToggleService) Serve(ctx context.Context) error {
	w.router.registerLocation(w.loc)
	if err := w.sharedWatcher.WatchLocation(watcher.Location{ID: w.loc.ID.String(), RootPath: w.loc.RootPath}); err != nil {
		w.router.unregisterLocation(w.loc.RootPath)
		return err
	}
	<-ctx.Done()
	w.router.unregisterLocation(w.loc.RootPath)
	return ctx.Err()
}

func (w *watchToggleService) String() string { return "watch:" + w.loc.ID.String() }

// watcherServiceFactory builds the coordinator.ServiceFactory behind the
// "watcher" toggle of spec.md §6.
func watcherServiceFactory(store *storage.Store, sharedWatcher *watcher.Watcher, router *watchRouter) coordinator.ServiceFactory {
	return func(ctx context.Context, locationID uuid.UUID, config []byte) (suture.Service, error) {
		loc, ok, err := store.GetLocation(ctx, locationID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, locationNotFound(locationID)
		}
		return &watchToggleService{loc: loc, sharedWatcher: sharedWatcher, router: router}, nil
	}
}

// staleDetectorConfig is the opaque JSON a location's "stale_detector"
// toggle config may carry to override the daemon-wide default interval.
type staleDetectorConfig struct {
	IntervalSeconds int `json:"interval_seconds"`
}

// staleDetectorService periodically re-dispatches a full indexer run for
// one location, the polling half of spec.md §4.F's staleness detection
// (the watcher covers live changes; this covers changes missed while the
// daemon wasn't running, or filesystems the watcher can't observe
// reliably, e.g. network shares).
type staleDetectorService struct {
	locationID uuid.UUID
	interval   time.Duration

	store     *storage.Store
	locations *locations.Service
}

func (s *staleDetectorService) Serve(ctx context.Context) error {
	log := logging.WithComponent("stale-detector")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			loc, ok, err := s.store.GetLocation(ctx, s.locationID)
			if err != nil || !ok {
				continue
			}
			if _, err := s.locations.EnableIndexing(ctx, s.locationID, indexModeToRunMode(loc.IndexMode)); err != nil {
				log.Warn().Err(err).Str("location_id", s.locationID.String()).Msg("stale rescan dispatch failed")
			}
		}
	}
}

func (s *staleDetectorService) String() string { return "stale-detector:" + s.locationID.String() }

// staleDetectorFactory builds the coordinator.ServiceFactory behind the
// "stale_detector" toggle. defaultInterval applies when a location's
// config doesn't override it.
func staleDetectorFactory(store *storage.Store, locationsSvc *locations.Service, defaultInterval time.Duration) coordinator.ServiceFactory {
	return func(ctx context.Context, locationID uuid.UUID, config []byte) (suture.Service, error) {
		if _, ok, err := store.GetLocation(ctx, locationID); err != nil {
			return nil, err
		} else if !ok {
			return nil, locationNotFound(locationID)
		}

		interval := defaultInterval
		if len(config) > 0 {
			var cfg staleDetectorConfig
			if err := json.Unmarshal(config, &cfg); err == nil && cfg.IntervalSeconds > 0 {
				interval = time.Duration(cfg.IntervalSeconds) * time.Second
			}
		}

		return &staleDetectorService{locationID: locationID, interval: interval, store: store, locations: locationsSvc}, nil
	}
}
