// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"

	"github.com/spacedriveapp/spacedrive-core/internal/clock"
	"github.com/spacedriveapp/spacedrive-core/internal/coordinator"
	"github.com/spacedriveapp/spacedrive-core/internal/leader"
	"github.com/spacedriveapp/spacedrive-core/internal/logging"
	"github.com/spacedriveapp/spacedrive-core/internal/models"
	"github.com/spacedriveapp/spacedrive-core/internal/storage"
	"github.com/spacedriveapp/spacedrive-core/internal/synclog"
	"github.com/spacedriveapp/spacedrive-core/internal/transport"
)

// syncRegistry deduplicates the "sync" toggle down to one running service
// per library: spec.md §4.B/§4.C describe sync as a per-library concern
// (one leader, one log), but spec.md §6's configuration surface attaches
// the toggle per-location. The first location of a library to enable sync
// gets the real librarySyncService; every other location of that same
// library gets a noopService so the coordinator still has a token to stop
// on Remove.
type syncRegistry struct {
	mu      sync.Mutex
	running map[uuid.UUID]uuid.UUID // libraryID -> owning locationID
}

func newSyncRegistry() *syncRegistry {
	return &syncRegistry{running: make(map[uuid.UUID]uuid.UUID)}
}

func (r *syncRegistry) acquire(libraryID, locationID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.running[libraryID]; exists {
		return false
	}
	r.running[libraryID] = locationID
	return true
}

func (r *syncRegistry) release(libraryID, locationID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running[libraryID] == locationID {
		delete(r.running, libraryID)
	}
}

// syncServiceFactory builds the coordinator.ServiceFactory behind the
// "sync" toggle.
func syncServiceFactory(store *storage.Store, log *synclog.Log, clk *clock.Generator, leaderMgr *leader.Manager, tr transport.Transport, device models.Device, reg *syncRegistry) coordinator.ServiceFactory {
	return func(ctx context.Context, locationID uuid.UUID, config []byte) (suture.Service, error) {
		loc, ok, err := store.GetLocation(ctx, locationID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, locationNotFound(locationID)
		}

		if !reg.acquire(loc.LibraryID, locationID) {
			return noopService{name: "sync-noop:" + locationID.String()}, nil
		}

		return &librarySyncService{
			libraryID:  loc.LibraryID,
			locationID: locationID,
			store:      store,
			log:        log,
			clock:      clk,
			leader:     leaderMgr,
			transport:  tr,
			device:     device,
			registry:   reg,
		}, nil
	}
}

// librarySyncService drives the outbound and inbound halves of spec.md
// §4.B/§4.C for one library: it serves peer backfill requests, ingests
// remote ops and heartbeats, and periodically publishes this device's own
// unpublished ops and (while leader) heartbeats and sequence assignment.
//
// internal/synclog.Log has no built-in outbound push: WriteLocal only
// persists and stages locally. This service reuses Backfill — designed to
// answer a peer's catch-up request — as a self-polling publish loop
// against an advancing local HLC watermark, which is the same data path a
// peer's RequestBackfill would exercise.
type librarySyncService struct {
	libraryID  uuid.UUID
	locationID uuid.UUID

	store     *storage.Store
	log       *synclog.Log
	clock     *clock.Generator
	leader    *leader.Manager
	transport transport.Transport
	device    models.Device
	registry  *syncRegistry

	pollInterval time.Duration
}

func (s *librarySyncService) String() string { return "sync:" + s.libraryID.String() }

func (s *librarySyncService) Serve(ctx context.Context) error {
	defer s.registry.release(s.libraryID, s.locationID)
	log := logging.WithComponent("sync").With().Str("library_id", s.libraryID.String()).Logger()

	pollInterval := s.pollInterval
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}

	if err := s.initializeLeadership(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to initialize leadership state")
	}

	s.transport.ServeBackfill(s.libraryID, func(ctx context.Context, req synclog.BackfillRequest) (synclog.BackfillResponse, error) {
		return s.log.Backfill(ctx, req)
	})

	opsCh, unsubOps, err := s.transport.SubscribeOps(ctx, s.libraryID)
	if err != nil {
		return fmt.Errorf("sync: subscribe ops: %w", err)
	}
	defer unsubOps()

	heartbeatsCh, unsubHB, err := s.transport.SubscribeHeartbeats(ctx, s.libraryID)
	if err != nil {
		return fmt.Errorf("sync: subscribe heartbeats: %w", err)
	}
	defer unsubHB()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	watermark := ""
	nextSeq, err := s.store.HighestSeq(ctx, s.libraryID.String())
	if err != nil {
		log.Warn().Err(err).Msg("failed to read highest assigned sequence; starting from 0")
	}
	nextSeq++

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ops, ok := <-opsCh:
			if !ok {
				opsCh = nil
				continue
			}
			s.ingest(ctx, log, ops)

		case record, ok := <-heartbeatsCh:
			if !ok {
				heartbeatsCh = nil
				continue
			}
			if record.LeaderDeviceID == s.device.ID {
				continue // our own heartbeat, looped back by the transport
			}
			s.leader.UpdateLeadership(s.libraryID, record)
			if err := s.store.PutLeaderRecord(ctx, record); err != nil {
				log.Warn().Err(err).Msg("failed to persist leader record")
			}

		case <-ticker.C:
			nextSeq = s.tick(ctx, log, &watermark, nextSeq)
		}
	}
}

func (s *librarySyncService) initializeLeadership(ctx context.Context) error {
	record, ok, err := s.store.GetLeaderRecord(ctx, s.libraryID)
	if err != nil {
		return err
	}
	if ok {
		s.leader.UpdateLeadership(s.libraryID, record)
		return nil
	}

	s.leader.InitializeLibrary(s.libraryID, true)
	newRecord, err := s.leader.RequestLeadership(s.libraryID)
	if err != nil {
		return err
	}
	return s.store.PutLeaderRecord(ctx, newRecord)
}

func (s *librarySyncService) ingest(ctx context.Context, log zerolog.Logger, ops []synclog.Op) {
	for _, op := range ops {
		s.clock.Update(op.HLC())
	}
	if _, err := s.log.IngestRemote(ctx, ops); err != nil {
		log.Warn().Err(err).Msg("failed to ingest remote sync ops")
	}
}

// tick runs the leader/follower maintenance and outbound publish steps
// shared by every poll interval, returning the next sequence number to
// assign if this device is (or becomes) leader.
func (s *librarySyncService) tick(ctx context.Context, log zerolog.Logger, watermark *string, nextSeq int64) int64 {
	if s.leader.IsLeader(s.libraryID) {
		assigned, err := s.log.SelfAssignSeq(ctx, s.libraryID.String(), nextSeq)
		if err != nil {
			log.Warn().Err(err).Msg("failed to self-assign sequence numbers")
		} else {
			nextSeq = assigned
		}

		record, err := s.leader.SendHeartbeat(s.libraryID)
		if err != nil {
			log.Warn().Err(err).Msg("failed to extend leader lease")
		} else {
			if err := s.transport.PublishHeartbeat(ctx, record); err != nil {
				log.Warn().Err(err).Msg("failed to publish leader heartbeat")
			}
			if err := s.store.PutLeaderRecord(ctx, record); err != nil {
				log.Warn().Err(err).Msg("failed to persist leader record")
			}
		}
	} else if newRole, elected := s.leader.CheckLeaderTimeout(s.libraryID); elected && newRole == leader.RoleLeader {
		if seq, err := s.store.HighestSeq(ctx, s.libraryID.String()); err == nil {
			nextSeq = seq + 1
		}
	}

	resp, err := s.log.Backfill(ctx, synclog.BackfillRequest{FromHLC: *watermark, Limit: 1000})
	if err != nil {
		log.Warn().Err(err).Msg("failed to read local ops for publish")
		return nextSeq
	}
	if len(resp.Ops) == 0 {
		return nextSeq
	}
	if err := s.transport.PublishOps(ctx, s.libraryID, resp.Ops); err != nil {
		log.Warn().Err(err).Msg("failed to publish local sync ops")
		return nextSeq
	}
	*watermark = resp.Ops[len(resp.Ops)-1].HLC().String()
	return nextSeq
}
