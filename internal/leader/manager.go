// SPDX-License-Identifier: AGPL-3.0-or-later
// Package leader implements per-library leader election and lease
// management for the sync log (spec.md §4.B): exactly one device at a
// time assigns sequence numbers for a library, with heartbeat-extended
// leases and automatic failover on timeout.
package leader

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spacedriveapp/spacedrive-core/internal/logging"
	"github.com/spacedriveapp/spacedrive-core/internal/models"
)

const (
	// HeartbeatInterval is how often a leader should broadcast a heartbeat.
	HeartbeatInterval = 30 * time.Second

	// LeaseTimeout is how long a follower waits without a heartbeat before
	// considering the leader offline and attempting re-election.
	LeaseTimeout = 60 * time.Second

	// LeaseExtension is how far into the future a heartbeat pushes the lease.
	LeaseExtension = 90 * time.Second
)

// ErrNotLeader is returned when a caller that does not hold a valid lease
// attempts a leader-only action (requesting leadership while another
// device's lease is live, or sending a heartbeat it's not entitled to).
var ErrNotLeader = fmt.Errorf("%w: not the current leader", models.ErrConflict)

// ErrNoLeadershipState is returned by SendHeartbeat when the manager has no
// record at all for the given library (initialize it first).
var ErrNoLeadershipState = fmt.Errorf("%w: no leadership state for library", models.ErrStructural)

// Role is this device's sync role within one library.
type Role int

const (
	RoleFollower Role = iota
	RoleLeader
)

func (r Role) String() string {
	if r == RoleLeader {
		return "leader"
	}
	return "follower"
}

func newRecord(leaderDeviceID uuid.UUID) models.LeaderRecord {
	now := time.Now().UTC()
	return models.LeaderRecord{
		LeaderDeviceID:  leaderDeviceID,
		LeaseExpiresAt:  now.Add(LeaseExtension),
		LastHeartbeatAt: now,
		UpdatedAt:       now,
	}
}

func isValid(r models.LeaderRecord) bool {
	return time.Now().UTC().Before(r.LeaseExpiresAt)
}

func hasTimedOut(r models.LeaderRecord) bool {
	return time.Since(r.LastHeartbeatAt) > LeaseTimeout
}

func extend(r models.LeaderRecord) models.LeaderRecord {
	now := time.Now().UTC()
	r.LeaseExpiresAt = now.Add(LeaseExtension)
	r.LastHeartbeatAt = now
	r.UpdatedAt = now
	return r
}

// Manager is a lightweight in-memory tracker of leadership state across
// every library this device has opened. Durable persistence of the
// LeaderRecord (so a restarted process can recall who it believed was
// leader) is the caller's responsibility, via internal/storage.
type Manager struct {
	mu       sync.Mutex
	deviceID uuid.UUID
	byLib    map[uuid.UUID]models.LeaderRecord
}

// NewManager creates a Manager for the local device.
func NewManager(deviceID uuid.UUID) *Manager {
	return &Manager{deviceID: deviceID, byLib: make(map[uuid.UUID]models.LeaderRecord)}
}

// InitializeLibrary establishes this device's initial role for a library.
// The creator of a library starts as its leader; every other device starts
// as a follower and learns the real leader from the network via
// UpdateLeadership.
func (m *Manager) InitializeLibrary(libraryID uuid.UUID, isCreator bool) Role {
	m.mu.Lock()
	defer m.mu.Unlock()

	log := logging.WithComponent("leader")
	if isCreator {
		log.Info().Str("library_id", libraryID.String()).Str("device_id", m.deviceID.String()).
			Msg("initializing as library leader (creator)")
		m.byLib[libraryID] = newRecord(m.deviceID)
		return RoleLeader
	}

	log.Debug().Str("library_id", libraryID.String()).Str("device_id", m.deviceID.String()).
		Msg("initializing as library follower")
	return RoleFollower
}

// UpdateLeadership folds a leadership record learned from the network
// (a heartbeat or election announcement from another device) into local
// state.
func (m *Manager) UpdateLeadership(libraryID uuid.UUID, record models.LeaderRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()

	logging.WithComponent("leader").Debug().
		Str("library_id", libraryID.String()).
		Str("leader", record.LeaderDeviceID.String()).
		Time("expires_at", record.LeaseExpiresAt).
		Msg("updating leadership state")

	m.byLib[libraryID] = record
}

// IsLeader reports whether this device currently holds a valid lease for
// the library.
func (m *Manager) IsLeader(libraryID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.byLib[libraryID]
	return ok && record.LeaderDeviceID == m.deviceID && isValid(record)
}

// GetLeader returns the current leader's device ID, if the library has a
// valid lease recorded.
func (m *Manager) GetLeader(libraryID uuid.UUID) (uuid.UUID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.byLib[libraryID]
	if !ok || !isValid(record) {
		return uuid.Nil, false
	}
	return record.LeaderDeviceID, true
}

// GetRole returns this device's current role for the library.
func (m *Manager) GetRole(libraryID uuid.UUID) Role {
	if m.IsLeader(libraryID) {
		return RoleLeader
	}
	return RoleFollower
}

// RequestLeadership attempts to become (or remain) the leader for a
// library. Called both when a library is first created and when a
// follower observes the current leader's timeout and attempts
// re-election. Uses whichever device already holds a valid, non-timed-out
// lease as the tiebreaker: a second device's request is refused with
// ErrNotLeader until that lease lapses.
func (m *Manager) RequestLeadership(libraryID uuid.UUID) (models.LeaderRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if record, ok := m.byLib[libraryID]; ok && isValid(record) && !hasTimedOut(record) {
		if record.LeaderDeviceID == m.deviceID {
			record = extend(record)
			m.byLib[libraryID] = record
			return record, nil
		}
		return models.LeaderRecord{}, fmt.Errorf("%w: device %s holds the lease until %s",
			ErrNotLeader, record.LeaderDeviceID, record.LeaseExpiresAt)
	}

	logging.WithComponent("leader").Info().
		Str("library_id", libraryID.String()).Str("device_id", m.deviceID.String()).
		Msg("becoming leader for library")

	record := newRecord(m.deviceID)
	m.byLib[libraryID] = record
	return record, nil
}

// SendHeartbeat extends this device's lease and returns the updated
// record for broadcast to followers. Fails with ErrNotLeader if this
// device does not hold the current lease, or ErrNoLeadershipState if the
// library was never initialized.
func (m *Manager) SendHeartbeat(libraryID uuid.UUID) (models.LeaderRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.byLib[libraryID]
	if !ok {
		return models.LeaderRecord{}, fmt.Errorf("%w: library %s", ErrNoLeadershipState, libraryID)
	}
	if record.LeaderDeviceID != m.deviceID {
		return models.LeaderRecord{}, fmt.Errorf("%w: device %s holds the lease until %s",
			ErrNotLeader, record.LeaderDeviceID, record.LeaseExpiresAt)
	}

	record = extend(record)
	m.byLib[libraryID] = record
	return record, nil
}

// CheckLeaderTimeout should be polled periodically by followers. If the
// recorded leader has gone quiet past LeaseTimeout, this device attempts
// re-election; it returns the new role if that attempt succeeds, or false
// otherwise (another retry, or another device may win the race first).
func (m *Manager) CheckLeaderTimeout(libraryID uuid.UUID) (Role, bool) {
	m.mu.Lock()
	record, ok := m.byLib[libraryID]
	m.mu.Unlock()

	if !ok || !hasTimedOut(record) || record.LeaderDeviceID == m.deviceID {
		return RoleFollower, false
	}

	log := logging.WithComponent("leader")
	log.Warn().
		Str("library_id", libraryID.String()).
		Str("old_leader", record.LeaderDeviceID.String()).
		Time("last_heartbeat", record.LastHeartbeatAt).
		Msg("leader timeout detected, requesting leadership")

	if _, err := m.RequestLeadership(libraryID); err != nil {
		if errors.Is(err, ErrNotLeader) {
			log.Debug().Err(err).Msg("leadership request denied")
		} else {
			log.Debug().Err(err).Msg("leadership request failed")
		}
		return RoleFollower, false
	}

	log.Info().Str("library_id", libraryID.String()).Str("new_leader", m.deviceID.String()).
		Msg("successfully elected as new leader")
	return RoleLeader, true
}

// DeviceID returns this device's ID.
func (m *Manager) DeviceID() uuid.UUID { return m.deviceID }
