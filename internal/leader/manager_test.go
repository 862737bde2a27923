// SPDX-License-Identifier: AGPL-3.0-or-later
package leader

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/spacedriveapp/spacedrive-core/internal/models"
)

func TestNewRecordIsValidAndFresh(t *testing.T) {
	device := uuid.New()
	record := newRecord(device)

	require.Equal(t, device, record.LeaderDeviceID)
	require.True(t, isValid(record))
	require.False(t, hasTimedOut(record))
}

func TestInitializeLibraryCreatorVsFollower(t *testing.T) {
	device := uuid.New()
	m := NewManager(device)

	lib1 := uuid.New()
	role := m.InitializeLibrary(lib1, true)
	require.Equal(t, RoleLeader, role)
	require.True(t, m.IsLeader(lib1))

	lib2 := uuid.New()
	role = m.InitializeLibrary(lib2, false)
	require.Equal(t, RoleFollower, role)
	require.False(t, m.IsLeader(lib2))
}

func TestRequestLeadershipIdempotentForCurrentLeader(t *testing.T) {
	device := uuid.New()
	m := NewManager(device)
	lib := uuid.New()

	_, err := m.RequestLeadership(lib)
	require.NoError(t, err)
	require.True(t, m.IsLeader(lib))

	_, err = m.RequestLeadership(lib)
	require.NoError(t, err)
	require.True(t, m.IsLeader(lib))
}

func TestFollowerCannotBecomeLeaderWhileLeaseValid(t *testing.T) {
	leaderDevice := uuid.New()
	followerDevice := uuid.New()
	lib := uuid.New()

	leaderMgr := NewManager(leaderDevice)
	leaderMgr.InitializeLibrary(lib, true)
	require.True(t, leaderMgr.IsLeader(lib))

	record, ok := leaderMgr.byLib[lib]
	require.True(t, ok)

	followerMgr := NewManager(followerDevice)
	followerMgr.UpdateLeadership(lib, record)

	_, err := followerMgr.RequestLeadership(lib)
	require.ErrorIs(t, err, ErrNotLeader)
	require.False(t, followerMgr.IsLeader(lib))
}

func TestHeartbeatExtendsLease(t *testing.T) {
	device := uuid.New()
	m := NewManager(device)
	lib := uuid.New()
	m.InitializeLibrary(lib, true)

	originalExpiry := m.byLib[lib].LeaseExpiresAt

	time.Sleep(5 * time.Millisecond)

	record, err := m.SendHeartbeat(lib)
	require.NoError(t, err)
	require.True(t, record.LeaseExpiresAt.After(originalExpiry))
}

func TestSendHeartbeatRejectsNonLeader(t *testing.T) {
	leaderDevice := uuid.New()
	followerDevice := uuid.New()
	lib := uuid.New()

	leaderMgr := NewManager(leaderDevice)
	leaderMgr.InitializeLibrary(lib, true)
	record := leaderMgr.byLib[lib]

	followerMgr := NewManager(followerDevice)
	followerMgr.UpdateLeadership(lib, record)

	_, err := followerMgr.SendHeartbeat(lib)
	require.ErrorIs(t, err, ErrNotLeader)
}

func TestSendHeartbeatUnknownLibrary(t *testing.T) {
	m := NewManager(uuid.New())
	_, err := m.SendHeartbeat(uuid.New())
	require.ErrorIs(t, err, ErrNoLeadershipState)
}

func TestCheckLeaderTimeoutTriggersReElection(t *testing.T) {
	oldLeader := uuid.New()
	follower := uuid.New()
	lib := uuid.New()

	expired := models.LeaderRecord{
		LeaderDeviceID:  oldLeader,
		LeaseExpiresAt:  time.Now().UTC().Add(LeaseExtension),
		LastHeartbeatAt: time.Now().UTC().Add(-2 * LeaseTimeout),
		UpdatedAt:       time.Now().UTC().Add(-2 * LeaseTimeout),
	}

	m := NewManager(follower)
	m.UpdateLeadership(lib, expired)

	role, elected := m.CheckLeaderTimeout(lib)
	require.True(t, elected)
	require.Equal(t, RoleLeader, role)
	require.True(t, m.IsLeader(lib))
}

func TestCheckLeaderTimeoutNoOpWhenFresh(t *testing.T) {
	oldLeader := uuid.New()
	follower := uuid.New()
	lib := uuid.New()

	m := NewManager(follower)
	m.UpdateLeadership(lib, newRecord(oldLeader))

	_, elected := m.CheckLeaderTimeout(lib)
	require.False(t, elected)
	require.False(t, m.IsLeader(lib))
}

func TestGetLeaderAndRole(t *testing.T) {
	device := uuid.New()
	m := NewManager(device)
	lib := uuid.New()

	_, ok := m.GetLeader(lib)
	require.False(t, ok)
	require.Equal(t, RoleFollower, m.GetRole(lib))

	m.InitializeLibrary(lib, true)
	got, ok := m.GetLeader(lib)
	require.True(t, ok)
	require.Equal(t, device, got)
	require.Equal(t, RoleLeader, m.GetRole(lib))
}
