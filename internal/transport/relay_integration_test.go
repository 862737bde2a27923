// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build integration

package transport

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/spacedriveapp/spacedrive-core/internal/clock"
	"github.com/spacedriveapp/spacedrive-core/internal/models"
	"github.com/spacedriveapp/spacedrive-core/internal/synclog"
	"github.com/spacedriveapp/spacedrive-core/internal/testinfra"
)

// TestRelayTransport_PublishSubscribe_RealBroker exercises the relay
// transport against a real NATS JetStream broker rather than the
// embedded-server fallback, catching anything the embedded server's
// defaults paper over (ack timing, reconnect behavior, queue group
// fan-out).
func TestRelayTransport_PublishSubscribe_RealBroker(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	testinfra.SkipIfNoDocker(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker, err := testinfra.NewNATSContainer(ctx, t)
	require.NoError(t, err)
	defer testinfra.CleanupContainer(t, ctx, broker.Container)

	device := uuid.New()
	tr, err := New(KindRelay, Config{
		DeviceID:       device,
		NATSURL:        broker.URL,
		EmbeddedServer: false,
	})
	require.NoError(t, err)
	defer tr.Close()

	libraryID := uuid.New()
	opsCh, unsubscribe, err := tr.SubscribeOps(ctx, libraryID)
	require.NoError(t, err)
	defer unsubscribe()

	// give the subscriber a moment to attach before publishing, matching
	// the teacher's own NATS test pattern of a short settle delay.
	time.Sleep(250 * time.Millisecond)

	clk := clock.NewGenerator(device)
	op := synclog.SharedOpOf(synclog.SharedOp{
		ID:        clk.Next(),
		Device:    device,
		LibraryID: libraryID,
		Model:     "entries",
		RecordID:  []byte("entry-1"),
		Field:     "name",
		Value:     []byte(`"renamed.txt"`),
	})

	require.NoError(t, tr.PublishOps(ctx, libraryID, []synclog.Op{op}))

	select {
	case received := <-opsCh:
		require.Len(t, received, 1)
		require.Equal(t, synclog.OpKindShared, received[0].Kind)
		require.Equal(t, "name", received[0].Shared.Field)
	case <-time.After(15 * time.Second):
		t.Fatal("timed out waiting for published op")
	}
}

// TestRelayTransport_Heartbeat_RealBroker exercises leader heartbeat
// publish/subscribe over the real broker.
func TestRelayTransport_Heartbeat_RealBroker(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	testinfra.SkipIfNoDocker(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker, err := testinfra.NewNATSContainer(ctx, t)
	require.NoError(t, err)
	defer testinfra.CleanupContainer(t, ctx, broker.Container)

	device := uuid.New()
	tr, err := New(KindRelay, Config{
		DeviceID:       device,
		NATSURL:        broker.URL,
		EmbeddedServer: false,
	})
	require.NoError(t, err)
	defer tr.Close()

	libraryID := uuid.New()
	hbCh, unsubscribe, err := tr.SubscribeHeartbeats(ctx, libraryID)
	require.NoError(t, err)
	defer unsubscribe()

	time.Sleep(250 * time.Millisecond)

	now := time.Now().UTC()
	record := models.LeaderRecord{
		LibraryID:       libraryID,
		LeaderDeviceID:  device,
		LeaseExpiresAt:  now.Add(90 * time.Second),
		LastHeartbeatAt: now,
		UpdatedAt:       now,
	}
	require.NoError(t, tr.PublishHeartbeat(ctx, record))

	select {
	case received := <-hbCh:
		require.Equal(t, device, received.LeaderDeviceID)
		require.Equal(t, libraryID, received.LibraryID)
	case <-time.After(15 * time.Second):
		t.Fatal("timed out waiting for published heartbeat")
	}
}
