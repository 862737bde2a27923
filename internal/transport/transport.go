// SPDX-License-Identifier: AGPL-3.0-or-later

// Package transport is the abstract peer-to-peer boundary spec.md §1 and §9
// describe: "cloud-relay transport, pairing UI, peer discovery protocols
// (only the abstract transport contract is described)". Dynamic dispatch
// over a trait/interface is the wrong shape for a closed set of transport
// kinds per spec.md §9's design notes ("tagged variants Transport = Local |
// Relay | Quic are preferable where the set is closed"), so Kind tags which
// concrete implementation New returns.
//
// Local is a fully working in-process implementation, used by a
// single-device install. Relay is backed by NATS JetStream through
// Watermill, and is the one concrete networked transport this package
// implements. Quic is named by the tag set but not implemented — probing,
// pairing and wire-level peer discovery are the explicit non-goal spec.md
// §1 excludes.
package transport

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/spacedriveapp/spacedrive-core/internal/models"
	"github.com/spacedriveapp/spacedrive-core/internal/synclog"
)

// Kind tags which concrete Transport an instance is.
type Kind string

const (
	KindLocal Kind = "local"
	KindRelay Kind = "relay"
	KindQuic  Kind = "quic"
)

// ErrNotImplemented marks a transport kind named by spec.md §9's tag set
// but excluded from this implementation by spec.md §1's non-goal on
// cloud-relay/pairing/discovery protocols.
var ErrNotImplemented = fmt.Errorf("%w: transport not implemented", models.ErrConflict)

// BackfillHandler answers a peer's backfill request for one library,
// typically wired to (*synclog.Log).Backfill.
type BackfillHandler func(ctx context.Context, req synclog.BackfillRequest) (synclog.BackfillResponse, error)

// Transport is what internal/coordinator's sync service depends on to
// exchange sync ops, leader heartbeats and backfill requests with peers.
// internal/synclog.Log never imports this package directly — it has no
// opinion about how its ops reach another device.
type Transport interface {
	Kind() Kind

	// PublishOps broadcasts locally originated ops for a library to every
	// subscribed peer.
	PublishOps(ctx context.Context, libraryID uuid.UUID, ops []synclog.Op) error

	// SubscribeOps returns a channel of op batches published by peers for
	// a library, and an unsubscribe function.
	SubscribeOps(ctx context.Context, libraryID uuid.UUID) (<-chan []synclog.Op, func(), error)

	// PublishHeartbeat broadcasts this device's leader heartbeat.
	PublishHeartbeat(ctx context.Context, record models.LeaderRecord) error

	// SubscribeHeartbeats returns a channel of heartbeats observed for a
	// library, and an unsubscribe function.
	SubscribeHeartbeats(ctx context.Context, libraryID uuid.UUID) (<-chan models.LeaderRecord, func(), error)

	// ServeBackfill registers the handler that answers backfill requests
	// peers send for a library. Replaces any previously registered handler.
	ServeBackfill(libraryID uuid.UUID, handler BackfillHandler)

	// RequestBackfill asks peers for ops a library is missing, per spec.md
	// §6's { from_hlc, limit ≤ 1000 } request/response contract.
	RequestBackfill(ctx context.Context, libraryID uuid.UUID, req synclog.BackfillRequest) (synclog.BackfillResponse, error)

	Close() error
}

// New constructs a Transport of the given kind. Config fields unused by a
// kind are ignored.
func New(kind Kind, cfg Config) (Transport, error) {
	switch kind {
	case KindLocal:
		return newLocalTransport(), nil
	case KindRelay:
		return newRelayTransport(cfg)
	case KindQuic:
		return nil, fmt.Errorf("%w: quic", ErrNotImplemented)
	default:
		return nil, fmt.Errorf("transport: unknown kind %q", kind)
	}
}

// Config carries every field some Transport kind might need. Relay uses
// NATSURL and EmbeddedServer; Local and Quic ignore it.
type Config struct {
	DeviceID uuid.UUID

	// NATSURL is the JetStream server this device connects to. Ignored
	// unless EmbeddedServer is false.
	NATSURL string

	// EmbeddedServer starts an in-process NATS server instead of dialing
	// NATSURL, for single-process tests and standalone installs.
	EmbeddedServer bool

	// StoreDir is the embedded server's JetStream storage directory.
	StoreDir string
}
