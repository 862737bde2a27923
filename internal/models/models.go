// SPDX-License-Identifier: AGPL-3.0-or-later
// Package models defines the entity model shared by every subsystem of the
// indexing and sync core: devices, libraries, locations, entries and their
// closure/path denormalizations, content identities, sidecars, tags, job
// reports, error-kind sentinels and leader records. These are plain structs; persistence lives in
// internal/storage, and the package intentionally carries no database
// dependency so it can be imported everywhere without a cycle.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Device is a physical or virtual machine participating in one or more
// libraries. The local device is created once at first boot and its
// identity is read-only for the lifetime of the process.
type Device struct {
	ID   uuid.UUID
	Slug string
	Name string
}

// Library is a namespace of entries, tags and sync state. A device may
// belong to multiple libraries.
type Library struct {
	ID          uuid.UUID
	Name        string
	Description string
	CreatedAt   time.Time
}

// IndexMode controls how deeply a Location is walked and whether content
// identification runs.
type IndexMode string

const (
	IndexModeNone    IndexMode = "none"
	IndexModeShallow IndexMode = "shallow"
	IndexModeDeep    IndexMode = "deep"
)

// ScanState tracks a Location's indexing lifecycle, matching the source's
// LocationScanState enum (Pending/Indexed/FilesIdentified/Completed).
type ScanState int32

const (
	ScanStatePending ScanState = iota
	ScanStateIndexed
	ScanStateFilesIdentified
	ScanStateCompleted
)

// Location is a root directory on a device managed by a library.
type Location struct {
	ID         uuid.UUID
	LibraryID  uuid.UUID
	DeviceID   uuid.UUID
	EntryID    uuid.UUID // root Entry
	Name       string
	IndexMode  IndexMode
	ScanState  ScanState
	RootPath   string // local absolute path on DeviceID; empty for remote locations
	CreatedAt  time.Time
}

// EntryKind distinguishes the three filesystem node types this system
// tracks. Other kinds (device nodes, sockets, ...) are skipped at discovery.
type EntryKind string

const (
	EntryKindFile      EntryKind = "file"
	EntryKindDirectory EntryKind = "directory"
	EntryKindSymlink   EntryKind = "symlink"
)

// Entry is a node in the filesystem tree indexed by a library. Every Entry
// has either a ParentID or is a location root (invariant 1 of spec.md §3).
type Entry struct {
	ID           uuid.UUID
	ParentID     uuid.NullUUID
	LocationID   uuid.NullUUID
	Kind         EntryKind
	Name         string
	Extension    string
	Size         int64
	Inode        uint64
	CreatedAt    time.Time
	ModifiedAt   time.Time
	AccessedAt   time.Time
	ContentID    uuid.NullUUID
	Tombstoned   bool
	TombstonedAt time.Time
}

// EntryClosure is one row of the transitive closure over parent edges,
// enabling O(1) "is ancestor of" and subtree-range queries (invariant 2).
type EntryClosure struct {
	AncestorID   uuid.UUID
	DescendantID uuid.UUID
	Depth        int
}

// DirectoryPath denormalizes the absolute path of a directory Entry so that
// path-based lookups (watcher events, CLI paths) don't require a closure
// walk.
type DirectoryPath struct {
	EntryID      uuid.UUID
	AbsolutePath string
}

// ContentKind classifies a ContentIdentity by the nature of its bytes,
// resolved at registration time from extension and magic bytes (§4.D).
type ContentKind string

const (
	ContentKindImage    ContentKind = "image"
	ContentKindVideo    ContentKind = "video"
	ContentKindAudio    ContentKind = "audio"
	ContentKindDocument ContentKind = "document"
	ContentKindArchive  ContentKind = "archive"
	ContentKindOther    ContentKind = "other"
)

// ContentIdentity is shared by every Entry whose bytes agree, keyed by a
// content-addressed CAS key (internal/cas). Reference counted; see
// invariant 3 and the tombstoning decision in SPEC_FULL.md.
type ContentIdentity struct {
	UUID           uuid.UUID
	Kind           ContentKind
	ContentHash    string // the CAS key, e.g. "v1_full:<hex>"
	IntegrityHash  string // optional stronger hash for verification
	MimeTypeID     string
	TotalSize      int64
	EntryCount     int64
	FirstSeenAt    time.Time
	LastVerifiedAt time.Time
	Tombstoned     bool
}

// SidecarKind enumerates the derived-artifact kinds this system tracks the
// existence of (generation itself is out of scope; see internal/sidecar).
type SidecarKind string

const (
	SidecarKindThumbnail  SidecarKind = "thumb"
	SidecarKindPreview    SidecarKind = "preview"
	SidecarKindTranscript SidecarKind = "transcript"
)

// SidecarStatus tracks a Sidecar's generation lifecycle.
type SidecarStatus string

const (
	SidecarStatusPending   SidecarStatus = "pending"
	SidecarStatusReady     SidecarStatus = "ready"
	SidecarStatusFailed    SidecarStatus = "failed"
)

// Sidecar is a derived artifact attached either to a ContentIdentity (shared
// across every Entry with those bytes) or to one specific Entry.
type Sidecar struct {
	ID          uuid.UUID
	ContentUUID uuid.NullUUID
	EntryUUID   uuid.NullUUID
	Kind        SidecarKind
	Variant     string
	Format      string
	Status      SidecarStatus
	Size        int64
}

// Tag is a user-defined label that can be attached to an Entry or to a
// ContentIdentity (via UserMetadataTag, propagating to every Entry sharing
// that identity).
type Tag struct {
	ID    uuid.UUID
	Name  string
	Color string
}

// UserMetadata links a Tag to a target (an Entry or a ContentIdentity).
type UserMetadata struct {
	ID          uuid.UUID
	EntryID     uuid.NullUUID
	ContentUUID uuid.NullUUID
}

// UserMetadataTag is the join row between UserMetadata and Tag.
type UserMetadataTag struct {
	UserMetadataID uuid.UUID
	TagID          uuid.UUID
}

// LeaderRecord is the persisted leadership lease for one library (§4.B).
type LeaderRecord struct {
	LibraryID        uuid.UUID
	LeaderDeviceID   uuid.UUID
	LeaseExpiresAt   time.Time
	LastHeartbeatAt  time.Time
	UpdatedAt        time.Time
}
