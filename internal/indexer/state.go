// SPDX-License-Identifier: AGPL-3.0-or-later

// Package indexer implements the resumable indexer state machine of
// spec.md §4.G: Discovery → Processing → Aggregation →
// ContentIdentification → Complete, checkpointed between every
// suspension point so a pause or crash can resume mid-phase.
package indexer

import (
	"runtime"
	"time"

	"github.com/google/uuid"
)

// Phase is one step of the indexer state machine, always advanced in
// order and never skipped (ContentIdentification is only entered for
// Content-and-above modes; other modes jump straight to Complete).
type Phase string

const (
	PhaseDiscovery            Phase = "discovery"
	PhaseProcessing           Phase = "processing"
	PhaseAggregation          Phase = "aggregation"
	PhaseContentIdentification Phase = "content_identification"
	PhaseComplete             Phase = "complete"
)

// Mode controls how deep a run walks and whether content identification
// runs at all, per spec.md §4.G "Modes".
type Mode string

const (
	ModeShallow   Mode = "shallow"
	ModeDeep      Mode = "deep"
	ModeContent   Mode = "content"
	ModeEphemeral Mode = "ephemeral"
)

// DefaultBatchSize is the number of pending entries accumulated before a
// batch is cut for Processing.
const DefaultBatchSize = 1000

// DefaultErrorCap bounds the in-memory error list so a catastrophically
// unreadable tree can't grow the checkpoint without limit.
const DefaultErrorCap = 500

// EntryKind mirrors models.EntryKind locally to avoid this package
// depending on persistence-adjacent decisions in models beyond what it
// needs; kept identical in value so conversions are a no-op cast.
type EntryKind string

const (
	KindFile      EntryKind = "file"
	KindDirectory EntryKind = "directory"
	KindSymlink   EntryKind = "symlink"
)

// sortRank gives Processing's "directory < symlink < file" ordering a
// numeric key.
func (k EntryKind) sortRank() int {
	switch k {
	case KindDirectory:
		return 0
	case KindSymlink:
		return 1
	default:
		return 2
	}
}

// DiscoveredEntry is one filesystem node found during Discovery, queued
// for Processing.
type DiscoveredEntry struct {
	Path       string
	ParentPath string
	Name       string
	Kind       EntryKind
	Size       int64
	Inode      uint64
	ModTime    time.Time
	Depth      int
}

// ContentCandidate is a file queued for ContentIdentification.
type ContentCandidate struct {
	EntryID uuid.UUID
	Path    string
	Size    int64
}

// ExistingEntry is what the change detector already knows about a path
// from the database, as of the start of this run.
type ExistingEntry struct {
	ID      uuid.UUID
	Inode   uint64
	Size    int64
	ModTime time.Time
}

// Stats accumulates counters across the whole run. Every field is
// serialized; unlike timing fields elsewhere in State, counts are exactly
// what should survive a pause/resume.
type Stats struct {
	Files    int64
	Dirs     int64
	Bytes    int64
	Symlinks int64
	Skipped  int64
	Errors   int64
	Pruned   int64
}

// State is the entire resumable state of one indexer run. Non-timing
// fields are serialized to the job checkpoint; timing fields (none are
// kept on State itself — rate windows live only in the transient run
// loop) reset on restart per spec.md §4.G "Resumability".
type State struct {
	Phase        Phase `json:"phase"`
	Mode         Mode  `json:"mode"`
	LocationRoot string `json:"location_root"`
	LocationID   uuid.UUID `json:"location_id"`

	DirsToWalk []string `json:"dirs_to_walk"`

	PendingEntries []DiscoveredEntry   `json:"pending_entries"`
	EntryBatches   [][]DiscoveredEntry `json:"entry_batches"`

	EntriesForContent []ContentCandidate `json:"entries_for_content"`

	EntryIDCache   map[string]uuid.UUID     `json:"entry_id_cache"`
	EphemeralUUIDs map[string]uuid.UUID     `json:"ephemeral_uuids"`
	ExistingEntries map[string]ExistingEntry `json:"existing_entries"`

	SeenPaths map[string]struct{} `json:"seen_paths"`

	Stats  Stats    `json:"stats"`
	Errors []string `json:"errors"`

	BatchSize            int `json:"batch_size"`
	DiscoveryConcurrency int `json:"discovery_concurrency"`
}

// NewState creates the initial state for a fresh run rooted at root.
// A batchSize of 0 or less uses DefaultBatchSize; a discoveryConcurrency
// of 0 or less uses half of runtime.NumCPU(), at least 1.
func NewState(locationID uuid.UUID, root string, mode Mode, batchSize, discoveryConcurrency int) *State {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if discoveryConcurrency <= 0 {
		discoveryConcurrency = runtime.NumCPU() / 2
		if discoveryConcurrency < 1 {
			discoveryConcurrency = 1
		}
	}

	return &State{
		Phase:                PhaseDiscovery,
		Mode:                 mode,
		LocationRoot:         root,
		LocationID:           locationID,
		DirsToWalk:           []string{root},
		EntryIDCache:         make(map[string]uuid.UUID),
		EphemeralUUIDs:       make(map[string]uuid.UUID),
		ExistingEntries:      make(map[string]ExistingEntry),
		SeenPaths:            make(map[string]struct{}),
		BatchSize:            batchSize,
		DiscoveryConcurrency: discoveryConcurrency,
	}
}

// pushError appends a bounded error message, incrementing Stats.Errors
// even past the cap so the true count is never lost even though the
// detailed list is.
func (s *State) pushError(msg string) {
	s.Stats.Errors++
	if len(s.Errors) >= DefaultErrorCap {
		return
	}
	s.Errors = append(s.Errors, msg)
}
