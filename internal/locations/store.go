// SPDX-License-Identifier: AGPL-3.0-or-later
package locations

import (
	"context"

	"github.com/google/uuid"

	"github.com/spacedriveapp/spacedrive-core/internal/models"
)

// Store is the persistence boundary internal/locations needs from
// internal/storage.
type Store interface {
	CreateLocation(ctx context.Context, loc models.Location) error
	GetLocation(ctx context.Context, id uuid.UUID) (models.Location, bool, error)
	UpdateIndexMode(ctx context.Context, id uuid.UUID, mode models.IndexMode) error
	UpdateScanState(ctx context.Context, id uuid.UUID, state models.ScanState) error

	// TombstoneLocationSubtree marks every non-tombstoned Entry rooted at
	// locationID as tombstoned, part of Remove's "tombstone subtree" step.
	TombstoneLocationSubtree(ctx context.Context, locationID uuid.UUID) error

	// DeleteLocation hard-deletes the location row itself, once its
	// subtree has already been tombstoned.
	DeleteLocation(ctx context.Context, id uuid.UUID) error
}

// Dispatcher is the slice of internal/jobs.System that internal/locations
// needs to kick off an indexing run, kept as a narrow interface so this
// package doesn't import the concrete job-system type.
type Dispatcher interface {
	Dispatch(ctx context.Context, ownerID uuid.UUID, name string, input []byte) (JobID, error)
}

// JobID mirrors internal/jobs.JobID's underlying representation (a UUID)
// without importing internal/jobs, since all this package does with the
// return value is pass it back to the caller for tracking.
type JobID = uuid.UUID

// ServiceStopper is the coordinator-side boundary Remove uses to stop any
// running watcher/stale-detector/sync services before deleting a location.
// internal/coordinator.Coordinator satisfies this directly.
type ServiceStopper interface {
	Remove(ctx context.Context, locationID uuid.UUID) error
}
