// SPDX-License-Identifier: AGPL-3.0-or-later
package sidecar

import (
	"context"

	"github.com/google/uuid"

	"github.com/spacedriveapp/spacedrive-core/internal/models"
)

// Store is the persistence boundary internal/sidecar needs from
// internal/storage: the Sidecar row lifecycle (pending/ready/failed)
// named in spec.md's Sidecar type, independent of how (or whether) the
// bytes are actually generated.
type Store interface {
	CreateSidecar(ctx context.Context, s models.Sidecar) error
	UpdateSidecarStatus(ctx context.Context, id uuid.UUID, status models.SidecarStatus, format string, size int64) error

	// FindSidecar looks up an existing Sidecar for a (target, kind,
	// variant) triple, so RequestSidecar is idempotent: requesting the
	// same thumbnail twice returns the same row instead of regenerating.
	FindSidecar(ctx context.Context, contentUUID, entryUUID uuid.NullUUID, kind models.SidecarKind, variant string) (models.Sidecar, bool, error)
}
