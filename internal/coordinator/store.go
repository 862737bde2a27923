// SPDX-License-Identifier: AGPL-3.0-or-later
package coordinator

import (
	"context"

	"github.com/google/uuid"
)

// Store is the persistence boundary for per-location settings, implemented
// by internal/storage over the location_service_settings table.
type Store interface {
	PutSettings(ctx context.Context, locationID uuid.UUID, settings Settings) error
	GetSettings(ctx context.Context, locationID uuid.UUID) (Settings, bool, error)
	DeleteSettings(ctx context.Context, locationID uuid.UUID) error
}
