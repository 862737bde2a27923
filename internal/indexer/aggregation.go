// SPDX-License-Identifier: AGPL-3.0-or-later
package indexer

import (
	"context"
	"fmt"
)

// runAggregation re-derives per-directory byte totals bottom-up from the
// closure table, from the location root down through every touched
// subtree (spec.md §4.G "Aggregation"). The actual bottom-up closure walk
// is Store's concern (it owns the schema); this phase just invokes it and
// advances.
func runAggregation(ctx context.Context, state *State, store Store) error {
	if err := store.RecalculateAncestors(ctx, state.LocationID, state.LocationID); err != nil {
		return fmt.Errorf("indexer: aggregation: %w", err)
	}

	if state.Mode == ModeContent {
		state.Phase = PhaseContentIdentification
	} else {
		state.Phase = PhaseComplete
	}
	return nil
}
