// SPDX-License-Identifier: AGPL-3.0-or-later
package models_test

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/spacedriveapp/spacedrive-core/internal/models"
)

func TestEntryJSONRoundTrip(t *testing.T) {
	entry := models.Entry{
		ID:         uuid.New(),
		ParentID:   uuid.NullUUID{UUID: uuid.New(), Valid: true},
		LocationID: uuid.NullUUID{UUID: uuid.New(), Valid: true},
		Kind:       models.EntryKindFile,
		Name:       "report.pdf",
		Extension:  "pdf",
		Size:       4096,
		Inode:      12345,
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
		ModifiedAt: time.Now().UTC().Truncate(time.Second),
	}

	data, err := json.Marshal(entry)
	require.NoError(t, err)

	var decoded models.Entry
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, entry.ID, decoded.ID)
	require.Equal(t, entry.Name, decoded.Name)
	require.Equal(t, entry.Kind, decoded.Kind)
	require.True(t, decoded.ParentID.Valid)
}

func TestJobReportTerminal(t *testing.T) {
	cases := map[models.JobStatus]bool{
		models.JobStatusQueued:              false,
		models.JobStatusRunning:              false,
		models.JobStatusPaused:               false,
		models.JobStatusCompleted:            true,
		models.JobStatusCompletedWithErrors:  true,
		models.JobStatusCanceled:             true,
		models.JobStatusFailed:               true,
	}
	for status, want := range cases {
		require.Equalf(t, want, status.Terminal(), "status=%s", status)
	}
}

func TestLeaderRecordJSONRoundTrip(t *testing.T) {
	rec := models.LeaderRecord{
		LibraryID:       uuid.New(),
		LeaderDeviceID:  uuid.New(),
		LeaseExpiresAt:  time.Now().UTC().Add(90 * time.Second).Truncate(time.Second),
		LastHeartbeatAt: time.Now().UTC().Truncate(time.Second),
		UpdatedAt:       time.Now().UTC().Truncate(time.Second),
	}

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var decoded models.LeaderRecord
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, rec.LibraryID, decoded.LibraryID)
	require.Equal(t, rec.LeaderDeviceID, decoded.LeaderDeviceID)
}

func TestErrorSentinelsDistinct(t *testing.T) {
	sentinels := []error{
		models.ErrTransient, models.ErrDataShape, models.ErrStructural,
		models.ErrFatal, models.ErrConflict,
	}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i == j {
				continue
			}
			require.NotErrorIs(t, a, b)
		}
	}
}
