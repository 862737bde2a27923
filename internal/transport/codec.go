// SPDX-License-Identifier: AGPL-3.0-or-later
package transport

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/spacedriveapp/spacedrive-core/internal/models"
	"github.com/spacedriveapp/spacedrive-core/internal/synclog"
)

// Subject names for the NATS JetStream stream this package provisions.
// One stream ("SYNC") carries every library; subjects scope messages to a
// library and kind, the same "one stream, wildcard subjects" shape the
// teacher uses for its own event stream (eventprocessor.DefaultStreamConfig).
func opsSubject(libraryID string) string       { return "sync.ops." + libraryID }
func heartbeatSubject(libraryID string) string { return "sync.heartbeat." + libraryID }
func backfillSubject(libraryID string) string  { return "sync.backfill." + libraryID }

func encodeOps(ops []synclog.Op) ([]byte, error) {
	data, err := json.Marshal(ops)
	if err != nil {
		return nil, fmt.Errorf("transport: encode ops: %w", err)
	}
	return data, nil
}

func decodeOps(data []byte) ([]synclog.Op, error) {
	var ops []synclog.Op
	if err := json.Unmarshal(data, &ops); err != nil {
		return nil, fmt.Errorf("transport: decode ops: %w", err)
	}
	return ops, nil
}

func encodeHeartbeat(record models.LeaderRecord) ([]byte, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("transport: encode heartbeat: %w", err)
	}
	return data, nil
}

func decodeHeartbeat(data []byte) (models.LeaderRecord, error) {
	var record models.LeaderRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return models.LeaderRecord{}, fmt.Errorf("transport: decode heartbeat: %w", err)
	}
	return record, nil
}

func encodeBackfillRequest(req synclog.BackfillRequest) ([]byte, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("transport: encode backfill request: %w", err)
	}
	return data, nil
}

func decodeBackfillRequest(data []byte) (synclog.BackfillRequest, error) {
	var req synclog.BackfillRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return synclog.BackfillRequest{}, fmt.Errorf("transport: decode backfill request: %w", err)
	}
	return req, nil
}

func encodeBackfillResponse(resp synclog.BackfillResponse) ([]byte, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("transport: encode backfill response: %w", err)
	}
	return data, nil
}

func decodeBackfillResponse(data []byte) (synclog.BackfillResponse, error) {
	var resp synclog.BackfillResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return synclog.BackfillResponse{}, fmt.Errorf("transport: decode backfill response: %w", err)
	}
	return resp, nil
}
