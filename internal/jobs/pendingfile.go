// SPDX-License-Identifier: AGPL-3.0-or-later
package jobs

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// pendingJobsFile is the external format at {data_dir}/pending_jobs.bin (§6):
// a length-prefixed binary map of library_id -> [StoredJobEntry]. It exists
// alongside checkpointStore (badger) as the one-shot snapshot written at
// Shutdown and read back at cold-resume; checkpointStore is the always-on
// durability layer that protects against a crash between two shutdowns.
const pendingJobsFile = "pending_jobs.bin"

// writePendingJobs serializes by-owner groups of StoredJobEntry to
// {dataDir}/pending_jobs.bin: a little-endian uint32 owner count, then for
// each owner its 16-byte library_id, a little-endian uint32 byte length,
// and that many bytes of JSON-encoded []StoredJobEntry.
func writePendingJobs(dataDir string, byOwner map[uuid.UUID][]StoredJobEntry) error {
	if len(byOwner) == 0 {
		return nil
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(byOwner))); err != nil {
		return fmt.Errorf("jobs: write pending count: %w", err)
	}
	for owner, entries := range byOwner {
		data, err := json.Marshal(entries)
		if err != nil {
			return fmt.Errorf("jobs: marshal pending entries for %s: %w", owner, err)
		}
		if _, err := buf.Write(owner[:]); err != nil {
			return fmt.Errorf("jobs: write owner id: %w", err)
		}
		if err := binary.Write(&buf, binary.LittleEndian, uint32(len(data))); err != nil {
			return fmt.Errorf("jobs: write entry length: %w", err)
		}
		if _, err := buf.Write(data); err != nil {
			return fmt.Errorf("jobs: write entries: %w", err)
		}
	}

	path := filepath.Join(dataDir, pendingJobsFile)
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("jobs: write %s: %w", path, err)
	}
	return nil
}

// readPendingJobs reads back a file written by writePendingJobs. Absence of
// the file is not an error: it means no pending work (§6).
func readPendingJobs(dataDir string) (map[uuid.UUID][]StoredJobEntry, error) {
	path := filepath.Join(dataDir, pendingJobsFile)
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("jobs: read %s: %w", path, err)
	}

	r := bytes.NewReader(raw)
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("jobs: read pending count: %w", err)
	}

	out := make(map[uuid.UUID][]StoredJobEntry, count)
	for i := uint32(0); i < count; i++ {
		var owner uuid.UUID
		if _, err := r.Read(owner[:]); err != nil {
			return nil, fmt.Errorf("jobs: read owner id: %w", err)
		}
		var length uint32
		if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
			return nil, fmt.Errorf("jobs: read entry length: %w", err)
		}
		data := make([]byte, length)
		if _, err := r.Read(data); err != nil {
			return nil, fmt.Errorf("jobs: read entries: %w", err)
		}
		var entries []StoredJobEntry
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("jobs: unmarshal entries for %s: %w", owner, err)
		}
		out[owner] = entries
	}
	return out, nil
}

// removePendingJobs deletes the snapshot after a successful cold-resume
// (§6: "Cleared after successful cold-resume.").
func removePendingJobs(dataDir string) error {
	err := os.Remove(filepath.Join(dataDir, pendingJobsFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("jobs: remove pending file: %w", err)
	}
	return nil
}
