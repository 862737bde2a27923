// SPDX-License-Identifier: AGPL-3.0-or-later
package storage

// schema is applied idempotently on every New(), mirroring the teacher's
// database.New applying its own CREATE TABLE IF NOT EXISTS statements at
// startup rather than through a separate migration tool. Foreign keys are
// declared for documentation and query-planner benefit; DuckDB does not
// enforce them at write time, so invariants 1-3 of spec.md §3 are enforced
// in Go (see indexer_store.go) rather than relied on from the schema alone.
const schema = `
CREATE TABLE IF NOT EXISTS devices (
	id   UUID PRIMARY KEY,
	slug TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS libraries (
	id          UUID PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS locations (
	id          UUID PRIMARY KEY,
	library_id  UUID NOT NULL REFERENCES libraries(id),
	device_id   UUID NOT NULL REFERENCES devices(id),
	entry_id    UUID,
	name        TEXT NOT NULL,
	index_mode  TEXT NOT NULL DEFAULT 'none',
	scan_state  INTEGER NOT NULL DEFAULT 0,
	root_path   TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS entries (
	id            UUID PRIMARY KEY,
	parent_id     UUID,
	location_id   UUID,
	kind          TEXT NOT NULL,
	name          TEXT NOT NULL,
	extension     TEXT NOT NULL DEFAULT '',
	size          BIGINT NOT NULL DEFAULT 0,
	inode         UBIGINT NOT NULL DEFAULT 0,
	created_at    TIMESTAMP NOT NULL,
	modified_at   TIMESTAMP NOT NULL,
	accessed_at   TIMESTAMP NOT NULL,
	content_id    UUID,
	tombstoned    BOOLEAN NOT NULL DEFAULT FALSE,
	tombstoned_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS entry_closure (
	ancestor_id   UUID NOT NULL,
	descendant_id UUID NOT NULL,
	depth         INTEGER NOT NULL,
	PRIMARY KEY (ancestor_id, descendant_id)
);

CREATE TABLE IF NOT EXISTS directory_paths (
	entry_id      UUID PRIMARY KEY,
	absolute_path TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS content_identities (
	uuid             UUID PRIMARY KEY,
	kind             TEXT NOT NULL,
	content_hash     TEXT NOT NULL UNIQUE,
	integrity_hash   TEXT NOT NULL DEFAULT '',
	mime_type_id     TEXT NOT NULL DEFAULT '',
	total_size       BIGINT NOT NULL DEFAULT 0,
	entry_count      BIGINT NOT NULL DEFAULT 0,
	first_seen_at    TIMESTAMP NOT NULL,
	last_verified_at TIMESTAMP NOT NULL,
	tombstoned       BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS sidecars (
	id           UUID PRIMARY KEY,
	content_uuid UUID,
	entry_uuid   UUID,
	kind         TEXT NOT NULL,
	variant      TEXT NOT NULL DEFAULT '',
	format       TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL,
	size         BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS tags (
	id    UUID PRIMARY KEY,
	name  TEXT NOT NULL,
	color TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS user_metadata (
	id           UUID PRIMARY KEY,
	entry_id     UUID,
	content_uuid UUID
);

CREATE TABLE IF NOT EXISTS user_metadata_tags (
	user_metadata_id UUID NOT NULL,
	tag_id           UUID NOT NULL,
	PRIMARY KEY (user_metadata_id, tag_id)
);

-- For a "shared" op: record_id is the encoded primary key, field is the
-- column name, value is the encoded new value. For a "relation" op:
-- record_id is the A-side id, field is "create" or "delete", value is the
-- B-side id, and payload carries optional create-time attributes (e.g. a
-- tag's color). payload is unused for shared ops.
CREATE TABLE IF NOT EXISTS sync_ops (
	id         TEXT PRIMARY KEY, -- HLC string form, lexicographically ordered
	device_id  UUID NOT NULL,
	library_id UUID NOT NULL,
	kind       TEXT NOT NULL,
	model      TEXT NOT NULL,
	record_id  BLOB NOT NULL,
	field      TEXT NOT NULL,
	value      BLOB NOT NULL,
	payload    BLOB,
	seq        BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS leader_records (
	library_id        UUID PRIMARY KEY,
	leader_device_id  UUID NOT NULL,
	lease_expires_at  TIMESTAMP NOT NULL,
	last_heartbeat_at TIMESTAMP NOT NULL,
	updated_at        TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS job_reports (
	id                   UUID PRIMARY KEY,
	name                 TEXT NOT NULL,
	action               TEXT NOT NULL DEFAULT '',
	status               TEXT NOT NULL,
	task_count           BIGINT NOT NULL DEFAULT 0,
	completed_task_count BIGINT NOT NULL DEFAULT 0,
	started_at           TIMESTAMP NOT NULL,
	completed_at         TIMESTAMP,
	critical_error       TEXT NOT NULL DEFAULT '',
	updated_at           TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS location_service_settings (
	location_id TEXT PRIMARY KEY,
	settings    TEXT NOT NULL, -- JSON document, spec.md §6 "Configuration surface"
	updated_at  TIMESTAMP NOT NULL
);
`
