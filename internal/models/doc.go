// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package models defines the entity model shared by every subsystem of the
indexing and sync core: devices, libraries, locations, entries and their
closure/path denormalizations, content identities, sidecars, tags, job
reports, error-kind sentinels and leader records.

These are plain structs and sentinel values; persistence lives in
internal/storage, wire encoding lives in internal/synclog, and this package
intentionally carries no database or transport dependency so it can be
imported everywhere without an import cycle.
*/
package models
