// SPDX-License-Identifier: AGPL-3.0-or-later

// Package query implements the read-side operations SPEC_FULL.md's MODULE
// ADDITIONS section adds to supplement the distillation: directory listing,
// alternate-instances lookup, and filtered search. None of these mutate
// state; internal/locations and internal/tags own the write paths they read
// back. Grounded on original_source/core/src/ops/files/query/*.rs, expressed
// here as plain Go methods over internal/storage rather than that crate's
// trait objects.
package query

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/spacedriveapp/spacedrive-core/internal/ephemeral"
	"github.com/spacedriveapp/spacedrive-core/internal/models"
)

const (
	defaultLimit = 200
	maxLimit     = 1000
)

// Service answers read queries over one daemon's libraries. It holds a
// direct reference to each library's ephemeral.Cache (registered by
// cmd/coreindexd at startup, the same caches internal/watcher's ephemeral
// handler populates) so directory listings can fall back to in-memory
// discovery for paths that aren't an indexed location yet.
type Service struct {
	store Store

	mu     sync.RWMutex
	caches map[uuid.UUID]*ephemeral.Cache // libraryID -> cache
}

// NewService builds a query Service over store.
func NewService(store Store) *Service {
	return &Service{store: store, caches: make(map[uuid.UUID]*ephemeral.Cache)}
}

// RegisterCache wires a library's ephemeral cache into the fallback path of
// ListDirectory. Safe to call again to replace a cache (e.g. on restart).
func (s *Service) RegisterCache(libraryID uuid.UUID, cache *ephemeral.Cache) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.caches[libraryID] = cache
}

func (s *Service) cacheFor(libraryID uuid.UUID) *ephemeral.Cache {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.caches[libraryID]
}

// Page bounds a paginated result.
type Page struct {
	Offset int
	Limit  int
}

func (p Page) normalized() Page {
	if p.Limit <= 0 {
		p.Limit = defaultLimit
	}
	if p.Limit > maxLimit {
		p.Limit = maxLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// DirectoryListing is the result of ListDirectory: either indexed Entries
// from internal/storage, or, for a path with no managed location,
// ChildEntry rows surfaced from the ephemeral cache. Exactly one of
// Entries/Ephemeral is populated, reported by Source.
type DirectoryListing struct {
	Source    Source
	Entries   []models.Entry
	Ephemeral []ephemeral.ChildEntry
	Total     int  // only meaningful when Source == SourceIndexed
	HasMore   bool
}

// Source distinguishes where a DirectoryListing's rows came from.
type Source string

const (
	SourceIndexed   Source = "indexed"
	SourceEphemeral Source = "ephemeral"
)

// ListDirectory returns dirID's immediate children per spec.md's directory
// listing addition. If dirID resolves to a real, non-tombstoned directory
// Entry, the listing reads Entry + EntryClosure depth=1 from internal/storage.
// Otherwise, if libraryID has a registered ephemeral cache and absolutePath
// is non-empty, the listing falls back to whatever the shallow scan has
// already discovered at that path.
func (s *Service) ListDirectory(ctx context.Context, libraryID, dirID uuid.UUID, absolutePath string, page Page) (DirectoryListing, error) {
	page = page.normalized()

	if dirID != uuid.Nil {
		entry, ok, err := s.store.GetEntry(ctx, dirID)
		if err != nil {
			return DirectoryListing{}, fmt.Errorf("query: get entry %s: %w", dirID, err)
		}
		if ok && entry.Kind == models.EntryKindDirectory && !entry.Tombstoned {
			children, err := s.store.ListChildren(ctx, dirID, page.Offset, page.Limit)
			if err != nil {
				return DirectoryListing{}, fmt.Errorf("query: list children of %s: %w", dirID, err)
			}
			total, err := s.store.CountChildren(ctx, dirID)
			if err != nil {
				return DirectoryListing{}, fmt.Errorf("query: count children of %s: %w", dirID, err)
			}
			return DirectoryListing{
				Source:  SourceIndexed,
				Entries: children,
				Total:   total,
				HasMore: page.Offset+len(children) < total,
			}, nil
		}
	}

	if absolutePath == "" {
		return DirectoryListing{}, fmt.Errorf("query: %s is not an indexed directory and no path was given for an ephemeral fallback", dirID)
	}

	cache := s.cacheFor(libraryID)
	if cache == nil {
		return DirectoryListing{}, fmt.Errorf("query: no ephemeral cache registered for library %s", libraryID)
	}

	root := cache.OpenRoot(absolutePath)
	children, ok := cache.Children(root, absolutePath)
	if !ok {
		return DirectoryListing{Source: SourceEphemeral}, nil
	}

	sort.Slice(children, func(i, j int) bool {
		if children[i].Kind != children[j].Kind {
			return children[i].Kind == models.EntryKindDirectory
		}
		return children[i].Name < children[j].Name
	})

	end := page.Offset + page.Limit
	if page.Offset > len(children) {
		page.Offset = len(children)
	}
	if end > len(children) {
		end = len(children)
	}

	return DirectoryListing{
		Source:    SourceEphemeral,
		Ephemeral: children[page.Offset:end],
		HasMore:   end < len(children),
	}, nil
}

// Alternates returns every Entry referencing contentID, the query spec.md
// §1(d) calls "alternates": other locations or devices holding bytes
// identical to the one the caller is looking at.
func (s *Service) Alternates(ctx context.Context, contentID uuid.UUID) ([]models.Entry, error) {
	entries, err := s.store.ListAlternates(ctx, contentID)
	if err != nil {
		return nil, fmt.Errorf("query: list alternates of %s: %w", contentID, err)
	}
	return entries, nil
}

// Search filters Entries within a library by name/extension/tag/content
// kind, per SPEC_FULL.md's search query addition.
func (s *Service) Search(ctx context.Context, libraryID uuid.UUID, filter SearchFilter) ([]models.Entry, error) {
	if filter.Limit <= 0 || filter.Limit > maxLimit {
		filter.Limit = defaultLimit
	}
	entries, err := s.store.Search(ctx, libraryID, filter)
	if err != nil {
		return nil, fmt.Errorf("query: search library %s: %w", libraryID, err)
	}
	return entries, nil
}
