// Package sync implements the client-side plan synchronization engine:
// a single-slot artifact cache with a freshness window, threshold-based
// change detection, a failure taxonomy, and acknowledgment delivery with
// offline fallback.
package sync

import (
	"time"

	"github.com/avdotin/fitplan/internal/model"
)

// CacheEntry pairs the cached artifact with the time it was fetched.
// FetchedAt moves only on a successful fetch; failures never touch it.
type CacheEntry struct {
	Artifact  model.PlanArtifact
	FetchedAt time.Time
}

// ArtifactCache holds at most one plan artifact per session. Callers
// serialize access; the cache itself has no locking.
type ArtifactCache struct {
	entry *CacheEntry
	now   func() time.Time
}

// NewArtifactCache returns an empty cache using the wall clock.
func NewArtifactCache() *ArtifactCache {
	return &ArtifactCache{now: time.Now}
}

// WithClock substitutes the time source. Test use.
func (c *ArtifactCache) WithClock(now func() time.Time) *ArtifactCache {
	c.now = now
	return c
}

// Get returns a copy of the current entry, or nil when empty.
func (c *ArtifactCache) Get() *CacheEntry {
	if c.entry == nil {
		return nil
	}
	cp := *c.entry
	return &cp
}

// Put replaces the entry wholesale and stamps FetchedAt.
func (c *ArtifactCache) Put(artifact model.PlanArtifact) {
	c.entry = &CacheEntry{Artifact: artifact, FetchedAt: c.now()}
}

// IsFresh reports whether an entry exists and was fetched within maxAge.
func (c *ArtifactCache) IsFresh(maxAge time.Duration) bool {
	if c.entry == nil {
		return false
	}
	return c.now().Sub(c.entry.FetchedAt) < maxAge
}

// Clear drops the entry. Invoked only on security-sensitive failures.
func (c *ArtifactCache) Clear() {
	c.entry = nil
}
