package cache

import (
	"time"

	"github.com/Sternrassler/gallery-pager/pkg/pagination"
)

// CacheEntry is a cached window of raw gallery records.
// Decoded bitmaps are never cached.
type CacheEntry struct {
	// Records is the fetched batch, in fetch order
	Records []pagination.RawRecord `json:"records"`

	// Expires is when the cache entry becomes stale
	Expires time.Time `json:"expires"`

	// CachedAt is when the batch was cached
	CachedAt time.Time `json:"cached_at"`
}

// NewCacheEntry creates an entry for records that expires after ttl.
func NewCacheEntry(records []pagination.RawRecord, ttl time.Duration) *CacheEntry {
	now := time.Now()
	if records == nil {
		records = []pagination.RawRecord{}
	}
	return &CacheEntry{
		Records:  records,
		Expires:  now.Add(ttl),
		CachedAt: now,
	}
}

// IsExpired returns true if the cache entry has expired.
func (e *CacheEntry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *CacheEntry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}
