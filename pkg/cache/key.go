package cache

import (
	"fmt"
	"strings"
)

// KeyPrefix is the Redis key prefix shared by all cached gallery windows.
const KeyPrefix = "gallery:page"

// CacheKey identifies one cached offset/limit window of raw gallery records.
type CacheKey struct {
	// Source names the backing fetcher (e.g. "sqlite", "remote") so several
	// galleries can share one Redis database. Empty for a single gallery.
	Source string

	// Limit is the fetch limit of the window
	Limit int

	// Offset is the fetch offset of the window
	Offset int
}

// String generates a deterministic cache key string.
// Format: gallery:page[:source]:limit=20:offset=40
//
// Example:
//
//	gallery:page:sqlite:limit=20:offset=40
func (k CacheKey) String() string {
	parts := []string{KeyPrefix}

	if source := strings.Trim(k.Source, ": "); source != "" {
		parts = append(parts, source)
	}

	parts = append(parts,
		fmt.Sprintf("limit=%d", k.Limit),
		fmt.Sprintf("offset=%d", k.Offset),
	)

	return strings.Join(parts, ":")
}

// sourcePattern returns the SCAN pattern matching every window of source.
func sourcePattern(source string) string {
	if source = strings.Trim(source, ": "); source != "" {
		return KeyPrefix + ":" + source + ":limit=*"
	}
	return KeyPrefix + ":*"
}
