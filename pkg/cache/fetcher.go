package cache

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/gallery-pager/pkg/logging"
	"github.com/Sternrassler/gallery-pager/pkg/pagination"
)

// DefaultTTL is how long a raw gallery window stays cached.
const DefaultTTL = 30 * time.Second

// PageCache stores raw gallery windows.
type PageCache interface {
	Get(ctx context.Context, key CacheKey) (*CacheEntry, error)
	Set(ctx context.Context, key CacheKey, entry *CacheEntry) error
}

var (
	_ PageCache          = (*Manager)(nil)
	_ pagination.Fetcher = (*CachedFetcher)(nil)
)

// CachedFetcher serves gallery windows from a PageCache and falls back to the
// wrapped Fetcher on a miss. Cache failures are logged and never fail a fetch.
type CachedFetcher struct {
	inner  pagination.Fetcher
	cache  PageCache
	source string
	ttl    time.Duration
	logger zerolog.Logger
}

// NewCachedFetcher wraps inner with cache. ttl <= 0 selects DefaultTTL.
func NewCachedFetcher(inner pagination.Fetcher, cache PageCache, source string, ttl time.Duration) *CachedFetcher {
	if inner == nil {
		panic("inner fetcher cannot be nil")
	}
	if cache == nil {
		panic("page cache cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &CachedFetcher{
		inner:  inner,
		cache:  cache,
		source: source,
		ttl:    ttl,
		logger: logging.NewLogger("gallery-cache"),
	}
}

// FetchPage implements pagination.Fetcher.
func (f *CachedFetcher) FetchPage(ctx context.Context, limit, offset int) ([]pagination.RawRecord, error) {
	key := CacheKey{Source: f.source, Limit: limit, Offset: offset}

	entry, err := f.cache.Get(ctx, key)
	switch {
	case err == nil:
		f.logger.Debug().
			Str("key", key.String()).
			Int("records", len(entry.Records)).
			Dur("ttl", entry.TTL()).
			Msg("Cache hit")
		return entry.Records, nil
	case errors.Is(err, ErrCacheMiss):
		f.logger.Debug().Str("key", key.String()).Msg("Cache miss")
	default:
		f.logger.Warn().Err(err).Str("key", key.String()).Msg("Cache get error")
	}

	// Fetch errors pass through unchanged; the loader wraps them.
	records, err := f.inner.FetchPage(ctx, limit, offset)
	if err != nil {
		return nil, err
	}

	if err := f.cache.Set(ctx, key, NewCacheEntry(records, f.ttl)); err != nil {
		f.logger.Warn().Err(err).Str("key", key.String()).Msg("Failed to cache gallery page")
	}

	return records, nil
}
