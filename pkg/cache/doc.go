// Package cache provides a Redis cache for raw gallery pages.
//
// Only the fetched records of an offset/limit window are cached. Decoded
// bitmaps are rebuilt on every page load.
//
// # Basic Usage
//
//	// Create Redis client
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	// Wrap the gallery store
//	manager := cache.NewManager(redisClient)
//	fetcher := cache.NewCachedFetcher(store, manager, "sqlite", 30*time.Second)
//
//	// Use it as the loader's fetcher
//	loader := pagination.NewLoader(fetcher, decoder, pagination.DefaultConfig())
//
// # Invalidation
//
// A gallery refresh restarts from the first page, so every cached window of
// the source is dropped:
//
//	removed, err := manager.Invalidate(ctx, "sqlite")
//
// # Failure Handling
//
// A Redis outage degrades to uncached fetching: get and set errors are
// logged and counted, the underlying fetcher still serves the page. Fetch
// errors of the underlying fetcher are returned unchanged.
//
// # Metrics
//
//   - gallery_cache_hits_total - Cache hits
//   - gallery_cache_misses_total - Cache misses
//   - gallery_cache_errors_total{operation} - Cache operation errors
package cache
