// Package cache provides a Redis-backed cache for jobs API pages.
//
// A cached page is the raw response body of one limit/offset request. Entries live
// until the Expires header of the response (or a configured fallback TTL) and are
// dropped by Redis afterwards.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	manager := cache.NewManager(redisClient)
//
//	key := cache.CacheKey{
//		Endpoint:    "api.mycareersfuture.gov.sg/v2/jobs/",
//		QueryParams: url.Values{"limit": {"100"}, "offset": {"0"}},
//	}
//
//	page, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from the API, then:
//		page, _ = cache.PageFromResponse(resp, cache.DefaultTTL)
//		_ = manager.Set(ctx, key, page)
//	}
//
// # Metrics
//
//   - mcf_cache_hits_total - Cache hits
//   - mcf_cache_misses_total - Cache misses
//   - mcf_cache_stored_bytes_total - Bytes written to Redis
//   - mcf_cache_errors_total{operation} - Cache operation errors
//
// The cache never replaces pagination: every page of a run is still visited, a hit
// only saves the network round trip and the throttle wait for that page.
package cache
