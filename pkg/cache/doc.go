// Package cache provides the service metadata cache.
//
// Service and layer descriptions change rarely but are fetched on every
// Open. The Manager keeps them in two layers:
//
//   - an in-process LRU (golang-lru) bounded by entry count
//   - an optional shared Redis instance, so several processes reuse the
//     same metadata
//
// Query results are never cached.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//
//	manager, err := cache.NewManager(redisClient, 256)
//	if err != nil {
//		return err
//	}
//
//	key := cache.CacheKey{
//		ServiceURL: "https://services.arcgis.com/org/arcgis/rest/services/Parcels/FeatureServer/0",
//		Token:      token,
//	}
//
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch and manager.Set(ctx, key, cache.NewEntry(data, 5*time.Minute))
//	}
//
// # Keys
//
// Keys are built from the normalized URL plus an xxhash digest of the
// token. Raw tokens never reach Redis, and documents fetched with
// different credentials never mix.
//
// # Metrics
//
//   - arcgis_metadata_cache_hits_total{layer="memory|redis"}
//   - arcgis_metadata_cache_misses_total
//   - arcgis_metadata_cache_errors_total{operation}
package cache
