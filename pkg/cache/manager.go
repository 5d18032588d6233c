package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/arcgis-client/pkg/logging"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")

	// ErrNoLayers is returned when neither a memory nor a Redis layer is configured
	ErrNoLayers = errors.New("cache needs a memory size or a redis client")
)

// Manager is a two-layer metadata cache: a bounded in-process LRU in front
// of an optional shared Redis instance. Either layer may be absent.
type Manager struct {
	memory *lru.Cache[string, *CacheEntry]
	redis  *redis.Client
	logger zerolog.Logger
}

// NewManager creates a cache manager. memorySize <= 0 disables the memory
// layer, a nil redisClient disables the Redis layer.
func NewManager(redisClient *redis.Client, memorySize int) (*Manager, error) {
	if redisClient == nil && memorySize <= 0 {
		return nil, ErrNoLayers
	}

	m := &Manager{
		redis:  redisClient,
		logger: logging.NewLogger("metadata-cache"),
	}

	if memorySize > 0 {
		memory, err := lru.New[string, *CacheEntry](memorySize)
		if err != nil {
			return nil, fmt.Errorf("create memory cache: %w", err)
		}
		m.memory = memory
	}

	return m, nil
}

// Get retrieves a cache entry by key, checking memory before Redis.
// Returns ErrCacheMiss if the key doesn't exist or the entry is expired.
func (m *Manager) Get(ctx context.Context, key CacheKey) (*CacheEntry, error) {
	cacheKey := key.String()

	if m.memory != nil {
		if entry, ok := m.memory.Get(cacheKey); ok {
			if !entry.IsExpired() {
				CacheHits.WithLabelValues("memory").Inc()
				return entry, nil
			}
			m.memory.Remove(cacheKey)
		}
	}

	if m.redis == nil {
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	data, err := m.redis.Get(ctx, cacheKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			CacheMisses.Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	if entry.IsExpired() {
		_ = m.Delete(ctx, key)
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.WithLabelValues("redis").Inc()

	// Promote so the next lookup stays in-process.
	if m.memory != nil {
		m.memory.Add(cacheKey, &entry)
	}

	return &entry, nil
}

// Set stores a cache entry in every configured layer. Redis entries carry a
// TTL derived from the entry's Expires field.
func (m *Manager) Set(ctx context.Context, key CacheKey, entry *CacheEntry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	ttl := entry.TTL()
	if ttl <= 0 {
		return nil
	}

	cacheKey := key.String()

	if m.memory != nil {
		m.memory.Add(cacheKey, entry)
	}

	if m.redis == nil {
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := m.redis.Set(ctx, cacheKey, data, ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	m.logger.Debug().Str("key", cacheKey).Dur("ttl", ttl).Msg("Metadata cached")
	return nil
}

// Delete removes a cache entry from every layer.
func (m *Manager) Delete(ctx context.Context, key CacheKey) error {
	cacheKey := key.String()

	if m.memory != nil {
		m.memory.Remove(cacheKey)
	}

	if m.redis == nil {
		return nil
	}

	if err := m.redis.Del(ctx, cacheKey).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}

	return nil
}

// Purge drops the memory layer. Redis entries are left to expire.
func (m *Manager) Purge() {
	if m.memory != nil {
		m.memory.Purge()
	}
}

// Len returns the number of entries held in memory.
func (m *Manager) Len() int {
	if m.memory == nil {
		return 0
	}
	return m.memory.Len()
}
