package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const testLayerURL = "https://services.arcgis.com/org/arcgis/rest/services/Parcels/FeatureServer/0"

// setupTestRedis starts an in-memory miniredis and returns a client for it.
func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
	})

	return mr, client
}

func TestNewManager(t *testing.T) {
	_, client := setupTestRedis(t)

	tests := []struct {
		name       string
		redis      *redis.Client
		memorySize int
		wantErr    error
		wantMemory bool
	}{
		{"redis only", client, 0, nil, false},
		{"memory only", nil, 16, nil, true},
		{"both layers", client, 16, nil, true},
		{"no layers", nil, 0, ErrNoLayers, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewManager(tt.redis, tt.memorySize)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("NewManager() error = %v, want %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if (m.memory != nil) != tt.wantMemory {
				t.Errorf("memory layer present = %v, want %v", m.memory != nil, tt.wantMemory)
			}
			if m.redis != tt.redis {
				t.Error("Manager redis client not set correctly")
			}
		})
	}
}

func TestManager_SetAndGet(t *testing.T) {
	_, client := setupTestRedis(t)
	manager, err := NewManager(client, 0)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	ctx := context.Background()

	key := CacheKey{ServiceURL: testLayerURL}
	entry := NewEntry([]byte(`{"type":"Feature Layer","maxRecordCount":1000}`), 5*time.Minute)

	if err := manager.Set(ctx, key, entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	retrieved, err := manager.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(retrieved.Data) != string(entry.Data) {
		t.Errorf("Data mismatch: got %s, want %s", retrieved.Data, entry.Data)
	}
}

func TestManager_RedisTTL(t *testing.T) {
	mr, client := setupTestRedis(t)
	manager, _ := NewManager(client, 0)
	ctx := context.Background()

	key := CacheKey{ServiceURL: testLayerURL}
	if err := manager.Set(ctx, key, NewEntry([]byte(`{}`), time.Minute)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	ttl := mr.TTL(key.String())
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("redis TTL = %v, want (0, 1m]", ttl)
	}

	mr.FastForward(2 * time.Minute)

	if _, err := manager.Get(ctx, key); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss after expiry, got %v", err)
	}
}

func TestManager_MemoryOnly(t *testing.T) {
	manager, err := NewManager(nil, 2)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	ctx := context.Background()

	keys := []CacheKey{
		{ServiceURL: testLayerURL + "?a"},
		{ServiceURL: "https://example.com/arcgis/rest/services/B/FeatureServer"},
		{ServiceURL: "https://example.com/arcgis/rest/services/C/FeatureServer"},
	}
	for _, k := range keys {
		if err := manager.Set(ctx, k, NewEntry([]byte(`{}`), time.Minute)); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	if manager.Len() != 2 {
		t.Errorf("Len() = %d, want 2 (bounded LRU)", manager.Len())
	}
	if _, err := manager.Get(ctx, keys[0]); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("oldest entry should have been evicted, got %v", err)
	}
	if _, err := manager.Get(ctx, keys[2]); err != nil {
		t.Errorf("newest entry missing: %v", err)
	}
}

func TestManager_PromotesRedisHitsToMemory(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()

	writer, _ := NewManager(client, 0)
	reader, _ := NewManager(client, 8)

	key := CacheKey{ServiceURL: testLayerURL, Token: "tok"}
	if err := writer.Set(ctx, key, NewEntry([]byte(`{"name":"Parcels"}`), time.Minute)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if reader.Len() != 0 {
		t.Fatalf("reader memory should start empty")
	}
	if _, err := reader.Get(ctx, key); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if reader.Len() != 1 {
		t.Errorf("redis hit was not promoted to memory, Len() = %d", reader.Len())
	}
}

func TestManager_Get_CacheMiss(t *testing.T) {
	_, client := setupTestRedis(t)
	manager, _ := NewManager(client, 4)

	_, err := manager.Get(context.Background(), CacheKey{ServiceURL: "https://example.com/none/FeatureServer"})
	if !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss, got %v", err)
	}
}

func TestManager_Get_InvalidEntry(t *testing.T) {
	mr, client := setupTestRedis(t)
	manager, _ := NewManager(client, 0)

	key := CacheKey{ServiceURL: testLayerURL}
	if err := mr.Set(key.String(), "not json"); err != nil {
		t.Fatalf("miniredis set: %v", err)
	}

	_, err := manager.Get(context.Background(), key)
	if !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("Expected ErrInvalidEntry, got %v", err)
	}
}

func TestManager_Set_ExpiredEntry(t *testing.T) {
	_, client := setupTestRedis(t)
	manager, _ := NewManager(client, 4)
	ctx := context.Background()

	key := CacheKey{ServiceURL: testLayerURL}
	if err := manager.Set(ctx, key, NewEntry([]byte(`{}`), -time.Hour)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if _, err := manager.Get(ctx, key); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss for expired entry, got %v", err)
	}
}

func TestManager_Delete(t *testing.T) {
	_, client := setupTestRedis(t)
	manager, _ := NewManager(client, 4)
	ctx := context.Background()

	key := CacheKey{ServiceURL: testLayerURL}
	if err := manager.Set(ctx, key, NewEntry([]byte(`{}`), 5*time.Minute)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, err := manager.Get(ctx, key); err != nil {
		t.Fatalf("Get after Set failed: %v", err)
	}

	if err := manager.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if _, err := manager.Get(ctx, key); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss after Delete, got %v", err)
	}
}

func TestManager_Purge(t *testing.T) {
	manager, _ := NewManager(nil, 4)
	ctx := context.Background()

	key := CacheKey{ServiceURL: testLayerURL}
	_ = manager.Set(ctx, key, NewEntry([]byte(`{}`), time.Minute))
	manager.Purge()

	if manager.Len() != 0 {
		t.Errorf("Len() after Purge = %d, want 0", manager.Len())
	}
}

func TestManager_Set_NilEntry(t *testing.T) {
	manager, _ := NewManager(nil, 4)

	if err := manager.Set(context.Background(), CacheKey{ServiceURL: testLayerURL}, nil); err == nil {
		t.Error("Set with nil entry should return error")
	}
}

func TestManager_RedisDown(t *testing.T) {
	mr, client := setupTestRedis(t)
	manager, _ := NewManager(client, 0)
	mr.Close()

	_, err := manager.Get(context.Background(), CacheKey{ServiceURL: testLayerURL})
	if err == nil || errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected redis error, got %v", err)
	}
}
