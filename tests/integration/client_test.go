package integration

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Sternrassler/arcgis-client/internal/testutil"
	"github.com/Sternrassler/arcgis-client/pkg/arcgis"
	"github.com/Sternrassler/arcgis-client/pkg/client"
	"github.com/Sternrassler/arcgis-client/pkg/metrics"
	"github.com/Sternrassler/arcgis-client/pkg/query"
	"github.com/Sternrassler/arcgis-client/pkg/service"
)

const servicePath = "/arcgis/rest/services/Hydrography/FeatureServer"

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

// newSession creates a session sharing redisClient with fast retries.
func newSession(t *testing.T, redisClient *redis.Client, ttl time.Duration) *arcgis.Session {
	t.Helper()

	cfg := arcgis.DefaultConfig("IntegrationTest/1.0.0")
	cfg.Client.Redis = redisClient
	cfg.Client.MetadataCacheTTL = ttl
	cfg.Client.InitialBackoff = 5 * time.Millisecond
	cfg.Client.MaxBackoff = 20 * time.Millisecond

	sess, err := arcgis.New(cfg)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

// TestFullQueryFlow tests the complete flow: open service → resolve layer → count → pages → merge.
func TestFullQueryFlow(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockServer()
	defer mock.Close()

	serviceURL := mock.SetMetadata(servicePath, map[string]any{
		"serviceDescription": "Hydrography",
		"layers":             []map[string]any{{"id": 0, "name": "Rivers"}},
	})
	mock.AddFeatureLayer(servicePath+"/0", 4321, 1000)

	sess := newSession(t, redisClient, time.Minute)
	ctx := context.Background()

	h, err := sess.Open(ctx, serviceURL, "")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	fs, ok := h.(*service.FeatureServer)
	if !ok {
		t.Fatalf("Expected *service.FeatureServer, got %T", h)
	}

	layer, err := sess.Open(ctx, fs.Layers()[0].URL, "")
	if err != nil {
		t.Fatalf("Open layer failed: %v", err)
	}

	result, err := sess.Query(ctx, layer, query.DefaultParams())
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	if len(result.Features) != 4321 {
		t.Fatalf("Features = %d, want 4321", len(result.Features))
	}
	if result.Pages != 5 {
		t.Errorf("Pages = %d, want 5", result.Pages)
	}
	for i, f := range result.Features {
		if id, _ := f.ObjectID("OBJECTID"); id != int64(i+1) {
			t.Fatalf("Feature %d has OBJECTID %d", i, id)
		}
	}

	keys, err := redisClient.Keys(ctx, "arcgis:meta:*").Result()
	if err != nil {
		t.Fatalf("Redis keys failed: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("Cached metadata keys = %d, want 2 (service + layer)", len(keys))
	}
}

// TestSharedMetadataCache tests that sessions sharing Redis share metadata.
func TestSharedMetadataCache(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockServer()
	defer mock.Close()

	layerURL := mock.AddTable(servicePath+"/1", 10, 1000)
	ctx := context.Background()

	first := newSession(t, redisClient, time.Minute)
	if _, err := first.Open(ctx, layerURL, ""); err != nil {
		t.Fatalf("First open failed: %v", err)
	}

	second := newSession(t, redisClient, time.Minute)
	h, err := second.Open(ctx, layerURL, "")
	if err != nil {
		t.Fatalf("Second open failed: %v", err)
	}
	if h.Kind() != service.KindTable {
		t.Errorf("Kind = %s, want %s", h.Kind(), service.KindTable)
	}

	if mock.GetRequestCount() != 1 {
		t.Errorf("Server requests = %d, want 1 (second session served from redis)", mock.GetRequestCount())
	}

	// A different token must not see metadata cached for another identity
	if _, err := second.Open(ctx, layerURL, "other-token"); err != nil {
		t.Fatalf("Open with token failed: %v", err)
	}
	if mock.GetRequestCount() != 2 {
		t.Errorf("Server requests = %d, want 2", mock.GetRequestCount())
	}

	keys, _ := redisClient.Keys(ctx, "arcgis:meta:*").Result()
	for _, k := range keys {
		if strings.Contains(k, "other-token") {
			t.Errorf("Raw token stored in cache key %q", k)
		}
	}
}

// TestRetry5xxErrors tests that pages recover from transient server errors.
func TestRetry5xxErrors(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockServer()
	defer mock.Close()

	layerURL := mock.AddFeatureLayer(servicePath+"/0", 2000, 1000)
	mock.FailPage(servicePath+"/0", 1000, 2, testutil.NewServerErrorResponse())

	sess := newSession(t, redisClient, time.Minute)
	result, err := sess.QueryURL(context.Background(), layerURL, "", query.DefaultParams())
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(result.Features) != 2000 {
		t.Errorf("Features = %d, want 2000", len(result.Features))
	}

	// page 0 once, page 1000 three times
	if mock.GetPageRequests() != 4 {
		t.Errorf("Page requests = %d, want 4", mock.GetPageRequests())
	}
}

// TestPaginationAbort tests that a page failing every attempt aborts the query.
func TestPaginationAbort(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockServer()
	defer mock.Close()

	layerURL := mock.AddFeatureLayer(servicePath+"/0", 3000, 1000)
	mock.FailPage(servicePath+"/0", 2000, -1, testutil.NewServerErrorResponse())

	sess := newSession(t, redisClient, time.Minute)
	result, err := sess.QueryURL(context.Background(), layerURL, "", query.DefaultParams())
	if result != nil {
		t.Error("Expected no partial result")
	}

	var ce *client.ClassifiedError
	if !errors.As(err, &ce) || ce.Kind != client.KindPaginationAbort {
		t.Fatalf("Expected pagination abort, got %v", err)
	}
	offsets := ce.FailedOffsets()
	if len(offsets) != 1 || offsets[0] != 2000 {
		t.Errorf("Failed offsets = %v, want [2000]", offsets)
	}
}

// TestNoRetryAuthErrors tests that an expired token fails after one request.
func TestNoRetryAuthErrors(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockServer()
	defer mock.Close()

	mock.SetResponse(servicePath+"/0", testutil.NewInvalidTokenResponse())

	sess := newSession(t, redisClient, time.Minute)
	_, err := sess.Open(context.Background(), mock.URL()+servicePath+"/0", "expired")

	if !client.IsAuthRequired(err) {
		t.Fatalf("Expected auth_required, got %v", err)
	}
	if mock.GetRequestCount() != 1 {
		t.Errorf("Server requests = %d, want 1 (no retry)", mock.GetRequestCount())
	}
}

// TestMetricsIncremented tests that requests show up in the exported metrics.
func TestMetricsIncremented(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockServer()
	defer mock.Close()

	layerURL := mock.AddTable(servicePath+"/1", 5, 1000)

	sess := newSession(t, redisClient, time.Minute)
	if _, err := sess.QueryURL(context.Background(), layerURL, "", query.DefaultParams()); err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	families, err := metrics.Gatherer.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	found := make(map[string]bool)
	for _, mf := range families {
		found[mf.GetName()] = true
	}
	for _, name := range []string{"arcgis_requests_total", "arcgis_query_pages_total", "arcgis_query_duration_seconds"} {
		if !found[name] {
			t.Errorf("Metric %s not exported", name)
		}
	}
}

// TestCacheExpiration tests that expired metadata is fetched again.
func TestCacheExpiration(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockServer()
	defer mock.Close()

	layerURL := mock.AddTable(servicePath+"/1", 1, 1000)

	sess := newSession(t, redisClient, time.Second)
	ctx := context.Background()

	if _, err := sess.Open(ctx, layerURL, ""); err != nil {
		t.Fatalf("First open failed: %v", err)
	}
	if _, err := sess.Open(ctx, layerURL, ""); err != nil {
		t.Fatalf("Second open failed: %v", err)
	}
	if mock.GetRequestCount() != 1 {
		t.Errorf("Server requests = %d, want 1 (cached)", mock.GetRequestCount())
	}

	// Wait for expiration
	time.Sleep(2 * time.Second)

	keys, _ := redisClient.Keys(ctx, "arcgis:meta:*").Result()
	if len(keys) != 0 {
		t.Errorf("Redis keys after TTL = %v, want none", keys)
	}

	if _, err := sess.Open(ctx, layerURL, ""); err != nil {
		t.Fatalf("Third open failed: %v", err)
	}
	if mock.GetRequestCount() != 2 {
		t.Errorf("Server requests = %d, want 2 (cache expired)", mock.GetRequestCount())
	}
}
