package arcgis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/arcgis-client/internal/testutil"
	"github.com/Sternrassler/arcgis-client/pkg/client"
	"github.com/Sternrassler/arcgis-client/pkg/query"
	"github.com/Sternrassler/arcgis-client/pkg/service"
)

const servicePath = "/arcgis/rest/services/Cadastre/FeatureServer"

func newSession(t *testing.T) *Session {
	t.Helper()

	cfg := DefaultConfig("session-test/1.0")
	cfg.Client.InitialBackoff = time.Millisecond
	cfg.Client.MaxBackoff = 2 * time.Millisecond

	sess, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(DefaultConfig(""))
	assert.EqualError(t, err, "user-agent is required")
}

func TestSession_OpenServiceAndQueryLayers(t *testing.T) {
	mock := testutil.NewMockServer()
	defer mock.Close()

	serviceURL := mock.SetMetadata(servicePath, map[string]any{
		"serviceDescription": "Cadastre",
		"layers":             []map[string]any{{"id": 0, "name": "Parcels"}},
		"tables":             []map[string]any{{"id": 1, "name": "Owners"}},
	})
	mock.AddFeatureLayer(servicePath+"/0", 1500, 1000)
	mock.AddTable(servicePath+"/1", 20, 1000)

	sess := newSession(t)
	ctx := context.Background()

	h, err := sess.Open(ctx, serviceURL, "")
	require.NoError(t, err)
	require.Equal(t, service.KindFeatureServer, h.Kind())

	_, err = sess.Query(ctx, h, query.DefaultParams())
	assert.Equal(t, client.KindClient, client.KindOf(err), "a FeatureServer is not queryable")

	fs := h.(*service.FeatureServer)
	require.Len(t, fs.Layers(), 1)
	require.Len(t, fs.Tables(), 1)

	layer, err := sess.Open(ctx, fs.Layers()[0].URL, "")
	require.NoError(t, err)
	assert.Equal(t, service.KindFeatureLayer, layer.Kind())

	result, err := sess.Query(ctx, layer, query.DefaultParams())
	require.NoError(t, err)
	assert.Len(t, result.Features, 1500)
	assert.True(t, result.Features[0].HasGeometry())

	n, err := sess.Count(ctx, layer, query.DefaultParams())
	require.NoError(t, err)
	assert.Equal(t, 1500, n)

	table, err := sess.QueryURL(ctx, fs.Tables()[0].URL, "", query.Params{OutFields: []string{"NAME"}})
	require.NoError(t, err)
	assert.Len(t, table.Features, 20)
}

func TestSession_TokenPrecedence(t *testing.T) {
	mock := testutil.NewMockServer()
	defer mock.Close()
	layerURL := mock.AddTable(servicePath+"/1", 5, 1000)

	sess := newSession(t)
	ctx := context.Background()

	sess.SetToken("session-default")
	assert.Equal(t, "session-default", sess.Auth().Default())

	h, err := sess.Open(ctx, layerURL, "")
	require.NoError(t, err)
	_, err = sess.Query(ctx, h, query.DefaultParams())
	require.NoError(t, err)
	assert.Equal(t, "session-default", mock.GetLastParams()["token"])

	bound, err := sess.Open(ctx, layerURL, "handle-token")
	require.NoError(t, err)
	_, err = sess.Query(ctx, bound, query.DefaultParams())
	require.NoError(t, err)
	assert.Equal(t, "handle-token", mock.GetLastParams()["token"])
}

func TestSession_ExpiredToken(t *testing.T) {
	mock := testutil.NewMockServer()
	defer mock.Close()
	mock.SetResponse(servicePath+"/0", testutil.NewInvalidTokenResponse())

	sess := newSession(t)
	_, err := sess.Open(context.Background(), mock.URL()+servicePath+"/0", "expired")

	assert.True(t, client.IsAuthRequired(err))
	assert.Equal(t, 1, mock.GetRequestCount(), "auth failures are not retried")
}

func TestSession_Refresh(t *testing.T) {
	mock := testutil.NewMockServer()
	defer mock.Close()
	layerURL := mock.AddFeatureLayer(servicePath+"/0", 1, 1000)

	sess := newSession(t)
	ctx := context.Background()

	h, err := sess.Open(ctx, layerURL, "")
	require.NoError(t, err)

	before := mock.GetRequestCount()
	again, err := sess.Open(ctx, layerURL, "")
	require.NoError(t, err)
	assert.Equal(t, before, mock.GetRequestCount(), "metadata served from cache")
	assert.Equal(t, h.Kind(), again.Kind())

	fresh, err := sess.Refresh(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, before+1, mock.GetRequestCount(), "refresh bypasses the cache")
	assert.Equal(t, h.URL(), fresh.URL())
}
