// Package testutil provides a fake ArcGIS REST server for tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockResponse defines a canned response for a path or a failing page.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// pageFailure makes the page at one offset fail Times times (negative = always).
type pageFailure struct {
	times int
	resp  MockResponse
}

type mockLayer struct {
	metadata      map[string]any
	records       int
	countOverride int
	geometry      bool
	failures      map[int]*pageFailure
	delays        map[int]time.Duration
	offsets       []int
}

// MockServer serves layer metadata, count requests and offset-paged
// queries for synthetic records with OBJECTID 1..n.
type MockServer struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)
	layers   map[string]*mockLayer

	// Tracking
	RequestCount  int
	CountRequests int
	PageRequests  int
	LastParams    map[string]string
}

// NewMockServer creates and starts a mock server.
func NewMockServer() *MockServer {
	mock := &MockServer{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
		layers:   make(map[string]*mockLayer),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()

		mock.mu.Lock()
		mock.RequestCount++
		mock.LastParams = flatten(r.Form)
		mock.mu.Unlock()

		path := strings.TrimRight(r.URL.Path, "/")

		mock.mu.RLock()
		handler, exists := mock.handlers[path]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		mock.layerHandler(w, r, path)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockServer) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockServer) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockServer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.CountRequests = 0
	m.PageRequests = 0
	m.LastParams = nil
	for _, l := range m.layers {
		l.offsets = nil
	}
}

// SetHandler sets a custom handler for a specific path.
func (m *MockServer) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[strings.TrimRight(path, "/")] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockServer) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, resp)
	})
}

// SetMetadata serves metadata as the JSON description of path and returns its URL.
func (m *MockServer) SetMetadata(path string, metadata map[string]any) string {
	m.SetResponse(path, NewJSONResponse(metadata))
	return m.server.URL + path
}

// AddFeatureLayer registers a spatial layer with n records and returns its URL.
func (m *MockServer) AddFeatureLayer(path string, records, maxRecordCount int) string {
	meta := LayerMetadata("Feature Layer", maxRecordCount)
	meta["geometryType"] = "esriGeometryPoint"
	return m.AddLayer(path, records, meta)
}

// AddTable registers an attribute-only layer with n records and returns its URL.
func (m *MockServer) AddTable(path string, records, maxRecordCount int) string {
	return m.AddLayer(path, records, LayerMetadata("Table", maxRecordCount))
}

// AddLayer registers a layer with custom metadata and returns its URL.
func (m *MockServer) AddLayer(path string, records int, metadata map[string]any) string {
	path = strings.TrimRight(path, "/")
	_, spatial := metadata["geometryType"]

	m.mu.Lock()
	defer m.mu.Unlock()
	m.layers[path] = &mockLayer{
		metadata:      metadata,
		records:       records,
		countOverride: -1,
		geometry:      spatial && metadata["geometryType"] != nil,
		failures:      make(map[int]*pageFailure),
		delays:        make(map[int]time.Duration),
	}
	return m.server.URL + path
}

// FailPage makes the page starting at offset answer with resp. times < 0
// fails every attempt, otherwise the page recovers after times failures.
func (m *MockServer) FailPage(path string, offset, times int, resp MockResponse) {
	m.withLayer(path, func(l *mockLayer) {
		l.failures[offset] = &pageFailure{times: times, resp: resp}
	})
}

// DelayPage slows down the page starting at offset.
func (m *MockServer) DelayPage(path string, offset int, d time.Duration) {
	m.withLayer(path, func(l *mockLayer) {
		l.delays[offset] = d
	})
}

// SetCountOverride makes count requests report n instead of the real record count.
func (m *MockServer) SetCountOverride(path string, n int) {
	m.withLayer(path, func(l *mockLayer) {
		l.countOverride = n
	})
}

// PageOffsets returns the sorted resultOffset values requested for path.
func (m *MockServer) PageOffsets(path string) []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.layers[strings.TrimRight(path, "/")]
	if !ok {
		return nil
	}
	out := append([]int(nil), l.offsets...)
	sort.Ints(out)
	return out
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockServer) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetLastParams returns the parameters of the most recent request.
func (m *MockServer) GetLastParams() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastParams
}

// GetPageRequests returns the number of paged query requests.
func (m *MockServer) GetPageRequests() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.PageRequests
}

// GetCountRequests returns the number of count-only requests.
func (m *MockServer) GetCountRequests() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.CountRequests
}

func (m *MockServer) withLayer(path string, fn func(l *mockLayer)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.layers[strings.TrimRight(path, "/")]; ok {
		fn(l)
	}
}

// layerHandler serves layer metadata and the layer's query endpoint.
func (m *MockServer) layerHandler(w http.ResponseWriter, r *http.Request, path string) {
	layerPath, isQuery := strings.CutSuffix(path, "/query")

	m.mu.RLock()
	layer, ok := m.layers[layerPath]
	m.mu.RUnlock()

	if !ok {
		writeResponse(w, NewErrorResponse(http.StatusOK, 400, "Invalid URL"))
		return
	}

	if !isQuery {
		writeResponse(w, NewJSONResponse(layer.metadata))
		return
	}

	if r.Form.Get("returnCountOnly") == "true" {
		m.mu.Lock()
		m.CountRequests++
		count := layer.records
		if layer.countOverride >= 0 {
			count = layer.countOverride
		}
		m.mu.Unlock()
		writeResponse(w, NewJSONResponse(map[string]any{"count": count}))
		return
	}

	offset, _ := strconv.Atoi(r.Form.Get("resultOffset"))
	limit, err := strconv.Atoi(r.Form.Get("resultRecordCount"))
	if err != nil || limit <= 0 {
		limit = layer.records
	}

	m.mu.Lock()
	m.PageRequests++
	layer.offsets = append(layer.offsets, offset)
	delay := layer.delays[offset]
	var failure *MockResponse
	if f, ok := layer.failures[offset]; ok && f.times != 0 {
		resp := f.resp
		failure = &resp
		if f.times > 0 {
			f.times--
		}
	}
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	if failure != nil {
		writeResponse(w, *failure)
		return
	}

	returnGeometry := r.Form.Get("returnGeometry") != "false"
	features := make([]map[string]any, 0, limit)
	for i := offset; i < offset+limit && i < layer.records; i++ {
		f := map[string]any{
			"attributes": map[string]any{
				"OBJECTID": i + 1,
				"NAME":     fmt.Sprintf("feature-%d", i+1),
			},
		}
		if layer.geometry && returnGeometry {
			f["geometry"] = map[string]any{"x": float64(i), "y": float64(i) / 2}
		}
		features = append(features, f)
	}

	writeResponse(w, NewJSONResponse(map[string]any{
		"features":              features,
		"exceededTransferLimit": offset+limit < layer.records,
	}))
}

func writeResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}

	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
	}

	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

func flatten(values map[string][]string) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

// LayerMetadata builds a minimal layer description.
func LayerMetadata(layerType string, maxRecordCount int) map[string]any {
	meta := map[string]any{
		"type":          layerType,
		"name":          "Mock " + layerType,
		"objectIdField": "OBJECTID",
		"fields": []map[string]any{
			{"name": "OBJECTID", "type": "esriFieldTypeOID", "alias": "OBJECTID", "nullable": false},
			{"name": "NAME", "type": "esriFieldTypeString", "alias": "Name", "nullable": true},
		},
		"advancedQueryCapabilities": map[string]any{"supportsPagination": true},
	}
	if maxRecordCount > 0 {
		meta["maxRecordCount"] = maxRecordCount
	}
	return meta
}

// NewJSONResponse creates a 200 OK response with v encoded as its body.
func NewJSONResponse(v any) MockResponse {
	body, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("testutil: marshal response: %v", err))
	}
	return MockResponse{StatusCode: http.StatusOK, Body: string(body)}
}

// NewErrorResponse creates a response carrying an embedded error object.
// ArcGIS usually reports failures with HTTP 200, so status is often 200.
func NewErrorResponse(status, code int, message string) MockResponse {
	return NewStatusResponse(status, fmt.Sprintf(
		`{"error":{"code":%d,"message":%q,"details":[]}}`, code, message))
}

// NewStatusResponse creates a response with a raw status and body.
func NewStatusResponse(status int, body string) MockResponse {
	return MockResponse{StatusCode: status, Body: body}
}

// NewServerErrorResponse creates a plain 503 Service Unavailable response.
func NewServerErrorResponse() MockResponse {
	return NewStatusResponse(http.StatusServiceUnavailable, `{"error":{"code":503,"message":"Service Unavailable"}}`)
}

// NewInvalidTokenResponse creates the 200 + embedded 498 response of an expired token.
func NewInvalidTokenResponse() MockResponse {
	return NewErrorResponse(http.StatusOK, 498, "Invalid token.")
}
