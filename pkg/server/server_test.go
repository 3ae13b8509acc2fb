package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sprl/lookup/internal/service"
	"github.com/sprl/lookup/pkg/blob"
	"github.com/sprl/lookup/pkg/credential"
	"github.com/sprl/lookup/pkg/dataset"
	"github.com/sprl/lookup/pkg/identifier"
	"github.com/sprl/lookup/pkg/pir"
	"github.com/sprl/lookup/pkg/record"
	"github.com/sprl/lookup/pkg/transport"
)

const testAdminToken = "s3cret-admin"

var testPIR = pir.Params{BucketBits: 12, ItemSize: 128}

// testServer holds a configured Server backed by a loaded service.
type testServer struct {
	srv *Server
	svc *service.LookupService
	dir string
}

func setupTestServer(t *testing.T, mutate ...func(*Config)) *testServer {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	store, err := blob.NewFileStore(dir)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	b, err := dataset.NewBuilder(dataset.Config{
		Identifier:  identifier.Config{Variant: identifier.Name, BucketBits: testPIR.BucketBits},
		NameLayout:  record.DefaultNameLayout(),
		Compression: "zlib",
		ItemSize:    testPIR.ItemSize,
	}, nil)
	if err != nil {
		t.Fatalf("failed to create builder: %v", err)
	}
	if err := b.AddName(dataset.NameEntry{Name: "example.eth", Records: map[string]string{"url": "https://example.org"}}); err != nil {
		t.Fatalf("failed to add name: %v", err)
	}
	info, err := b.Publish(ctx, store, 65000)
	if err != nil {
		t.Fatalf("failed to publish: %v", err)
	}
	if err := dataset.SaveInfo(dir, info); err != nil {
		t.Fatalf("failed to save info: %v", err)
	}
	store.Close()

	svc, err := service.New(service.Config{PIR: testPIR, DataDir: dir, SessionTTL: time.Hour, AllowEphemeral: true, Workers: 2}, nil, nil)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	if err := svc.Reload(ctx); err != nil {
		t.Fatalf("failed to load dataset: %v", err)
	}

	cfg := DefaultConfig()
	cfg.AdminToken = testAdminToken
	cfg.RateLimit = RateLimit{}
	for _, m := range mutate {
		m(&cfg)
	}
	return &testServer{srv: New(cfg, svc, nil), svc: svc, dir: dir}
}

func (ts *testServer) doRequest(t *testing.T, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rr, req)
	return rr
}

func newEngine(t *testing.T) (*pir.Engine, []byte) {
	t.Helper()
	engine, err := pir.NewEngine(testPIR, pir.NewSecretCache(credential.NewMemoryStorage(), pir.DefaultSecretSlot))
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	pp, err := engine.DeriveKeys(context.Background(), bytes.Repeat([]byte{7}, pir.SeedSize), true)
	if err != nil {
		t.Fatalf("failed to derive keys: %v", err)
	}
	return engine, pp
}

func TestHandleHealth(t *testing.T) {
	ts := setupTestServer(t)
	rr := ts.doRequest(t, "GET", "/health", nil, nil)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
	var resp HealthResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("expected status=healthy, got %q", resp.Status)
	}
	if resp.Buckets != 1 {
		t.Errorf("expected 1 bucket, got %d", resp.Buckets)
	}
}

func TestHandleHealth_NotLoaded(t *testing.T) {
	svc, err := service.New(service.Config{PIR: testPIR}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	srv := New(DefaultConfig(), svc, nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/health", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rr.Code)
	}
}

func TestSetupCheckQuery(t *testing.T) {
	ts := setupTestServer(t)
	engine, pp := newEngine(t)

	rr := ts.doRequest(t, "POST", "/setup", pp, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("setup: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var setup SetupResponse
	if err := json.NewDecoder(rr.Body).Decode(&setup); err != nil {
		t.Fatalf("failed to decode setup response: %v", err)
	}
	if len(setup.ID) != pir.SessionIDSize {
		t.Fatalf("expected a %d character id, got %q", pir.SessionIDSize, setup.ID)
	}

	rr = ts.doRequest(t, "GET", "/check?uuid="+setup.ID, nil, nil)
	if !strings.Contains(rr.Body.String(), `"is_valid":true`) {
		t.Errorf("expected is_valid true, got %s", rr.Body.String())
	}
	rr = ts.doRequest(t, "GET", "/check?uuid=6f1c0a52-0f54-4a55-9d3c-2a8ff1d0c8aa", nil, nil)
	if !strings.Contains(rr.Body.String(), `"is_valid":false`) {
		t.Errorf("expected is_valid false, got %s", rr.Body.String())
	}

	query, err := engine.BuildQuery(setup.ID, 3)
	if err != nil {
		t.Fatal(err)
	}
	rr = ts.doRequest(t, "POST", "/query", query, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("query: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/octet-stream" {
		t.Errorf("unexpected content type %q", ct)
	}
	if _, err := engine.DecodeResponse(rr.Body.Bytes()); err != nil {
		t.Errorf("failed to decode response: %v", err)
	}
}

func TestHandleErrors(t *testing.T) {
	ts := setupTestServer(t, func(c *Config) { c.MaxBodyBytes = 1 << 20 })
	engine, _ := newEngine(t)
	unknown, err := engine.BuildQuery("6f1c0a52-0f54-4a55-9d3c-2a8ff1d0c8aa", 1)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   []byte
		want   int
	}{
		{"check without uuid", "GET", "/check", nil, http.StatusBadRequest},
		{"setup with garbage", "POST", "/setup", []byte("garbage"), http.StatusBadRequest},
		{"setup without body", "POST", "/setup", nil, http.StatusBadRequest},
		{"query unknown session", "POST", "/query", unknown, http.StatusUnauthorized},
		{"query too short", "POST", "/query", []byte("abc"), http.StatusBadRequest},
		{"query too large", "POST", "/query", make([]byte, 2<<20), http.StatusRequestEntityTooLarge},
		{"wrong method", "GET", "/query", nil, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := ts.doRequest(t, tt.method, tt.path, tt.body, nil)
			if rr.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestHandleInfo(t *testing.T) {
	ts := setupTestServer(t)
	rr := ts.doRequest(t, "GET", "/info", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var raw map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&raw); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if raw["price"] != "65000.00" {
		t.Errorf("expected price 65000.00, got %q", raw["price"])
	}
	if raw["lastupdate"] == "" {
		t.Error("expected lastupdate to be set")
	}
}

func TestHandleReload(t *testing.T) {
	ts := setupTestServer(t)

	tests := []struct {
		name    string
		headers map[string]string
		want    int
	}{
		{"missing token", nil, http.StatusUnauthorized},
		{"malformed header", map[string]string{"Authorization": testAdminToken}, http.StatusUnauthorized},
		{"wrong token", map[string]string{"Authorization": "Bearer nope"}, http.StatusForbidden},
		{"ok", map[string]string{"Authorization": "Bearer " + testAdminToken}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := ts.doRequest(t, "POST", "/reload", nil, tt.headers)
			if rr.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestReloadDisabledWithoutToken(t *testing.T) {
	ts := setupTestServer(t, func(c *Config) { c.AdminToken = "" })
	rr := ts.doRequest(t, "POST", "/reload", nil, map[string]string{"Authorization": "Bearer "})
	if rr.Code != http.StatusNotFound && rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected reload to be unavailable, got %d", rr.Code)
	}
}

func TestRateLimit(t *testing.T) {
	ts := setupTestServer(t, func(c *Config) { c.RateLimit = RateLimit{RequestsPerMinute: 1, Burst: 2} })
	headers := map[string]string{"X-Real-IP": "203.0.113.9"}

	for i := 0; i < 2; i++ {
		if rr := ts.doRequest(t, "GET", "/info", nil, headers); rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rr.Code)
		}
	}
	if rr := ts.doRequest(t, "GET", "/info", nil, headers); rr.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", rr.Code)
	}
	// Other clients and /health are unaffected.
	if rr := ts.doRequest(t, "GET", "/info", nil, map[string]string{"X-Real-IP": "203.0.113.10"}); rr.Code != http.StatusOK {
		t.Errorf("expected 200 for another client, got %d", rr.Code)
	}
	if rr := ts.doRequest(t, "GET", "/health", nil, headers); rr.Code != http.StatusOK {
		t.Errorf("expected 200 for health, got %d", rr.Code)
	}
}

func TestClientID(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "198.51.100.4:5555"
	if got := clientID(req); got != "198.51.100.4" {
		t.Errorf("expected remote host, got %q", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.1, 10.0.0.1")
	if got := clientID(req); got != "203.0.113.1" {
		t.Errorf("expected first forwarded address, got %q", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := setupTestServer(t)
	rr := ts.doRequest(t, "GET", "/metrics", nil, nil)
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
}

// TestHTTPTransport runs the client transport against the real handler.
func TestHTTPTransport(t *testing.T) {
	ts := setupTestServer(t)
	hs := httptest.NewServer(ts.srv.Handler())
	defer hs.Close()

	tr, err := transport.NewHTTP(transport.HTTPConfig{BaseURL: hs.URL, Timeouts: transport.DefaultTimeouts()})
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()
	ctx := context.Background()

	engine, pp := newEngine(t)
	id, err := tr.Setup(ctx, pp, nil)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	ok, err := tr.Check(ctx, id)
	if err != nil || !ok {
		t.Fatalf("check: ok=%v err=%v", ok, err)
	}
	info, err := tr.Info(ctx)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.Price != 65000 {
		t.Errorf("expected price 65000, got %v", info.Price)
	}

	key, err := identifier.Derive("example.eth", identifier.Config{Variant: identifier.Name, BucketBits: testPIR.BucketBits})
	if err != nil {
		t.Fatal(err)
	}
	query, err := engine.BuildQuery(id, key.Bucket)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := tr.Query(ctx, query, nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	payload, err := engine.DecodeResponse(resp)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload) == 0 {
		t.Error("expected a non-empty bucket payload")
	}
}
