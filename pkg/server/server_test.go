package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/confwell/confwell/pkg/catalog"
	"github.com/confwell/confwell/pkg/eval"
	"github.com/confwell/confwell/pkg/hub"
	"github.com/confwell/confwell/pkg/replica"
	"github.com/confwell/confwell/pkg/replicator"
	"github.com/confwell/confwell/pkg/service"
	"github.com/confwell/confwell/pkg/stores"
	"github.com/confwell/confwell/pkg/stream"
	"github.com/confwell/confwell/pkg/telemetry"
)

const testAdminToken = "admin-secret"

// testStack is the full in-process service wired for HTTP tests.
type testStack struct {
	ts      *httptest.Server
	store   *stores.SQLiteStore
	replica *replica.Store
	bus     *stream.Bus
	cat     *catalog.Catalog
	svc     *service.Service

	projectID     string
	environmentID string
	sdkToken      string
}

func testTelemetry(t *testing.T) *telemetry.Telemetry {
	t.Helper()

	tel, err := telemetry.NewTelemetry(&telemetry.Config{
		ServiceName:    "confwell-test",
		ServiceVersion: "test",
		Logging:        telemetry.LoggingConfig{Level: "error", Format: "json", Output: "stderr"},
		Tracing:        telemetry.TracingConfig{Enabled: false},
		Metrics:        telemetry.MetricsConfig{Enabled: false},
	})
	if err != nil {
		t.Fatalf("failed to create telemetry: %v", err)
	}
	return tel
}

func setupStack(t *testing.T, health func(context.Context) error) *testStack {
	t.Helper()

	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	tel := testTelemetry(t)
	h := hub.New(store, hub.Options{}, tel.Logger, tel.Metrics)
	cat := catalog.New(store, h, tel)

	replicaStore := replica.NewStore()
	bus := stream.NewBus(16, tel.Logger, tel.Metrics)
	t.Cleanup(bus.Close)
	svc := service.New(replicaStore, bus, tel)

	srv := New(svc, cat, NewStoreTokenResolver(store), health, Options{
		AdminToken:        testAdminToken,
		HeartbeatInterval: 50 * time.Millisecond,
	}, tel)

	ts := httptest.NewServer(srv.http.Handler)
	t.Cleanup(ts.Close)

	stack := &testStack{
		ts:      ts,
		store:   store,
		replica: replicaStore,
		bus:     bus,
		cat:     cat,
		svc:     svc,
	}

	p, err := cat.CreateProject(ctx, "web")
	if err != nil {
		t.Fatalf("failed to create project: %v", err)
	}
	env, err := cat.CreateEnvironment(ctx, p.ID, "Production", 1)
	if err != nil {
		t.Fatalf("failed to create environment: %v", err)
	}
	key, err := cat.CreateSDKKey(ctx, p.ID, env.ID)
	if err != nil {
		t.Fatalf("failed to create sdk key: %v", err)
	}

	stack.projectID = p.ID
	stack.environmentID = env.ID
	stack.sdkToken = key.Token
	return stack
}

func (s *testStack) request(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = strings.NewReader(string(data))
	}
	req, err := http.NewRequest(method, s.ts.URL+path, reader)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func TestHealthz(t *testing.T) {
	stack := setupStack(t, nil)

	resp := stack.request(t, http.MethodGet, "/healthz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	failing := setupStack(t, func(context.Context) error { return errors.New("db gone") })
	resp = failing.request(t, http.MethodGet, "/healthz", "", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", resp.StatusCode)
	}
}

func TestSDKAuth(t *testing.T) {
	stack := setupStack(t, nil)

	resp := stack.request(t, http.MethodGet, "/api/v1/configs", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("missing token: expected 401, got %d", resp.StatusCode)
	}

	resp = stack.request(t, http.MethodGet, "/api/v1/configs", "cw_invalid", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("unknown token: expected 403, got %d", resp.StatusCode)
	}

	resp = stack.request(t, http.MethodGet, "/api/v1/configs", stack.sdkToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("valid token: expected 200, got %d", resp.StatusCode)
	}
}

func TestAdminAuth(t *testing.T) {
	stack := setupStack(t, nil)

	resp := stack.request(t, http.MethodPost, "/admin/v1/projects", "", map[string]string{"name": "x"})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("missing admin token: expected 403, got %d", resp.StatusCode)
	}

	resp = stack.request(t, http.MethodPost, "/admin/v1/projects", "wrong", map[string]string{"name": "x"})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("wrong admin token: expected 403, got %d", resp.StatusCode)
	}

	resp = stack.request(t, http.MethodPost, "/admin/v1/projects", testAdminToken, map[string]string{"name": "x"})
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("valid admin token: expected 201, got %d", resp.StatusCode)
	}
}

func TestGetConfigEndpoint(t *testing.T) {
	stack := setupStack(t, nil)
	stack.replica.Upsert([]*replica.Config{{
		ID:        "cfg-1",
		ProjectID: stack.projectID,
		Name:      "checkout",
		Version:   2,
		BaseValue: map[string]any{"enabled": true},
		BaseOverrides: []eval.Override{{
			Name:  "beta",
			Value: eval.Value{Type: eval.ValueLiteral, Literal: map[string]any{"enabled": false}},
		}},
	}})

	resp := stack.request(t, http.MethodGet, "/api/v1/configs/checkout", stack.sdkToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var cfg struct {
		Name              string         `json:"name"`
		Version           int64          `json:"version"`
		EnvironmentID     string         `json:"environmentId"`
		Value             map[string]any `json:"value"`
		RenderedOverrides []struct {
			Name string `json:"name"`
		} `json:"renderedOverrides"`
	}
	decodeJSON(t, resp, &cfg)
	if cfg.Name != "checkout" || cfg.Version != 2 || cfg.EnvironmentID != stack.environmentID {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.Value["enabled"] != true {
		t.Errorf("unexpected value: %v", cfg.Value)
	}
	if len(cfg.RenderedOverrides) != 1 || cfg.RenderedOverrides[0].Name != "beta" {
		t.Errorf("unexpected rendered overrides: %+v", cfg.RenderedOverrides)
	}

	// Unknown config maps to 404 with a classified error body
	resp = stack.request(t, http.MethodGet, "/api/v1/configs/missing", stack.sdkToken, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	var errBody struct {
		Kind string `json:"kind"`
	}
	decodeJSON(t, resp, &errBody)
	if errBody.Kind != "not_found" {
		t.Errorf("unexpected error kind: %s", errBody.Kind)
	}
}

func TestListConfigsEndpoint(t *testing.T) {
	stack := setupStack(t, nil)
	stack.replica.Upsert([]*replica.Config{
		{ID: "cfg-2", ProjectID: stack.projectID, Name: "search", Version: 1, BaseValue: true},
		{ID: "cfg-1", ProjectID: stack.projectID, Name: "checkout", Version: 1, BaseValue: true},
		{ID: "cfg-x", ProjectID: "proj-other", Name: "alpha", Version: 1, BaseValue: true},
	})

	resp := stack.request(t, http.MethodGet, "/api/v1/configs", stack.sdkToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var listing struct {
		Configs []struct {
			Name string `json:"name"`
		} `json:"configs"`
	}
	decodeJSON(t, resp, &listing)
	if len(listing.Configs) != 2 || listing.Configs[0].Name != "checkout" || listing.Configs[1].Name != "search" {
		t.Errorf("unexpected listing: %+v", listing.Configs)
	}
}

func TestGetConfigValueEndpoint(t *testing.T) {
	stack := setupStack(t, nil)
	stack.replica.Upsert([]*replica.Config{{
		ID:        "cfg-1",
		ProjectID: stack.projectID,
		Name:      "checkout",
		Version:   1,
		BaseValue: map[string]any{"limit": float64(3)},
		BaseOverrides: []eval.Override{{
			Name: "pro",
			Conditions: []eval.Condition{{
				Op:       eval.OpEquals,
				Property: "tier",
				Value:    &eval.Value{Type: eval.ValueLiteral, Literal: "pro"},
			}},
			Value: eval.Value{Type: eval.ValueLiteral, Literal: map[string]any{"limit": float64(50)}},
		}},
	}})

	// GET passes the evaluation context as a query parameter
	path := "/api/v1/configs/checkout/value?context=" + url.QueryEscape(`{"tier":"pro"}`)
	resp := stack.request(t, http.MethodGet, path, stack.sdkToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var result struct {
		Name            string         `json:"name"`
		Value           map[string]any `json:"value"`
		MatchedOverride string         `json:"matchedOverride"`
	}
	decodeJSON(t, resp, &result)
	if result.Name != "checkout" || result.MatchedOverride != "pro" || result.Value["limit"] != float64(50) {
		t.Errorf("unexpected result: %+v", result)
	}

	// POST carries the context in the body; no match serves the base value
	resp = stack.request(t, http.MethodPost, "/api/v1/configs/checkout/value", stack.sdkToken, map[string]any{"tier": "free"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	result = struct {
		Name            string         `json:"name"`
		Value           map[string]any `json:"value"`
		MatchedOverride string         `json:"matchedOverride"`
	}{}
	decodeJSON(t, resp, &result)
	if result.Name != "checkout" || result.MatchedOverride != "" || result.Value["limit"] != float64(3) {
		t.Errorf("unexpected base result: %+v", result)
	}

	// A non-object context is rejected
	resp = stack.request(t, http.MethodGet, "/api/v1/configs/checkout/value?context="+url.QueryEscape(`[1,2]`), stack.sdkToken, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed context, got %d", resp.StatusCode)
	}
}

func TestAdminConfigFlow(t *testing.T) {
	stack := setupStack(t, nil)

	resp := stack.request(t, http.MethodPost, "/admin/v1/projects/"+stack.projectID+"/configs", testAdminToken, map[string]any{
		"name":  "checkout",
		"value": map[string]any{"enabled": true},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var row struct {
		ID      string `json:"id"`
		Version int64  `json:"version"`
	}
	decodeJSON(t, resp, &row)
	if row.ID == "" || row.Version != 1 {
		t.Fatalf("unexpected created config: %+v", row)
	}

	resp = stack.request(t, http.MethodPut, "/admin/v1/configs/"+row.ID, testAdminToken, map[string]any{
		"value": map[string]any{"enabled": false},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var versioned struct {
		Version int64 `json:"version"`
	}
	decodeJSON(t, resp, &versioned)
	if versioned.Version != 2 {
		t.Errorf("expected version 2, got %d", versioned.Version)
	}

	resp = stack.request(t, http.MethodPut, "/admin/v1/configs/"+row.ID+"/variants/"+stack.environmentID, testAdminToken, map[string]any{
		"value":         true,
		"useBaseSchema": true,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 setting variant, got %d", resp.StatusCode)
	}

	// An invalid document is rejected before anything is written
	resp = stack.request(t, http.MethodPost, "/admin/v1/projects/"+stack.projectID+"/configs", testAdminToken, map[string]any{
		"name": "bad name!",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid config, got %d", resp.StatusCode)
	}

	resp = stack.request(t, http.MethodGet, "/admin/v1/projects/no-such-project", testAdminToken, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for missing project, got %d", resp.StatusCode)
	}

	resp = stack.request(t, http.MethodDelete, "/admin/v1/configs/"+row.ID, testAdminToken, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("expected 204, got %d", resp.StatusCode)
	}
}

func TestEventStream(t *testing.T) {
	stack := setupStack(t, nil)
	cfg := &replica.Config{
		ID:        "cfg-1",
		ProjectID: stack.projectID,
		Name:      "checkout",
		Version:   5,
		BaseValue: true,
		BaseOverrides: []eval.Override{{
			Name:  "beta",
			Value: eval.Value{Type: eval.ValueLiteral, Literal: false},
		}},
	}
	stack.replica.Upsert([]*replica.Config{cfg})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, stack.ts.URL+"/api/v1/events", nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+stack.sdkToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type: %s", ct)
	}

	// The subscription attaches before the response headers commit, so the
	// change below cannot race past the stream.
	stack.svc.HandleChange(replicator.Change[*replica.Config]{Type: replicator.ChangeUpdated, Entity: cfg})

	var eventType, data string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			eventType = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
		if data != "" {
			break
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		t.Fatalf("stream read failed: %v", err)
	}

	if eventType != string(stream.EventConfigUpdated) {
		t.Errorf("unexpected event type: %s", eventType)
	}
	var payload struct {
		ConfigName string `json:"configName"`
		Version    int64  `json:"version"`
		Value      any    `json:"value"`
		Overrides  []struct {
			Name  string `json:"name"`
			Value any    `json:"value"`
		} `json:"overrides"`
	}
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		t.Fatalf("malformed event data: %v", err)
	}
	if payload.ConfigName != "checkout" || payload.Version != 5 {
		t.Errorf("unexpected event payload: %+v", payload)
	}

	// The event carries the rendered form for the subscriber's environment,
	// so a client can refresh without another fetch
	if payload.Value != true {
		t.Errorf("event value not rendered: %v", payload.Value)
	}
	if len(payload.Overrides) != 1 || payload.Overrides[0].Name != "beta" || payload.Overrides[0].Value != false {
		t.Errorf("event overrides not rendered: %+v", payload.Overrides)
	}
}
