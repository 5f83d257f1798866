package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openscout/openscout/pkg/api"
	"github.com/openscout/openscout/pkg/catalog"
	"github.com/openscout/openscout/pkg/discovery"
	"github.com/openscout/openscout/pkg/graph"
	"github.com/openscout/openscout/pkg/layers"
	"github.com/openscout/openscout/pkg/stores"
)

type scriptedInvoker struct {
	deny bool

	mu   sync.Mutex
	last *discovery.InvokeRequest
}

func (s *scriptedInvoker) Invoke(_ context.Context, req *discovery.InvokeRequest) *discovery.InvokeResponse {
	s.mu.Lock()
	s.last = req
	s.mu.Unlock()

	if s.deny {
		return &discovery.InvokeResponse{
			Status: discovery.InvokeStatusFailure,
			Error:  discovery.NewPolicyViolation("not_approved", "tool is not approved").Detail(),
		}
	}
	return &discovery.InvokeResponse{
		Status: discovery.InvokeStatusSuccess,
		Result: &discovery.Collection{
			ToolID: req.ToolID,
			Resources: []discovery.Resource{{
				ID:             "/subscriptions/sub-1/resourceGroups/rg-app/providers/Microsoft.Compute/virtualMachines/vm-1",
				Name:           "vm-1",
				Type:           "Microsoft.Compute/virtualMachines",
				SubscriptionID: "sub-1",
				TenantID:       "tenant-1",
			}},
			TotalRecords: 1,
		},
	}
}

func newTestServer(t *testing.T, invoker discovery.ToolInvoker) *httptest.Server {
	t.Helper()
	logger := zerolog.Nop()

	layerRegistry, err := layers.NewBuiltinRegistry()
	if err != nil {
		t.Fatalf("failed to build layer registry: %v", err)
	}
	toolRegistry, err := catalog.NewSeedRegistry(logger)
	if err != nil {
		t.Fatalf("failed to build tool registry: %v", err)
	}

	store := stores.NewMemoryStore()
	tokens := &discovery.StaticTokenSource{
		TokenValue: "test-token",
		ExpiresAt:  time.Now().Add(time.Hour),
	}
	orch := discovery.NewOrchestrator(discovery.Deps{
		Store:    store,
		Invoker:  invoker,
		Layers:   layerRegistry,
		Analyzer: discovery.NewStubAnalyzer(),
		Graphs:   graph.NewBuilder(logger),
		Tokens:   tokens,
	}, logger)

	srv := api.NewServer(api.Options{}, api.Deps{
		Orchestrator: orch,
		Invoker:      invoker,
		Store:        store,
		Layers:       layerRegistry,
		Catalog:      toolRegistry,
		Tokens:       tokens,
	}, logger)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	encoded, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to encode body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func createConnection(t *testing.T, baseURL string) {
	t.Helper()
	resp := postJSON(t, baseURL+"/v1/connections", map[string]interface{}{
		"id":               "conn-1",
		"tenant_id":        "tenant-1",
		"subscription_ids": []string{"sub-1"},
		"rbac_tier":        "inventory",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, &scriptedInvoker{})

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestCorrelationIDEchoedAndMinted(t *testing.T) {
	ts := newTestServer(t, &scriptedInvoker{})

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	req.Header.Set(api.CorrelationHeader, "caller-supplied")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get(api.CorrelationHeader); got != "caller-supplied" {
		t.Fatalf("inbound correlation ID must be echoed, got %q", got)
	}

	resp, err = http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.Header.Get(api.CorrelationHeader) == "" {
		t.Fatal("a correlation ID must be minted when the caller sends none")
	}
}

func postJSONWithIdentity(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	encoded, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to encode body: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(api.TraceHeader, "trace-77")
	req.Header.Set(api.SessionHeader, "sess-77")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func TestTraceAndSessionIDsPropagate(t *testing.T) {
	inv := &scriptedInvoker{}
	ts := newTestServer(t, inv)
	createConnection(t, ts.URL)

	resp := postJSONWithIdentity(t, ts.URL+"/v1/discoveries", map[string]interface{}{
		"connection_id": "conn-1",
		"layers":        []string{"inventory"},
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var created discovery.Discovery
	decode(t, resp, &created)
	if created.TraceID != "trace-77" || created.SessionID != "sess-77" {
		t.Fatalf("inbound trace and session IDs must land on the record, got %q/%q",
			created.TraceID, created.SessionID)
	}

	resp = postJSONWithIdentity(t, ts.URL+"/v1/tools/invoke", map[string]interface{}{
		"tool_id":       "rg_inventory_discovery",
		"connection_id": "conn-1",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	inv.mu.Lock()
	last := inv.last
	inv.mu.Unlock()
	if last == nil || last.TraceID != "trace-77" || last.SessionID != "sess-77" {
		t.Fatalf("the invoker must see the caller's trace and session IDs, got %+v", last)
	}
}

func TestListLayersAndTools(t *testing.T) {
	ts := newTestServer(t, &scriptedInvoker{})

	var layerList []map[string]interface{}
	resp, err := http.Get(ts.URL + "/v1/layers")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	decode(t, resp, &layerList)
	if len(layerList) != 8 {
		t.Fatalf("expected the full layer set, got %d", len(layerList))
	}

	var toolList []map[string]interface{}
	resp, err = http.Get(ts.URL + "/v1/tools")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	decode(t, resp, &toolList)
	if len(toolList) == 0 {
		t.Fatal("expected the seed tool catalog")
	}
	for _, tool := range toolList {
		if tool["status"] != string(catalog.ToolStatusApproved) {
			t.Fatalf("tool %v with status %v served; only approved tools may be listed",
				tool["tool_id"], tool["status"])
		}
		if tool["tool_id"] == "cost_discovery" {
			t.Fatal("the pending cost_discovery seed must not be served")
		}
	}
}

func TestConnectionCreateAndList(t *testing.T) {
	ts := newTestServer(t, &scriptedInvoker{})
	createConnection(t, ts.URL)

	var conns []map[string]interface{}
	resp, err := http.Get(ts.URL + "/v1/connections")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	decode(t, resp, &conns)
	if len(conns) != 1 {
		t.Fatalf("expected one connection, got %d", len(conns))
	}
	if _, leaked := conns[0]["token"]; leaked {
		t.Fatal("a connection listing must never expose a token field")
	}
}

func TestDiscoveryLifecycle(t *testing.T) {
	ts := newTestServer(t, &scriptedInvoker{})
	createConnection(t, ts.URL)

	resp := postJSON(t, ts.URL+"/v1/discoveries", map[string]interface{}{
		"connection_id": "conn-1",
		"layers":        []string{"inventory"},
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var created discovery.Discovery
	decode(t, resp, &created)
	if created.ID == "" || created.CorrelationID == "" {
		t.Fatalf("incomplete discovery record: %+v", created)
	}

	var final discovery.Discovery
	deadline := time.Now().Add(5 * time.Second)
	for {
		getResp, err := http.Get(fmt.Sprintf("%s/v1/discoveries/%s", ts.URL, created.ID))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		decode(t, getResp, &final)
		if final.Stage.IsTerminal() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("discovery never finished, last stage %s", final.Stage)
		}
		time.Sleep(20 * time.Millisecond)
	}

	if final.Stage != discovery.StageCompleted {
		t.Fatalf("expected a completed discovery, got %s: %+v", final.Stage, final.Errors)
	}
	if final.Results == nil || final.Results.Inventory.TotalResources != 1 {
		t.Fatalf("unexpected results: %+v", final.Results)
	}

	graphResp, err := http.Get(fmt.Sprintf("%s/v1/discoveries/%s/graph", ts.URL, created.ID))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	var snapshot struct {
		Nodes []map[string]interface{} `json:"nodes"`
	}
	decode(t, graphResp, &snapshot)
	if len(snapshot.Nodes) == 0 {
		t.Fatal("expected a non-empty graph snapshot")
	}
}

func TestDiscoveryValidationRejected(t *testing.T) {
	ts := newTestServer(t, &scriptedInvoker{})

	resp := postJSON(t, ts.URL+"/v1/discoveries", map[string]interface{}{
		"connection_id": "missing",
		"layers":        []string{"inventory"},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	var d discovery.Discovery
	decode(t, resp, &d)
	if d.Stage != discovery.StageFailed || len(d.Errors) == 0 {
		t.Fatalf("the rejection must carry the failed record: %+v", d)
	}
}

func TestInvokeToolDenialMapsToForbidden(t *testing.T) {
	ts := newTestServer(t, &scriptedInvoker{deny: true})
	createConnection(t, ts.URL)

	resp := postJSON(t, ts.URL+"/v1/tools/invoke", map[string]interface{}{
		"tool_id":       "cost_discovery",
		"connection_id": "conn-1",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for a policy denial, got %d", resp.StatusCode)
	}
	var body discovery.InvokeResponse
	decode(t, resp, &body)
	if body.Error == nil || !body.Error.PolicyViolation {
		t.Fatalf("expected a policy violation payload: %+v", body)
	}
}

func TestGetUnknownDiscovery(t *testing.T) {
	ts := newTestServer(t, &scriptedInvoker{})

	resp, err := http.Get(ts.URL + "/v1/discoveries/nope")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
