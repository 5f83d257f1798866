package router

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/openscout/openscout/pkg/catalog"
	"github.com/openscout/openscout/pkg/discovery"
	"github.com/openscout/openscout/pkg/policy"
	"github.com/openscout/openscout/pkg/telemetry"
	"github.com/rs/zerolog"
)

// recordedCall captures one request the test server observed.
type recordedCall struct {
	header http.Header
	body   graphRequest
}

// scriptedServer replays a fixed sequence of responses and records every
// request it sees.
type scriptedServer struct {
	mu        sync.Mutex
	calls     []recordedCall
	responses []func(w http.ResponseWriter)
}

func (s *scriptedServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()

		var body graphRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.calls = append(s.calls, recordedCall{header: r.Header.Clone(), body: body})

		idx := len(s.calls) - 1
		if idx >= len(s.responses) {
			idx = len(s.responses) - 1
		}
		s.responses[idx](w)
	}
}

func (s *scriptedServer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *scriptedServer) call(i int) recordedCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[i]
}

func okPage(rows []map[string]interface{}, skipToken string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		_ = json.NewEncoder(w).Encode(graphResponse{
			TotalRecords: len(rows),
			Count:        len(rows),
			Data:         rows,
			SkipToken:    skipToken,
		})
	}
}

func statusPage(code int, header map[string]string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		for k, v := range header {
			w.Header().Set(k, v)
		}
		w.WriteHeader(code)
	}
}

func vmRow(n int) map[string]interface{} {
	return map[string]interface{}{
		"id":   fmt.Sprintf("/subscriptions/sub-1/providers/Microsoft.Compute/virtualMachines/vm-%d", n),
		"name": fmt.Sprintf("vm-%d", n),
		"type": "Microsoft.Compute/virtualMachines",
	}
}

func newTestRouter(t *testing.T, cfg Config, endpoint string) *Router {
	t.Helper()
	cat, err := catalog.NewSeedRegistry(zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to build catalog: %v", err)
	}
	engine := policy.NewEngine(policy.NewStore(zerolog.Nop()), zerolog.Nop())
	cfg.Endpoint = endpoint
	return NewRouter(cfg, cat, engine, zerolog.Nop())
}

func testConnection() *discovery.Connection {
	return &discovery.Connection{
		ID:              "conn-1",
		TenantID:        "tenant-1",
		SubscriptionIDs: []string{"sub-1"},
		Token:           "test-token",
		TokenExpiresAt:  time.Now().Add(time.Hour),
		RBACTier:        "inventory",
		Active:          true,
	}
}

func invokeReq(toolID string) *discovery.InvokeRequest {
	return &discovery.InvokeRequest{
		ToolID:        toolID,
		Connection:    testConnection(),
		CorrelationID: "corr-1",
		SessionID:     "sess-1",
		TraceID:       "trace-1",
	}
}

func TestInvokePaginatesAndMerges(t *testing.T) {
	srv := &scriptedServer{responses: []func(http.ResponseWriter){
		okPage([]map[string]interface{}{vmRow(1), vmRow(2)}, "page-2"),
		okPage([]map[string]interface{}{vmRow(3)}, ""),
	}}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	r := newTestRouter(t, Config{}, ts.URL)
	resp := r.Invoke(context.Background(), invokeReq("rg_inventory_discovery"))

	if resp.Status != discovery.InvokeStatusSuccess {
		t.Fatalf("expected success, got %+v", resp.Error)
	}
	if len(resp.Result.Resources) != 3 {
		t.Fatalf("expected 3 merged resources, got %d", len(resp.Result.Resources))
	}
	if resp.Metadata.Pages != 2 {
		t.Fatalf("expected 2 pages, got %d", resp.Metadata.Pages)
	}
	if resp.Result.Partial {
		t.Fatal("complete pagination must not be partial")
	}

	// The second page request resumes from the returned skip token.
	if got := srv.call(1).body.Options.SkipToken; got != "page-2" {
		t.Fatalf("expected skip token page-2 on second request, got %q", got)
	}

	// Identity propagation: bearer token and correlation headers outbound.
	h := srv.call(0).header
	if h.Get("Authorization") != "Bearer test-token" {
		t.Fatalf("missing bearer token header: %q", h.Get("Authorization"))
	}
	if h.Get("X-Correlation-ID") != "corr-1" || h.Get("X-Session-ID") != "sess-1" || h.Get("X-Trace-ID") != "trace-1" {
		t.Fatalf("correlation headers not propagated: %v", h)
	}
	if h.Get("X-Request-ID") == "" {
		t.Fatal("request ID header missing")
	}
}

func TestInvokeRetries429OnSamePage(t *testing.T) {
	srv := &scriptedServer{responses: []func(http.ResponseWriter){
		okPage([]map[string]interface{}{vmRow(1)}, "page-2"),
		statusPage(http.StatusTooManyRequests, map[string]string{"Retry-After": "0"}),
		okPage([]map[string]interface{}{vmRow(2)}, ""),
	}}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	r := newTestRouter(t, Config{}, ts.URL)
	resp := r.Invoke(context.Background(), invokeReq("rg_inventory_discovery"))

	if resp.Status != discovery.InvokeStatusSuccess {
		t.Fatalf("expected success after 429 retry, got %+v", resp.Error)
	}
	if len(resp.Result.Resources) != 2 {
		t.Fatalf("expected both pages collected, got %d resources", len(resp.Result.Resources))
	}
	if resp.Metadata.Retries != 1 {
		t.Fatalf("expected 1 retry, got %d", resp.Metadata.Retries)
	}

	// The throttled request and its retry target the same page.
	if srv.call(1).body.Options.SkipToken != "page-2" || srv.call(2).body.Options.SkipToken != "page-2" {
		t.Fatalf("retry changed the skip token: %q then %q",
			srv.call(1).body.Options.SkipToken, srv.call(2).body.Options.SkipToken)
	}
}

func TestInvokePendingToolDenied(t *testing.T) {
	srv := &scriptedServer{responses: []func(http.ResponseWriter){
		okPage(nil, ""),
	}}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	r := newTestRouter(t, Config{}, ts.URL)
	resp := r.Invoke(context.Background(), invokeReq("cost_discovery"))

	if resp.Status != discovery.InvokeStatusFailure {
		t.Fatal("pending tool must be denied")
	}
	if !resp.Error.PolicyViolation {
		t.Fatalf("expected a policy violation, got %+v", resp.Error)
	}
	if srv.callCount() != 0 {
		t.Fatalf("denied invocation must make zero network calls, made %d", srv.callCount())
	}
}

func TestInvokeUnknownToolDenied(t *testing.T) {
	srv := &scriptedServer{responses: []func(http.ResponseWriter){okPage(nil, "")}}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	r := newTestRouter(t, Config{}, ts.URL)
	resp := r.Invoke(context.Background(), invokeReq("no_such_tool"))

	if resp.Status != discovery.InvokeStatusFailure || !resp.Error.PolicyViolation {
		t.Fatalf("unknown tool must fail closed as a policy violation, got %+v", resp)
	}
	if srv.callCount() != 0 {
		t.Fatal("unknown tool must make zero network calls")
	}
}

func TestInvokeAuthFailureNotRetried(t *testing.T) {
	srv := &scriptedServer{responses: []func(http.ResponseWriter){
		statusPage(http.StatusForbidden, nil),
	}}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	r := newTestRouter(t, Config{}, ts.URL)
	resp := r.Invoke(context.Background(), invokeReq("rg_inventory_discovery"))

	if resp.Status != discovery.InvokeStatusFailure {
		t.Fatal("403 must fail the invocation")
	}
	if resp.Error.Code != "AUTH_FAILED" {
		t.Fatalf("expected AUTH_FAILED, got %s", resp.Error.Code)
	}
	if resp.Error.Retryable {
		t.Fatal("auth failures are not retryable")
	}
	if srv.callCount() != 1 {
		t.Fatalf("auth failure must not be retried, saw %d calls", srv.callCount())
	}
}

func TestInvokeServerErrorRetriedPreservingPage(t *testing.T) {
	srv := &scriptedServer{responses: []func(http.ResponseWriter){
		okPage([]map[string]interface{}{vmRow(1)}, "page-2"),
		statusPage(http.StatusBadGateway, nil),
		okPage([]map[string]interface{}{vmRow(2)}, ""),
	}}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	r := newTestRouter(t, Config{}, ts.URL)
	resp := r.Invoke(context.Background(), invokeReq("rg_inventory_discovery"))

	if resp.Status != discovery.InvokeStatusSuccess {
		t.Fatalf("expected success after 5xx retry, got %+v", resp.Error)
	}
	if len(resp.Result.Resources) != 2 {
		t.Fatalf("expected 2 resources after resumed retry, got %d", len(resp.Result.Resources))
	}
	if srv.call(2).body.Options.SkipToken != "page-2" {
		t.Fatalf("5xx retry must preserve the skip token, got %q", srv.call(2).body.Options.SkipToken)
	}
}

func TestInvokeTokenExpired(t *testing.T) {
	srv := &scriptedServer{responses: []func(http.ResponseWriter){okPage(nil, "")}}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	r := newTestRouter(t, Config{}, ts.URL)
	req := invokeReq("rg_inventory_discovery")
	req.Connection.TokenExpiresAt = time.Now().Add(-time.Minute)

	resp := r.Invoke(context.Background(), req)
	if resp.Status != discovery.InvokeStatusFailure || resp.Error.Code != "AUTH_FAILED" {
		t.Fatalf("expired token must fail with AUTH_FAILED, got %+v", resp)
	}
	if srv.callCount() != 0 {
		t.Fatal("expired token must make zero network calls")
	}
}

func TestInvokeQuotaPauseCapped(t *testing.T) {
	srv := &scriptedServer{responses: []func(http.ResponseWriter){
		func(w http.ResponseWriter) {
			w.Header().Set(quotaRemainingHeader, "1")
			w.Header().Set(quotaResetsHeader, "00:05:00")
			okPage([]map[string]interface{}{vmRow(1)}, "page-2")(w)
		},
		okPage([]map[string]interface{}{vmRow(2)}, ""),
	}}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	r := newTestRouter(t, Config{}, ts.URL)

	var pauses []time.Duration
	r.sleep = func(_ context.Context, d time.Duration) error {
		pauses = append(pauses, d)
		return nil
	}

	resp := r.Invoke(context.Background(), invokeReq("rg_inventory_discovery"))
	if resp.Status != discovery.InvokeStatusSuccess {
		t.Fatalf("expected success, got %+v", resp.Error)
	}
	if len(resp.Result.Resources) != 2 {
		t.Fatalf("expected both pages collected, got %d resources", len(resp.Result.Resources))
	}
	if len(pauses) != 1 || pauses[0] != maxQuotaPause {
		t.Fatalf("expected one pause capped at %v before page 2, got %v", maxQuotaPause, pauses)
	}
}

func TestInvokeFinalPageNeverPauses(t *testing.T) {
	srv := &scriptedServer{responses: []func(http.ResponseWriter){
		func(w http.ResponseWriter) {
			w.Header().Set(quotaRemainingHeader, "0")
			w.Header().Set(quotaResetsHeader, "00:05:00")
			okPage([]map[string]interface{}{vmRow(1)}, "")(w)
		},
	}}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	r := newTestRouter(t, Config{}, ts.URL)

	var pauses []time.Duration
	r.sleep = func(_ context.Context, d time.Duration) error {
		pauses = append(pauses, d)
		return nil
	}

	resp := r.Invoke(context.Background(), invokeReq("rg_inventory_discovery"))
	if resp.Status != discovery.InvokeStatusSuccess {
		t.Fatalf("expected success, got %+v", resp.Error)
	}
	// Low quota on the last page is moot; there is no next request to protect.
	if len(pauses) != 0 {
		t.Fatalf("final page must not pause, got %v", pauses)
	}
}

func TestInvokeWaitsOutRetryAfter(t *testing.T) {
	srv := &scriptedServer{responses: []func(http.ResponseWriter){
		okPage([]map[string]interface{}{vmRow(1)}, "page-2"),
		statusPage(http.StatusTooManyRequests, map[string]string{"Retry-After": "7"}),
		okPage([]map[string]interface{}{vmRow(2)}, ""),
	}}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	r := newTestRouter(t, Config{}, ts.URL)

	var waits []time.Duration
	r.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	resp := r.Invoke(context.Background(), invokeReq("rg_inventory_discovery"))
	if resp.Status != discovery.InvokeStatusSuccess {
		t.Fatalf("expected success after throttled retry, got %+v", resp.Error)
	}
	if len(waits) != 1 || waits[0] != 7*time.Second {
		t.Fatalf("expected a single 7s Retry-After wait, got %v", waits)
	}
	if srv.call(2).body.Options.SkipToken != "page-2" {
		t.Fatalf("throttled retry must resume the same page, got %q", srv.call(2).body.Options.SkipToken)
	}
}

func TestInvokeThrottleDefaultDelay(t *testing.T) {
	srv := &scriptedServer{responses: []func(http.ResponseWriter){
		statusPage(http.StatusTooManyRequests, nil),
		okPage([]map[string]interface{}{vmRow(1)}, ""),
	}}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	r := newTestRouter(t, Config{}, ts.URL)

	var waits []time.Duration
	r.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	resp := r.Invoke(context.Background(), invokeReq("rg_inventory_discovery"))
	if resp.Status != discovery.InvokeStatusSuccess {
		t.Fatalf("expected success, got %+v", resp.Error)
	}
	// No Retry-After header: the standing default applies.
	if len(waits) != 1 || waits[0] != defaultRetryAfter {
		t.Fatalf("expected a single %v default wait, got %v", defaultRetryAfter, waits)
	}
}

func TestInvokePageCapMarksPartial(t *testing.T) {
	srv := &scriptedServer{responses: []func(http.ResponseWriter){
		okPage([]map[string]interface{}{vmRow(1)}, "more-1"),
		okPage([]map[string]interface{}{vmRow(2)}, "more-2"),
		okPage([]map[string]interface{}{vmRow(3)}, "more-3"),
	}}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	r := newTestRouter(t, Config{MaxPages: 2}, ts.URL)
	resp := r.Invoke(context.Background(), invokeReq("rg_inventory_discovery"))

	if resp.Status != discovery.InvokeStatusSuccess {
		t.Fatalf("hitting the page cap is not a failure, got %+v", resp.Error)
	}
	if !resp.Result.Partial {
		t.Fatal("page cap must mark the collection partial")
	}
	if resp.Metadata.Pages != 2 {
		t.Fatalf("expected collection to stop at 2 pages, got %d", resp.Metadata.Pages)
	}
}

func TestInvokeChunksSubscriptions(t *testing.T) {
	srv := &scriptedServer{responses: []func(http.ResponseWriter){
		okPage([]map[string]interface{}{vmRow(1)}, ""),
		okPage([]map[string]interface{}{vmRow(2)}, ""),
		okPage([]map[string]interface{}{vmRow(2)}, ""), // duplicate across chunks
	}}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	r := newTestRouter(t, Config{MaxSubscriptionsPerCall: 2}, ts.URL)
	req := invokeReq("rg_inventory_discovery")
	req.Connection.SubscriptionIDs = []string{"sub-1", "sub-2", "sub-3", "sub-4", "sub-5"}

	resp := r.Invoke(context.Background(), req)
	if resp.Status != discovery.InvokeStatusSuccess {
		t.Fatalf("expected success, got %+v", resp.Error)
	}

	if srv.callCount() != 3 {
		t.Fatalf("expected 3 chunked calls, got %d", srv.callCount())
	}
	wantChunks := [][]string{
		{"sub-1", "sub-2"},
		{"sub-3", "sub-4"},
		{"sub-5"},
	}
	for i, want := range wantChunks {
		got := srv.call(i).body.Subscriptions
		if len(got) != len(want) {
			t.Fatalf("chunk %d: expected %v, got %v", i, want, got)
		}
		for j := range want {
			if got[j] != want[j] {
				t.Fatalf("chunk %d: expected %v, got %v", i, want, got)
			}
		}
	}

	// Rows repeated across chunks collapse in the merged collection.
	if len(resp.Result.Resources) != 2 {
		t.Fatalf("expected cross-chunk dedup to 2 resources, got %d", len(resp.Result.Resources))
	}
}

func TestInvokeWithTracerAttached(t *testing.T) {
	srv := &scriptedServer{responses: []func(http.ResponseWriter){
		okPage([]map[string]interface{}{vmRow(1)}, "page-2"),
		okPage([]map[string]interface{}{vmRow(2)}, ""),
	}}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	tracer, err := telemetry.NewTracer(telemetry.TracingConfig{}, "scout-test", "test", "test")
	if err != nil {
		t.Fatalf("failed to build tracer: %v", err)
	}
	r := newTestRouter(t, Config{}, ts.URL).WithTelemetry(nil, nil, tracer)

	resp := r.Invoke(context.Background(), invokeReq("rg_inventory_discovery"))
	if resp.Status != discovery.InvokeStatusSuccess {
		t.Fatalf("expected success with tracing attached, got %+v", resp.Error)
	}
	if resp.Metadata.Pages != 2 {
		t.Fatalf("expected 2 pages, got %d", resp.Metadata.Pages)
	}
}

func TestRenderTemplate(t *testing.T) {
	got := renderTemplate("resources | where subscriptionId == '{sub}'", map[string]string{"sub": "sub-9"})
	want := "resources | where subscriptionId == 'sub-9'"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}

	// Unmatched placeholders stay verbatim.
	got = renderTemplate("resources | project {cols}", map[string]string{"sub": "x"})
	if got != "resources | project {cols}" {
		t.Fatalf("unexpected rendering: %q", got)
	}
}
