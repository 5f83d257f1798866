package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/google/uuid"
	"github.com/openscout/openscout/pkg/catalog"
	"github.com/openscout/openscout/pkg/discovery"
	"github.com/openscout/openscout/pkg/policy"
	"github.com/openscout/openscout/pkg/telemetry"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const (
	resourceGraphPath = "/providers/Microsoft.ResourceGraph/resources"
	apiVersion        = "2021-03-01"

	// maxResponseBytes bounds how much of a page response is read.
	maxResponseBytes = 64 << 20
)

// Config holds the router's tunables. Zero values take the standard defaults.
type Config struct {
	// DefaultPolicyID is the policy bound to invocations that carry none.
	DefaultPolicyID string

	// RequestTimeout bounds each individual page request.
	RequestTimeout time.Duration

	// PageSize is the requested page size.
	PageSize int

	// MaxPages is the safety cap on pages per subscription chunk. Hitting
	// it marks the collection partial instead of failing it.
	MaxPages int

	// MaxSubscriptionsPerCall caps the subscriptions named in one call;
	// larger scopes are chunked and merged in order.
	MaxSubscriptionsPerCall int

	// RatePerSecond and RateBurst configure the client-side rate limiter.
	RatePerSecond float64
	RateBurst     int

	// Endpoint overrides the target base URL. Empty targets the tool's
	// domain over HTTPS; tests point this at a local server.
	Endpoint string
}

func (c *Config) applyDefaults() {
	if c.DefaultPolicyID == "" {
		c.DefaultPolicyID = policy.DefaultPolicyID
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.PageSize <= 0 {
		c.PageSize = 1000
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 100
	}
	if c.MaxSubscriptionsPerCall <= 0 {
		c.MaxSubscriptionsPerCall = 1000
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 25
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 10
	}
}

// Router is the governed execution boundary. It implements
// discovery.ToolInvoker.
type Router struct {
	cfg      Config
	catalog  *catalog.Registry
	policies *policy.Engine
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
	metrics  *telemetry.Metrics
	events   *telemetry.EventPublisher
	tracer   *telemetry.Tracer
	logger   zerolog.Logger

	// sleep is the pause primitive; swapped in tests to observe throttle
	// behavior without waiting it out.
	sleep func(context.Context, time.Duration) error
}

// NewRouter creates a router over the given catalog and policy engine.
func NewRouter(cfg Config, cat *catalog.Registry, policies *policy.Engine, logger zerolog.Logger) *Router {
	cfg.applyDefaults()

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "resource-graph",
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	return &Router{
		cfg:      cfg,
		catalog:  cat,
		policies: policies,
		client:   &http.Client{Timeout: cfg.RequestTimeout},
		breaker:  breaker,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RateBurst),
		logger:   logger.With().Str("component", "router").Logger(),
		sleep:    sleepContext,
	}
}

// WithTelemetry attaches metrics, event publishing and tracing to the router.
func (r *Router) WithTelemetry(metrics *telemetry.Metrics, events *telemetry.EventPublisher, tracer *telemetry.Tracer) *Router {
	r.metrics = metrics
	r.events = events
	r.tracer = tracer
	return r
}

// invokeState accumulates the observable outcome of one invocation.
type invokeState struct {
	pages      int
	retries    int
	lastStatus int
	requestID  string
}

// graphRequest is the wire shape of one page request.
type graphRequest struct {
	Subscriptions []string     `json:"subscriptions"`
	Query         string       `json:"query"`
	Options       graphOptions `json:"options"`
}

type graphOptions struct {
	Top          int    `json:"$top,omitempty"`
	SkipToken    string `json:"$skipToken,omitempty"`
	ResultFormat string `json:"resultFormat"`
}

// graphResponse is the wire shape of one page response.
type graphResponse struct {
	TotalRecords int                      `json:"totalRecords"`
	Count        int                      `json:"count"`
	Data         []map[string]interface{} `json:"data"`
	SkipToken    string                   `json:"$skipToken"`
}

type pageResult struct {
	graphResponse
	header http.Header
}

// Invoke executes one governed tool invocation. It never returns a Go
// error: policy denials, auth failures, throttling and upstream errors all
// surface as a structured failure response, so a failing tool cannot crash
// the layer that invoked it. The bearer token is read from the connection
// at call time and placed only on the outbound Authorization header.
func (r *Router) Invoke(ctx context.Context, req *discovery.InvokeRequest) *discovery.InvokeResponse {
	if r.tracer == nil {
		return r.invoke(ctx, req)
	}

	ctx, span := r.tracer.StartToolSpan(ctx, req.ToolID)
	defer span.End()

	resp := r.invoke(ctx, req)
	if resp.Status == discovery.InvokeStatusSuccess {
		telemetry.RecordSuccess(span)
	} else if resp.Error != nil {
		telemetry.RecordError(span, errors.New(resp.Error.Message))
		telemetry.SetAttributes(span, telemetry.AttrErrorCode.String(resp.Error.Code))
	}
	return resp
}

func (r *Router) invoke(ctx context.Context, req *discovery.InvokeRequest) *discovery.InvokeResponse {
	start := time.Now()
	state := &invokeState{}

	log := r.logger.With().
		Str("tool_id", req.ToolID).
		Str("correlation_id", req.CorrelationID).
		Str("trace_id", req.TraceID).
		Str("session_id", req.SessionID).
		Logger()

	policyID := req.PolicyID
	if policyID == "" {
		policyID = r.cfg.DefaultPolicyID
	}

	tool, ok := r.catalog.Get(req.ToolID)
	if !ok {
		// Unknown tool is a missing binding, not a lookup error: the
		// boundary fails closed.
		d := policy.Deny(policy.RuleMissingBinding,
			fmt.Sprintf("tool %s is not in the catalog", req.ToolID))
		r.recordDenial(req.ToolID, d)
		log.Warn().Str("rule", d.Rule).Msg("Invocation denied")
		return r.failure(discovery.NewPolicyViolation(d.Rule, d.Message), state, start)
	}

	if req.Connection == nil || req.Connection.Token == "" {
		return r.failure(discovery.NewAuthError("invocation has no usable connection", nil), state, start)
	}
	if req.Connection.TokenExpired(time.Now()) {
		return r.failure(discovery.NewAuthError("connection bearer token has expired", nil), state, start)
	}

	query := renderTemplate(tool.QueryTemplate, req.Args)

	subscriptions := req.Subscriptions
	if len(subscriptions) == 0 {
		subscriptions = req.Connection.SubscriptionIDs
	}

	var rows []map[string]interface{}
	partial := false
	for _, chunk := range chunkSubscriptions(subscriptions, r.cfg.MaxSubscriptionsPerCall) {
		chunkRows, chunkPartial, err := r.collectChunk(ctx, log, tool, policyID, req, query, chunk, state)
		if err != nil {
			log.Error().Err(err).Int("pages", state.pages).Msg("Tool invocation failed")
			return r.failure(err, state, start)
		}
		rows = append(rows, chunkRows...)
		partial = partial || chunkPartial
	}

	collection := normalize(req.ToolID, rows, partial)
	if r.metrics != nil {
		r.metrics.RecordRowsCollected(req.ToolID, collection.TotalRecords)
		r.metrics.RecordToolInvocation(req.ToolID, "success", time.Since(start))
	}
	log.Info().
		Int("records", collection.TotalRecords).
		Int("pages", state.pages).
		Int("retries", state.retries).
		Bool("partial", partial).
		Msg("Tool invocation completed")

	return &discovery.InvokeResponse{
		Status:   discovery.InvokeStatusSuccess,
		Result:   collection,
		Metadata: r.metadata(state, start),
	}
}

// collectChunk pages through one subscription chunk. A retried page resumes
// from the same skip token; only a fully fetched page advances it.
func (r *Router) collectChunk(ctx context.Context, log zerolog.Logger, tool *catalog.Tool, policyID string, req *discovery.InvokeRequest, query string, subscriptions []string, state *invokeState) ([]map[string]interface{}, bool, error) {
	var rows []map[string]interface{}
	skipToken := ""

	for page := 1; ; page++ {
		pageCtx := ctx
		var span trace.Span
		if r.tracer != nil {
			pageCtx, span = r.tracer.StartPageSpan(ctx, tool.ID, page)
		}
		result, err := r.fetchPage(pageCtx, tool, policyID, req, query, subscriptions, skipToken, state)
		if span != nil {
			if err != nil {
				telemetry.RecordError(span, err)
			} else {
				telemetry.RecordSuccess(span)
			}
			span.End()
		}
		if err != nil {
			return nil, false, err
		}

		rows = append(rows, result.Data...)
		state.pages++
		if r.metrics != nil {
			r.metrics.RecordPage(tool.ID)
		}

		if result.SkipToken == "" {
			return rows, false, nil
		}
		if page >= r.cfg.MaxPages {
			log.Warn().Int("pages", page).Msg("Page safety cap reached; marking collection partial")
			return rows, true, nil
		}

		// Proactive throttle: another page is coming, so when the quota
		// headers say the budget is nearly gone, pause now instead of
		// getting a 429 for it. The final page never pauses.
		if pause, ok := quotaPause(result.header); ok {
			log.Warn().Dur("pause", pause).Int("page", page).Msg("Quota nearly exhausted; pausing before next page")
			if r.metrics != nil {
				r.metrics.RecordThrottlePause(pause)
			}
			if r.events != nil {
				_ = r.events.PublishThrottlePause(tool.ID, pause)
			}
			if err := r.sleep(ctx, pause); err != nil {
				return nil, false, discovery.NewServerError("interrupted while honoring quota pause", err)
			}
		}

		skipToken = result.SkipToken
	}
}

// fetchPage requests one page, retrying within the policy's budget. A 429
// waits out the service's Retry-After instead of the backoff delay and
// resumes the same page; the skip token is untouched by retries.
func (r *Router) fetchPage(ctx context.Context, tool *catalog.Tool, policyID string, req *discovery.InvokeRequest, query string, subscriptions []string, skipToken string, state *invokeState) (*pageResult, error) {
	payload, err := json.Marshal(graphRequest{
		Subscriptions: subscriptions,
		Query:         query,
		Options: graphOptions{
			Top:          r.cfg.PageSize,
			SkipToken:    skipToken,
			ResultFormat: "objectArray",
		},
	})
	if err != nil {
		return nil, discovery.NewValidationError("failed to serialize page request", err)
	}

	budget := 0
	if pol, ok := r.policies.Lookup(policyID); ok {
		budget = pol.MaxRetries
	}

	var result *pageResult
	attempt := -1

	retryer := retry.New(
		retry.Context(ctx),
		retry.Attempts(uint(budget)+1),
		retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
			var tErr *ThrottleError
			if errors.As(err, &tErr) {
				// The Retry-After wait already ran through r.sleep.
				return 0
			}
			return retry.BackOffDelay(n, err, config)
		}),
	)

	doErr := retryer.Do(func() error {
		attempt++
		if attempt > 0 {
			state.retries++
			if r.metrics != nil {
				r.metrics.RecordRetry(tool.ID)
			}
		}

		// The full rule set runs before every attempt; the retry budget
		// rule sees the spent attempts.
		decision := r.policies.Evaluate(tool, policyID, int64(len(payload)), req.Attempt+attempt)
		if !decision.Allowed {
			r.recordDenial(tool.ID, decision)
			return retry.Unrecoverable(discovery.NewPolicyViolation(decision.Rule, decision.Message))
		}

		res, err := r.doRequest(ctx, tool, req, payload, state)
		if err != nil {
			var tErr *ThrottleError
			if errors.As(err, &tErr) {
				if sleepErr := r.sleep(ctx, tErr.RetryAfter); sleepErr != nil {
					return retry.Unrecoverable(
						discovery.NewServerError("interrupted while honoring Retry-After", sleepErr))
				}
				return err
			}
			if !discovery.IsRetryable(err) {
				return retry.Unrecoverable(err)
			}
			return err
		}
		result = res
		return nil
	})
	if doErr != nil {
		return nil, asStructured(doErr)
	}
	return result, nil
}

// doRequest performs one HTTP attempt through the rate limiter and circuit
// breaker, classifying the response status into the error taxonomy.
func (r *Router) doRequest(ctx context.Context, tool *catalog.Tool, req *discovery.InvokeRequest, payload []byte, state *invokeState) (*pageResult, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, discovery.NewServerError("rate limiter interrupted", err)
	}

	requestID := uuid.New().String()
	state.requestID = requestID

	out, err := r.breaker.Execute(func() (interface{}, error) {
		reqCtx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
		defer cancel()

		httpReq, err := http.NewRequestWithContext(reqCtx, tool.Method, r.endpoint(tool), bytes.NewReader(payload))
		if err != nil {
			return nil, discovery.NewValidationError("failed to build page request", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+req.Connection.Token)
		httpReq.Header.Set("X-Correlation-ID", req.CorrelationID)
		httpReq.Header.Set("X-Session-ID", req.SessionID)
		httpReq.Header.Set("X-Trace-ID", req.TraceID)
		httpReq.Header.Set("X-Request-ID", requestID)

		resp, err := r.client.Do(httpReq)
		if err != nil {
			return nil, discovery.NewServerError("page request failed", err)
		}
		defer resp.Body.Close()
		state.lastStatus = resp.StatusCode

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, discovery.NewServerError("failed to read page response", err)
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			var gr graphResponse
			if err := json.Unmarshal(body, &gr); err != nil {
				return nil, discovery.NewServerError("failed to decode page response", err)
			}
			return &pageResult{graphResponse: gr, header: resp.Header}, nil

		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, &ThrottleError{
				RetryAfter: retryAfterDelay(resp.Header),
				Cause:      discovery.NewRateLimited("upstream throttled the page request", nil),
			}

		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return nil, discovery.NewAuthError(
				fmt.Sprintf("upstream rejected the call with status %d", resp.StatusCode), nil)

		case resp.StatusCode == http.StatusNotFound:
			return nil, discovery.NewNotFoundError("target path does not exist upstream", nil)

		case resp.StatusCode >= 500:
			return nil, discovery.NewServerError(
				fmt.Sprintf("upstream returned status %d", resp.StatusCode), nil)

		default:
			return nil, discovery.NewValidationError(
				fmt.Sprintf("upstream returned status %d", resp.StatusCode), nil)
		}
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, discovery.NewServerError("circuit breaker rejected the call", err)
		}
		return nil, err
	}
	return out.(*pageResult), nil
}

// endpoint returns the target URL for a tool invocation.
func (r *Router) endpoint(tool *catalog.Tool) string {
	if r.cfg.Endpoint != "" {
		return r.cfg.Endpoint
	}
	return "https://" + tool.Domain + resourceGraphPath + "?api-version=" + apiVersion
}

func (r *Router) failure(err error, state *invokeState, start time.Time) *discovery.InvokeResponse {
	derr := discovery.AsError(err)
	if r.metrics != nil {
		r.metrics.RecordToolInvocation(derr.Tool, "failed", time.Since(start))
		r.metrics.RecordError(string(derr.Class), derr.Code)
	}
	return &discovery.InvokeResponse{
		Status:   discovery.InvokeStatusFailure,
		Error:    derr.Detail(),
		Metadata: r.metadata(state, start),
	}
}

func (r *Router) metadata(state *invokeState, start time.Time) discovery.CallMetadata {
	return discovery.CallMetadata{
		LatencyMs:  time.Since(start).Milliseconds(),
		StatusCode: state.lastStatus,
		RequestID:  state.requestID,
		Pages:      state.pages,
		Retries:    state.retries,
	}
}

func (r *Router) recordDenial(toolID string, d policy.Decision) {
	if r.metrics != nil {
		r.metrics.RecordPolicyDenial(d.Rule)
	}
	if r.events != nil {
		_ = r.events.PublishPolicyDenial(toolID, d.Rule, d.Message)
	}
}

// asStructured converts whatever the retry loop surfaced into the error
// taxonomy. Exhausted throttle retries become a rate-limited error.
func asStructured(err error) error {
	var tErr *ThrottleError
	if errors.As(err, &tErr) {
		return discovery.NewRateLimited("retry budget exhausted while throttled", tErr)
	}
	var dErr *discovery.Error
	if errors.As(err, &dErr) {
		return dErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return discovery.NewServerError("page request cancelled", err)
	}
	return discovery.NewServerError("page request failed", err)
}

// renderTemplate substitutes {name} placeholders from args. Placeholders
// without a matching arg are left verbatim; the template is opaque to the
// router beyond substitution.
func renderTemplate(template string, args map[string]string) string {
	if len(args) == 0 {
		return template
	}
	out := template
	for k, v := range args {
		out = strings.ReplaceAll(out, "{"+k+"}", v)
	}
	return out
}

// chunkSubscriptions splits the scope into call-sized chunks, preserving
// order.
func chunkSubscriptions(subs []string, size int) [][]string {
	if len(subs) == 0 {
		// A scopeless call still makes exactly one request.
		return [][]string{nil}
	}
	var chunks [][]string
	for start := 0; start < len(subs); start += size {
		end := start + size
		if end > len(subs) {
			end = len(subs)
		}
		chunks = append(chunks, subs[start:end])
	}
	return chunks
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
