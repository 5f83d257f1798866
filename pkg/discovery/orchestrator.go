package discovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/openscout/openscout/pkg/telemetry"
)

// Deps wires the orchestrator's collaborators. Every outbound concern sits
// behind an interface: the orchestrator itself never calls the remote API,
// reads credentials, or touches storage internals.
type Deps struct {
	Store    Store
	Invoker  ToolInvoker
	Layers   LayerResolver
	Analyzer Analyzer
	Graphs   GraphBuilder
	Tokens   TokenSource
	Metrics  *telemetry.Metrics
	Events   *telemetry.EventPublisher
	Tracer   *telemetry.Tracer
}

// Orchestrator drives a discovery run through its stages:
// Validate -> Collect -> Analyze -> Aggregate -> Persist.
//
// Failure isolation is per tool within a layer: a layer fails only when every
// one of its tools fails, and layers depending on a failed or skipped layer
// are skipped transitively. A validation failure rejects the run before any
// outbound call is made.
type Orchestrator struct {
	deps     Deps
	validate *validator.Validate
	logger   zerolog.Logger
	now      func() time.Time
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(deps Deps, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		deps:     deps,
		validate: validator.New(),
		logger:   logger.With().Str("component", "orchestrator").Logger(),
		now:      time.Now,
	}
}

// Start validates a run request and persists the created discovery record.
// On validation failure the record is persisted in the failed stage with the
// rejection attached and the error returned; no outbound call is made either
// way. A successful Start leaves the record in the collecting stage, ready
// for Execute.
func (o *Orchestrator) Start(ctx context.Context, req *RunRequest) (*Discovery, error) {
	d := &Discovery{
		ID:              uuid.New().String(),
		ConnectionID:    req.ConnectionID,
		Stage:           StageValidating,
		LayersRequested: append([]string(nil), req.Layers...),
		CorrelationID:   req.CorrelationID,
		TraceID:         req.TraceID,
		SessionID:       req.SessionID,
		CreatedAt:       o.now().UTC(),
	}
	if d.CorrelationID == "" {
		d.CorrelationID = uuid.New().String()
	}

	if err := o.runValidation(ctx, req, d); err != nil {
		cause := AsError(err)
		d.Errors = append(d.Errors, *cause.Detail())
		d.Stage = StageFailed
		completed := o.now().UTC()
		d.CompletedAt = &completed
		if createErr := o.deps.Store.CreateDiscovery(ctx, d); createErr != nil {
			o.logger.Error().Err(createErr).Str("discovery_id", d.ID).
				Msg("Failed to persist rejected discovery")
		}
		if o.deps.Events != nil {
			o.deps.Events.PublishDiscoveryFailed(d.ID, cause.Message)
		}
		if o.deps.Metrics != nil {
			o.deps.Metrics.RecordError(string(cause.Class), cause.Code)
		}
		o.logger.Warn().Err(cause).
			Str("discovery_id", d.ID).
			Str("connection_id", d.ConnectionID).
			Str("correlation_id", d.CorrelationID).
			Msg("Discovery rejected at validation")
		return d, cause
	}

	d.Stage = StageCollecting
	if err := o.deps.Store.CreateDiscovery(ctx, d); err != nil {
		return nil, fmt.Errorf("failed to persist discovery record: %w", err)
	}

	o.logger.Info().
		Str("discovery_id", d.ID).
		Str("connection_id", d.ConnectionID).
		Str("correlation_id", d.CorrelationID).
		Strs("layers_resolved", d.LayersResolved).
		Msg("Discovery validated")
	return d, nil
}

// runValidation performs the validate stage checks in order: request shape,
// connection existence and state, scope, token, layer resolution and tier
// authorization. The plan is built only when every check passes.
func (o *Orchestrator) runValidation(ctx context.Context, req *RunRequest, d *Discovery) error {
	if err := o.validate.Struct(req); err != nil {
		return NewValidationError("invalid run request", err)
	}

	conn, err := o.deps.Store.GetConnection(ctx, req.ConnectionID)
	if err != nil {
		return NewValidationError(fmt.Sprintf("unknown connection: %s", req.ConnectionID), err)
	}
	if !conn.Active {
		return NewValidationError(fmt.Sprintf("connection %s is inactive", conn.ID), nil)
	}

	if req.TenantID != "" && req.TenantID != conn.TenantID {
		return NewValidationError(
			fmt.Sprintf("tenant %s is outside the connection's scope", req.TenantID), nil)
	}
	if req.SubscriptionID != "" && !conn.HasSubscription(req.SubscriptionID) {
		return NewValidationError(
			fmt.Sprintf("subscription %s is outside the connection's scope", req.SubscriptionID), nil)
	}

	_, expiresAt, err := o.deps.Tokens.Token(ctx, conn.ID)
	if err != nil {
		return AsError(err)
	}
	if !expiresAt.IsZero() && !o.now().Before(expiresAt) {
		return NewAuthError("connection token has expired", nil)
	}

	resolved, err := o.deps.Layers.Resolve(req.Layers)
	if err != nil {
		return AsError(err)
	}
	if err := o.deps.Layers.Authorize(conn.RBACTier, resolved); err != nil {
		return AsError(err)
	}

	d.LayersResolved = resolved
	d.Plan = o.buildPlan(req.Layers, resolved)
	return nil
}

// buildPlan maps the resolved layer sequence into plan entries, marking the
// layers pulled in by dependency closure rather than requested directly.
func (o *Orchestrator) buildPlan(requested, resolved []string) []LayerPlan {
	asked := make(map[string]bool, len(requested))
	for _, id := range requested {
		asked[id] = true
	}

	plan := make([]LayerPlan, 0, len(resolved))
	for _, id := range resolved {
		info, ok := o.deps.Layers.Info(id)
		if !ok {
			continue
		}
		plan = append(plan, LayerPlan{
			LayerID:      id,
			LayerNumber:  info.Number,
			Label:        info.Label,
			Status:       LayerStatusPending,
			AutoResolved: !asked[id],
			Tools:        []ToolRun{},
		})
	}
	return plan
}

// Execute runs the remaining stages of a validated discovery and returns the
// final record. Executing a terminal discovery is rejected; the record is
// immutable once completed or failed.
func (o *Orchestrator) Execute(ctx context.Context, discoveryID string) (*Discovery, error) {
	d, err := o.deps.Store.GetDiscovery(ctx, discoveryID)
	if err != nil {
		return nil, fmt.Errorf("failed to load discovery %s: %w", discoveryID, err)
	}
	if d.Stage.IsTerminal() {
		return d, NewValidationError(
			fmt.Sprintf("discovery %s already reached stage %s", d.ID, d.Stage), nil)
	}

	if o.deps.Tracer != nil {
		var span trace.Span
		ctx, span = o.deps.Tracer.StartDiscoverySpan(ctx, d.ID, d.CorrelationID)
		defer func() {
			if d.Stage == StageFailed {
				telemetry.RecordError(span, fmt.Errorf("discovery %s failed", d.ID))
			} else {
				telemetry.RecordSuccess(span)
			}
			span.End()
		}()
	}

	conn, err := o.deps.Store.GetConnection(ctx, d.ConnectionID)
	if err != nil {
		return d, o.fail(ctx, d, NewValidationError(
			fmt.Sprintf("unknown connection: %s", d.ConnectionID), err))
	}
	token, expiresAt, err := o.deps.Tokens.Token(ctx, conn.ID)
	if err != nil {
		return d, o.fail(ctx, d, AsError(err))
	}
	// The token lives on the in-memory connection only for the duration of
	// this run; it is excluded from every serialized form.
	conn.Token = token
	conn.TokenExpiresAt = expiresAt

	start := o.now()
	if o.deps.Metrics != nil {
		o.deps.Metrics.RecordDiscoveryStarted()
	}
	if o.deps.Events != nil {
		o.deps.Events.PublishDiscoveryStarted(d.ID, d.ConnectionID, d.LayersResolved)
	}

	perLayer := o.collect(ctx, d, conn)

	d.Stage = StageAnalyzing
	o.save(ctx, d)
	o.analyze(d, perLayer)

	d.Stage = StageAggregating
	o.save(ctx, d)
	d.Results = Aggregate(perLayer)

	o.buildGraph(ctx, d)

	d.Stage = StagePersisting
	completedLayers := 0
	for i := range d.Plan {
		if d.Plan[i].Status == LayerStatusCompleted {
			completedLayers++
		}
	}
	finished := o.now().UTC()
	d.CompletedAt = &finished
	if completedLayers == 0 && len(d.Plan) > 0 {
		d.Stage = StageFailed
	} else {
		d.Stage = StageCompleted
	}
	if err := o.deps.Store.SaveDiscovery(ctx, d); err != nil {
		return d, fmt.Errorf("failed to persist discovery results: %w", err)
	}

	duration := o.now().Sub(start)
	if o.deps.Metrics != nil {
		o.deps.Metrics.RecordDiscoveryCompleted(string(d.Stage), duration)
	}
	if o.deps.Events != nil {
		if d.Stage == StageFailed {
			o.deps.Events.PublishDiscoveryFailed(d.ID, "every layer failed or was skipped")
		} else {
			o.deps.Events.PublishDiscoveryCompleted(d.ID, string(d.Stage), duration)
		}
	}

	o.logger.Info().
		Str("discovery_id", d.ID).
		Str("stage", string(d.Stage)).
		Str("correlation_id", d.CorrelationID).
		Int("resources", d.Results.Inventory.TotalResources).
		Int("errors", len(d.Errors)).
		Dur("duration", duration).
		Msg("Discovery finished")
	return d, nil
}

// Run starts a discovery and executes it synchronously.
func (o *Orchestrator) Run(ctx context.Context, req *RunRequest) (*Discovery, error) {
	d, err := o.Start(ctx, req)
	if err != nil {
		return d, err
	}
	return o.Execute(ctx, d.ID)
}

// collect runs the collect stage over the plan in order, skipping layers
// whose dependencies did not complete and persisting progress after each
// layer.
func (o *Orchestrator) collect(ctx context.Context, d *Discovery, conn *Connection) map[string][]*Collection {
	perLayer := make(map[string][]*Collection, len(d.Plan))
	blocked := make(map[string]bool)

	for i := range d.Plan {
		entry := &d.Plan[i]
		info, ok := o.deps.Layers.Info(entry.LayerID)
		if !ok {
			entry.Status = LayerStatusFailed
			entry.Reason = "layer definition missing"
			blocked[entry.LayerID] = true
			continue
		}

		if dep := firstBlocked(info.DependsOn, blocked); dep != "" {
			entry.Status = LayerStatusSkipped
			entry.Reason = fmt.Sprintf("dependency %s did not complete", dep)
			blocked[entry.LayerID] = true
			if o.deps.Events != nil {
				o.deps.Events.PublishLayerSkipped(d.ID, entry.LayerID, dep)
			}
			o.logger.Warn().
				Str("discovery_id", d.ID).
				Str("layer_id", entry.LayerID).
				Str("failed_dependency", dep).
				Msg("Layer skipped")
			o.save(ctx, d)
			continue
		}

		o.runLayer(ctx, d, entry, info, conn, perLayer)
		if entry.Status != LayerStatusCompleted {
			blocked[entry.LayerID] = true
		}
		o.save(ctx, d)
	}
	return perLayer
}

// runLayer invokes every tool of a layer sequentially. A layer fails only
// when all of its tools fail; a subset failing marks the run partial instead.
func (o *Orchestrator) runLayer(ctx context.Context, d *Discovery, entry *LayerPlan, info *LayerInfo, conn *Connection, perLayer map[string][]*Collection) {
	entry.Status = LayerStatusRunning
	layerStart := o.now()
	if o.deps.Tracer != nil {
		var span trace.Span
		ctx, span = o.deps.Tracer.StartLayerSpan(ctx, d.ID, entry.LayerID)
		defer func() {
			if entry.Status == LayerStatusFailed {
				telemetry.RecordError(span, errors.New(entry.Reason))
			} else {
				telemetry.RecordSuccess(span)
			}
			span.End()
		}()
	}
	if o.deps.Events != nil {
		o.deps.Events.PublishLayerStarted(d.ID, entry.LayerID)
	}

	succeeded := 0
	for _, toolID := range info.Tools {
		run := o.runTool(ctx, d, entry.LayerID, toolID, conn, perLayer)
		entry.Tools = append(entry.Tools, run)
		if run.Status == InvokeStatusSuccess {
			succeeded++
		}
	}

	duration := o.now().Sub(layerStart)
	if len(info.Tools) > 0 && succeeded == 0 {
		entry.Status = LayerStatusFailed
		entry.Reason = "every collection tool failed"
		if o.deps.Events != nil {
			o.deps.Events.PublishLayerFailed(d.ID, entry.LayerID, entry.Reason)
		}
	} else {
		entry.Status = LayerStatusCompleted
		if succeeded < len(info.Tools) {
			detail := NewPartialFailure(
				fmt.Sprintf("%d of %d tools failed", len(info.Tools)-succeeded, len(info.Tools))).
				WithLayer(entry.LayerID).Detail()
			d.Errors = append(d.Errors, *detail)
		}
		if o.deps.Events != nil {
			o.deps.Events.PublishLayerCompleted(d.ID, entry.LayerID, string(entry.Status), duration)
		}
	}
	if o.deps.Metrics != nil {
		o.deps.Metrics.RecordLayerExecution(entry.LayerID, string(entry.Status), duration)
	}
}

// runTool performs one governed invocation, recording its outcome on the
// plan and any failure on the run. Token expiry is checked before every call;
// an expired token never leaves the process.
func (o *Orchestrator) runTool(ctx context.Context, d *Discovery, layerID, toolID string, conn *Connection, perLayer map[string][]*Collection) ToolRun {
	if conn.TokenExpired(o.now()) {
		detail := NewAuthError("token expired before invocation", nil).
			WithLayer(layerID).WithTool(toolID).Detail()
		d.Errors = append(d.Errors, *detail)
		return ToolRun{ToolID: toolID, Status: InvokeStatusFailure, Error: detail}
	}

	start := o.now()
	resp := o.deps.Invoker.Invoke(ctx, &InvokeRequest{
		ToolID:        toolID,
		Connection:    conn,
		CorrelationID: d.CorrelationID,
		SessionID:     d.SessionID,
		TraceID:       d.TraceID,
	})
	duration := o.now().Sub(start)

	run := ToolRun{ToolID: toolID, Status: resp.Status, DurationMs: duration.Milliseconds()}
	switch {
	case resp.Status == InvokeStatusSuccess && resp.Result != nil:
		run.Records = resp.Result.TotalRecords
		run.Partial = resp.Result.Partial
		perLayer[layerID] = append(perLayer[layerID], resp.Result)
		if resp.Result.Partial {
			detail := NewPartialFailure("collection stopped at the page safety cap").
				WithLayer(layerID).WithTool(toolID).Detail()
			d.Errors = append(d.Errors, *detail)
		}
	case resp.Error != nil:
		detail := *resp.Error
		if detail.Details == nil {
			detail.Details = make(map[string]interface{})
		}
		detail.Details["layer"] = layerID
		detail.Details["tool"] = toolID
		d.Errors = append(d.Errors, detail)
		run.Error = &detail
	}

	if o.deps.Events != nil {
		o.deps.Events.PublishToolInvoked(d.ID, layerID, toolID, string(resp.Status), duration)
	}
	return run
}

// analyze runs the per-layer analysis step over every completed layer. An
// analysis failure is recorded but never fails the layer retroactively.
func (o *Orchestrator) analyze(d *Discovery, perLayer map[string][]*Collection) {
	if o.deps.Analyzer == nil {
		return
	}
	for i := range d.Plan {
		entry := &d.Plan[i]
		if entry.Status != LayerStatusCompleted {
			continue
		}
		result, err := o.deps.Analyzer.Analyze(entry.LayerID, perLayer[entry.LayerID])
		if err != nil {
			detail := AsError(err).WithLayer(entry.LayerID).Detail()
			d.Errors = append(d.Errors, *detail)
			continue
		}
		entry.Analysis = result
	}
}

// buildGraph derives and persists the relationship graph. Graph failures are
// recorded on the run but never fail a discovery whose collection succeeded.
func (o *Orchestrator) buildGraph(ctx context.Context, d *Discovery) {
	if o.deps.Graphs == nil {
		return
	}
	snapshot, err := o.deps.Graphs.Build(d.Results)
	if err != nil {
		d.Errors = append(d.Errors, *AsError(err).Detail())
		return
	}
	if err := o.deps.Store.SaveGraph(ctx, d.ID, snapshot); err != nil {
		d.Errors = append(d.Errors, *NewValidationError("failed to persist graph", err).Detail())
		return
	}
	if o.deps.Metrics != nil {
		o.deps.Metrics.SetGraphSize(snapshot.NodeCount(), snapshot.EdgeCount())
	}
}

// fail moves an in-flight discovery to the failed stage and persists it.
func (o *Orchestrator) fail(ctx context.Context, d *Discovery, cause *Error) error {
	d.Errors = append(d.Errors, *cause.Detail())
	d.Stage = StageFailed
	completed := o.now().UTC()
	d.CompletedAt = &completed
	o.save(ctx, d)
	if o.deps.Events != nil {
		o.deps.Events.PublishDiscoveryFailed(d.ID, cause.Message)
	}
	if o.deps.Metrics != nil {
		o.deps.Metrics.RecordError(string(cause.Class), cause.Code)
	}
	return cause
}

func (o *Orchestrator) save(ctx context.Context, d *Discovery) {
	if err := o.deps.Store.SaveDiscovery(ctx, d); err != nil {
		o.logger.Error().Err(err).Str("discovery_id", d.ID).
			Msg("Failed to save discovery progress")
	}
}

func firstBlocked(deps []string, blocked map[string]bool) string {
	for _, dep := range deps {
		if blocked[dep] {
			return dep
		}
	}
	return ""
}
