package discovery

import (
	"fmt"
	"sort"
	"time"
)

// Stage represents the current stage of a discovery run.
type Stage string

const (
	StageCreated     Stage = "created"
	StageValidating  Stage = "validating"
	StageCollecting  Stage = "collecting"
	StageAnalyzing   Stage = "analyzing"
	StageAggregating Stage = "aggregating"
	StagePersisting  Stage = "persisting"
	StageCompleted   Stage = "completed"
	StageFailed      Stage = "failed"
)

// IsTerminal returns true if the stage is a terminal state.
// A discovery is immutable once it reaches a terminal stage.
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed
}

// LayerStatus represents the per-layer execution status within a discovery.
type LayerStatus string

const (
	LayerStatusPending   LayerStatus = "pending"
	LayerStatusRunning   LayerStatus = "running"
	LayerStatusCompleted LayerStatus = "completed"
	LayerStatusFailed    LayerStatus = "failed"
	LayerStatusSkipped   LayerStatus = "skipped"
)

// IsTerminal returns true if the layer has reached a terminal status.
func (s LayerStatus) IsTerminal() bool {
	return s == LayerStatusCompleted || s == LayerStatusFailed || s == LayerStatusSkipped
}

// Connection binds a scoped credential to a target tenant and its subscriptions.
// It is supplied whole by an external token source and treated as read-only
// input per invocation. The Token field is never persisted or logged; it is
// excluded from every serialized representation.
type Connection struct {
	// ID is the unique connection identifier.
	ID string `json:"id"`

	// TenantID is the bound tenant.
	TenantID string `json:"tenant_id"`

	// SubscriptionIDs are the target subscriptions, in declared order.
	SubscriptionIDs []string `json:"subscription_ids"`

	// Token is the pre-acquired bearer token. Never serialized.
	Token string `json:"-"`

	// TokenExpiresAt is the expiry of the bound token.
	TokenExpiresAt time.Time `json:"token_expires_at"`

	// RBACTier is the authorization tier encoded on the connection
	// (inventory, cost, security).
	RBACTier string `json:"rbac_tier"`

	// Active indicates whether the connection may be used for discoveries.
	Active bool `json:"active"`

	CreatedAt time.Time `json:"created_at"`
}

// String renders the connection without the bearer token.
func (c *Connection) String() string {
	return fmt.Sprintf("connection{id=%s tenant=%s subscriptions=%d tier=%s active=%t}",
		c.ID, c.TenantID, len(c.SubscriptionIDs), c.RBACTier, c.Active)
}

// TokenExpired reports whether the bound token has expired at the given instant.
func (c *Connection) TokenExpired(now time.Time) bool {
	return !c.TokenExpiresAt.IsZero() && !now.Before(c.TokenExpiresAt)
}

// HasSubscription reports whether the connection scope includes the subscription.
func (c *Connection) HasSubscription(subscriptionID string) bool {
	for _, id := range c.SubscriptionIDs {
		if id == subscriptionID {
			return true
		}
	}
	return false
}

// Resource is the canonical record shape every tool normalizer produces,
// regardless of which underlying query projection generated it.
type Resource struct {
	// ID is the canonical path-style resource identifier.
	ID string `json:"id"`

	// Name is the resource's display name.
	Name string `json:"name"`

	// Type is the fully qualified resource type
	// (e.g. "Microsoft.Compute/virtualMachines").
	Type string `json:"type"`

	// Location is the region the resource lives in, when known.
	Location string `json:"location,omitempty"`

	// ResourceGroup is the containing resource group, when applicable.
	ResourceGroup string `json:"resource_group,omitempty"`

	// SubscriptionID is the containing subscription.
	SubscriptionID string `json:"subscription_id,omitempty"`

	// TenantID is the containing tenant.
	TenantID string `json:"tenant_id,omitempty"`

	// Tags are the resource's assigned tags.
	Tags map[string]string `json:"tags,omitempty"`

	// Properties holds the projection-specific fields the tool's normalizer
	// chose to keep. Sanitized; never the raw remote payload.
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// ProviderNamespace returns the vendor-assigned category prefix of the
// resource type ("Microsoft.Compute/virtualMachines" -> "Microsoft.Compute").
func (r *Resource) ProviderNamespace() string {
	for i := 0; i < len(r.Type); i++ {
		if r.Type[i] == '/' {
			return r.Type[:i]
		}
	}
	return r.Type
}

// Collection is the normalized output of one tool invocation.
type Collection struct {
	// ToolID is the tool that produced this collection.
	ToolID string `json:"tool_id"`

	// Summary is a short human-readable description of what was collected.
	Summary string `json:"summary"`

	// Resources are the normalized records, de-duplicated by ID.
	Resources []Resource `json:"resources"`

	// TypeBreakdown counts resources per fully qualified type.
	TypeBreakdown map[string]int `json:"type_breakdown"`

	// TotalRecords is the number of rows collected before de-duplication.
	TotalRecords int `json:"total_records"`

	// Partial indicates collection stopped at the page safety cap.
	Partial bool `json:"partial"`

	// Timestamp is when the collection completed.
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail is the wire shape of a structured error.
type ErrorDetail struct {
	Code            string                 `json:"code"`
	Message         string                 `json:"message"`
	Details         map[string]interface{} `json:"details,omitempty"`
	Retryable       bool                   `json:"retryable"`
	PolicyViolation bool                   `json:"policy_violation"`
}

// CallMetadata describes a single tool invocation's observable outcome.
type CallMetadata struct {
	LatencyMs  int64  `json:"latency_ms"`
	StatusCode int    `json:"status_code"`
	RequestID  string `json:"request_id"`
	Pages      int    `json:"pages,omitempty"`
	Retries    int    `json:"retries,omitempty"`
}

// InvokeRequest is the input to a governed tool invocation.
type InvokeRequest struct {
	// ToolID identifies the catalog tool to invoke.
	ToolID string `json:"tool_id"`

	// Args are substituted into the tool's query template.
	Args map[string]string `json:"args,omitempty"`

	// Connection carries the bound credential and scope. The router reads
	// the token at call time and never propagates it further.
	Connection *Connection `json:"-"`

	// PolicyID selects the governing policy version. Empty selects the
	// router's default binding.
	PolicyID string `json:"policy_id,omitempty"`

	// Attempt is the caller-visible attempt number, gated against the
	// policy's retry budget.
	Attempt int `json:"attempt"`

	// Subscriptions optionally narrows the connection's scope. Empty means
	// the connection's full subscription set.
	Subscriptions []string `json:"subscriptions,omitempty"`

	CorrelationID string `json:"correlation_id"`
	SessionID     string `json:"session_id"`
	TraceID       string `json:"trace_id"`
}

// InvokeStatus is the terminal status of a tool invocation.
type InvokeStatus string

const (
	InvokeStatusSuccess InvokeStatus = "success"
	InvokeStatusFailure InvokeStatus = "failure"
)

// InvokeResponse is the output of a governed tool invocation.
type InvokeResponse struct {
	Status   InvokeStatus `json:"status"`
	Result   *Collection  `json:"result,omitempty"`
	Error    *ErrorDetail `json:"error,omitempty"`
	Metadata CallMetadata `json:"metadata"`
}

// ToolRun records the per-tool outcome within a layer plan.
type ToolRun struct {
	ToolID     string       `json:"tool_id"`
	Status     InvokeStatus `json:"status"`
	Records    int          `json:"records"`
	Partial    bool         `json:"partial"`
	DurationMs int64        `json:"duration_ms"`
	Error      *ErrorDetail `json:"error,omitempty"`
}

// LayerPlan is one entry of the ordered execution plan for a discovery.
type LayerPlan struct {
	LayerID      string          `json:"layer_id"`
	LayerNumber  int             `json:"layer_number"`
	Label        string          `json:"label"`
	Status       LayerStatus     `json:"status"`
	AutoResolved bool            `json:"auto_resolved"`
	Reason       string          `json:"reason,omitempty"`
	Tools        []ToolRun       `json:"tools"`
	Analysis     *AnalysisResult `json:"analysis,omitempty"`
}

// AnalysisResult is the output of the per-layer analysis step. The step is
// a pure function over the layer's collected data; it performs no I/O. Its
// body is currently a placeholder, but the contract is load-bearing: a real
// implementation must be a drop-in replacement.
type AnalysisResult struct {
	LayerID       string    `json:"layer_id"`
	Status        string    `json:"status"`
	Summary       string    `json:"summary,omitempty"`
	ResourceCount int       `json:"resource_count"`
	GeneratedAt   time.Time `json:"generated_at"`
}

// Category is one dynamically derived grouping of the aggregated inventory,
// keyed by provider namespace. Categories with zero resources do not appear.
type Category struct {
	Namespace     string `json:"namespace"`
	Label         string `json:"label"`
	ResourceCount int    `json:"resource_count"`
}

// InventorySummary is the flat aggregated view across all layers.
type InventorySummary struct {
	TotalResources int            `json:"total_resources"`
	Subscriptions  []string       `json:"subscriptions"`
	Locations      map[string]int `json:"locations,omitempty"`
	Types          map[string]int `json:"types,omitempty"`
}

// Results holds the aggregated outputs of a discovery run.
type Results struct {
	// PerLayer maps layer ID to that layer's collections.
	PerLayer map[string][]*Collection `json:"per_layer"`

	// Categories is the dynamically derived category breakdown.
	Categories []Category `json:"categories"`

	// Inventory is the flat inventory view.
	Inventory InventorySummary `json:"inventory"`
}

// Resources returns every resource across all layers, de-duplicated by ID.
// When the same ID appears more than once, the copy with the richer property
// set wins; ties keep the copy from the earlier layer in key order. Layers
// are walked in sorted order so the winner never depends on map iteration.
func (r *Results) Resources() []Resource {
	layerIDs := make([]string, 0, len(r.PerLayer))
	for id := range r.PerLayer {
		layerIDs = append(layerIDs, id)
	}
	sort.Strings(layerIDs)

	byID := make(map[string]int)
	out := make([]Resource, 0)
	for _, layerID := range layerIDs {
		collections := r.PerLayer[layerID]
		for _, c := range collections {
			if c == nil {
				continue
			}
			for _, res := range c.Resources {
				if idx, seen := byID[res.ID]; seen {
					if len(res.Properties) > len(out[idx].Properties) {
						out[idx] = res
					}
					continue
				}
				byID[res.ID] = len(out)
				out = append(out, res)
			}
		}
	}
	return out
}

// Discovery is the record of one discovery run. Created at Validate, mutated
// through each stage, immutable once completed or failed.
type Discovery struct {
	ID           string `json:"id"`
	ConnectionID string `json:"connection_id"`

	Stage Stage `json:"stage"`

	LayersRequested []string `json:"layers_requested"`
	LayersResolved  []string `json:"layers_resolved"`

	// Plan is the ordered execution plan with per-layer and per-tool status.
	Plan []LayerPlan `json:"plan"`

	Results *Results `json:"results,omitempty"`

	// Errors collects every failure attached to the run; nothing is swallowed.
	Errors []ErrorDetail `json:"errors,omitempty"`

	CorrelationID string `json:"correlation_id"`
	TraceID       string `json:"trace_id"`
	SessionID     string `json:"session_id"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// PlanEntry returns the plan entry for a layer, or nil.
func (d *Discovery) PlanEntry(layerID string) *LayerPlan {
	for i := range d.Plan {
		if d.Plan[i].LayerID == layerID {
			return &d.Plan[i]
		}
	}
	return nil
}

// RunRequest is the input to a discovery run.
type RunRequest struct {
	ConnectionID   string   `json:"connection_id" validate:"required"`
	TenantID       string   `json:"tenant_id,omitempty"`
	SubscriptionID string   `json:"subscription_id,omitempty"`
	Layers         []string `json:"layers" validate:"required,min=1"`

	CorrelationID string `json:"correlation_id,omitempty"`
	TraceID       string `json:"trace_id,omitempty"`
	SessionID     string `json:"session_id,omitempty"`
}
