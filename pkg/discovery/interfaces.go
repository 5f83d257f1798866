package discovery

import (
	"context"
	"time"
)

// ToolInvoker executes a single governed tool invocation. The execution
// router implements this; the orchestrator never calls the remote API
// directly.
type ToolInvoker interface {
	// Invoke gates, executes, paginates and normalizes one tool call.
	// It never returns a Go error: every failure is a structured failure
	// response so the orchestrator can decide isolation scope.
	Invoke(ctx context.Context, req *InvokeRequest) *InvokeResponse
}

// Analyzer is the per-layer analysis step: a pure function over that layer's
// already-collected data. Implementations must not perform outbound calls.
type Analyzer interface {
	Analyze(layerID string, collections []*Collection) (*AnalysisResult, error)
}

// LayerInfo is the resolver's view of a single discovery layer.
type LayerInfo struct {
	ID           string
	Number       int
	Label        string
	DependsOn    []string
	Tools        []string
	RequiredTier string
}

// LayerResolver expands requested layer sets into ordered execution plans
// and answers authorization questions about them. The static layer registry
// implements this.
type LayerResolver interface {
	// Resolve returns the dependency closure of the requested layers,
	// ordered by layer number. Unknown or disabled requests are rejected.
	Resolve(requested []string) ([]string, error)

	// Info returns the definition of a layer.
	Info(id string) (*LayerInfo, bool)

	// Authorize reports whether a connection tier covers every layer in
	// the set, returning a validation error naming the required tier when
	// it does not.
	Authorize(connectionTier string, layerIDs []string) error
}

// TokenSource supplies the pre-acquired bearer token for a connection.
// The core never acquires or refreshes credentials itself.
type TokenSource interface {
	Token(ctx context.Context, connectionID string) (token string, expiresAt time.Time, err error)
}

// GraphSnapshot is the orchestrator's view of a built relationship graph.
// The concrete graph types live in pkg/graph; the orchestrator only needs
// something it can summarize and hand to the store.
type GraphSnapshot interface {
	NodeCount() int
	EdgeCount() int
}

// GraphBuilder turns aggregated results into a relationship graph snapshot.
type GraphBuilder interface {
	Build(results *Results) (GraphSnapshot, error)
}

// Store is the persistence boundary the orchestrator requires: append-only
// snapshot semantics with create/read-by-id. Implementations must refuse to
// overwrite a discovery that has reached a terminal stage.
type Store interface {
	CreateDiscovery(ctx context.Context, d *Discovery) error
	SaveDiscovery(ctx context.Context, d *Discovery) error
	GetDiscovery(ctx context.Context, id string) (*Discovery, error)
	ListDiscoveries(ctx context.Context, limit, offset int) ([]*Discovery, error)

	SaveGraph(ctx context.Context, discoveryID string, snapshot GraphSnapshot) error
	GetGraph(ctx context.Context, discoveryID string) ([]byte, error)

	CreateConnection(ctx context.Context, conn *Connection) error
	GetConnection(ctx context.Context, id string) (*Connection, error)
	ListConnections(ctx context.Context, limit, offset int) ([]*Connection, error)
}
