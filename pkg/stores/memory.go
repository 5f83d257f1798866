package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/openscout/openscout/pkg/discovery"
)

// MemoryStore implements discovery.Store in memory. It is used by tests and
// ephemeral runs and enforces the same contract as the SQLite store: terminal
// discoveries are immutable and tokens never reach the stored state. Records
// are held in their serialized form, so callers get isolated copies and the
// token field (excluded from serialization) cannot leak into the store.
type MemoryStore struct {
	mu          sync.RWMutex
	discoveries map[string][]byte
	stages      map[string]discovery.Stage
	order       []string
	graphs      map[string][]byte
	connections map[string]*discovery.Connection
	connOrder   []string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		discoveries: make(map[string][]byte),
		stages:      make(map[string]discovery.Stage),
		graphs:      make(map[string][]byte),
		connections: make(map[string]*discovery.Connection),
	}
}

// CreateDiscovery inserts a new discovery record.
func (s *MemoryStore) CreateDiscovery(_ context.Context, d *discovery.Discovery) error {
	encoded, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to encode discovery: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.discoveries[d.ID]; exists {
		return fmt.Errorf("discovery already exists: %s", d.ID)
	}
	s.discoveries[d.ID] = encoded
	s.stages[d.ID] = d.Stage
	s.order = append(s.order, d.ID)
	return nil
}

// SaveDiscovery updates a discovery record, refusing writes against a record
// that already reached a terminal stage.
func (s *MemoryStore) SaveDiscovery(_ context.Context, d *discovery.Discovery) error {
	encoded, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to encode discovery: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	stage, exists := s.stages[d.ID]
	if !exists {
		return fmt.Errorf("discovery not found: %s", d.ID)
	}
	if stage.IsTerminal() {
		return fmt.Errorf("discovery %s is %s: %w", d.ID, stage, ErrTerminal)
	}
	s.discoveries[d.ID] = encoded
	s.stages[d.ID] = d.Stage
	return nil
}

// GetDiscovery retrieves a discovery by ID.
func (s *MemoryStore) GetDiscovery(_ context.Context, id string) (*discovery.Discovery, error) {
	s.mu.RLock()
	encoded, ok := s.discoveries[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("discovery not found: %s", id)
	}

	d := &discovery.Discovery{}
	if err := json.Unmarshal(encoded, d); err != nil {
		return nil, fmt.Errorf("failed to decode discovery: %w", err)
	}
	return d, nil
}

// ListDiscoveries lists discoveries newest-first with pagination.
func (s *MemoryStore) ListDiscoveries(_ context.Context, limit, offset int) ([]*discovery.Discovery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*discovery.Discovery{}
	for i := len(s.order) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		d := &discovery.Discovery{}
		if err := json.Unmarshal(s.discoveries[s.order[i]], d); err != nil {
			return nil, fmt.Errorf("failed to decode discovery: %w", err)
		}
		out = append(out, d)
	}
	return out, nil
}

// SaveGraph persists the graph snapshot for a discovery.
func (s *MemoryStore) SaveGraph(_ context.Context, discoveryID string, snapshot discovery.GraphSnapshot) error {
	encoded, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode graph: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.graphs[discoveryID] = encoded
	return nil
}

// GetGraph returns the stored graph snapshot as raw JSON.
func (s *MemoryStore) GetGraph(_ context.Context, discoveryID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	encoded, ok := s.graphs[discoveryID]
	if !ok {
		return nil, fmt.Errorf("graph not found for discovery: %s", discoveryID)
	}
	out := make([]byte, len(encoded))
	copy(out, encoded)
	return out, nil
}

// CreateConnection inserts a connection. The token field is dropped before
// the record enters the store.
func (s *MemoryStore) CreateConnection(_ context.Context, conn *discovery.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.connections[conn.ID]; exists {
		return fmt.Errorf("connection already exists: %s", conn.ID)
	}
	stored := *conn
	stored.Token = ""
	stored.SubscriptionIDs = append([]string(nil), conn.SubscriptionIDs...)
	s.connections[conn.ID] = &stored
	s.connOrder = append(s.connOrder, conn.ID)
	return nil
}

// GetConnection retrieves a connection by ID, never carrying a token.
func (s *MemoryStore) GetConnection(_ context.Context, id string) (*discovery.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conn, ok := s.connections[id]
	if !ok {
		return nil, fmt.Errorf("connection not found: %s", id)
	}
	out := *conn
	out.SubscriptionIDs = append([]string(nil), conn.SubscriptionIDs...)
	return &out, nil
}

// ListConnections lists connections newest-first with pagination.
func (s *MemoryStore) ListConnections(_ context.Context, limit, offset int) ([]*discovery.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*discovery.Connection{}
	for i := len(s.connOrder) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		conn := *s.connections[s.connOrder[i]]
		conn.SubscriptionIDs = append([]string(nil), conn.SubscriptionIDs...)
		out = append(out, &conn)
	}
	return out, nil
}
