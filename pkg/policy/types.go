package policy

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Policy constrains what a bound tool invocation may do. Fields left at
// their zero value still constrain: an empty domain list allows no domain.
type Policy struct {
	// ID is the stable policy identifier tools are bound to.
	ID string `json:"policy_id" yaml:"policy_id" validate:"required"`

	// Description explains what the policy governs.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// AllowedDomains lists the API domains invocations may target.
	AllowedDomains []string `json:"allowed_domains" yaml:"allowed_domains"`

	// AllowedMethods lists the permitted HTTP methods.
	AllowedMethods []string `json:"allowed_methods" yaml:"allowed_methods"`

	// MaxPayloadBytes caps the serialized request payload size. A zero
	// cap permits only empty payloads: a policy authored without a cap
	// denies rather than allowing unbounded bodies.
	MaxPayloadBytes int64 `json:"max_payload_bytes" yaml:"max_payload_bytes"`

	// MaxRetries is the retry budget per page request.
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// ApprovalRequired records that the policy was authored with the
	// approval gate explicit. The engine checks tool approval
	// unconditionally; this flag cannot relax that rule.
	ApprovalRequired bool `json:"approval_required" yaml:"approval_required"`

	// Version increments on every store update; decisions record the
	// version they were made against.
	Version int `json:"version" yaml:"version"`
}

// DefaultPolicyID is the policy tools are bound to unless configured
// otherwise.
const DefaultPolicyID = "default"

// Builtin returns the built-in policies.
func Builtin() []*Policy {
	return []*Policy{
		{
			ID:               DefaultPolicyID,
			Description:      "Default execution boundary for Resource Graph tools.",
			AllowedDomains:   []string{"management.azure.com"},
			AllowedMethods:   []string{"POST"},
			MaxPayloadBytes:  1 << 20,
			MaxRetries:       3,
			ApprovalRequired: true,
			Version:          1,
		},
	}
}

// Store is the in-memory versioned policy store. Reads are concurrent;
// updates bump the policy version.
type Store struct {
	mu       sync.RWMutex
	policies map[string]*Policy
	logger   zerolog.Logger
}

// NewStore creates a policy store seeded with the built-in policies.
func NewStore(logger zerolog.Logger) *Store {
	s := &Store{
		policies: make(map[string]*Policy),
		logger:   logger.With().Str("component", "policy-store").Logger(),
	}
	for _, p := range Builtin() {
		s.policies[p.ID] = p
	}
	return s
}

// Get returns a policy by ID.
func (s *Store) Get(id string) (*Policy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[id]
	return p, ok
}

// Put inserts or updates a policy, bumping its version past the stored one.
func (s *Store) Put(p *Policy) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("policy must have an ID")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := *p
	if prev, exists := s.policies[p.ID]; exists {
		next.Version = prev.Version + 1
	} else if next.Version == 0 {
		next.Version = 1
	}
	s.policies[p.ID] = &next

	s.logger.Info().
		Str("policy_id", next.ID).
		Int("version", next.Version).
		Msg("Policy stored")
	return nil
}

// List returns every policy, ordered by ID.
func (s *Store) List() []*Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Policy, 0, len(s.policies))
	for _, p := range s.policies {
		out = append(out, p)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].ID > out[j].ID; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
