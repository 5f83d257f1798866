package policy

import (
	"fmt"
	"strings"

	"github.com/openscout/openscout/pkg/catalog"
	"github.com/rs/zerolog"
)

// Rule names, in evaluation order. The first violated rule denies the
// invocation and is recorded in the decision.
const (
	RuleNotApproved          = "not_approved"
	RuleDomainNotAllowed     = "domain_not_allowed"
	RuleMethodNotAllowed     = "method_not_allowed"
	RulePayloadTooLarge      = "payload_too_large"
	RuleRetryBudgetExhausted = "retry_budget_exhausted"
	RuleMissingBinding       = "missing_binding"
)

// Decision is the outcome of evaluating one invocation against a policy.
type Decision struct {
	// Allowed reports whether the invocation may proceed.
	Allowed bool `json:"allowed"`

	// Rule names the violated rule when denied.
	Rule string `json:"rule,omitempty"`

	// Message is a human-readable explanation of a denial.
	Message string `json:"message,omitempty"`

	// PolicyID and PolicyVersion record what the decision was made against.
	PolicyID      string `json:"policy_id,omitempty"`
	PolicyVersion int    `json:"policy_version,omitempty"`
}

// Allow returns an allowing decision stamped with the policy identity.
func Allow(pol *Policy) Decision {
	return Decision{Allowed: true, PolicyID: pol.ID, PolicyVersion: pol.Version}
}

// Deny returns a denying decision naming the violated rule.
func Deny(rule, message string) Decision {
	return Decision{Allowed: false, Rule: rule, Message: message}
}

// Decide evaluates a tool invocation against a policy. Rules run in a
// fixed order and the first violation wins. A nil tool or nil policy is a
// missing binding and denies: absence of governance is never permission.
// payloadSize is the serialized request body size in bytes; attempt is
// zero-based, so attempt N means N retries have already been spent.
func Decide(tool *catalog.Tool, pol *Policy, payloadSize int64, attempt int) Decision {
	if tool == nil || pol == nil {
		return Deny(RuleMissingBinding, "invocation has no resolved tool and policy binding")
	}

	// The approval gate is unconditional: no policy field can relax it.
	if tool.Status != catalog.ToolStatusApproved {
		d := Deny(RuleNotApproved,
			fmt.Sprintf("tool %s has status %q; only approved tools may execute", tool.ID, tool.Status))
		return stamp(d, pol)
	}

	if !containsFold(pol.AllowedDomains, tool.Domain) {
		d := Deny(RuleDomainNotAllowed,
			fmt.Sprintf("domain %s is not in the policy's allowed domains", tool.Domain))
		return stamp(d, pol)
	}

	if !containsFold(pol.AllowedMethods, tool.Method) {
		d := Deny(RuleMethodNotAllowed,
			fmt.Sprintf("method %s is not in the policy's allowed methods", tool.Method))
		return stamp(d, pol)
	}

	if payloadSize > pol.MaxPayloadBytes {
		d := Deny(RulePayloadTooLarge,
			fmt.Sprintf("payload of %d bytes exceeds the %d byte cap", payloadSize, pol.MaxPayloadBytes))
		return stamp(d, pol)
	}

	if attempt > pol.MaxRetries {
		d := Deny(RuleRetryBudgetExhausted,
			fmt.Sprintf("attempt %d exceeds the retry budget of %d", attempt, pol.MaxRetries))
		return stamp(d, pol)
	}

	return Allow(pol)
}

func stamp(d Decision, pol *Policy) Decision {
	d.PolicyID = pol.ID
	d.PolicyVersion = pol.Version
	return d
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}

// Engine resolves policy bindings against the store and evaluates them,
// logging every denial with the rule that fired.
type Engine struct {
	store  *Store
	logger zerolog.Logger
}

// NewEngine creates a policy engine backed by the given store.
func NewEngine(store *Store, logger zerolog.Logger) *Engine {
	return &Engine{
		store:  store,
		logger: logger.With().Str("component", "policy-engine").Logger(),
	}
}

// Lookup returns the stored policy with the given ID.
func (e *Engine) Lookup(policyID string) (*Policy, bool) {
	return e.store.Get(policyID)
}

// Evaluate resolves policyID and decides the invocation. An empty or
// unknown policy ID denies with missing_binding; it is never treated as
// "no policy, no restrictions".
func (e *Engine) Evaluate(tool *catalog.Tool, policyID string, payloadSize int64, attempt int) Decision {
	if policyID == "" {
		return e.logged(tool, Deny(RuleMissingBinding, "invocation carries no policy ID"))
	}

	pol, ok := e.store.Get(policyID)
	if !ok {
		return e.logged(tool, Deny(RuleMissingBinding,
			fmt.Sprintf("policy %s does not exist", policyID)))
	}

	return e.logged(tool, Decide(tool, pol, payloadSize, attempt))
}

func (e *Engine) logged(tool *catalog.Tool, d Decision) Decision {
	if d.Allowed {
		return d
	}
	ev := e.logger.Warn().
		Str("rule", d.Rule).
		Str("policy_id", d.PolicyID).
		Int("policy_version", d.PolicyVersion)
	if tool != nil {
		ev = ev.Str("tool_id", tool.ID)
	}
	ev.Msg("Invocation denied by policy")
	return d
}
