// Package catalog holds the registry of invocable discovery tools: seed
// definitions, YAML overrides loaded from disk, and hot reload.
package catalog

import (
	"fmt"
)

// ToolStatus is the approval state of a catalog tool. Tools are mutated only
// through an approval workflow external to this engine; the engine reads the
// status and fails closed on anything but approved.
type ToolStatus string

const (
	ToolStatusPending  ToolStatus = "pending"
	ToolStatusApproved ToolStatus = "approved"
	ToolStatusDisabled ToolStatus = "disabled"
)

// Valid reports whether the status is one of the known states.
func (s ToolStatus) Valid() bool {
	switch s {
	case ToolStatusPending, ToolStatusApproved, ToolStatusDisabled:
		return true
	}
	return false
}

// Tool is one invocable operation in the catalog.
type Tool struct {
	// ID is the stable tool identifier.
	ID string `yaml:"tool_id" json:"tool_id" validate:"required"`

	// Name is the human-friendly tool name.
	Name string `yaml:"name" json:"name"`

	// Description explains what the tool collects.
	Description string `yaml:"description" json:"description"`

	// Category tags the tool (resource_graph, addon, ...).
	Category string `yaml:"category" json:"category"`

	// ProviderNamespace is the provider tag, when the tool targets one.
	ProviderNamespace string `yaml:"provider_namespace,omitempty" json:"provider_namespace,omitempty"`

	// QueryTemplate is the opaque templated remote query. Placeholders of
	// the form {name} are substituted from invocation args.
	QueryTemplate string `yaml:"query_template" json:"query_template"`

	// Domain is the target API domain the tool will call.
	Domain string `yaml:"domain" json:"domain" validate:"required,hostname"`

	// Method is the HTTP method the tool will use.
	Method string `yaml:"method" json:"method" validate:"required,oneof=GET POST"`

	// Status is the approval state; only approved tools may execute.
	Status ToolStatus `yaml:"status" json:"status" validate:"required"`
}

// Validate checks the structural invariants a tool must satisfy before it
// may enter the registry. A violation is a configuration error: it is
// rejected at load time and never reaches a running discovery.
func (t *Tool) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("tool has empty ID")
	}
	if t.Domain == "" {
		return fmt.Errorf("tool %s has empty domain", t.ID)
	}
	if t.Method == "" {
		return fmt.Errorf("tool %s has empty method", t.ID)
	}
	if !t.Status.Valid() {
		return fmt.Errorf("tool %s has invalid status %q", t.ID, t.Status)
	}
	return nil
}
