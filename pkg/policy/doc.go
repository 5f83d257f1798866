// Package policy implements the execution boundary's decision layer.
//
// Every outbound tool invocation is checked against exactly one policy
// before any network activity. The rule set is fixed and ordered; the
// first violated rule denies the call and names the rule in the decision.
// A missing policy binding is itself a denial: the engine fails closed,
// it never defaults to allow.
package policy
