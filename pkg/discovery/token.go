package discovery

import (
	"context"
	"fmt"
	"os"
	"time"
)

// DefaultTokenEnvVar is the environment variable the environment token
// source reads when no override is configured.
const DefaultTokenEnvVar = "SCOUT_TOKEN"

// EnvTokenSource reads a pre-acquired bearer token from the environment.
// The process never acquires or refreshes credentials; expiry is unknown to
// this source, so it reports none and the remote endpoint is the authority.
type EnvTokenSource struct {
	// Var overrides the environment variable name. Empty means
	// DefaultTokenEnvVar.
	Var string
}

// Token returns the token from the configured environment variable.
func (s *EnvTokenSource) Token(_ context.Context, _ string) (string, time.Time, error) {
	name := s.Var
	if name == "" {
		name = DefaultTokenEnvVar
	}
	token := os.Getenv(name)
	if token == "" {
		return "", time.Time{}, NewAuthError(fmt.Sprintf("no token found in %s", name), nil)
	}
	return token, time.Time{}, nil
}

// StaticTokenSource returns a fixed token with a fixed expiry. Used by tests
// and local runs where the token is supplied directly.
type StaticTokenSource struct {
	TokenValue string
	ExpiresAt  time.Time
}

// Token returns the configured token.
func (s *StaticTokenSource) Token(_ context.Context, _ string) (string, time.Time, error) {
	if s.TokenValue == "" {
		return "", time.Time{}, NewAuthError("no token configured", nil)
	}
	return s.TokenValue, s.ExpiresAt, nil
}
