// Package discovery provides the core types and interfaces for the OpenScout
// discovery engine. It defines the layered discovery workflow:
// Validate -> {Collect, Analyze}* -> Aggregate -> Persist.
package discovery

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for retry and isolation logic.
type ErrorClass string

const (
	// ErrorClassPolicy indicates a fail-closed policy denial.
	// Never retried; always logged with the rule that triggered it.
	ErrorClassPolicy ErrorClass = "policy"

	// ErrorClassValidation indicates a schema or shape mismatch on a request.
	// May be corrected upstream and retried within the retry budget.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassAuth indicates an authentication or authorization failure (401/403).
	// Never retried; the discovery fails immediately.
	ErrorClassAuth ErrorClass = "auth"

	// ErrorClassThrottled indicates rate limiting by the remote endpoint (429).
	// Retried with the server-specified delay, bounded by the retry budget.
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassServer indicates a remote server failure (5xx).
	// Retried with backoff, bounded by the retry budget.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassConfig indicates a malformed layer or tool registry.
	// Fatal at load time; never reaches a running discovery.
	ErrorClassConfig ErrorClass = "config"

	// ErrorClassPartial indicates that some tools or layers failed while
	// others succeeded. The discovery still completes with the detail embedded.
	ErrorClassPartial ErrorClass = "partial"
)

// Error represents a classified discovery error with context.
type Error struct {
	// Class is the error classification for retry and isolation logic.
	Class ErrorClass `json:"class"`

	// Code is a stable error code for programmatic handling.
	Code string `json:"code"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Rule is the policy rule that triggered a denial, if applicable.
	Rule string `json:"rule,omitempty"`

	// Layer is the layer ID associated with the error, if applicable.
	Layer string `json:"layer,omitempty"`

	// Tool is the tool ID associated with the error, if applicable.
	Tool string `json:"tool,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	// Must never contain credentials or raw payloads.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Layer != "" && e.Tool != "":
		return fmt.Sprintf("[%s] %s (layer=%s, tool=%s): %s",
			e.Class, e.Message, e.Layer, e.Tool, e.unwrapMessage())
	case e.Tool != "":
		return fmt.Sprintf("[%s] %s (tool=%s): %s",
			e.Class, e.Message, e.Tool, e.unwrapMessage())
	case e.Layer != "":
		return fmt.Sprintf("[%s] %s (layer=%s): %s",
			e.Class, e.Message, e.Layer, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// unwrapMessage returns the error message from the underlying error chain.
func (e *Error) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewPolicyViolation creates a fail-closed policy denial carrying the rule that fired.
func NewPolicyViolation(rule, message string) *Error {
	return &Error{
		Class:   ErrorClassPolicy,
		Code:    ErrCodePolicyViolation,
		Message: message,
		Rule:    rule,
	}
}

// NewValidationError creates a new validation error.
func NewValidationError(message string, err error) *Error {
	return &Error{
		Class:   ErrorClassValidation,
		Code:    ErrCodeValidation,
		Message: message,
		Err:     err,
	}
}

// NewAuthError creates a new authentication/authorization error.
func NewAuthError(message string, err error) *Error {
	return &Error{
		Class:   ErrorClassAuth,
		Code:    ErrCodeAuthFailed,
		Message: message,
		Err:     err,
	}
}

// NewRateLimited creates a new rate-limit error.
func NewRateLimited(message string, err error) *Error {
	return &Error{
		Class:   ErrorClassThrottled,
		Code:    ErrCodeRateLimited,
		Message: message,
		Err:     err,
	}
}

// NewServerError creates a new remote server error.
func NewServerError(message string, err error) *Error {
	return &Error{
		Class:   ErrorClassServer,
		Code:    ErrCodeServerError,
		Message: message,
		Err:     err,
	}
}

// NewConfigurationError creates a new configuration error.
func NewConfigurationError(message string, err error) *Error {
	return &Error{
		Class:   ErrorClassConfig,
		Code:    ErrCodeConfiguration,
		Message: message,
		Err:     err,
	}
}

// NewPartialFailure creates a new partial-failure marker.
func NewPartialFailure(message string) *Error {
	return &Error{
		Class:   ErrorClassPartial,
		Code:    ErrCodePartialFailure,
		Message: message,
	}
}

// NewNotFoundError creates a new not-found error (non-retryable).
func NewNotFoundError(message string, err error) *Error {
	return &Error{
		Class:   ErrorClassValidation,
		Code:    ErrCodeNotFound,
		Message: message,
		Err:     err,
	}
}

// WithLayer adds layer context to an error.
func (e *Error) WithLayer(layerID string) *Error {
	e.Layer = layerID
	return e
}

// WithTool adds tool context to an error.
func (e *Error) WithTool(toolID string) *Error {
	e.Tool = toolID
	return e
}

// WithCode overrides the error code.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Detail converts the error into its wire representation. Only sanitized
// fields cross this boundary; the underlying error chain is flattened into
// the message.
func (e *Error) Detail() *ErrorDetail {
	d := &ErrorDetail{
		Code:            e.Code,
		Message:         e.Message,
		Retryable:       IsRetryable(e),
		PolicyViolation: e.Class == ErrorClassPolicy,
		Details:         map[string]interface{}{},
	}
	if e.Err != nil {
		d.Message = fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}
	if e.Rule != "" {
		d.Details["rule"] = e.Rule
	}
	if e.Layer != "" {
		d.Details["layer"] = e.Layer
	}
	if e.Tool != "" {
		d.Details["tool"] = e.Tool
	}
	for k, v := range e.Details {
		d.Details[k] = v
	}
	return d
}

// AsError converts an arbitrary error into a classified *Error.
// Unclassified errors become validation errors.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return NewValidationError("unclassified failure", err)
}

// IsPolicyViolation returns true if the error is a policy denial.
func IsPolicyViolation(err error) bool {
	return hasClass(err, ErrorClassPolicy)
}

// IsAuthError returns true if the error is an auth failure.
func IsAuthError(err error) bool {
	return hasClass(err, ErrorClassAuth)
}

// IsRateLimited returns true if the error is a throttle response.
func IsRateLimited(err error) bool {
	return hasClass(err, ErrorClassThrottled)
}

// IsServerError returns true if the error is a remote server failure.
func IsServerError(err error) bool {
	return hasClass(err, ErrorClassServer)
}

// IsConfigurationError returns true if the error is a registry configuration error.
func IsConfigurationError(err error) bool {
	return hasClass(err, ErrorClassConfig)
}

// IsRetryable returns true if the error can be retried within the retry budget.
// Throttled and server errors are retryable; policy, auth, config and
// not-found errors are not.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	if e.Code == ErrCodeNotFound {
		return false
	}
	return e.Class == ErrorClassThrottled || e.Class == ErrorClassServer
}

func hasClass(err error, class ErrorClass) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == class
	}
	return false
}

// Stable error codes.
const (
	ErrCodePolicyViolation = "POLICY_VIOLATION"
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeAuthFailed      = "AUTH_FAILED"
	ErrCodeRateLimited     = "RATE_LIMITED"
	ErrCodeServerError     = "SERVER_ERROR"
	ErrCodeConfiguration   = "CONFIGURATION_ERROR"
	ErrCodePartialFailure  = "PARTIAL_FAILURE"
	ErrCodeNotFound        = "NOT_FOUND"
)
