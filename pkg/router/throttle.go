package router

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Quota headers returned by the upstream service alongside every response.
const (
	quotaRemainingHeader = "x-ms-user-quota-remaining"
	quotaResetsHeader    = "x-ms-user-quota-resets-after"

	// quotaThreshold is the remaining-quota level below which the router
	// pauses before the next page instead of burning the last calls.
	quotaThreshold = 2

	// maxQuotaPause caps the proactive pause regardless of what the
	// resets-after header asks for.
	maxQuotaPause = 10 * time.Second

	// defaultRetryAfter is used when a 429 carries no parseable Retry-After.
	defaultRetryAfter = 5 * time.Second
)

// ThrottleError signals a throttled page request and carries the delay the
// service asked for. The retry loop substitutes this delay for its normal
// backoff.
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error {
	return e.Cause
}

// retryAfterDelay reads the Retry-After header of a 429 response. Both the
// delta-seconds form and a missing or malformed header resolve to a usable
// delay; the router never fails an invocation over an unparseable hint.
func retryAfterDelay(h http.Header) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return defaultRetryAfter
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return defaultRetryAfter
	}
	return time.Duration(secs) * time.Second
}

// quotaPause inspects the quota headers of a successful response and returns
// the pause to take before the next page, if any. The pause is the service's
// resets-after duration capped at maxQuotaPause; a low quota with a
// missing or malformed resets-after header still pauses, using the default.
func quotaPause(h http.Header) (time.Duration, bool) {
	remaining, err := strconv.Atoi(strings.TrimSpace(h.Get(quotaRemainingHeader)))
	if err != nil || remaining >= quotaThreshold {
		return 0, false
	}

	pause, ok := parseResetsAfter(h.Get(quotaResetsHeader))
	if !ok {
		pause = defaultRetryAfter
	}
	if pause > maxQuotaPause {
		pause = maxQuotaPause
	}
	if pause <= 0 {
		return 0, false
	}
	return pause, true
}

// parseResetsAfter parses the HH:MM:SS duration format of the resets-after
// header. Plain integer seconds are accepted too.
func parseResetsAfter(v string) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}

	parts := strings.Split(v, ":")
	if len(parts) == 1 {
		secs, err := strconv.Atoi(parts[0])
		if err != nil || secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if len(parts) != 3 {
		return 0, false
	}

	h, errH := strconv.Atoi(parts[0])
	m, errM := strconv.Atoi(parts[1])
	s, errS := strconv.Atoi(parts[2])
	if errH != nil || errM != nil || errS != nil || h < 0 || m < 0 || s < 0 {
		return 0, false
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second, true
}
