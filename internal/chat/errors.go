package chat

import (
	"errors"
	"fmt"

	"github.com/vnmchuo/llm-meter/internal/metering"
)

// ErrInvalidRequest marks malformed input. Nothing is forwarded or recorded.
var ErrInvalidRequest = errors.New("invalid request")

// QuotaExceededError rejects a request before the upstream is called.
type QuotaExceededError struct {
	Status metering.QuotaStatus
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("monthly usage limit exceeded: %d of %d tokens used on %s tier",
		e.Status.PeriodUsage, e.Status.TierLimit, e.Status.Tier)
}

// UpstreamError wraps a failed upstream call. The ledger is left untouched.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error: %v", e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
