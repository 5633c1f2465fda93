package quota

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNoEntitlement       = errors.New("quota: no active entitlement")
	ErrInsufficientQuota   = errors.New("quota: not enough quota")
	ErrTooFrequent         = errors.New("quota: too frequent requests")
	ErrDailyCapExceeded    = errors.New("quota: daily cap reached")
	ErrParallelismExceeded = errors.New("quota: too many parallel operations")
	ErrUnknownProduct      = errors.New("quota: unknown product")
	ErrInvalidCost         = errors.New("quota: cost must not be negative")
)

// FloodError is a TooFrequent rejection carrying the remaining wait.
type FloodError struct {
	RetryAfter time.Duration
}

func (e *FloodError) Error() string {
	return fmt.Sprintf("%s: retry after %s", ErrTooFrequent, e.RetryAfter.Round(time.Millisecond))
}

func (e *FloodError) Is(target error) bool { return target == ErrTooFrequent }

// IsRejection reports whether err is a business-rule rejection rather than
// a store failure.
func IsRejection(err error) bool {
	for _, target := range []error{ErrNoEntitlement, ErrInsufficientQuota, ErrTooFrequent, ErrDailyCapExceeded, ErrParallelismExceeded} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
