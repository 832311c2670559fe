// Package retry defines the one policy every backend call site follows:
// which failures are retried on the same credential, which rotate to the
// next one and when to give up.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Class is the category of a failed backend call.
type Class int

const (
	// Transient covers timeouts, 5xx and malformed-but-retryable responses.
	Transient Class = iota
	// Quota means the credential itself is spent.
	Quota
	// Validation means the response parsed but broke the unit shape or
	// came back in the wrong language.
	Validation
	// Permanent failures are never retried.
	Permanent
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case Quota:
		return "quota"
	case Validation:
		return "validation"
	case Permanent:
		return "permanent"
	}
	return "unknown"
}

// Decision is what the call loop does after a failure.
type Decision int

const (
	// Retry the same credential after Backoff.
	Retry Decision = iota
	// Rotate marks the credential exhausted and retries on the next one.
	Rotate
	// GiveUp ends the loop for this backend.
	GiveUp
)

func (d Decision) String() string {
	switch d {
	case Retry:
		return "retry"
	case Rotate:
		return "rotate"
	case GiveUp:
		return "give up"
	}
	return "unknown"
}

// Policy configures attempts and the backoff schedule.
type Policy struct {
	// MaxAttempts bounds same-credential attempts for transient failures and
	// is the per-credential factor of the total attempt budget.
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	// Jitter is a fraction of the delay, 0.2 spreads it by ±10%.
	Jitter float64 `mapstructure:"jitter"`
	// QuotaDelay is the pause before retrying on a freshly rotated key.
	QuotaDelay time.Duration `mapstructure:"quota_delay"`
}

// DefaultPolicy mirrors the pipeline's historical settings: three attempts,
// one second base delay and a short pause after a quota rotation.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Jitter:      0.2,
		QuotaDelay:  time.Second,
	}
}

func (p Policy) maxAttempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// Decide maps a failure to a Decision. attempts is the number of failed
// attempts already made on the current credential, including this one.
// A Validation failure with a fallback backend available gives up at once so
// the fallback gets the unit instead of more retries on a backend that is
// systematically producing bad output.
func (p Policy) Decide(class Class, attempts int, hasFallback bool) Decision {
	switch class {
	case Quota:
		return Rotate
	case Permanent:
		return GiveUp
	case Validation:
		if hasFallback {
			return GiveUp
		}
	}
	if attempts >= p.maxAttempts() {
		return GiveUp
	}
	return Retry
}

// MaxTotalAttempts is the attempt budget of one call across every credential.
func (p Policy) MaxTotalAttempts(credentials int) int {
	if credentials < 1 {
		credentials = 1
	}
	return p.maxAttempts() * credentials
}

// Backoff returns base * 2^(attempt-1) capped at MaxDelay, with jitter.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt <= 0 || p.BaseDelay <= 0 {
		return 0
	}

	backoff := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if p.MaxDelay > 0 && backoff > float64(p.MaxDelay) {
		backoff = float64(p.MaxDelay)
	}

	if p.Jitter > 0 {
		backoff += backoff * p.Jitter * (rand.Float64() - 0.5)
	}
	return time.Duration(backoff)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
