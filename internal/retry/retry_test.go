package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDecide(t *testing.T) {
	p := Policy{MaxAttempts: 3}

	tests := []struct {
		name        string
		class       Class
		attempts    int
		hasFallback bool
		want        Decision
	}{
		{"transient first failure", Transient, 1, false, Retry},
		{"transient at cap", Transient, 3, false, GiveUp},
		{"transient ignores fallback", Transient, 1, true, Retry},
		{"quota always rotates", Quota, 5, false, Rotate},
		{"validation without fallback retries", Validation, 1, false, Retry},
		{"validation without fallback caps", Validation, 3, false, GiveUp},
		{"validation with fallback gives up", Validation, 1, true, GiveUp},
		{"permanent", Permanent, 1, false, GiveUp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Decide(tt.class, tt.attempts, tt.hasFallback))
		})
	}
}

func TestMaxTotalAttempts(t *testing.T) {
	assert.Equal(t, 9, Policy{MaxAttempts: 3}.MaxTotalAttempts(3))
	assert.Equal(t, 3, Policy{MaxAttempts: 3}.MaxTotalAttempts(0))
	assert.Equal(t, 4, Policy{}.MaxTotalAttempts(4))
}

func TestBackoff_ExponentialAndCapped(t *testing.T) {
	p := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}

	assert.Zero(t, p.Backoff(0))
	assert.Equal(t, 100*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, p.Backoff(2))
	assert.Equal(t, 400*time.Millisecond, p.Backoff(3))
	assert.Equal(t, time.Second, p.Backoff(10))
}

func TestBackoff_JitterStaysInBand(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: time.Minute, Jitter: 0.2}
	for i := 0; i < 50; i++ {
		d := p.Backoff(1)
		assert.GreaterOrEqual(t, d, 900*time.Millisecond)
		assert.LessOrEqual(t, d, 1100*time.Millisecond)
	}
}

func TestSleep_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	assert.ErrorIs(t, Sleep(ctx, 0), context.Canceled)
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))
}

func TestClassString(t *testing.T) {
	assert.Equal(t, "quota", Quota.String())
	assert.Equal(t, "give up", GiveUp.String())
}
