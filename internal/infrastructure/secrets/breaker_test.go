package secrets

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daybook-io/daybook-auth/pkg/errors"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := NewBreaker(3, 30*time.Second)

	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, BreakerClosed, b.State())
	require.NoError(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, BreakerOpen, b.State())
	assert.ErrorIs(t, b.Allow(), errors.ErrCircuitOpen)
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(3, 30*time.Second)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreakerHalfOpenTrial(t *testing.T) {
	b := NewBreaker(1, 30*time.Second)
	base := time.Now()
	b.now = func() time.Time { return base }

	b.RecordFailure()
	require.Equal(t, BreakerOpen, b.State())

	// Cooldown elapses: exactly one trial call gets through.
	b.now = func() time.Time { return base.Add(31 * time.Second) }
	require.NoError(t, b.Allow())
	assert.Equal(t, BreakerHalfOpen, b.State())
	assert.ErrorIs(t, b.Allow(), errors.ErrCircuitOpen)

	// A successful trial closes the circuit again.
	b.RecordSuccess()
	assert.Equal(t, BreakerClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestBreakerFailedTrialReopens(t *testing.T) {
	b := NewBreaker(1, 30*time.Second)
	base := time.Now()
	b.now = func() time.Time { return base }

	b.RecordFailure()
	b.now = func() time.Time { return base.Add(31 * time.Second) }
	require.NoError(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, BreakerOpen, b.State())
	assert.ErrorIs(t, b.Allow(), errors.ErrCircuitOpen)
}
