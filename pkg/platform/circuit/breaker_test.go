package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreaker_InitialState(t *testing.T) {
	b := New("https://hooks.example.com/wa")
	assert.False(t, b.IsOpen())
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, "https://hooks.example.com/wa", b.Name())
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := New("endpoint", WithFailureThreshold(3))

	useFallback, change := b.RecordFailure()
	assert.False(t, useFallback)
	assert.False(t, change.Opened)

	useFallback, change = b.RecordFailure()
	assert.False(t, useFallback)
	assert.False(t, change.Opened)

	useFallback, change = b.RecordFailure()
	assert.True(t, useFallback)
	assert.True(t, change.Opened)
	assert.True(t, b.IsOpen())
}

func TestBreaker_ClosesAfterSuccessThreshold(t *testing.T) {
	b := New("endpoint", WithFailureThreshold(1), WithSuccessThreshold(2))

	b.RecordFailure()
	assert.True(t, b.IsOpen())

	usePrimary, change := b.RecordSuccess()
	assert.False(t, usePrimary)
	assert.False(t, change.Closed)
	assert.True(t, b.IsOpen())

	usePrimary, change = b.RecordSuccess()
	assert.True(t, usePrimary)
	assert.True(t, change.Closed)
	assert.False(t, b.IsOpen())
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := New("endpoint", WithFailureThreshold(3))

	b.RecordFailure()
	b.RecordFailure()
	assert.False(t, b.IsOpen())

	b.RecordSuccess()

	// Failure streak restarts after a success.
	b.RecordFailure()
	b.RecordFailure()
	assert.False(t, b.IsOpen())

	b.RecordFailure()
	assert.True(t, b.IsOpen())
}

func TestBreaker_FailureResetsSuccessCount(t *testing.T) {
	b := New("endpoint", WithFailureThreshold(1), WithSuccessThreshold(3))

	b.RecordFailure()
	assert.True(t, b.IsOpen())

	b.RecordSuccess()
	b.RecordSuccess()

	// A failure during recovery restarts the success streak.
	b.RecordFailure()
	assert.True(t, b.IsOpen())

	b.RecordSuccess()
	b.RecordSuccess()
	assert.True(t, b.IsOpen())
	b.RecordSuccess()
	assert.False(t, b.IsOpen())
}

func TestBreaker_AllowsProbeAfterCooldown(t *testing.T) {
	b := New("endpoint", WithFailureThreshold(1), WithSuccessThreshold(1), WithCooldown(10*time.Millisecond))

	b.RecordFailure()
	assert.True(t, b.IsOpen())
	assert.False(t, b.Allow(), "open breaker blocks during cooldown")

	time.Sleep(20 * time.Millisecond)
	assert.True(t, b.Allow(), "cooldown elapsed, one probe may pass")
	assert.False(t, b.Allow(), "probes are paced one cooldown apart")

	_, change := b.RecordSuccess()
	assert.True(t, change.Closed)
	assert.True(t, b.Allow(), "closed breaker allows freely again")
	assert.True(t, b.Allow())
}

func TestBreaker_FailedProbeRestartsCooldown(t *testing.T) {
	b := New("endpoint", WithFailureThreshold(1), WithCooldown(20*time.Millisecond))

	b.RecordFailure()
	time.Sleep(30 * time.Millisecond)
	assert.True(t, b.Allow())

	// The probe fails; the breaker stays open and the clock restarts.
	b.RecordFailure()
	assert.False(t, b.Allow())
	assert.True(t, b.IsOpen())
}

func TestBreaker_Reset(t *testing.T) {
	b := New("endpoint", WithFailureThreshold(1))

	b.RecordFailure()
	assert.True(t, b.IsOpen())

	b.Reset()
	assert.False(t, b.IsOpen())
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_OpenCircuitReportsNoFurtherTransition(t *testing.T) {
	b := New("endpoint", WithFailureThreshold(1))

	b.RecordFailure()

	useFallback, change := b.RecordFailure()
	assert.True(t, useFallback)
	assert.False(t, change.Opened)
}
