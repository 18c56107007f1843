package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(t *testing.T) *CircuitBreaker {
	t.Helper()
	cb, err := NewCircuitBreaker(Config{
		ErrorThreshold:   0.5,
		VolumeThreshold:  4,
		Window:           time.Hour,
		SleepWindow:      20 * time.Millisecond,
		HalfOpenRequests: 2,
	})
	require.NoError(t, err)
	return cb
}

func TestCircuitBreakerStartsClosed(t *testing.T) {
	cb := newTestBreaker(t)
	assert.Equal(t, Closed, cb.State())
}

func TestCircuitBreakerTripsAfterErrorThreshold(t *testing.T) {
	cb := newTestBreaker(t)
	boom := errors.New("boom")

	// 2 successes, 2 failures = 50% error rate, at VolumeThreshold.
	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	_ = cb.Execute(context.Background(), func() error { return boom })
	_ = cb.Execute(context.Background(), func() error { return boom })

	assert.Equal(t, Open, cb.State())
}

func TestCircuitBreakerRejectsWhileOpen(t *testing.T) {
	cb := newTestBreaker(t)
	boom := errors.New("boom")
	for i := 0; i < 4; i++ {
		_ = cb.Execute(context.Background(), func() error { return boom })
	}
	require.Equal(t, Open, cb.State())

	called := false
	err := cb.Execute(context.Background(), func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestCircuitBreakerBelowVolumeThresholdStaysClosed(t *testing.T) {
	cb := newTestBreaker(t)
	boom := errors.New("boom")
	// 3 failures out of 3 calls: 100% error rate but under VolumeThreshold (4).
	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), func() error { return boom })
	}
	assert.Equal(t, Closed, cb.State())
}

func TestCircuitBreakerHalfOpenClosesOnSuccessfulProbes(t *testing.T) {
	cb := newTestBreaker(t)
	boom := errors.New("boom")
	for i := 0; i < 4; i++ {
		_ = cb.Execute(context.Background(), func() error { return boom })
	}
	require.Equal(t, Open, cb.State())

	time.Sleep(25 * time.Millisecond)

	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	assert.Equal(t, HalfOpen, cb.State())
	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	assert.Equal(t, Closed, cb.State())
}

func TestCircuitBreakerHalfOpenReopensOnFailedProbe(t *testing.T) {
	cb := newTestBreaker(t)
	boom := errors.New("boom")
	for i := 0; i < 4; i++ {
		_ = cb.Execute(context.Background(), func() error { return boom })
	}
	require.Equal(t, Open, cb.State())

	time.Sleep(25 * time.Millisecond)

	err := cb.Execute(context.Background(), func() error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, Open, cb.State())
}

func TestCircuitBreakerResetForcesClosed(t *testing.T) {
	cb := newTestBreaker(t)
	boom := errors.New("boom")
	for i := 0; i < 4; i++ {
		_ = cb.Execute(context.Background(), func() error { return boom })
	}
	require.Equal(t, Open, cb.State())

	cb.Reset()
	assert.Equal(t, Closed, cb.State())
}

func TestDefaultConfigFillsZeroFields(t *testing.T) {
	cb, err := NewCircuitBreaker(Config{Name: "custom"})
	require.NoError(t, err)
	assert.Equal(t, "custom", cb.cfg.Name)
	assert.Equal(t, DefaultConfig().ErrorThreshold, cb.cfg.ErrorThreshold)
	assert.Equal(t, DefaultConfig().VolumeThreshold, cb.cfg.VolumeThreshold)
}
