package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoff_GrowsAndCaps(t *testing.T) {
	t.Parallel()

	b := newBackoff(100*time.Millisecond, 500*time.Millisecond)
	b.rand = func() float64 { return 0.5 }

	require.Equal(t, 100*time.Millisecond, b.delay(0))
	require.Equal(t, 200*time.Millisecond, b.delay(1))
	require.Equal(t, 400*time.Millisecond, b.delay(2))
	require.Equal(t, 500*time.Millisecond, b.delay(3))
	require.Equal(t, 500*time.Millisecond, b.delay(30))
	require.Equal(t, 100*time.Millisecond, b.delay(-1))
}

func TestBackoff_Jitter(t *testing.T) {
	t.Parallel()

	b := newBackoff(time.Second, time.Second)
	b.rand = func() float64 { return 0 }
	require.Equal(t, 900*time.Millisecond, b.delay(0))

	b.rand = func() float64 { return 0.999999 }
	got := b.delay(0)
	require.Greater(t, got, time.Second)
	require.LessOrEqual(t, got, 1100*time.Millisecond)
}

func TestBackoff_MaxBelowInitial(t *testing.T) {
	t.Parallel()

	b := newBackoff(time.Second, 0)
	b.rand = func() float64 { return 0.5 }
	require.Equal(t, time.Second, b.delay(4))
	require.Zero(t, newBackoff(0, time.Second).delay(2))
}
