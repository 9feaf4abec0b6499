package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffDelayDoubles(t *testing.T) {
	t.Parallel()

	b := Backoff{Initial: time.Second, Max: 10 * time.Second}
	require.Equal(t, time.Second, b.Delay(1))
	require.Equal(t, 2*time.Second, b.Delay(2))
	require.Equal(t, 4*time.Second, b.Delay(3))
	require.Equal(t, 8*time.Second, b.Delay(4))
}

func TestBackoffDelayCapped(t *testing.T) {
	t.Parallel()

	b := Backoff{Initial: time.Second, Max: 5 * time.Second}
	require.Equal(t, 5*time.Second, b.Delay(4))
	require.Equal(t, 5*time.Second, b.Delay(20))
}

func TestBackoffDelayClampsLowAttempts(t *testing.T) {
	t.Parallel()

	b := Backoff{Initial: 250 * time.Millisecond}
	require.Equal(t, 250*time.Millisecond, b.Delay(0))
	require.Equal(t, 250*time.Millisecond, b.Delay(-3))
}
