package dispatcher

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRunStartsConfiguredNumberOfRunners(t *testing.T) {
	t.Parallel()

	var started atomic.Int32
	d := New(zap.NewNop())
	d.AddPool("scrape", 4, RunnerFunc(func(ctx context.Context) {
		started.Add(1)
		<-ctx.Done()
	}))
	d.AddPool("notify", 2, RunnerFunc(func(ctx context.Context) {
		started.Add(1)
		<-ctx.Done()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return started.Load() == 6
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancellation")
	}
}

func TestAddPoolClampsSize(t *testing.T) {
	t.Parallel()

	var started atomic.Int32
	d := New(zap.NewNop())
	d.AddPool("single", 0, RunnerFunc(func(context.Context) {
		started.Add(1)
	}))

	d.Run(context.Background())
	require.Equal(t, int32(1), started.Load())
}
