package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridgeline-silicon/manycore-rt/internal/config"
	"github.com/ridgeline-silicon/manycore-rt/internal/launch"
	"github.com/ridgeline-silicon/manycore-rt/internal/logx"
	"github.com/ridgeline-silicon/manycore-rt/internal/worker"
)

func smallConfig() config.Config {
	return config.Config{
		NumShires:              1,
		HartsPerShire:          4,
		MaxSimultaneousKernels: 1,
		ListenAddr:             "127.0.0.1:0",
		LogLevel:               logx.DEBUG,
		ArenaBytes:             4096,
	}
}

func TestLaunchKernelEndToEndReachesUnusedAgain(t *testing.T) {
	loader := worker.NewNativeLoader()
	loader.Register(0x1000, worker.BeefKernel)

	rt, err := New(smallConfig(), loader, logx.Discard())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go rt.Run(ctx)

	// Give the dispatch/sync goroutines a moment to start polling before
	// the launch is issued.
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, rt.launcher.LaunchKernel(0, 1, 0x1000, []byte("params")))

	assert.Eventually(t, func() bool {
		slot, err := rt.launcher.Slot(0)
		return err == nil && slot.State() == launch.Unused
	}, 400*time.Millisecond, 5*time.Millisecond)
}
