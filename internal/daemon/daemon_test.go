package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/mahyarmirrashed/assetpipe/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunForeground(t *testing.T) {
	cfg := config.Default(config.ModeDevelopment)
	called := false

	err := Run(context.Background(), cfg, func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestRunReturnsErrors(t *testing.T) {
	cfg := config.Default(config.ModeDevelopment)
	boom := errors.New("boom")

	err := Run(context.Background(), cfg, func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := config.Default(config.ModeDevelopment)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Run(ctx, cfg, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.NoError(t, err)
}

func TestRunStopsOnSignal(t *testing.T) {
	cfg := config.Default(config.ModeDevelopment)

	err := Run(context.Background(), cfg, func(ctx context.Context) error {
		self, err := os.FindProcess(os.Getpid())
		require.NoError(t, err)
		require.NoError(t, self.Signal(syscall.SIGTERM))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(2 * time.Second):
			return errors.New("signal not handled")
		}
	})
	assert.NoError(t, err)
}

func TestContext(t *testing.T) {
	dctx := Context("/srv/site")
	assert.Equal(t, filepath.Join("/srv/site", PidFileName), dctx.PidFileName)
	assert.Equal(t, filepath.Join("/srv/site", LogFileName), dctx.LogFileName)
	assert.Equal(t, "[assetpipe-daemon]", dctx.Args[0])
}
