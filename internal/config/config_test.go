package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		t.Setenv("SBSHOME", "")
		cfg, err := Load("")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, ".sbs", cfg.Home)
		assert.Equal(t, runtime.NumCPU(), cfg.Runner.MaxProcs)
		assert.Equal(t, int64(-1), cfg.Runner.MaxMemMB)
		assert.Equal(t, 10*time.Second, cfg.Runner.PollInterval)
		assert.Equal(t, 10, cfg.Runner.LockAttempts)
		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Equal(t, "localhost:8080", cfg.Serve.Addr)
		assert.InDelta(t, 50.0, cfg.Serve.RateLimit, 0.01)
	})

	t.Run("SBSHOMEEnv", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("SBSHOME", home)
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, home, cfg.Home)
	})

	t.Run("OverrideBeatsEnv", func(t *testing.T) {
		t.Setenv("SBSHOME", "/somewhere/else")
		override := t.TempDir()
		cfg, err := Load(override)
		require.NoError(t, err)
		assert.Equal(t, override, cfg.Home)
	})

	t.Run("ConfigFileInStoreRoot", func(t *testing.T) {
		home := t.TempDir()
		body := "runner:\n  max_procs: 3\n  poll_interval: 2s\nlogging:\n  level: debug\n"
		require.NoError(t, os.WriteFile(filepath.Join(home, "sbs.yaml"), []byte(body), 0o644))

		cfg, err := Load(home)
		require.NoError(t, err)
		assert.Equal(t, 3, cfg.Runner.MaxProcs)
		assert.Equal(t, 2*time.Second, cfg.Runner.PollInterval)
		assert.Equal(t, "debug", cfg.Logging.Level)
		// Untouched keys keep their defaults.
		assert.Equal(t, int64(-1), cfg.Runner.MaxMemMB)
	})

	t.Run("BadValuesFallBack", func(t *testing.T) {
		home := t.TempDir()
		body := "runner:\n  max_procs: 0\n  lock_attempts: -2\n"
		require.NoError(t, os.WriteFile(filepath.Join(home, "sbs.yaml"), []byte(body), 0o644))

		cfg, err := Load(home)
		require.NoError(t, err)
		assert.Equal(t, runtime.NumCPU(), cfg.Runner.MaxProcs)
		assert.Equal(t, 10, cfg.Runner.LockAttempts)
	})
}
