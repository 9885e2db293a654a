// Package config loads runner and store configuration.
//
// Precedence: command-line flags (applied by the caller) > environment
// (SBS_ prefix, plus the legacy SBSHOME root override) > an optional
// sbs.yaml in the store root > built-in defaults.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/sbsched/sbs/pkg/store"
)

// Config is the resolved configuration.
type Config struct {
	// Home is the store root directory.
	Home string `mapstructure:"home"`

	Runner  RunnerConfig  `mapstructure:"runner"`
	Logging LoggingConfig `mapstructure:"logging"`
	Serve   ServeConfig   `mapstructure:"serve"`
}

// RunnerConfig configures the dispatcher loop.
type RunnerConfig struct {
	MaxProcs     int           `mapstructure:"max_procs"`
	MaxMemMB     int64         `mapstructure:"max_mem_mb"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	LockAttempts int           `mapstructure:"lock_attempts"`
}

// LoggingConfig configures the CLI logger.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// ServeConfig configures the read-only status API.
type ServeConfig struct {
	Addr      string  `mapstructure:"addr"`
	RateLimit float64 `mapstructure:"rate_limit"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("home", store.RootFromEnv())
	v.SetDefault("runner.max_procs", runtime.NumCPU())
	v.SetDefault("runner.max_mem_mb", -1)
	v.SetDefault("runner.poll_interval", "10s")
	v.SetDefault("runner.lock_attempts", 10)
	v.SetDefault("logging.level", "info")
	v.SetDefault("serve.addr", "localhost:8080")
	v.SetDefault("serve.rate_limit", 50)
}

// Load resolves the configuration. homeOverride, when non-empty, pins the
// store root ahead of SBSHOME and any config file.
func Load(homeOverride string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SBS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	home := strings.TrimSpace(homeOverride)
	if home == "" {
		home = v.GetString("home")
	}

	// Optional sbs.yaml inside the store root.
	v.SetConfigName("sbs")
	v.SetConfigType("yaml")
	v.AddConfigPath(home)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Home = home

	if cfg.Runner.MaxProcs < 1 {
		cfg.Runner.MaxProcs = runtime.NumCPU()
	}
	if cfg.Runner.LockAttempts < 1 {
		cfg.Runner.LockAttempts = 10
	}
	if cfg.Runner.PollInterval <= 0 {
		cfg.Runner.PollInterval = 10 * time.Second
	}
	return &cfg, nil
}
