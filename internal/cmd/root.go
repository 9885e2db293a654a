// Package cmd wires the sbs command surface.
package cmd

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/sbsched/sbs/internal/config"
	"github.com/sbsched/sbs/internal/observability"
	"github.com/sbsched/sbs/pkg/store"
)

var (
	flagHome     string
	flagLogLevel string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "sbs",
	Short: "Single-host batch job scheduler",
	Long: `sbs queues and runs shell-script batch jobs on one host.

Queue state lives entirely in a directory on the local filesystem
(SBSHOME, default ./.sbs), so jobs, holds, and dependencies survive
across invocations without a daemon or a database. Start a runner with
'sbs run'; every other verb mutates or reads the same store.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		var err error
		cfg, err = config.Load(flagHome)
		if err != nil {
			return err
		}
		level := cfg.Logging.Level
		if flagLogLevel != "" {
			level = flagLogLevel
		}
		return observability.Init(level)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagHome, "home", "H", "", "Store root directory (default $SBSHOME or ./.sbs)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")
}

// Execute runs the CLI. Errors print to stderr and exit code 1.
func Execute() {
	defer observability.Sync()
	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "sbs: %v\n", err)
		os.Exit(1)
	}
}

// openStore opens the configured store root, creating it on first use.
func openStore() (*store.Store, error) {
	return store.Open(cfg.Home,
		store.WithLockRetry(cfg.Runner.LockAttempts, time.Second))
}

// parseJobIDs parses positional job id arguments.
func parseJobIDs(args []string) ([]int, error) {
	ids := make([]int, 0, len(args))
	for _, arg := range args {
		id, err := strconv.Atoi(arg)
		if err != nil || id < 1 {
			return nil, fmt.Errorf("invalid job id: %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
