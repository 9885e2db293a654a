package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sbsched/sbs/internal/observability"
	"github.com/sbsched/sbs/pkg/events"
	"github.com/sbsched/sbs/pkg/mail"
	"github.com/sbsched/sbs/pkg/sched"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the runner",
	Long: `Start the dispatcher loop: admit queued jobs up to the CPU and memory
budgets, resolve afterok dependencies, and supervise the resulting
child processes. Only one runner per store; a second invocation fails.

The runner exits once no unfinished jobs remain unless --forever is
given. SIGINT exits promptly and releases the run lock; running jobs
keep their running-set markers and are re-adopted by the next runner.`,
	RunE: runRun,
}

var (
	runMaxProcs int
	runMaxMem   int64
	runForever  bool
	runPoll     time.Duration
	runForce    bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().IntVar(&runMaxProcs, "max-procs", 0, "CPU slot budget (default host CPU count)")
	runCmd.Flags().Int64Var(&runMaxMem, "max-mem", -1, "Memory budget in MB (-1 = unlimited)")
	runCmd.Flags().BoolVar(&runForever, "forever", false, "Keep running when the queue drains")
	runCmd.Flags().DurationVar(&runPoll, "poll", 0, "Idle sleep between ticks (default 10s)")
	runCmd.Flags().BoolVar(&runForce, "force", false, "Reclaim a run lock whose owner process is dead")
}

func runRun(cmd *cobra.Command, _ []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}

	schedCfg := sched.Config{
		MaxProcs:     cfg.Runner.MaxProcs,
		MaxMemMB:     cfg.Runner.MaxMemMB,
		PollInterval: cfg.Runner.PollInterval,
		Forever:      runForever,
		ReclaimStale: runForce,
	}
	if cmd.Flags().Changed("max-procs") {
		schedCfg.MaxProcs = runMaxProcs
	}
	if cmd.Flags().Changed("max-mem") {
		schedCfg.MaxMemMB = runMaxMem
	}
	if cmd.Flags().Changed("poll") {
		schedCfg.PollInterval = runPoll
	}

	eventLog, err := os.OpenFile(st.EventLogPath(),
		os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = eventLog.Close() }()

	d := sched.New(st, schedCfg).
		WithLogger(observability.CLILogger).
		WithNotifier(&mail.Sendmail{})

	ew := events.NewWriter(eventLog, d.RunnerID())
	defer func() { _ = ew.Close() }()
	d.WithEvents(ew)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return d.Run(ctx)
}
