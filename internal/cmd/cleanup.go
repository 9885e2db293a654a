package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sbsched/sbs/pkg/sched"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup [id...]",
	Short: "Delete finished jobs no longer needed as dependencies",
	Long: `Delete the records of terminal jobs. A finished job that a held or
queued job still lists in its afterok is kept until that dependent
finishes or is cancelled.`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	ids, err := parseJobIDs(args)
	if err != nil {
		return err
	}
	st, err := openStore()
	if err != nil {
		return err
	}
	report, err := sched.Cleanup(st, ids)
	if err != nil {
		return err
	}
	for _, id := range report.Cleaned {
		_, _ = fmt.Fprintf(os.Stdout, "job %d cleaned\n", id)
	}
	for _, id := range report.Kept {
		_, _ = fmt.Fprintf(os.Stdout, "job %d kept (still a dependency)\n", id)
	}
	if len(report.Cleaned) == 0 && len(report.Kept) == 0 {
		_, _ = fmt.Fprintln(os.Stdout, "nothing to clean")
	}
	return nil
}
