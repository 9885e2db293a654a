package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sbsched/sbs/pkg/sched"
)

var holdCmd = &cobra.Command{
	Use:   "hold <id>...",
	Short: "Place jobs in user hold",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runHold,
}

var releaseCmd = &cobra.Command{
	Use:   "release <id>...",
	Short: "Release user-held jobs back to the queue",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRelease,
}

func init() {
	rootCmd.AddCommand(holdCmd)
	rootCmd.AddCommand(releaseCmd)
}

func runHold(cmd *cobra.Command, args []string) error {
	ids, err := parseJobIDs(args)
	if err != nil {
		return err
	}
	st, err := openStore()
	if err != nil {
		return err
	}
	for _, id := range ids {
		changed, err := sched.Hold(st, id)
		if err != nil {
			return err
		}
		if changed {
			_, _ = fmt.Fprintf(os.Stdout, "job %d held\n", id)
		} else {
			_, _ = fmt.Fprintf(os.Stdout, "job %d already held\n", id)
		}
	}
	return nil
}

func runRelease(cmd *cobra.Command, args []string) error {
	ids, err := parseJobIDs(args)
	if err != nil {
		return err
	}
	st, err := openStore()
	if err != nil {
		return err
	}
	for _, id := range ids {
		changed, err := sched.Release(st, id)
		if err != nil {
			return err
		}
		if changed {
			_, _ = fmt.Fprintf(os.Stdout, "job %d released\n", id)
		} else {
			_, _ = fmt.Fprintf(os.Stdout, "job %d not in user hold\n", id)
		}
	}
	return nil
}
