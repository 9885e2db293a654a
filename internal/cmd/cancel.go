package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sbsched/sbs/pkg/sched"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <id>...",
	Short: "Cancel jobs, killing them if running",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCancel,
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}

func runCancel(cmd *cobra.Command, args []string) error {
	ids, err := parseJobIDs(args)
	if err != nil {
		return err
	}
	st, err := openStore()
	if err != nil {
		return err
	}
	for _, id := range ids {
		cancelled, err := sched.Cancel(st, id)
		if err != nil {
			return err
		}
		if cancelled {
			_, _ = fmt.Fprintf(os.Stdout, "job %d cancelled\n", id)
		} else {
			_, _ = fmt.Fprintf(os.Stdout, "job %d already finished\n", id)
		}
	}
	return nil
}
