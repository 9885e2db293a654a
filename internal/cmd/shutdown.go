package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Ask the active runner to exit",
	Long: `Write the shutdown sentinel for the active runner. The runner picks it
up on its next tick. Without --kill running jobs finish first; with
--kill they are cancelled.`,
	RunE: runShutdown,
}

var shutdownKill bool

func init() {
	rootCmd.AddCommand(shutdownCmd)

	shutdownCmd.Flags().BoolVar(&shutdownKill, "kill", false, "Cancel running jobs instead of letting them finish")
}

func runShutdown(cmd *cobra.Command, _ []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	if err := st.RequestShutdown(shutdownKill); err != nil {
		return err
	}
	if shutdownKill {
		_, _ = fmt.Fprintln(os.Stdout, "shutdown requested (killing running jobs)")
	} else {
		_, _ = fmt.Fprintln(os.Stdout, "shutdown requested")
	}
	return nil
}
