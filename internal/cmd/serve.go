package cmd

import (
	"github.com/spf13/cobra"

	"github.com/sbsched/sbs/internal/observability"
	"github.com/sbsched/sbs/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read-only status API",
	Long: `Serve the job table over HTTP for dashboards and scripts. The API
never mutates the store, so it can run next to an active runner.`,
	RunE: runServe,
}

var serveAddr string

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	serveCfg := server.Config{
		Addr:      cfg.Serve.Addr,
		RateLimit: cfg.Serve.RateLimit,
	}
	if serveAddr != "" {
		serveCfg.Addr = serveAddr
	}
	return server.New(st, observability.CLILogger, serveCfg).ListenAndServe()
}
