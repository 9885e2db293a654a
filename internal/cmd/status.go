package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"

	"github.com/sbsched/sbs/internal/server"
	"github.com/sbsched/sbs/pkg/store"
)

var statusCmd = &cobra.Command{
	Use:   "status [id...]",
	Short: "Show the job table",
	RunE:  runStatus,
}

var (
	statusJSON     bool
	statusNameGlob string
)

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")
	statusCmd.Flags().StringVar(&statusNameGlob, "name", "", "Only jobs whose name matches this glob")
}

func runStatus(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}

	ids, err := parseJobIDs(args)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		if ids, err = st.ListIDs(); err != nil {
			return err
		}
	}

	views := make([]jobRow, 0, len(ids))
	for _, id := range ids {
		row, err := readJobRow(st, id)
		if err != nil {
			if len(args) > 0 {
				return err
			}
			continue
		}
		if statusNameGlob != "" {
			match, err := doublestar.Match(statusNameGlob, row.Name)
			if err != nil {
				return fmt.Errorf("invalid --name glob: %w", err)
			}
			if !match {
				continue
			}
		}
		views = append(views, *row)
	}

	if statusJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	}

	if len(views) == 0 {
		_, _ = fmt.Fprintln(os.Stdout, "No jobs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "ID\tNAME\tSTATE\tPROCS\tMEM\tRC\tAFTEROK\tSUBMITTED\tUPDATED")
	for _, row := range views {
		name := row.Name
		if name == "" {
			name = "-"
		}
		mem := "-"
		if row.MemMB > 0 {
			mem = fmt.Sprintf("%dM", row.MemMB)
		}
		rc := "-"
		if row.ReturnCode != nil {
			rc = fmt.Sprintf("%d", *row.ReturnCode)
		}
		afterok := row.AfterOK
		if afterok == "" {
			afterok = "-"
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			row.ID, name, row.State, row.Procs, mem, rc, afterok,
			row.Submitted.Local().Format(time.DateTime),
			row.Updated.Local().Format(time.DateTime))
	}
	return nil
}

// jobRow reuses the API view; table and JSON output stay consistent.
type jobRow = server.JobView

func readJobRow(st *store.Store, id int) (*jobRow, error) {
	history, err := st.StatusHistory(id)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("job %d has empty status history", id)
	}
	settings, err := st.ReadSettings(id)
	if err != nil {
		return nil, err
	}

	row := &jobRow{
		ID:        id,
		Name:      settings[store.SettingName],
		State:     history[len(history)-1].State.Name(),
		Procs:     settings.Procs(),
		AfterOK:   settings[store.SettingAfterOK],
		BecauseOf: settings[store.SettingBecauseOf],
		Submitted: history[0].Time.UTC(),
		Updated:   history[len(history)-1].Time.UTC(),
	}
	if mem, err := settings.MemMB(); err == nil && mem > 0 {
		row.MemMB = mem
	}
	if pid, err := st.ReadPID(id); err == nil {
		row.PID = pid
	}
	if rc, ok, _ := st.ReadReturnCode(id); ok {
		row.ReturnCode = &rc
	}
	return row, nil
}
