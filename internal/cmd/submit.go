package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sbsched/sbs/internal/observability"
	"github.com/sbsched/sbs/pkg/manifest"
	"github.com/sbsched/sbs/pkg/sched"
	"github.com/sbsched/sbs/pkg/store"
)

var submitCmd = &cobra.Command{
	Use:   "submit [script]",
	Short: "Queue a script or inline command as a new job",
	Long: `Queue a new job from a script file, an inline command, or a YAML
manifest. Settings come from #SBS directives in the script; flags
override directives.

Example:
  sbs submit build.sh
  sbs submit -c 'make all' --name build --procs 4
  sbs submit --manifest nightly.yaml --afterok 3:7`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSubmit,
}

var (
	submitCommand  string
	submitManifest string
	submitName     string
	submitMem      string
	submitMail     string
	submitProcs    int
	submitAfterOK  string
	submitStdout   string
	submitStderr   string
	submitWorkDir  string
	submitHold     bool
)

func init() {
	rootCmd.AddCommand(submitCmd)

	submitCmd.Flags().StringVarP(&submitCommand, "command", "c", "", "Inline command instead of a script file")
	submitCmd.Flags().StringVar(&submitManifest, "manifest", "", "YAML job manifest")
	submitCmd.Flags().StringVar(&submitName, "name", "", "Job name")
	submitCmd.Flags().StringVar(&submitMem, "mem", "", "Declared memory (e.g. 512M, 4G)")
	submitCmd.Flags().StringVar(&submitMail, "mail", "", "Notification address")
	submitCmd.Flags().IntVar(&submitProcs, "procs", 0, "Declared CPU slots")
	submitCmd.Flags().StringVar(&submitAfterOK, "afterok", "", "Colon-separated predecessor job ids")
	submitCmd.Flags().StringVar(&submitStdout, "stdout", "", "Stdout target (file or directory)")
	submitCmd.Flags().StringVar(&submitStderr, "stderr", "", "Stderr target (file or directory)")
	submitCmd.Flags().StringVar(&submitWorkDir, "wd", "", "Working directory for the job")
	submitCmd.Flags().BoolVar(&submitHold, "hold", false, "Submit in user hold")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	body, hold, overrides, err := submitInput(args)
	if err != nil {
		return err
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	id, err := sched.Submit(st, body, sched.SubmitOptions{
		Settings: overrides,
		Hold:     hold,
	})
	if err != nil {
		return err
	}

	observability.CLILogger.Debug("Submitted job",
		zap.Int("job_id", id),
		zap.String("name", overrides[store.SettingName]))
	_, _ = fmt.Fprintf(os.Stdout, "%d\n", id)
	return nil
}

// submitInput resolves the script body plus flag overrides from the three
// submission forms (script file, -c command, --manifest).
func submitInput(args []string) (body []byte, hold bool, overrides store.Settings, err error) {
	sources := 0
	if len(args) == 1 {
		sources++
	}
	if submitCommand != "" {
		sources++
	}
	if submitManifest != "" {
		sources++
	}
	if sources != 1 {
		return nil, false, nil, fmt.Errorf("exactly one of a script path, -c, or --manifest is required")
	}

	overrides = make(store.Settings)
	hold = submitHold

	switch {
	case submitManifest != "":
		m, err := manifest.Load(submitManifest)
		if err != nil {
			return nil, false, nil, err
		}
		body, err = m.ScriptBody()
		if err != nil {
			return nil, false, nil, err
		}
		overrides[store.SettingName] = m.Name
		overrides[store.SettingMem] = m.Mem
		overrides[store.SettingMail] = m.Mail
		overrides[store.SettingAfterOK] = m.AfterOK
		overrides[store.SettingStdout] = m.Stdout
		overrides[store.SettingStderr] = m.Stderr
		overrides[store.SettingWorkDir] = m.WorkDir
		if m.Procs > 0 {
			overrides[store.SettingProcs] = strconv.Itoa(m.Procs)
		}
		hold = hold || m.Hold
	case submitCommand != "":
		body = []byte(submitCommand + "\n")
	default:
		body, err = os.ReadFile(args[0])
		if err != nil {
			return nil, false, nil, fmt.Errorf("read script %s: %w", args[0], err)
		}
	}

	// Flags override manifest values and #SBS directives alike.
	setIfPresent := func(key, value string) {
		if value != "" {
			overrides[key] = value
		}
	}
	setIfPresent(store.SettingName, submitName)
	setIfPresent(store.SettingMem, submitMem)
	setIfPresent(store.SettingMail, submitMail)
	setIfPresent(store.SettingAfterOK, submitAfterOK)
	setIfPresent(store.SettingStdout, submitStdout)
	setIfPresent(store.SettingStderr, submitStderr)
	setIfPresent(store.SettingWorkDir, submitWorkDir)
	if submitProcs > 0 {
		overrides[store.SettingProcs] = strconv.Itoa(submitProcs)
	}
	return body, hold, overrides, nil
}
