package sched

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/sbsched/sbs/pkg/mail"
	"github.com/sbsched/sbs/pkg/store"
)

// interruptedExitCode stands in for the real exit status when the wait on
// a child is itself interrupted.
const interruptedExitCode = 127

// Supervisor runs one child process for one job and records its outcome.
// It talks to the dispatcher only through the store: the dispatcher
// observes the terminal status on its next reap pass.
type Supervisor struct {
	Store    *store.Store
	Logger   *zap.Logger
	Notifier mail.Notifier
}

// Run launches the job's script, persists the child pid, waits for exit,
// and assigns the terminal state. A job already moved to CANCEL (the
// child was killed externally) keeps CANCEL; only the return code is
// recorded.
func (sv *Supervisor) Run(id int) {
	logger := sv.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	notifier := sv.Notifier
	if notifier == nil {
		notifier = mail.Discard{}
	}

	settings, err := sv.Store.ReadSettings(id)
	if err != nil {
		logger.Error("Supervisor failed to read settings", zap.Int("job_id", id), zap.Error(err))
		sv.finish(id, interruptedExitCode, settings, logger, notifier)
		return
	}

	stdout, err := sv.openOutput(id, settings[store.SettingStdout], ".stdout", sv.Store.StdoutPath(id))
	if err != nil {
		logger.Error("Failed to open stdout target", zap.Int("job_id", id), zap.Error(err))
		sv.finish(id, interruptedExitCode, settings, logger, notifier)
		return
	}
	defer func() { _ = stdout.Close() }()

	stderr, err := sv.openOutput(id, settings[store.SettingStderr], ".stderr", sv.Store.StderrPath(id))
	if err != nil {
		logger.Error("Failed to open stderr target", zap.Int("job_id", id), zap.Error(err))
		sv.finish(id, interruptedExitCode, settings, logger, notifier)
		return
	}
	defer func() { _ = stderr.Close() }()

	cmd := exec.Command(sv.Store.ScriptPath(id))
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = append(os.Environ(), "JOB_ID="+strconv.Itoa(id))
	if wd := settings[store.SettingWorkDir]; wd != "" {
		cmd.Dir = wd
	}

	if err := cmd.Start(); err != nil {
		logger.Error("Failed to start job script", zap.Int("job_id", id), zap.Error(err))
		sv.finish(id, interruptedExitCode, settings, logger, notifier)
		return
	}

	if err := sv.Store.WritePID(id, cmd.Process.Pid); err != nil {
		logger.Error("Failed to persist pid", zap.Int("job_id", id), zap.Error(err))
	}
	logger.Info("Job started",
		zap.Int("job_id", id),
		zap.Int("pid", cmd.Process.Pid),
		zap.String("name", settings[store.SettingName]))

	rc := 0
	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			rc = exitErr.ExitCode()
			if rc < 0 {
				// Killed by signal; the shell convention is 128+signal,
				// but the queue only distinguishes zero from non-zero.
				rc = interruptedExitCode
			}
		} else {
			rc = interruptedExitCode
		}
	}

	sv.finish(id, rc, settings, logger, notifier)
}

// finish closes out the job record: return code, terminal state (unless
// already CANCEL), and the optional mail notice.
func (sv *Supervisor) finish(id, rc int, settings store.Settings, logger *zap.Logger, notifier mail.Notifier) {
	if err := sv.Store.WriteReturnCode(id, rc); err != nil {
		logger.Error("Failed to persist return code", zap.Int("job_id", id), zap.Error(err))
	}

	state, err := sv.Store.ReadStatus(id)
	if err != nil {
		logger.Error("Failed to read status after exit", zap.Int("job_id", id), zap.Error(err))
		return
	}
	final := state
	if state != store.StateCancel {
		final = store.StateSuccess
		if rc != 0 {
			final = store.StateError
		}
		if err := sv.Store.AppendStatus(id, final, time.Now()); err != nil {
			logger.Error("Failed to record terminal state", zap.Int("job_id", id), zap.Error(err))
			return
		}
	}

	logger.Info("Job finished",
		zap.Int("job_id", id),
		zap.String("state", final.Name()),
		zap.Int("return_code", rc))

	if to := settings[store.SettingMail]; to != "" {
		subject := fmt.Sprintf("sbs job %d finished: %s", id, final.Name())
		body := fmt.Sprintf("Job %d (%s) finished with state %s, return code %d.\n",
			id, settings[store.SettingName], final.Name(), rc)
		if err := notifier.Notify(to, subject, body); err != nil {
			logger.Debug("Mail notification failed", zap.Int("job_id", id), zap.Error(err))
		}
	}
}

// openOutput resolves a capture target. An empty setting uses the default
// file inside the job directory; a setting naming an existing directory
// gets a per-job file inside it; anything else is truncated verbatim.
func (sv *Supervisor) openOutput(id int, target, suffix, fallback string) (*os.File, error) {
	path := fallback
	if target != "" {
		path = target
		if info, err := os.Stat(target); err == nil && info.IsDir() {
			path = filepath.Join(target, strconv.Itoa(id)+suffix)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}
