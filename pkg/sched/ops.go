package sched

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/sbsched/sbs/pkg/script"
	"github.com/sbsched/sbs/pkg/store"
)

// ErrDependencyMissing rejects a submission whose afterok references a job
// id with no record in the store.
var ErrDependencyMissing = errors.New("afterok dependency does not exist")

// SubmitOptions carries command-line settings that override in-script
// #SBS directives.
type SubmitOptions struct {
	Settings store.Settings
	Hold     bool
}

// Submit persists a new job: directives are parsed from the script body,
// command-line overrides win, the name is sanitized, mem and afterok are
// validated, and every afterok id must exist at submit time. procs is
// stored as given; unparsable or non-positive values read back as 1. The job
// enters USERHOLD when hold was requested, HOLD otherwise.
func Submit(st *store.Store, body []byte, opts SubmitOptions) (int, error) {
	directives := script.ParseDirectives(body)

	hold := opts.Hold
	if _, ok := directives[script.KeyHold]; ok {
		hold = true
	}

	settings := make(store.Settings)
	for _, key := range []string{
		store.SettingName, store.SettingMem, store.SettingMail, store.SettingProcs,
		store.SettingAfterOK, store.SettingStdout, store.SettingStderr, store.SettingWorkDir,
	} {
		if v, ok := directives[key]; ok && v != "" {
			settings[key] = v
		}
		if v, ok := opts.Settings[key]; ok && v != "" {
			settings[key] = v
		}
	}
	if name, ok := settings[store.SettingName]; ok {
		settings[store.SettingName] = store.SanitizeName(name)
	}

	if _, err := settings.MemMB(); err != nil {
		return 0, err
	}
	deps, err := settings.AfterOK()
	if err != nil {
		return 0, err
	}
	for _, pred := range deps {
		if !st.Exists(pred) {
			return 0, fmt.Errorf("%w: %d", ErrDependencyMissing, pred)
		}
	}

	initial := store.StateHold
	if hold {
		initial = store.StateUserHold
	}
	return st.CreateJob(script.EnsureShebang(body), settings, initial)
}

// Hold places a held or queued job into USERHOLD. It reports whether the
// job changed state.
func Hold(st *store.Store, id int) (bool, error) {
	state, err := st.ReadStatus(id)
	if err != nil {
		return false, err
	}
	switch state {
	case store.StateHold, store.StateQueued:
		return true, st.AppendStatus(id, store.StateUserHold, time.Now())
	case store.StateUserHold:
		return false, nil
	}
	return false, fmt.Errorf("job %d cannot be held from state %s", id, state.Name())
}

// Release moves a USERHOLD job back to HOLD; the dependency resolver
// re-evaluates it on the runner's next tick.
func Release(st *store.Store, id int) (bool, error) {
	state, err := st.ReadStatus(id)
	if err != nil {
		return false, err
	}
	switch state {
	case store.StateUserHold:
		return true, st.AppendStatus(id, store.StateHold, time.Now())
	case store.StateHold:
		return false, nil
	}
	return false, fmt.Errorf("job %d cannot be released from state %s", id, state.Name())
}

// Cancel moves a non-terminal job to CANCEL. The CANCEL entry is appended
// before the child is signalled, so the supervisor observing the exit
// finds the status already terminal and leaves it alone. A job already in
// a terminal state is left untouched.
func Cancel(st *store.Store, id int) (bool, error) {
	state, err := st.ReadStatus(id)
	if err != nil {
		return false, err
	}
	if state.Terminal() {
		return false, nil
	}
	if err := st.AppendStatus(id, store.StateCancel, time.Now()); err != nil {
		return false, err
	}
	if state == store.StateRunning {
		pid, err := st.ReadPID(id)
		if err != nil {
			return true, nil
		}
		if proc, err := os.FindProcess(pid); err == nil {
			_ = proc.Signal(syscall.SIGKILL)
		}
	}
	return true, nil
}

// CleanupReport lists the outcome of one cleanup pass.
type CleanupReport struct {
	Cleaned []int
	Kept    []int
}

// Cleanup deletes terminal jobs, holding the store lock for a consistent
// pass. A terminal job still listed in the afterok of any non-terminal job
// is kept: the resolver must be able to read its outcome. With ids given,
// only those jobs are considered; otherwise every terminal job is.
func Cleanup(st *store.Store, ids []int) (*CleanupReport, error) {
	report := &CleanupReport{}
	err := st.WithLock(func() error {
		all, err := st.ListIDs()
		if err != nil {
			return err
		}

		// Predecessors still needed by a live (non-terminal) dependent.
		needed := make(map[int]bool)
		for _, id := range all {
			state, err := st.ReadStatus(id)
			if err != nil || state.Terminal() {
				continue
			}
			settings, err := st.ReadSettings(id)
			if err != nil {
				continue
			}
			deps, err := settings.AfterOK()
			if err != nil {
				continue
			}
			for _, pred := range deps {
				needed[pred] = true
			}
		}

		candidates := ids
		if len(candidates) == 0 {
			candidates = all
		}
		for _, id := range candidates {
			state, err := st.ReadStatus(id)
			if err != nil {
				if errors.Is(err, store.ErrJobNotFound) && len(ids) > 0 {
					return err
				}
				continue
			}
			if !state.Terminal() {
				continue
			}
			if needed[id] {
				report.Kept = append(report.Kept, id)
				continue
			}
			if err := st.DeleteJob(id); err != nil {
				return err
			}
			report.Cleaned = append(report.Cleaned, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}
