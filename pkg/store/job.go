package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Per-job directory layout:
//
//	sbs.<id>/script       executable job script, mode 0700
//	sbs.<id>/settings     key\tvalue lines, later lines win
//	sbs.<id>/state        append-only state\tunix_seconds lines
//	sbs.<id>/pid          child pid, one line, written at start and kept after exit
//	sbs.<id>/returncode   child exit status, one line, written when the child exits
//	                      (absent for jobs cancelled before they started)
//	sbs.<id>/stdout       captured stream (default target)
//	sbs.<id>/stderr       captured stream (default target)
const (
	scriptFile     = "script"
	settingsFile   = "settings"
	stateFile      = "state"
	pidFile        = "pid"
	returnCodeFile = "returncode"
	stdoutFile     = "stdout"
	stderrFile     = "stderr"
)

// JobDir returns the directory holding job id's record.
func (s *Store) JobDir(id int) string {
	return filepath.Join(s.root, jobDirName(id))
}

// ScriptPath returns the path of job id's executable script.
func (s *Store) ScriptPath(id int) string {
	return filepath.Join(s.JobDir(id), scriptFile)
}

// StdoutPath returns the default stdout capture target for job id.
func (s *Store) StdoutPath(id int) string {
	return filepath.Join(s.JobDir(id), stdoutFile)
}

// StderrPath returns the default stderr capture target for job id.
func (s *Store) StderrPath(id int) string {
	return filepath.Join(s.JobDir(id), stderrFile)
}

// CreateJob allocates the next id under the default lock and writes the
// script, settings, and initial status entry.
func (s *Store) CreateJob(script []byte, settings Settings, initial State) (int, error) {
	var id int
	err := s.WithLock(func() error {
		var err error
		id, err = s.nextID()
		if err != nil {
			return err
		}
		dir := s.JobDir(id)
		if err := os.Mkdir(dir, 0o755); err != nil {
			return fmt.Errorf("create job dir: %w", err)
		}
		if err := os.WriteFile(filepath.Join(dir, scriptFile), script, 0o700); err != nil {
			return fmt.Errorf("write script: %w", err)
		}
		if err := os.WriteFile(filepath.Join(dir, settingsFile), formatSettings(settings), 0o644); err != nil {
			return fmt.Errorf("write settings: %w", err)
		}
		return s.AppendStatus(id, initial, time.Now())
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Exists reports whether a record for id is present.
func (s *Store) Exists(id int) bool {
	_, err := os.Stat(s.JobDir(id))
	return err == nil
}

// ReadScript returns the stored script bytes.
func (s *Store) ReadScript(id int) ([]byte, error) {
	b, err := os.ReadFile(s.ScriptPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %d", ErrJobNotFound, id)
		}
		return nil, fmt.Errorf("read script: %w", err)
	}
	return b, nil
}

// AppendStatus appends one history line. The write is a single O_APPEND
// write, so concurrent appenders never interleave mid-line.
func (s *Store) AppendStatus(id int, state State, at time.Time) error {
	f, err := os.OpenFile(filepath.Join(s.JobDir(id), stateFile),
		os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %d", ErrJobNotFound, id)
		}
		return fmt.Errorf("open state file: %w", err)
	}
	defer func() { _ = f.Close() }()
	line := fmt.Sprintf("%s\t%d\n", state, at.Unix())
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("append status: %w", err)
	}
	return nil
}

// ReadStatus returns the current (last appended) state of job id.
func (s *Store) ReadStatus(id int) (State, error) {
	history, err := s.StatusHistory(id)
	if err != nil {
		return "", err
	}
	if len(history) == 0 {
		return "", fmt.Errorf("job %d has empty status history", id)
	}
	return history[len(history)-1].State, nil
}

// StatusHistory returns the full append-only history of job id.
func (s *Store) StatusHistory(id int) ([]StatusEntry, error) {
	b, err := os.ReadFile(filepath.Join(s.JobDir(id), stateFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %d", ErrJobNotFound, id)
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}
	lines := strings.Split(strings.TrimRight(string(b), "\n"), "\n")
	history := make([]StatusEntry, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		entry, err := parseStatusLine(line)
		if err != nil {
			return nil, fmt.Errorf("job %d: %w", id, err)
		}
		history = append(history, entry)
	}
	return history, nil
}

// ReadSettings returns the job's full settings map.
func (s *Store) ReadSettings(id int) (Settings, error) {
	b, err := os.ReadFile(filepath.Join(s.JobDir(id), settingsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %d", ErrJobNotFound, id)
		}
		return nil, fmt.Errorf("read settings: %w", err)
	}
	return parseSettings(b), nil
}

// ReadSetting returns one setting value, or "" when unset.
func (s *Store) ReadSetting(id int, key string) (string, error) {
	settings, err := s.ReadSettings(id)
	if err != nil {
		return "", err
	}
	return settings[key], nil
}

// AppendSetting records a key/value update as an appended line; readers
// take the last occurrence of a key.
func (s *Store) AppendSetting(id int, key, value string) error {
	f, err := os.OpenFile(filepath.Join(s.JobDir(id), settingsFile),
		os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %d", ErrJobNotFound, id)
		}
		return fmt.Errorf("open settings: %w", err)
	}
	defer func() { _ = f.Close() }()
	if _, err := fmt.Fprintf(f, "%s\t%s\n", key, value); err != nil {
		return fmt.Errorf("append setting: %w", err)
	}
	return nil
}

// WritePID records the supervised child's pid.
func (s *Store) WritePID(id, pid int) error {
	path := filepath.Join(s.JobDir(id), pidFile)
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return fmt.Errorf("write pid: %w", err)
	}
	return nil
}

// ReadPID returns the recorded child pid, or ErrJobNotFound when no pid
// file exists.
func (s *Store) ReadPID(id int) (int, error) {
	b, err := os.ReadFile(filepath.Join(s.JobDir(id), pidFile))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: %d has no pid", ErrJobNotFound, id)
		}
		return 0, fmt.Errorf("read pid: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, fmt.Errorf("corrupt pid file for job %d: %q", id, strings.TrimSpace(string(b)))
	}
	return pid, nil
}

// WriteReturnCode records the child's exit status.
func (s *Store) WriteReturnCode(id, rc int) error {
	path := filepath.Join(s.JobDir(id), returnCodeFile)
	if err := os.WriteFile(path, []byte(strconv.Itoa(rc)+"\n"), 0o644); err != nil {
		return fmt.Errorf("write returncode: %w", err)
	}
	return nil
}

// ReadReturnCode returns the recorded exit status. ok is false when the
// job has not produced one yet.
func (s *Store) ReadReturnCode(id int) (rc int, ok bool, err error) {
	b, err := os.ReadFile(filepath.Join(s.JobDir(id), returnCodeFile))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("read returncode: %w", err)
	}
	rc, err = strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, false, fmt.Errorf("corrupt returncode for job %d: %q", id, strings.TrimSpace(string(b)))
	}
	return rc, true, nil
}

// DeleteJob removes the job directory recursively and drops any stray
// running-set marker. Callers performing bulk-consistent deletes (cleanup)
// hold the default lock.
func (s *Store) DeleteJob(id int) error {
	if !s.Exists(id) {
		return fmt.Errorf("%w: %d", ErrJobNotFound, id)
	}
	if err := os.RemoveAll(s.JobDir(id)); err != nil {
		return fmt.Errorf("delete job %d: %w", id, err)
	}
	return s.UnmarkRunning(id)
}
