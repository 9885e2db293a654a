package store

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Recognized setting keys. Unknown keys are carried but ignored.
const (
	SettingName    = "name"
	SettingMem     = "mem"
	SettingMail    = "mail"
	SettingProcs   = "procs"
	SettingAfterOK = "afterok"
	SettingStdout  = "stdout"
	SettingStderr  = "stderr"
	SettingWorkDir = "wd"

	// SettingBecauseOf records the predecessor job id that caused a
	// dependency cancellation.
	SettingBecauseOf = "because_of_jobid"
)

// Settings is the per-job key/value configuration persisted in the
// settings file as tab-separated lines. Later lines win, which lets
// writers append updates without rewriting the file.
type Settings map[string]string

// Procs returns the declared CPU slot count. Missing, unparsable, or
// non-positive values coerce to 1.
func (s Settings) Procs() int {
	n, err := strconv.Atoi(strings.TrimSpace(s[SettingProcs]))
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// MemMB returns the declared memory budget in megabytes, or -1 when the
// job is unconstrained.
func (s Settings) MemMB() (int64, error) {
	raw := strings.TrimSpace(s[SettingMem])
	if raw == "" {
		return -1, nil
	}
	return ParseMemMB(raw)
}

// AfterOK returns the parsed dependency list from the colon-separated
// afterok setting (e.g. "3:7:12").
func (s Settings) AfterOK() ([]int, error) {
	return ParseAfterOK(s[SettingAfterOK])
}

// ParseMemMB parses a memory size with an optional M (megabytes) or
// G (gigabytes, x1000) suffix. A bare number is raw megabytes.
func ParseMemMB(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return -1, nil
	}
	mult := int64(1)
	switch {
	case strings.HasSuffix(raw, "G"), strings.HasSuffix(raw, "g"):
		mult = 1000
		raw = raw[:len(raw)-1]
	case strings.HasSuffix(raw, "M"), strings.HasSuffix(raw, "m"):
		raw = raw[:len(raw)-1]
	}
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid mem value: %q", raw)
	}
	if n < 0 {
		return 0, fmt.Errorf("mem must not be negative: %q", raw)
	}
	return n * mult, nil
}

// ParseAfterOK parses a colon-separated list of predecessor job ids.
func ParseAfterOK(raw string) ([]int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ":")
	ids := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.Atoi(p)
		if err != nil || id < 1 {
			return nil, fmt.Errorf("invalid afterok job id: %q", p)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// SanitizeName replaces characters outside [A-Za-z0-9_.-] with underscores.
func SanitizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '_', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func formatSettings(s Settings) []byte {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	// Stable output keeps diffs and tests predictable.
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('\t')
		b.WriteString(s[k])
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

func parseSettings(b []byte) Settings {
	s := make(Settings)
	for _, line := range strings.Split(string(b), "\n") {
		if line == "" {
			continue
		}
		key, value, found := strings.Cut(line, "\t")
		if !found {
			continue
		}
		s[key] = value
	}
	return s
}
