package store

import (
	"testing"
)

func TestParseMemMB(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"", -1, false},
		{"512", 512, false},
		{"512M", 512, false},
		{"512m", 512, false},
		{"4G", 4000, false},
		{"2g", 2000, false},
		{" 100M ", 100, false},
		{"0", 0, false},
		{"abc", 0, true},
		{"-5M", 0, true},
		{"1.5G", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseMemMB(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseMemMB(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseMemMB(%q) = %d, %v; want %d", tt.in, got, err, tt.want)
		}
	}
}

func TestParseAfterOK(t *testing.T) {
	ids, err := ParseAfterOK("3:7:12")
	if err != nil {
		t.Fatalf("ParseAfterOK() error: %v", err)
	}
	if len(ids) != 3 || ids[0] != 3 || ids[1] != 7 || ids[2] != 12 {
		t.Fatalf("ParseAfterOK() = %v", ids)
	}

	if ids, err = ParseAfterOK(""); err != nil || ids != nil {
		t.Fatalf("empty afterok = %v, %v", ids, err)
	}
	if ids, err = ParseAfterOK("5"); err != nil || len(ids) != 1 || ids[0] != 5 {
		t.Fatalf("single afterok = %v, %v", ids, err)
	}
	if _, err = ParseAfterOK("3:x"); err == nil {
		t.Fatalf("expected error for non-numeric id")
	}
	if _, err = ParseAfterOK("0"); err == nil {
		t.Fatalf("expected error for id 0")
	}
}

func TestSettingsProcs_CoercesToOne(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 1},
		{"0", 1},
		{"-3", 1},
		{"junk", 1},
		{"2", 2},
		{" 8 ", 8},
	}
	for _, tt := range tests {
		s := Settings{SettingProcs: tt.in}
		if got := s.Procs(); got != tt.want {
			t.Errorf("Procs(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"build-all", "build-all"},
		{"my job!", "my_job_"},
		{"a/b c", "a_b_c"},
		{"nightly.v2_ok-1", "nightly.v2_ok-1"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := SanitizeName(tt.in); got != tt.want {
			t.Errorf("SanitizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	s := Settings{"name": "demo", "procs": "2", "afterok": "1:2"}
	got := parseSettings(formatSettings(s))
	if len(got) != len(s) {
		t.Fatalf("round trip size mismatch: %v", got)
	}
	for k, v := range s {
		if got[k] != v {
			t.Fatalf("round trip %s = %q, want %q", k, got[k], v)
		}
	}
}

func TestParseState(t *testing.T) {
	for _, code := range []string{"U", "H", "Q", "R", "S", "E", "C"} {
		if _, err := ParseState(code); err != nil {
			t.Errorf("ParseState(%q) error: %v", code, err)
		}
	}
	if _, err := ParseState("X"); err == nil {
		t.Errorf("ParseState(X): expected error")
	}
}

func TestStateTerminal(t *testing.T) {
	terminal := map[State]bool{
		StateUserHold: false, StateHold: false, StateQueued: false,
		StateRunning: false, StateSuccess: true, StateError: true, StateCancel: true,
	}
	for state, want := range terminal {
		if got := state.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", state.Name(), got, want)
		}
	}
}
