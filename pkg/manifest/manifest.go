// Package manifest loads YAML job manifests for submission.
//
// A manifest names either an on-disk script or an inline command, plus the
// same settings the #SBS directives and submit flags carry:
//
//	script: ./build.sh        # or: command: "make all"
//	name: nightly-build
//	procs: 2
//	mem: 4G
//	afterok: "3:7"
//	mail: dev@localhost
//	stdout: /var/log/builds
//	wd: /srv/build
//	hold: true
package manifest

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest is a declarative job submission.
type Manifest struct {
	Script  string `yaml:"script,omitempty"`
	Command string `yaml:"command,omitempty"`

	Name    string `yaml:"name,omitempty"`
	Procs   int    `yaml:"procs,omitempty"`
	Mem     string `yaml:"mem,omitempty"`
	AfterOK string `yaml:"afterok,omitempty"`
	Mail    string `yaml:"mail,omitempty"`
	Stdout  string `yaml:"stdout,omitempty"`
	Stderr  string `yaml:"stderr,omitempty"`
	WorkDir string `yaml:"wd,omitempty"`
	Hold    bool   `yaml:"hold,omitempty"`
}

// Load reads and validates a manifest file.
func Load(path string) (*Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", path, err)
	}
	return &m, nil
}

// Validate checks manifest consistency.
func (m *Manifest) Validate() error {
	script := strings.TrimSpace(m.Script)
	command := strings.TrimSpace(m.Command)
	if script == "" && command == "" {
		return fmt.Errorf("either script or command is required")
	}
	if script != "" && command != "" {
		return fmt.Errorf("script and command are mutually exclusive")
	}
	if m.Procs < 0 {
		return fmt.Errorf("procs must not be negative")
	}
	return nil
}

// ScriptBody resolves the manifest to job script text: the referenced
// script file's contents, or the inline command as a one-line script.
func (m *Manifest) ScriptBody() ([]byte, error) {
	if script := strings.TrimSpace(m.Script); script != "" {
		b, err := os.ReadFile(script)
		if err != nil {
			return nil, fmt.Errorf("read script %s: %w", script, err)
		}
		return b, nil
	}
	return []byte(m.Command + "\n"), nil
}
