// Package script prepares user-submitted job scripts: shebang injection
// and #SBS directive extraction.
package script

import (
	"strings"
)

// DirectivePrefix marks an in-script metadata line: `#SBS -<key> <value>`.
const DirectivePrefix = "#SBS"

// KeyHold is the directive-only flag key requesting submission in user hold.
const KeyHold = "hold"

// EnsureShebang prepends `#!/bin/sh` when the script's first line does not
// already begin with `#!`.
func EnsureShebang(script []byte) []byte {
	if strings.HasPrefix(string(script), "#!") {
		return script
	}
	return append([]byte("#!/bin/sh\n"), script...)
}

// ParseDirectives extracts `#SBS -<key> <value>` lines from the script.
//
// Directives are honored anywhere in the script, not only in the prologue
// comment block. That matches the long-standing submit behavior; scripts
// embedding `#SBS` lines in here-docs will have them picked up.
//
// A directive with no value (e.g. `#SBS -hold`) yields an empty string.
// When a key repeats, the last occurrence wins.
func ParseDirectives(script []byte) map[string]string {
	directives := make(map[string]string)
	for _, line := range strings.Split(string(script), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, DirectivePrefix) {
			continue
		}
		rest := strings.TrimSpace(line[len(DirectivePrefix):])
		if !strings.HasPrefix(rest, "-") {
			continue
		}
		key, value, _ := strings.Cut(rest[1:], " ")
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		directives[key] = strings.TrimSpace(value)
	}
	return directives
}
