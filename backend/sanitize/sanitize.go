// Package sanitize filters free-text input before it reaches the store.
// It is a secondary layer only; the store always binds parameters.
package sanitize

import (
	"fmt"
	"strings"
)

// Mode selects the filtering policy.
type Mode int

const (
	// ModeBlacklist strips a fixed set of dangerous sequences and trims whitespace.
	ModeBlacklist Mode = iota
	// ModeAllowlist keeps only characters from the safe set.
	ModeAllowlist
)

func (m Mode) String() string {
	switch m {
	case ModeBlacklist:
		return "blacklist"
	case ModeAllowlist:
		return "allowlist"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode maps a configuration value to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "blacklist":
		return ModeBlacklist, nil
	case "allowlist":
		return ModeAllowlist, nil
	default:
		return 0, fmt.Errorf("unknown sanitizer mode %q", s)
	}
}

var stripper = strings.NewReplacer(";", "", "--", "", "'", "", `"`, "", "`", "")

// Sanitizer applies one policy. The zero value uses ModeBlacklist.
type Sanitizer struct {
	mode Mode
}

func New(mode Mode) Sanitizer {
	return Sanitizer{mode: mode}
}

func (s Sanitizer) Mode() Mode {
	return s.mode
}

// Sanitize never fails and may return an empty string.
func (s Sanitizer) Sanitize(text string) string {
	if s.mode == ModeAllowlist {
		return allow(text)
	}
	return strip(text)
}

// strip removes until a fixed point, since removing ';' from "-;-" yields "--".
func strip(text string) string {
	for {
		next := stripper.Replace(text)
		if next == text {
			break
		}
		text = next
	}
	return strings.TrimSpace(text)
}

func allow(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for i := 0; i < len(text); i++ {
		if IsSafe(text[i]) {
			b.WriteByte(text[i])
		}
	}
	return b.String()
}

// IsSafe reports whether c belongs to the allowlist character set.
func IsSafe(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '_', c == '.', c == '-', c == '@':
		return true
	}
	return false
}
