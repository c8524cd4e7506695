package security

import (
	"regexp"
	"unicode/utf8"

	"github.com/relaywire/fabric/pkg/core"
)

// Limits and configuration.
const (
	// MaxTargetNameLength is the maximum length of a target name.
	MaxTargetNameLength = 255

	// MaxConcurrency is the hard ceiling on a target's concurrency.
	MaxConcurrency = 1000

	// MaxOutputBuffer is the default cap on captured stdout/stderr per
	// job. Configurable per Worker via max_output_buffer.
	MaxOutputBuffer = 1 << 20 // 1 MiB

	// MaxDisplayNameLength bounds a register-worker "name" field.
	MaxDisplayNameLength = 255
)

// validTargetName matches alphanumeric, hyphens, underscores, and dots,
// starting with a letter.
var validTargetName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_\-\.]*$`)

// ValidateTargetName validates a target name: non-empty, within length,
// matching the allowed character set, and not the reserved name "null".
func ValidateTargetName(name string) error {
	if name == "" {
		return core.ErrInvalidTarget
	}
	if name == core.ReservedTargetName {
		return core.ErrReservedTarget
	}
	if len(name) > MaxTargetNameLength {
		return core.ErrInvalidTarget
	}
	if !validTargetName.MatchString(name) {
		return core.ErrInvalidTarget
	}
	return nil
}

// ValidateTargetNames validates a non-empty list of target names.
func ValidateTargetNames(names []string) error {
	if len(names) == 0 {
		return core.ErrEmptyTargetList
	}
	for _, n := range names {
		if err := ValidateTargetName(n); err != nil {
			return err
		}
	}
	return nil
}

// ValidateConcurrency rejects non-positive or absurdly large values.
func ValidateConcurrency(c int) error {
	if c <= 0 || c > MaxConcurrency {
		return core.ErrInvalidConcurrency
	}
	return nil
}

// ClampOutput truncates captured stdout/stderr to at most maxBytes:
// truncation happens on a rune boundary so no invalid UTF-8 escapes into
// storage.
func ClampOutput(data []byte, maxBytes int) string {
	if maxBytes <= 0 || len(data) <= maxBytes {
		return string(data)
	}
	truncated := data[:maxBytes]
	for len(truncated) > 0 && !utf8.Valid(truncated) {
		truncated = truncated[:len(truncated)-1]
	}
	return string(truncated)
}
