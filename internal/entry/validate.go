package entry

import (
	"fmt"
	"strings"
)

// ValidationError reports a file name rejected before any I/O.
type ValidationError struct {
	Name   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid name %q: %s", e.Name, e.Reason)
}

var reservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// ValidateName checks that name can be used for a new file or directory on
// any of the supported filesystems.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return &ValidationError{Name: name, Reason: "name is empty"}
	}
	if name == "." || name == ParentName {
		return &ValidationError{Name: name, Reason: "reserved path component"}
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return &ValidationError{Name: name, Reason: "contains control characters"}
		}
		if strings.ContainsRune(`/\:*?"<>|`, r) {
			return &ValidationError{Name: name, Reason: fmt.Sprintf("contains %q", r)}
		}
	}
	if strings.HasSuffix(name, ".") || strings.HasSuffix(name, " ") {
		return &ValidationError{Name: name, Reason: "ends with a dot or space"}
	}
	base := strings.ToUpper(name)
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	if reservedNames[base] {
		return &ValidationError{Name: name, Reason: "reserved device name"}
	}
	return nil
}
