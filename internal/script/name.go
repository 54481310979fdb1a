package script

import (
	"path/filepath"
	"strings"

	"golang.org/x/text/cases"
)

// NameFromPath derives a script name from a source file path: the base name
// without its extension, trimmed of surrounding whitespace.
func NameFromPath(path string) (string, error) {
	base := filepath.Base(path)
	name := strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "", &DerivationError{Path: path}
	}
	return name, nil
}

// Key returns the case-insensitive lookup key for a script name.
func Key(name string) string {
	// Casers carry state and are not shared between goroutines.
	return cases.Fold().String(name)
}

// SlotTarget derives the name of the script a reference slot points at by
// stripping the decoration characters in trim from both ends of the slot name.
func SlotTarget(slot, trim string) string {
	if trim == "" {
		return strings.TrimSpace(slot)
	}
	return strings.TrimSpace(strings.Trim(slot, trim))
}
