package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	maxConfigSize  = 10 * 1024 * 1024
	maxConfigDepth = 32
)

// safeReadFile reads a config file after path, size and type checks.
func safeReadFile(path string) ([]byte, error) {
	clean := filepath.Clean(path)
	if strings.Contains(path, "\x00") {
		return nil, fmt.Errorf("invalid config path %q", path)
	}

	info, err := os.Stat(clean)
	if err != nil {
		return nil, fmt.Errorf("cannot stat config file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", clean)
	}
	if info.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file too large: %d bytes > %d", info.Size(), maxConfigSize)
	}
	return os.ReadFile(clean)
}

// validateJSONDepth rejects documents nested deeper than maxConfigDepth.
func validateJSONDepth(data []byte) error {
	depth := 0
	inString := false
	escaped := false

	for _, b := range data {
		switch {
		case escaped:
			escaped = false
		case inString && b == '\\':
			escaped = true
		case b == '"':
			inString = !inString
		case inString:
		case b == '{' || b == '[':
			depth++
			if depth > maxConfigDepth {
				return fmt.Errorf("JSON nesting exceeds %d levels", maxConfigDepth)
			}
		case b == '}' || b == ']':
			depth--
		}
	}
	return nil
}
