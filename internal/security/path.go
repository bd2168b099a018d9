package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidateFilePath validates that a relative file path is safe and doesn't contain directory traversal attempts
func ValidateFilePath(path string) error {
	if err := ValidateDataPath(path); err != nil {
		return err
	}

	if filepath.IsAbs(filepath.Clean(path)) {
		return fmt.Errorf("absolute paths not allowed: %s", path)
	}

	return nil
}

// ValidateDataPath validates a data file location such as the queue database or
// an attachment reference. Absolute paths are allowed; traversal segments are not.
func ValidateDataPath(path string) error {
	if path == "" {
		return fmt.Errorf("file path cannot be empty")
	}
	if strings.ContainsRune(path, '\x00') {
		return fmt.Errorf("path contains null byte")
	}

	for _, segment := range strings.Split(filepath.ToSlash(path), "/") {
		if segment == ".." {
			return fmt.Errorf("path contains directory traversal: %s", path)
		}
	}

	return nil
}
