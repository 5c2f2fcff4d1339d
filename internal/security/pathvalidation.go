// Package security checks the names and paths a run writes to, so that an
// artifact name never lands outside its destination.
package security

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned when a path resolves outside the directory it
// must stay in.
var ErrOutsideRoot = errors.New("path outside destination")

// ValidatePathWithinDirectory reports whether filePath, once cleaned and made
// absolute, lies inside safeDir. The check is lexical so it holds for the
// in-memory filesystem too.
func ValidatePathWithinDirectory(filePath, safeDir string) error {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", filePath, err)
	}
	absDir, err := filepath.Abs(safeDir)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", safeDir, err)
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrOutsideRoot, filePath)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %s is not under %s", ErrOutsideRoot, filePath, safeDir)
	}
	return nil
}

// ValidateArtifactName checks a slash-separated artifact name. It must be
// relative and non-empty with no ".." element.
func ValidateArtifactName(name string) error {
	if name == "" {
		return errors.New("artifact name is empty")
	}
	if path.IsAbs(name) || filepath.IsAbs(name) {
		return fmt.Errorf("%w: artifact name %q is absolute", ErrOutsideRoot, name)
	}
	for _, part := range strings.Split(filepath.ToSlash(name), "/") {
		if part == ".." {
			return fmt.Errorf("%w: artifact name %q", ErrOutsideRoot, name)
		}
	}
	return nil
}
