// Package security validates filesystem paths supplied on tool command
// lines before results are written to them.
package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ValidatePathWithinDirectory rejects paths that resolve outside baseDir,
// including escapes through symlinked parents.
func ValidatePathWithinDirectory(path, baseDir string) error {
	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return fmt.Errorf("resolve base directory: %w", err)
	}

	canonical := canonicalize(absPath)
	canonicalBase, err := filepath.EvalSymlinks(absBase)
	if err != nil {
		return fmt.Errorf("resolve base directory symlinks: %w", err)
	}

	rel, err := filepath.Rel(canonicalBase, canonical)
	if err != nil {
		return fmt.Errorf("path is outside %s: %w", baseDir, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("path %s escapes %s", path, baseDir)
	}
	return nil
}

// canonicalize resolves symlinks along path. When the final component does
// not exist yet (the usual case for an output file), the nearest existing
// parent is resolved instead so a symlinked directory cannot redirect the
// write.
func canonicalize(absPath string) string {
	if resolved, err := filepath.EvalSymlinks(absPath); err == nil {
		return resolved
	}
	check := absPath
	for {
		parent := filepath.Dir(check)
		if parent == check {
			return absPath
		}
		if resolved, err := filepath.EvalSymlinks(parent); err == nil {
			rel, _ := filepath.Rel(parent, absPath)
			return filepath.Join(resolved, rel)
		}
		check = parent
	}
}

// ValidateOutputPath checks that a result file lands in the working
// directory or the system temp directory.
func ValidateOutputPath(path string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve working directory: %w", err)
	}
	for _, dir := range []string{cwd, os.TempDir()} {
		if ValidatePathWithinDirectory(path, dir) == nil {
			return nil
		}
	}
	return fmt.Errorf("output path %s must be under the working directory or %s", path, os.TempDir())
}

// SanitizeFilename maps an arbitrary identifier (sensor ID, run ID) to a
// safe filename fragment: ASCII letters, digits, dot, underscore and dash
// pass through, runs of anything else collapse to one underscore, and the
// result is capped at 128 bytes.
func SanitizeFilename(s string) string {
	if s == "" {
		return "unknown"
	}
	const maxLen = 128
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
