package security

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	base := t.TempDir()

	if err := ValidatePathWithinDirectory(filepath.Join(base, "result.json"), base); err != nil {
		t.Errorf("path inside base rejected: %v", err)
	}
	// Output files usually do not exist yet.
	if err := ValidatePathWithinDirectory(filepath.Join(base, "sub", "new.json"), base); err != nil {
		t.Errorf("nonexistent path inside base rejected: %v", err)
	}
	if err := ValidatePathWithinDirectory(filepath.Join(base, "..", "escape.json"), base); err == nil {
		t.Error("dot-dot escape accepted")
	}
	if err := ValidatePathWithinDirectory("/etc/passwd", base); err == nil {
		t.Error("absolute path outside base accepted")
	}
}

func TestValidatePathWithinDirectory_SymlinkEscape(t *testing.T) {
	base := t.TempDir()
	outside := t.TempDir()

	link := filepath.Join(base, "link")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	if err := ValidatePathWithinDirectory(filepath.Join(link, "result.json"), base); err == nil {
		t.Error("write through symlinked directory accepted")
	}
}

func TestValidateOutputPath(t *testing.T) {
	if err := ValidateOutputPath(filepath.Join(os.TempDir(), "fusion-result.json")); err != nil {
		t.Errorf("temp dir output rejected: %v", err)
	}
	if err := ValidateOutputPath("result.json"); err != nil {
		t.Errorf("working dir output rejected: %v", err)
	}
	if err := ValidateOutputPath("/usr/lib/result.json"); err == nil {
		t.Error("system path accepted")
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := []struct{ in, want string }{
		{"gps-rooftop", "gps-rooftop"},
		{"sensor 01/../x", "sensor_01_.._x"},
		{"", "unknown"},
		{"___", "unknown"},
		{"run:2026-08-26T12:00", "run_2026-08-26T12_00"},
	}
	for _, tc := range cases {
		if got := SanitizeFilename(tc.in); got != tc.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
