package safety

import (
	"fmt"
	"path/filepath"
	"strings"
)

// CleanName validates a single path element taken from untrusted input, such
// as a release name from the catalog. Separators and dot segments are rejected
// so the name can never address anything but a direct child of a root.
func CleanName(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("name is empty")
	}
	if name == "." || name == ".." {
		return "", fmt.Errorf("dot segment is not allowed: %q", name)
	}
	if strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, filepath.Separator) {
		return "", fmt.Errorf("path separators are not allowed: %q", name)
	}
	if strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("NUL byte is not allowed: %q", name)
	}
	return name, nil
}

// SafeJoinUnder joins a validated name under root and verifies
// the final path remains inside root.
func SafeJoinUnder(root, name string) (string, error) {
	clean, err := CleanName(name)
	if err != nil {
		return "", err
	}
	return EnsureUnderRoot(root, filepath.Join(root, clean))
}

// EnsureUnderRoot verifies candidate resolves under root and returns
// an absolute normalized path.
func EnsureUnderRoot(root, candidate string) (string, error) {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	candAbs, err := filepath.Abs(candidate)
	if err != nil {
		return "", fmt.Errorf("resolve candidate: %w", err)
	}

	rel, err := filepath.Rel(rootAbs, candAbs)
	if err != nil {
		return "", fmt.Errorf("compare paths: %w", err)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes root: %q", candidate)
	}
	return candAbs, nil
}
