// Package staging manages the local scratch directory releases pass through
// between download and upload.
package staging

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/vrpsync/vrpsync/internal/safety"
)

// ArchiveSuffix is appended to a content identifier to name the first volume
// of a downloaded archive.
const ArchiveSuffix = ".7z.001"

// Area is a staging directory. Every path it hands out lies strictly inside it.
type Area struct {
	root   string
	logger *slog.Logger
}

// New opens the staging area at root, which must be an existing directory.
func New(root string, logger *slog.Logger) (*Area, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving staging path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("staging area: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("staging area %s is not a directory", abs)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Area{root: abs, logger: logger}, nil
}

// Root returns the absolute staging directory.
func (a *Area) Root() string {
	return a.root
}

// Path returns the staging location of a top-level entry.
func (a *Area) Path(name string) (string, error) {
	return safety.SafeJoinUnder(a.root, name)
}

// ArchivePath returns where the first volume for id is downloaded to.
func (a *Area) ArchivePath(id string) (string, error) {
	return a.Path(id + ArchiveSuffix)
}

// RemovePrefixed deletes every regular file directly in the staging area whose
// name starts with prefix. Directories are left alone.
func (a *Area) RemovePrefixed(prefix string) error {
	if prefix == "" {
		return fmt.Errorf("refusing to remove with an empty prefix")
	}
	entries, err := os.ReadDir(a.root)
	if err != nil {
		return fmt.Errorf("reading staging area: %w", err)
	}

	var removed int
	var freed int64
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		if info, err := e.Info(); err == nil {
			freed += info.Size()
		}
		if err := os.Remove(filepath.Join(a.root, e.Name())); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing %s: %w", e.Name(), err)
		}
		removed++
	}
	a.logger.Debug("removed archive volumes", "prefix", prefix, "files", removed, "freed", humanize.Bytes(uint64(freed)))
	return nil
}

// EnsureRelease checks that extraction produced a directory named after the release.
func (a *Area) EnsureRelease(name string) (string, error) {
	p, err := a.Path(name)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("extracted release %q not found in staging area", name)
		}
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("extracted release %q is not a directory", name)
	}
	return p, nil
}

// RemoveRelease deletes a staged release directory and its contents.
func (a *Area) RemoveRelease(name string) error {
	p, err := a.Path(name)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(p); err != nil {
		return fmt.Errorf("removing staged release %s: %w", name, err)
	}
	return nil
}

// Remove deletes a single staged file. A missing file is not an error.
func (a *Area) Remove(name string) error {
	p, err := a.Path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", name, err)
	}
	return nil
}

// ModTime returns the modification time of a staged file.
func (a *Area) ModTime(name string) (time.Time, error) {
	p, err := a.Path(name)
	if err != nil {
		return time.Time{}, err
	}
	info, err := os.Stat(p)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// MoveFile moves a staged file into destDir, replacing any file of the same
// name there. It falls back to copy and delete when a rename crosses devices.
func (a *Area) MoveFile(name, destDir string) (string, error) {
	src, err := a.Path(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("creating %s: %w", destDir, err)
	}
	dst, err := safety.SafeJoinUnder(destDir, name)
	if err != nil {
		return "", err
	}
	if src == dst {
		return dst, nil
	}

	if err := os.Rename(src, dst); err == nil {
		return dst, nil
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", name, err)
	}
	if err := os.WriteFile(dst, data, 0644); err != nil {
		return "", fmt.Errorf("writing %s: %w", dst, err)
	}
	if err := os.Remove(src); err != nil {
		return "", fmt.Errorf("removing %s after copy: %w", src, err)
	}
	return dst, nil
}
