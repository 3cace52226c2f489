package rclone

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/vrpsync/vrpsync/internal/safety"
)

// PurgeError reports a failed remote delete.
type PurgeError struct {
	Name     string
	ExitCode int
	Output   string
	Err      error
}

func (e *PurgeError) Error() string {
	if e.ExitCode >= 0 {
		return fmt.Sprintf("purge %s: rclone exited with code %d", e.Name, e.ExitCode)
	}
	return fmt.Sprintf("purge %s: %v", e.Name, e.Err)
}

func (e *PurgeError) Unwrap() error {
	return e.Err
}

// List returns the names of the directories at the remote destination.
func (d *Driver) List(ctx context.Context) ([]string, error) {
	args := append([]string{"lsf", "--dirs-only", d.cfg.Destination}, d.configArgs()...)

	cmd := exec.CommandContext(ctx, d.cfg.RclonePath, args...)
	cmd.Env = d.environ(false)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		d.logger.Error("rclone lsf failed", "destination", d.cfg.Destination, "error", err, "output", stderr.String())
		return nil, fmt.Errorf("listing %s: %w: %s", d.cfg.Destination, err, strings.TrimSpace(stderr.String()))
	}

	names := ParseListing(stdout.Bytes())
	d.logger.Debug("remote listing", "destination", d.cfg.Destination, "entries", len(names))
	return names, nil
}

// ParseListing turns `rclone lsf --dirs-only` output into entry names.
func ParseListing(data []byte) []string {
	var names []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		line = strings.TrimSuffix(line, "/")
		if line == "" {
			continue
		}
		names = append(names, line)
	}
	return names
}

// Purge deletes the named entry and everything under it at the remote destination.
func (d *Driver) Purge(ctx context.Context, name string) error {
	if _, err := safety.CleanName(name); err != nil {
		return &PurgeError{Name: name, ExitCode: -1, Err: err}
	}

	args := append([]string{"purge", RemotePath(d.cfg.Destination, name)}, d.configArgs()...)

	cmd := exec.CommandContext(ctx, d.cfg.RclonePath, args...)
	cmd.Env = d.environ(false)
	output := newTailBuffer(4 * 1024)
	cmd.Stdout = output
	cmd.Stderr = output

	if err := cmd.Run(); err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return &PurgeError{Name: name, ExitCode: exitCode, Output: output.String(), Err: err}
	}
	return nil
}
