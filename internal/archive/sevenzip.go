// Package archive unpacks multi-volume 7z archives with the 7z binary.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// SevenZipMIME is the detected type of a 7z archive's first volume.
const SevenZipMIME = "application/x-7z-compressed"

// ExtractError reports a failed extraction.
type ExtractError struct {
	Archive  string
	ExitCode int
	Output   string
	Err      error
}

func (e *ExtractError) Error() string {
	if e.ExitCode >= 0 {
		return fmt.Sprintf("extracting %s: 7z exited with code %d", e.Archive, e.ExitCode)
	}
	return fmt.Sprintf("extracting %s: %v", e.Archive, e.Err)
}

func (e *ExtractError) Unwrap() error {
	return e.Err
}

// SevenZip runs 7z to unpack archives into a fixed output directory.
type SevenZip struct {
	bin    string
	outDir string
	out    io.Writer
	logger *slog.Logger
}

// NewSevenZip creates an extractor that writes into outDir. out receives the
// completion line.
func NewSevenZip(bin, outDir string, out io.Writer, logger *slog.Logger) *SevenZip {
	if out == nil {
		out = io.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SevenZip{bin: bin, outDir: outDir, out: out, logger: logger}
}

// Extract unpacks archivePath. When files is non-empty only those members are
// extracted. An empty password extracts without one.
func (s *SevenZip) Extract(ctx context.Context, archivePath string, files []string, password string) error {
	args := Args(s.outDir, archivePath, files, password)

	// An HTML error page saved under the archive name is the usual cause of a failed extraction.
	if ok, mime, err := IsSevenZip(archivePath); err == nil && !ok {
		s.logger.Warn("archive does not look like 7z", "archive", archivePath, "detected", mime)
	}

	s.logger.Debug("running 7z", "archive", archivePath, "members", files)

	cmd := exec.CommandContext(ctx, s.bin, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		s.logger.Error("7z extraction failed", "archive", archivePath, "exit_code", exitCode, "output", tail(output, 4096))
		return &ExtractError{
			Archive:  archivePath,
			ExitCode: exitCode,
			Output:   tail(output, 4096),
			Err:      err,
		}
	}

	fmt.Fprintln(s.out, "EXTRACTION COMPLETED.")
	return nil
}

// Args builds the 7z command line. The password is passed inline, so callers
// must not log the result.
func Args(outDir, archivePath string, files []string, password string) []string {
	args := []string{"x", "-y", "-o" + outDir, archivePath}
	if password != "" {
		args = append(args, "-p"+password)
	}
	return append(args, files...)
}

// IsSevenZip sniffs the start of path and reports whether it is a 7z volume,
// along with the detected MIME type.
func IsSevenZip(path string) (bool, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, "", err
	}
	defer f.Close()

	mt, err := mimetype.DetectReader(f)
	if err != nil {
		return false, "", err
	}
	return mt.Is(SevenZipMIME), mt.String(), nil
}

func tail(b []byte, n int) string {
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return strings.TrimSpace(string(b))
}
