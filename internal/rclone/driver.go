// Package rclone drives the rclone binary: copying releases in and out of the
// staging area, listing and purging the remote destination, and watching
// live transfer statistics through rclone's remote-control endpoint.
package rclone

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/vrpsync/vrpsync/internal/config"
	"github.com/vrpsync/vrpsync/internal/progress"
)

// Mode selects the direction of a transfer.
type Mode int

const (
	// Download copies a release from the HTTP source into staging.
	Download Mode = iota
	// Upload copies a staged directory to the remote destination.
	Upload
)

func (m Mode) String() string {
	switch m {
	case Download:
		return "download"
	case Upload:
		return "upload"
	default:
		return "unknown"
	}
}

// Job describes one rclone copy invocation.
type Job struct {
	Mode Mode
	// Identifier is the content identifier for downloads and the local
	// directory path for uploads.
	Identifier string
	// Destination is the local staging directory for downloads and the
	// remote path for uploads.
	Destination string
	// Server is the HTTP base URI releases are downloaded from. Unused for uploads.
	Server string
	// Silent suppresses the completion and failure lines; the caller reports
	// the outcome itself.
	Silent bool
}

// Subject is the name used when reporting on the job.
func (j Job) Subject() string {
	if j.Mode == Upload {
		return filepath.Base(j.Identifier)
	}
	return j.Identifier
}

// ErrorKind classifies transfer failures.
type ErrorKind string

const (
	// CopyFailed means rclone ran and exited non-zero.
	CopyFailed ErrorKind = "copy failed"
	// LaunchFailed means the rclone process could not be started.
	LaunchFailed ErrorKind = "launch failed"
)

// TransferError reports a failed copy.
type TransferError struct {
	Kind     ErrorKind
	Mode     Mode
	Subject  string
	ExitCode int
	Output   string
	Err      error
}

func (e *TransferError) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Mode, e.Subject, e.Kind)
	if e.Kind == CopyFailed {
		msg += fmt.Sprintf(" (exit code %d)", e.ExitCode)
	}
	if e.Err != nil && e.Kind == LaunchFailed {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// proxyEnvVars are the variables rclone honours for outbound proxying.
var proxyEnvVars = []string{"http_proxy", "https_proxy", "HTTP_PROXY", "HTTPS_PROXY"}

// Driver runs rclone as a child process.
type Driver struct {
	cfg     *config.Config
	monitor *Monitor
	sink    progress.Sink
	out     io.Writer
	logger  *slog.Logger
}

// NewDriver creates a Driver. monitor may be nil to disable live statistics;
// sink receives the Clear call once each transfer ends, and out receives the
// terminal success or failure line.
func NewDriver(cfg *config.Config, monitor *Monitor, sink progress.Sink, out io.Writer, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = progress.Discard{}
	}
	if out == nil {
		out = io.Discard
	}
	return &Driver{
		cfg:     cfg,
		monitor: monitor,
		sink:    sink,
		out:     out,
		logger:  logger,
	}
}

// Transfer runs one copy and blocks until rclone exits. While it runs the
// monitor polls the control endpoint; both stop when the process exits.
func (d *Driver) Transfer(ctx context.Context, job Job) error {
	args, err := d.copyArgs(job)
	if err != nil {
		return &TransferError{Kind: LaunchFailed, Mode: job.Mode, Subject: job.Subject(), Err: err}
	}

	cmd := exec.CommandContext(ctx, d.cfg.RclonePath, args...)
	cmd.Env = d.environ(job.Mode == Download)
	output := newTailBuffer(8 * 1024)
	cmd.Stdout = output
	cmd.Stderr = output

	d.logger.Debug("starting rclone", "mode", job.Mode, "subject", job.Subject(), "args", args)

	if err := cmd.Start(); err != nil {
		d.logger.Error("rclone process could not be started", "error", err)
		return &TransferError{Kind: LaunchFailed, Mode: job.Mode, Subject: job.Subject(), Err: err}
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	if d.monitor != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.monitor.Watch(ctx, done)
		}()
	}

	waitErr := cmd.Wait()
	close(done)
	wg.Wait()
	d.sink.Clear()

	if waitErr != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		d.printFailure(job)
		d.logger.Error("rclone copy failed",
			"mode", job.Mode,
			"subject", job.Subject(),
			"exit_code", exitCode,
			"output", output.String(),
		)
		return &TransferError{
			Kind:     CopyFailed,
			Mode:     job.Mode,
			Subject:  job.Subject(),
			ExitCode: exitCode,
			Output:   output.String(),
			Err:      waitErr,
		}
	}

	d.printSuccess(job)
	d.logger.Debug("rclone copy completed", "mode", job.Mode, "subject", job.Subject())
	return nil
}

func (d *Driver) printSuccess(job Job) {
	if job.Silent {
		return
	}
	if job.Mode == Upload {
		fmt.Fprintln(d.out, "COPY COMPLETED.")
		return
	}
	fmt.Fprintln(d.out, "DOWNLOAD COMPLETED.")
}

func (d *Driver) printFailure(job Job) {
	if job.Silent {
		return
	}
	if job.Mode == Upload {
		fmt.Fprintf(d.out, "Failed to upload %s. Your rclone config might be corrupted!\n", job.Subject())
		return
	}
	fmt.Fprintf(d.out, "Failed to download %s. Server might be down!\n", job.Subject())
}

// copyArgs builds the rclone command line for a job.
func (d *Driver) copyArgs(job Job) ([]string, error) {
	if job.Identifier == "" || job.Destination == "" {
		return nil, fmt.Errorf("job needs both identifier and destination")
	}

	var args []string
	switch job.Mode {
	case Download:
		if job.Server == "" {
			return nil, fmt.Errorf("download job has no server URI")
		}
		args = []string{
			"copy",
			"--http-url", job.Server,
			":http:/" + job.Identifier,
			job.Destination,
			"--tpslimit", strconv.FormatFloat(d.cfg.TPSLimit, 'f', -1, 64),
			"--tpslimit-burst", strconv.Itoa(d.cfg.TPSBurst),
		}
	case Upload:
		args = []string{
			"copy",
			job.Identifier,
			job.Destination,
			"--fast-list",
			"--drive-chunk-size", "32M",
		}
		args = append(args, d.configArgs()...)
	default:
		return nil, fmt.Errorf("unknown transfer mode %d", job.Mode)
	}

	args = append(args, "--rc", "--rc-addr", d.cfg.RCAddr)
	return args, nil
}

func (d *Driver) configArgs() []string {
	if d.cfg.RcloneConfigPath == "" {
		return nil
	}
	return []string{"--config=" + d.cfg.RcloneConfigPath}
}

// environ returns the child environment. Proxy variables are always stripped
// from the inherited environment; downloads get the configured proxy back.
func (d *Driver) environ(useProxy bool) []string {
	env := make([]string, 0, len(os.Environ())+len(proxyEnvVars))
	for _, kv := range os.Environ() {
		if isProxyVar(kv) {
			continue
		}
		env = append(env, kv)
	}
	if useProxy && d.cfg.ProxyEnabled() {
		for _, k := range proxyEnvVars {
			env = append(env, k+"="+d.cfg.Proxy)
		}
	}
	return env
}

func isProxyVar(kv string) bool {
	name, _, _ := strings.Cut(kv, "=")
	for _, k := range proxyEnvVars {
		if name == k {
			return true
		}
	}
	return false
}

// RemotePath joins a release name onto a remote destination. A bare remote
// such as "gdrive:" is joined without a separator so the path stays relative
// to the remote's root.
func RemotePath(destination, name string) string {
	if strings.HasSuffix(destination, ":") {
		return destination + name
	}
	return strings.TrimRight(destination, "/") + "/" + name
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
