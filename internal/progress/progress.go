// Package progress renders live transfer statistics. The Sink interface is the
// only thing transfer code depends on; Terminal is the console adapter.
package progress

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Stats is a snapshot of a running transfer, as reported by the transfer tool.
type Stats struct {
	BytesTransferred int64
	TotalBytes       int64
	SpeedBytesPerSec float64
	ETA              time.Duration
	ETAKnown         bool
}

// Sink receives progress snapshots for the transfer currently in flight.
type Sink interface {
	// Report replaces the previously displayed snapshot.
	Report(s Stats)
	// Clear removes whatever Report displayed.
	Clear()
}

// Percent returns the completed fraction of the transfer as 0-100.
func Percent(s Stats) float64 {
	if s.TotalBytes <= 0 {
		return 0
	}
	return float64(s.BytesTransferred) / float64(s.TotalBytes) * 100
}

// SpeedMBps converts bytes per second to MiB per second.
func SpeedMBps(s Stats) float64 {
	return s.SpeedBytesPerSec / (1024 * 1024)
}

// FormatETA renders an ETA as MM:SS, or --:-- when unknown. Minutes are not
// wrapped at the hour, so a 75 minute ETA prints as 75:00.
func FormatETA(eta time.Duration, known bool) string {
	if !known || eta < 0 {
		return "--:--"
	}
	eta = eta.Truncate(time.Second)
	minutes := int64(eta / time.Minute)
	seconds := int64((eta % time.Minute) / time.Second)
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

// FormatLine renders the single progress line shown while a transfer runs.
func FormatLine(s Stats) string {
	return fmt.Sprintf("Progress: %.2f%%    Speed: %.2f MB/s    ETA: %s ",
		Percent(s), SpeedMBps(s), FormatETA(s.ETA, s.ETAKnown))
}

// Terminal draws progress on a single console line, overwriting it in place
// with a carriage return on every update.
type Terminal struct {
	mu      sync.Mutex
	w       io.Writer
	lastLen int
}

// NewTerminal creates a Terminal writing to w.
func NewTerminal(w io.Writer) *Terminal {
	return &Terminal{w: w}
}

// Report overwrites the current line with s.
func (t *Terminal) Report(s Stats) {
	t.mu.Lock()
	defer t.mu.Unlock()

	line := FormatLine(s)
	pad := ""
	if n := t.lastLen - len(line); n > 0 {
		pad = strings.Repeat(" ", n)
	}
	fmt.Fprint(t.w, "\r"+line+pad)
	t.lastLen = len(line)
}

// Clear blanks the progress line and returns the cursor to column zero.
// It is a no-op when nothing has been drawn.
func (t *Terminal) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.lastLen == 0 {
		return
	}
	fmt.Fprint(t.w, "\r"+strings.Repeat(" ", t.lastLen)+"\r")
	t.lastLen = 0
}

// Discard is a Sink that drops every snapshot.
type Discard struct{}

// Report implements Sink.
func (Discard) Report(Stats) {}

// Clear implements Sink.
func (Discard) Clear() {}
