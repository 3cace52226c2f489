package progress

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestFormatETA(t *testing.T) {
	tests := []struct {
		name  string
		eta   time.Duration
		known bool
		want  string
	}{
		{"unknown", 0, false, "--:--"},
		{"zero", 0, true, "00:00"},
		{"seconds", 7 * time.Second, true, "00:07"},
		{"minutes", 3*time.Minute + 25*time.Second, true, "03:25"},
		{"over an hour", 75*time.Minute + 1500*time.Millisecond, true, "75:01"},
		{"negative", -time.Second, true, "--:--"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatETA(tt.eta, tt.known); got != tt.want {
				t.Errorf("FormatETA() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPercent(t *testing.T) {
	if got := Percent(Stats{BytesTransferred: 50, TotalBytes: 200}); got != 25 {
		t.Errorf("Percent = %v, want 25", got)
	}
	if got := Percent(Stats{BytesTransferred: 50}); got != 0 {
		t.Errorf("Percent with unknown total = %v, want 0", got)
	}
}

func TestFormatLine(t *testing.T) {
	s := Stats{
		BytesTransferred: 1,
		TotalBytes:       3,
		SpeedBytesPerSec: 2.5 * 1024 * 1024,
		ETA:              90 * time.Second,
		ETAKnown:         true,
	}
	want := "Progress: 33.33%    Speed: 2.50 MB/s    ETA: 01:30 "
	if got := FormatLine(s); got != want {
		t.Errorf("FormatLine() = %q, want %q", got, want)
	}
}

func TestTerminalOverwritesInPlace(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminal(&buf)

	term.Report(Stats{BytesTransferred: 10, TotalBytes: 100})
	term.Report(Stats{BytesTransferred: 100, TotalBytes: 100})

	out := buf.String()
	if strings.Contains(out, "\n") {
		t.Fatalf("progress output must not contain newlines: %q", out)
	}
	if strings.Count(out, "\r") != 2 {
		t.Fatalf("expected one carriage return per report, got %q", out)
	}
	if !strings.Contains(out, "100.00%") {
		t.Errorf("missing final percentage in %q", out)
	}
}

func TestTerminalClear(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminal(&buf)

	term.Clear()
	if buf.Len() != 0 {
		t.Fatalf("Clear without Report wrote %q", buf.String())
	}

	term.Report(Stats{})
	buf.Reset()
	term.Clear()
	out := buf.String()
	if !strings.HasPrefix(out, "\r") || !strings.HasSuffix(out, "\r") {
		t.Errorf("Clear output = %q, want carriage-return wrapped blanks", out)
	}
	if strings.TrimSpace(out) != "" {
		t.Errorf("Clear wrote non-blank content: %q", out)
	}
}
