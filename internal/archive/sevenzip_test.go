package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func fake7z(t *testing.T, body string) (bin, argsFile string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake 7z is a shell script")
	}
	dir := t.TempDir()
	argsFile = filepath.Join(dir, "args.txt")
	bin = filepath.Join(dir, "7z")
	script := "#!/bin/sh\nprintf '%s\\n' \"$@\" > '" + argsFile + "'\n" + body + "\n"
	if err := os.WriteFile(bin, []byte(script), 0755); err != nil {
		t.Fatalf("write fake 7z: %v", err)
	}
	return bin, argsFile
}

func TestArgs(t *testing.T) {
	tests := []struct {
		name     string
		files    []string
		password string
		want     string
	}{
		{"whole archive", nil, "", "x -y -o/tmp/s /tmp/s/abc.7z.001"},
		{"with password", nil, "s3cret", "x -y -o/tmp/s /tmp/s/abc.7z.001 -ps3cret"},
		{"selected members", []string{"VRP-GameList.txt"}, "pw", "x -y -o/tmp/s /tmp/s/abc.7z.001 -ppw VRP-GameList.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := strings.Join(Args("/tmp/s", "/tmp/s/abc.7z.001", tt.files, tt.password), " ")
			if got != tt.want {
				t.Errorf("Args() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractSuccess(t *testing.T) {
	bin, argsFile := fake7z(t, "exit 0")
	var out bytes.Buffer
	z := NewSevenZip(bin, "/staging", &out, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if err := z.Extract(context.Background(), "/staging/h.7z.001", nil, "pw"); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	data, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Fields(string(data)); strings.Join(got, " ") != "x -y -o/staging /staging/h.7z.001 -ppw" {
		t.Errorf("args = %q", got)
	}
	if out.String() != "EXTRACTION COMPLETED.\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestExtractFailure(t *testing.T) {
	bin, _ := fake7z(t, "echo 'ERROR: Wrong password' >&2\nexit 2")
	var out bytes.Buffer
	z := NewSevenZip(bin, "/staging", &out, nil)

	err := z.Extract(context.Background(), "/staging/h.7z.001", nil, "bad")
	var xerr *ExtractError
	if !errors.As(err, &xerr) {
		t.Fatalf("Extract error = %v, want *ExtractError", err)
	}
	if xerr.ExitCode != 2 {
		t.Errorf("ExitCode = %d, want 2", xerr.ExitCode)
	}
	if !strings.Contains(xerr.Output, "Wrong password") {
		t.Errorf("Output = %q", xerr.Output)
	}
	if out.Len() != 0 {
		t.Errorf("failure printed completion line: %q", out.String())
	}
}

func TestExtractMissingBinary(t *testing.T) {
	z := NewSevenZip(filepath.Join(t.TempDir(), "no-7z"), "/staging", nil, nil)
	err := z.Extract(context.Background(), "a.7z.001", nil, "")
	var xerr *ExtractError
	if !errors.As(err, &xerr) || xerr.ExitCode != -1 {
		t.Fatalf("Extract error = %v, want launch failure", err)
	}
}

func TestIsSevenZip(t *testing.T) {
	dir := t.TempDir()

	volume := filepath.Join(dir, "abc.7z.001")
	header := append([]byte{'7', 'z', 0xBC, 0xAF, 0x27, 0x1C, 0x00, 0x04}, make([]byte, 24)...)
	if err := os.WriteFile(volume, header, 0644); err != nil {
		t.Fatal(err)
	}
	ok, mime, err := IsSevenZip(volume)
	if err != nil || !ok {
		t.Errorf("IsSevenZip(7z) = %v, %q, %v", ok, mime, err)
	}

	page := filepath.Join(dir, "error.7z.001")
	if err := os.WriteFile(page, []byte("<html><body>502 Bad Gateway</body></html>"), 0644); err != nil {
		t.Fatal(err)
	}
	ok, mime, err = IsSevenZip(page)
	if err != nil || ok {
		t.Errorf("IsSevenZip(html) = %v, %q, %v", ok, mime, err)
	}
	if !strings.HasPrefix(mime, "text/html") {
		t.Errorf("detected %q, want text/html", mime)
	}

	if _, _, err := IsSevenZip(filepath.Join(dir, "missing")); err == nil {
		t.Error("expected error for a missing file")
	}
}
