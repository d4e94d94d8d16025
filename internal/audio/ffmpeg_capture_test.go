package audio

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"watchrelay/internal/ports"
)

func TestFFMPEGCaptureStartReadAndStop(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "capture.sh", "#!/usr/bin/env bash\nprintf 'pcm-bytes'\nexec sleep 5\n")
	capture := NewFFMPEGCapture(FFMPEGOptions{Command: script, StopGrace: 200 * time.Millisecond})

	session, err := capture.Start(context.Background(), ports.AudioConfig{})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	buf := make([]byte, 16)
	n, readErr := session.Read(buf)
	if n <= 0 {
		t.Fatalf("expected audio bytes, got n=%d err=%v", n, readErr)
	}
	if !strings.Contains(string(buf[:n]), "pcm") {
		t.Fatalf("unexpected bytes: %q", string(buf[:n]))
	}

	if err := session.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if err := session.Close(); err != nil {
		t.Fatalf("close after stop should be a no-op, got %v", err)
	}
}

func TestFFMPEGCaptureStartEarlyExit(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "fail.sh", "#!/usr/bin/env bash\necho 'no such device' 1>&2\nexit 1\n")
	capture := NewFFMPEGCapture(FFMPEGOptions{Command: script})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := capture.Start(ctx, ports.AudioConfig{})
	if err == nil {
		t.Fatalf("expected early exit error")
	}
	if !strings.Contains(err.Error(), "exited before capture started") || !strings.Contains(err.Error(), "no such device") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFFMPEGCaptureStartupWindow(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "slow-fail.sh", "#!/usr/bin/env bash\nsleep 0.3\nexit 3\n")

	long := NewFFMPEGCapture(FFMPEGOptions{Command: script, StartupWindow: 2 * time.Second})
	if _, err := long.Start(context.Background(), ports.AudioConfig{}); err == nil || !strings.Contains(err.Error(), "exited before capture started") {
		t.Fatalf("expected exit inside the startup window to fail, got %v", err)
	}

	short := NewFFMPEGCapture(FFMPEGOptions{Command: script, StartupWindow: 20 * time.Millisecond})
	session, err := short.Start(context.Background(), ports.AudioConfig{})
	if err != nil {
		t.Fatalf("expected start to succeed with a short window: %v", err)
	}
	if err := session.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
}

func TestFFMPEGCaptureStopKillsAfterGrace(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "stubborn.sh", "#!/usr/bin/env bash\ntrap '' INT\nprintf x\nexec sleep 5\n")
	grace := 150 * time.Millisecond
	capture := NewFFMPEGCapture(FFMPEGOptions{Command: script, StartupWindow: 20 * time.Millisecond, StopGrace: grace})

	session, err := capture.Start(context.Background(), ports.AudioConfig{})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	buf := make([]byte, 1)
	if n, err := session.Read(buf); n != 1 {
		t.Fatalf("expected interrupt trap to be installed, n=%d err=%v", n, err)
	}

	started := time.Now()
	if err := session.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	elapsed := time.Since(started)
	if elapsed < grace {
		t.Fatalf("expected stop to wait the grace period, took %s", elapsed)
	}
	if elapsed > 3*time.Second {
		t.Fatalf("expected kill after the grace period, took %s", elapsed)
	}
}

func TestFFMPEGCaptureMissingCommand(t *testing.T) {
	t.Parallel()

	capture := NewFFMPEGCapture(FFMPEGOptions{Command: filepath.Join(t.TempDir(), "missing")})
	if _, err := capture.Start(context.Background(), ports.AudioConfig{}); err == nil {
		t.Fatalf("expected start error for missing recorder")
	}
}

func TestRecorderArgsUseDefaults(t *testing.T) {
	t.Parallel()

	args := strings.Join(recorderArgs(withDefaults(ports.AudioConfig{})), " ")
	for _, want := range []string{"-f pulse", "-i default", "-ac 1", "-ar 16000", "-f s16le -"} {
		if !strings.Contains(args, want) {
			t.Fatalf("expected %q in args: %s", want, args)
		}
	}
}

func TestNormalizeStopErr(t *testing.T) {
	t.Parallel()

	err := exec.Command("bash", "-c", "exit 1").Run()
	if err == nil {
		t.Fatalf("expected command to fail")
	}
	if got := normalizeStopErr(err); got != nil {
		t.Fatalf("expected nil for exit error, got %v", got)
	}
	if got := normalizeStopErr(nil); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
	other := errors.New("wait failed")
	if got := normalizeStopErr(other); !errors.Is(got, other) {
		t.Fatalf("expected passthrough, got %v", got)
	}
}

func TestTrimOutput(t *testing.T) {
	t.Parallel()

	if got := trimOutput("  hi\n"); got != "hi" {
		t.Fatalf("unexpected trim result: %q", got)
	}
}

func writeScript(t *testing.T, name string, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o700); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}
