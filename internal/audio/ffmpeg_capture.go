package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"watchrelay/internal/ports"
)

// Microphone defaults: 16 kHz mono signed 16-bit little-endian PCM.
const (
	DefaultSampleRate  = 16000
	DefaultChannels    = 1
	DefaultInputFormat = "pulse"
	DefaultInputDevice = "default"
)

// FFMPEGOptions tunes how the ffmpeg recorder process is supervised.
type FFMPEGOptions struct {
	Command string
	// StartupWindow is how long Start waits to see whether ffmpeg exits early.
	StartupWindow time.Duration
	// StopGrace is how long Stop waits after an interrupt before killing ffmpeg.
	StopGrace time.Duration
}

// FFMPEGCapture opens the microphone through an ffmpeg subprocess that writes raw
// PCM to stdout.
type FFMPEGCapture struct {
	opts FFMPEGOptions
}

var _ ports.AudioCapture = (*FFMPEGCapture)(nil)

func NewFFMPEGCapture(opts FFMPEGOptions) *FFMPEGCapture {
	if opts.Command == "" {
		opts.Command = "ffmpeg"
	}
	if opts.StartupWindow <= 0 {
		opts.StartupWindow = 250 * time.Millisecond
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = 1200 * time.Millisecond
	}
	return &FFMPEGCapture{opts: opts}
}

// Start acquires the device. It fails when ffmpeg cannot be launched or exits within
// the startup window, which is how an unavailable microphone shows up.
func (c *FFMPEGCapture) Start(ctx context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	cfg = withDefaults(cfg)

	cmd := exec.CommandContext(ctx, c.opts.Command, recorderArgs(cfg)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create recorder stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start recorder: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	timer := time.NewTimer(c.opts.StartupWindow)
	defer timer.Stop()
	select {
	case err := <-waitErr:
		if err != nil {
			return nil, fmt.Errorf("recorder exited before capture started: %w: %s", err, trimOutput(stderr.String()))
		}
		return nil, errors.New("recorder exited before capture started")
	case <-timer.C:
	}

	return &ffmpegSession{
		stdout:    stdout,
		stderr:    &stderr,
		process:   cmd.Process,
		waitErr:   waitErr,
		stopGrace: c.opts.StopGrace,
	}, nil
}

func withDefaults(cfg ports.AudioConfig) ports.AudioConfig {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = DefaultChannels
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = DefaultInputFormat
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = DefaultInputDevice
	}
	return cfg
}

func recorderArgs(cfg ports.AudioConfig) []string {
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "s16le",
		"-",
	}
}

type ffmpegSession struct {
	stdout io.ReadCloser
	stderr *bytes.Buffer

	process   *os.Process
	waitErr   <-chan error
	stopGrace time.Duration

	stopOnce sync.Once
	stopErr  error
}

func (s *ffmpegSession) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

// Close releases the device; it is Stop under the io.Closer name.
func (s *ffmpegSession) Close() error {
	return s.Stop()
}

func (s *ffmpegSession) Stop() error {
	s.stopOnce.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		timer := time.NewTimer(s.stopGrace)
		defer timer.Stop()
		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		case <-timer.C:
			if s.process != nil {
				_ = s.process.Kill()
			}
			if err, ok := <-s.waitErr; ok {
				s.stopErr = normalizeStopErr(err)
			}
		}

		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) && s.stopErr == nil {
			s.stopErr = closeErr
		}
		if s.stopErr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, trimOutput(s.stderr.String()))
		}
	})
	return s.stopErr
}

// normalizeStopErr treats a non-zero exit after an interrupt as a clean stop.
func normalizeStopErr(err error) error {
	var exitErr *exec.ExitError
	if err == nil || errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func trimOutput(output string) string {
	return string(bytes.TrimSpace([]byte(output)))
}
