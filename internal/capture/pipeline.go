package capture

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"watchrelay/internal/domain"
	"watchrelay/internal/logging"
	"watchrelay/internal/ports"
)

// DefaultChunkSize is one read buffer: 128 ms of 16 kHz mono 16-bit audio.
const DefaultChunkSize = 4096

const minChunkSize = 256

// Config controls microphone format and framing.
type Config struct {
	Audio     ports.AudioConfig
	ChunkSize int
}

// SessionReport summarizes one push-to-talk session.
type SessionReport struct {
	ID       string
	Started  bool
	Frames   int
	Bytes    int
	Duration time.Duration
	Err      error
}

// Pipeline turns microphone buffers into AUDIO frames on a Sender.
type Pipeline struct {
	capture ports.AudioCapture
	sender  ports.Sender
	cfg     Config
	logger  *slog.Logger
}

func NewPipeline(capture ports.AudioCapture, sender ports.Sender, logger *slog.Logger, cfg Config) *Pipeline {
	if cfg.ChunkSize < minChunkSize {
		cfg.ChunkSize = DefaultChunkSize
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Pipeline{
		capture: capture,
		sender:  sender,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "capture")),
	}
}

// Run captures until isActive reports false, ctx is done, or the device fails.
// Once the device is acquired the session is always bracketed by AUDIO_START and
// AUDIO_END. Failures never escape; they end the session and land in the report.
func (p *Pipeline) Run(ctx context.Context, isActive func() bool) SessionReport {
	report := SessionReport{ID: uuid.NewString()}
	logger := p.logger.With(slog.String("session", report.ID))

	session, err := p.capture.Start(ctx, p.cfg.Audio)
	if err != nil {
		logger.Warn("microphone unavailable", slog.Any("error", err))
		report.Err = err
		return report
	}

	started := time.Now()
	report.Started = true
	defer func() {
		if err := session.Stop(); err != nil {
			logger.Warn("failed to release microphone", slog.Any("error", err))
		}
		p.sender.Send(domain.AudioEnd)
		report.Duration = time.Since(started)
		logger.Info("audio session ended",
			slog.Int("frames", report.Frames),
			slog.Int("bytes", report.Bytes),
			slog.Duration("duration", report.Duration),
		)
	}()

	p.sender.Send(domain.AudioStart)
	logger.Info("audio session started")

	report.Err = p.pump(ctx, session, isActive, &report)
	if report.Err != nil {
		logger.Warn("audio capture error", slog.Any("error", report.Err))
	}
	return report
}

func (p *Pipeline) pump(ctx context.Context, session ports.AudioSession, isActive func() bool, report *SessionReport) error {
	buf := make([]byte, p.cfg.ChunkSize)
	for isActive() {
		if err := ctx.Err(); err != nil {
			return nil
		}

		n, err := session.Read(buf)
		if n > 0 {
			p.sender.Send(EncodeFrame(buf[:n]))
			report.Frames++
			report.Bytes += n
		}
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
	return nil
}

// EncodeFrame renders raw PCM as one AUDIO: message.
func EncodeFrame(pcm []byte) string {
	return domain.AudioFramePrefix + base64.StdEncoding.EncodeToString(pcm)
}

// DecodeFrame extracts the PCM payload from an AUDIO: message.
func DecodeFrame(msg string) ([]byte, bool, error) {
	payload, ok := strings.CutPrefix(msg, domain.AudioFramePrefix)
	if !ok {
		return nil, false, nil
	}
	pcm, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, true, err
	}
	return pcm, true, nil
}
