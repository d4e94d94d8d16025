package listener

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"watchrelay/internal/audio"
	"watchrelay/internal/logging"
)

// LogSink writes every decoded event to a logger.
type LogSink struct {
	logger *slog.Logger

	mu     sync.Mutex
	frames map[string]int
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = logging.Discard()
	}
	return &LogSink{logger: logger, frames: make(map[string]int)}
}

func (s *LogSink) Connected(peer Peer) {
	s.logger.Info("relay connected", slog.String("peer", peer.Addr))
}

func (s *LogSink) Announce(peer Peer) {
	s.logger.Info("relay announced", slog.String("peer", peer.Addr))
}

func (s *LogSink) Command(peer Peer, text string) {
	s.logger.Info("command", slog.String("peer", peer.Addr), slog.String("text", text))
}

func (s *LogSink) AudioStart(peer Peer) {
	s.mu.Lock()
	s.frames[peer.ID] = 0
	s.mu.Unlock()
	s.logger.Info("audio started", slog.String("peer", peer.Addr))
}

func (s *LogSink) AudioFrame(peer Peer, pcm []byte) {
	s.mu.Lock()
	s.frames[peer.ID]++
	s.mu.Unlock()
	s.logger.Debug("audio frame", slog.String("peer", peer.Addr), slog.Int("bytes", len(pcm)))
}

func (s *LogSink) AudioEnd(peer Peer) {
	s.mu.Lock()
	frames := s.frames[peer.ID]
	delete(s.frames, peer.ID)
	s.mu.Unlock()
	s.logger.Info("audio ended", slog.String("peer", peer.Addr), slog.Int("frames", frames))
}

func (s *LogSink) Disconnected(peer Peer) {
	s.logger.Info("relay disconnected", slog.String("peer", peer.Addr))
}

const wavHeaderSize = 44

// WAVRecorder stores each audio session as a PCM WAV file in a directory.
type WAVRecorder struct {
	dir        string
	sampleRate int
	channels   int
	logger     *slog.Logger
	now        func() time.Time

	mu    sync.Mutex
	open  map[string]*wavFile
	saved []string
}

type wavFile struct {
	file *os.File
	data uint32
}

func NewWAVRecorder(dir string, sampleRate, channels int, logger *slog.Logger) (*WAVRecorder, error) {
	if dir == "" {
		return nil, fmt.Errorf("recording directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recording directory: %w", err)
	}
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}
	if channels <= 0 {
		channels = audio.DefaultChannels
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &WAVRecorder{
		dir:        dir,
		sampleRate: sampleRate,
		channels:   channels,
		logger:     logger.With(slog.String("component", "recorder")),
		now:        time.Now,
		open:       make(map[string]*wavFile),
	}, nil
}

// Saved lists the files written so far in completion order.
func (r *WAVRecorder) Saved() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.saved...)
}

func (r *WAVRecorder) Connected(Peer)       {}
func (r *WAVRecorder) Announce(Peer)        {}
func (r *WAVRecorder) Command(Peer, string) {}

func (r *WAVRecorder) AudioStart(peer Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLocked(peer.ID)

	name := fmt.Sprintf("%s-%s.wav", r.now().UTC().Format("20060102T150405.000"), shortID(peer.ID))
	file, err := os.Create(filepath.Join(r.dir, name))
	if err != nil {
		r.logger.Warn("failed to create recording", slog.Any("error", err))
		return
	}
	if err := writeWAVHeader(file, r.sampleRate, r.channels, 0); err != nil {
		r.logger.Warn("failed to write recording header", slog.Any("error", err))
		_ = file.Close()
		return
	}
	r.open[peer.ID] = &wavFile{file: file}
}

func (r *WAVRecorder) AudioFrame(peer Peer, pcm []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wf, ok := r.open[peer.ID]
	if !ok {
		return
	}
	n, err := wf.file.Write(pcm)
	wf.data += uint32(n)
	if err != nil {
		r.logger.Warn("failed to append audio", slog.Any("error", err))
	}
}

func (r *WAVRecorder) AudioEnd(peer Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLocked(peer.ID)
}

func (r *WAVRecorder) Disconnected(peer Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLocked(peer.ID)
}

func (r *WAVRecorder) closeLocked(id string) {
	wf, ok := r.open[id]
	if !ok {
		return
	}
	delete(r.open, id)

	path := wf.file.Name()
	if _, err := wf.file.Seek(0, io.SeekStart); err == nil {
		if err := writeWAVHeader(wf.file, r.sampleRate, r.channels, wf.data); err != nil {
			r.logger.Warn("failed to finalize recording header", slog.Any("error", err))
		}
	}
	if err := wf.file.Close(); err != nil {
		r.logger.Warn("failed to close recording", slog.Any("error", err))
		return
	}
	r.saved = append(r.saved, path)
	r.logger.Info("recording saved", slog.String("path", path), slog.Int("bytes", int(wf.data)))
}

// writeWAVHeader writes a canonical 16-bit PCM RIFF header.
func writeWAVHeader(w io.Writer, sampleRate, channels int, dataSize uint32) error {
	const bitsPerSample = 16
	blockAlign := channels * bitsPerSample / 8

	header := make([]byte, wavHeaderSize)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], 36+dataSize)
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1)
	binary.LittleEndian.PutUint16(header[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(sampleRate*blockAlign))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], bitsPerSample)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], dataSize)

	_, err := w.Write(header)
	return err
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// MultiSink fans events out to several sinks in order.
type MultiSink []Sink

func (m MultiSink) Connected(peer Peer) {
	for _, s := range m {
		s.Connected(peer)
	}
}

func (m MultiSink) Announce(peer Peer) {
	for _, s := range m {
		s.Announce(peer)
	}
}

func (m MultiSink) Command(peer Peer, text string) {
	for _, s := range m {
		s.Command(peer, text)
	}
}

func (m MultiSink) AudioStart(peer Peer) {
	for _, s := range m {
		s.AudioStart(peer)
	}
}

func (m MultiSink) AudioFrame(peer Peer, pcm []byte) {
	for _, s := range m {
		s.AudioFrame(peer, pcm)
	}
}

func (m MultiSink) AudioEnd(peer Peer) {
	for _, s := range m {
		s.AudioEnd(peer)
	}
}

func (m MultiSink) Disconnected(peer Peer) {
	for _, s := range m {
		s.Disconnected(peer)
	}
}
