package listener

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"watchrelay/internal/capture"
	"watchrelay/internal/domain"
	"watchrelay/internal/logging"
)

// MaxLineSize bounds one protocol line. Audio frames are the largest lines.
const MaxLineSize = 1 << 20

// Peer identifies one relay connection.
type Peer struct {
	ID   string
	Addr string
}

// Sink receives decoded protocol events. Calls for one peer are sequential.
type Sink interface {
	Connected(peer Peer)
	Announce(peer Peer)
	Command(peer Peer, text string)
	AudioStart(peer Peer)
	AudioFrame(peer Peer, pcm []byte)
	AudioEnd(peer Peer)
	Disconnected(peer Peer)
}

// Server accepts relay connections and decodes the line protocol.
type Server struct {
	sink      Sink
	logger    *slog.Logger
	upgrader  websocket.Upgrader
	handshake string

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// Option customizes a Server.
type Option func(*Server)

// WithHandshake sets the token treated as the relay handshake. Empty keeps the default.
func WithHandshake(handshake string) Option {
	return func(s *Server) {
		if handshake != "" {
			s.handshake = handshake
		}
	}
}

func NewServer(sink Sink, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	s := &Server{
		sink:      sink,
		handshake: domain.HandshakeSentinel,
		logger:    logger.With(slog.String("component", "listener")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Serve accepts TCP relays until ctx is done. Open connections are closed on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
		s.closeConns()
	})
	defer stop()

	s.logger.Info("listening", slog.String("addr", ln.Addr().String()))
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.wg.Wait()
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		s.track(conn)
		if ctx.Err() != nil {
			_ = conn.Close()
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			defer conn.Close()
			s.handleStream(conn, conn.RemoteAddr().String())
		}()
	}
}

// ServeHTTP upgrades to a websocket where each text message is one protocol line.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(MaxLineSize)

	d := s.newDecoder(r.RemoteAddr)
	defer d.finish()
	for {
		kind, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("websocket relay read failed", slog.String("peer", d.peer.Addr), slog.Any("error", err))
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		d.line(string(payload))
	}
}

func (s *Server) handleStream(conn net.Conn, addr string) {
	d := s.newDecoder(addr)
	defer d.finish()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), MaxLineSize)
	for scanner.Scan() {
		d.line(scanner.Text())
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Warn("relay read failed", slog.String("peer", addr), slog.Any("error", err))
	}
}

func (s *Server) track(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
}

type decoder struct {
	sink      Sink
	logger    *slog.Logger
	peer      Peer
	handshake string
	inAudio   bool
}

func (s *Server) newDecoder(addr string) *decoder {
	peer := Peer{ID: uuid.NewString(), Addr: addr}
	s.sink.Connected(peer)
	return &decoder{
		sink:      s.sink,
		logger:    s.logger.With(slog.String("peer", addr)),
		peer:      peer,
		handshake: s.handshake,
	}
}

func (d *decoder) line(raw string) {
	text := strings.TrimRight(raw, "\r")
	switch {
	case text == "":
	case text == d.handshake:
		d.sink.Announce(d.peer)
	case text == domain.AudioStart:
		if d.inAudio {
			d.logger.Warn("audio session restarted without AUDIO_END")
			d.sink.AudioEnd(d.peer)
		}
		d.inAudio = true
		d.sink.AudioStart(d.peer)
	case text == domain.AudioEnd:
		if d.inAudio {
			d.inAudio = false
			d.sink.AudioEnd(d.peer)
		}
	case strings.HasPrefix(text, domain.AudioFramePrefix):
		pcm, _, err := capture.DecodeFrame(text)
		if err != nil {
			d.logger.Warn("dropping malformed audio frame", slog.Any("error", err))
			return
		}
		if !d.inAudio {
			d.inAudio = true
			d.sink.AudioStart(d.peer)
		}
		d.sink.AudioFrame(d.peer, pcm)
	default:
		d.sink.Command(d.peer, text)
	}
}

func (d *decoder) finish() {
	if d.inAudio {
		d.inAudio = false
		d.sink.AudioEnd(d.peer)
	}
	d.sink.Disconnected(d.peer)
}
