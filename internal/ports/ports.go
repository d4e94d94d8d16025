package ports

import (
	"context"
	"io"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSession is a live capture session.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// Conn is one established connection to the remote listener.
type Conn interface {
	// WriteLine writes one message and flushes it to the wire.
	WriteLine(line string) error
	// Done is closed once the remote side hangs up.
	Done() <-chan struct{}
	// Close releases the connection. Safe to call more than once.
	Close() error
}

// Dialer opens connections to the fixed remote endpoint.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// Sender accepts outbound messages without blocking.
type Sender interface {
	Send(msg string)
}

// Announcer re-announces presence to the remote listener.
type Announcer interface {
	Sender
	Announce()
}
