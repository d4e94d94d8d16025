package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"watchrelay/internal/capture"
	"watchrelay/internal/logging"
)

var ErrNoActiveSession = errors.New("no active recording session")

const defaultReleaseGrace = 2 * time.Second

// SessionRunner runs one capture session until isActive reports false.
type SessionRunner interface {
	Run(ctx context.Context, isActive func() bool) capture.SessionReport
}

// TalkController maps push-to-talk press/release onto capture sessions. At most one
// session is live at a time.
type TalkController struct {
	runner       SessionRunner
	logger       *slog.Logger
	releaseGrace time.Duration

	mu      sync.Mutex
	current *activeSession
}

// NewTalkController builds a controller. releaseGrace bounds how long Release waits
// for the in-flight read before cancelling the session.
func NewTalkController(runner SessionRunner, logger *slog.Logger, releaseGrace time.Duration) *TalkController {
	if releaseGrace <= 0 {
		releaseGrace = defaultReleaseGrace
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &TalkController{
		runner:       runner,
		logger:       logger.With(slog.String("component", "talk")),
		releaseGrace: releaseGrace,
	}
}

// Press starts a capture session on its own goroutine. It reports false when a
// session is live, including one that was released and is still closing.
func (c *TalkController) Press(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil && !c.current.finished() {
		return false
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	active := &activeSession{cancel: cancel, done: make(chan struct{})}
	active.active.Store(true)
	c.current = active

	go func() {
		defer close(active.done)
		defer cancel()
		active.report = c.runner.Run(sessionCtx, active.isActive)
	}()
	return true
}

// Release ends the live session and waits for AUDIO_END to be emitted.
func (c *TalkController) Release() (capture.SessionReport, error) {
	active, err := c.take()
	if err != nil {
		return capture.SessionReport{}, err
	}

	active.active.Store(false)
	timer := time.NewTimer(c.releaseGrace)
	defer timer.Stop()
	select {
	case <-active.done:
	case <-timer.C:
		c.logger.Warn("capture did not stop within grace, cancelling")
		active.cancel()
		<-active.done
	}
	return active.report, nil
}

// Abort cancels the live session without waiting for the in-flight read.
func (c *TalkController) Abort() error {
	active, err := c.take()
	if err != nil {
		return err
	}
	active.active.Store(false)
	active.cancel()
	<-active.done
	return nil
}

// Toggle presses when idle and releases when recording. It reports whether a session
// is live afterwards.
func (c *TalkController) Toggle(ctx context.Context) bool {
	if c.Active() {
		_, _ = c.Release()
		return false
	}
	return c.Press(ctx)
}

// Active reports whether a capture session is live.
func (c *TalkController) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil && !c.current.finished()
}

// take claims the live session for one Release or Abort. The session stays current
// until its goroutine exits so Press cannot overlap it.
func (c *TalkController) take() (*activeSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	active := c.current
	if active == nil || active.finished() || active.released {
		return nil, ErrNoActiveSession
	}
	active.released = true
	return active, nil
}
