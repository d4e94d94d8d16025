package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"watchrelay/internal/bootstrap"
	"watchrelay/internal/domain"
	"watchrelay/internal/logging"
	"watchrelay/internal/usecase"
)

const (
	cmdTalk   = "/talk"
	cmdResume = "/resume"
	cmdStatus = "/status"
	cmdQuit   = "/quit"
)

type relayRuntime interface {
	Start(ctx context.Context)
	Close()
	Stats() domain.Stats
}

type talkControl interface {
	Toggle(ctx context.Context) bool
	Active() bool
	Abort() error
}

type remoteControl interface {
	Command(text string)
	Resume()
}

type statusServer interface {
	Serve(ctx context.Context, addr string) error
}

// App is the console adapter: each stdin line becomes a gesture or a control action.
type App struct {
	relay  relayRuntime
	talk   talkControl
	remote remoteControl

	status     statusServer
	statusAddr string

	in     io.Reader
	out    io.Writer
	logger *slog.Logger
}

func NewApp(services bootstrap.Services, in io.Reader, out io.Writer, logger *slog.Logger) *App {
	if logger == nil {
		logger = logging.Discard()
	}
	app := &App{
		relay:  services.Relay,
		talk:   services.Talk,
		remote: services.Remote,
		in:     in,
		out:    out,
		logger: logger,
	}
	if services.Status != nil {
		app.status = services.Status
		app.statusAddr = services.Config.Status.Addr
	}
	return app
}

// Run starts the relay and processes console input until /quit, EOF or ctx is done.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	a.relay.Start(ctx)

	statusDone := make(chan struct{})
	if a.status != nil {
		go func() {
			defer close(statusDone)
			if err := a.status.Serve(ctx, a.statusAddr); err != nil {
				a.logger.Warn("status endpoint stopped", slog.Any("error", err))
			}
		}()
	} else {
		close(statusDone)
	}

	// The status server only returns once ctx is cancelled.
	defer func() {
		a.stopTalk()
		cancel()
		<-statusDone
		a.relay.Close()
	}()

	lines := make(chan string)
	go a.readLines(ctx, lines)

	fmt.Fprintln(a.out, "type a command, or /talk /resume /status /quit")
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if a.handle(ctx, line) {
				return nil
			}
		}
	}
}

func (a *App) readLines(ctx context.Context, lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(a.in)
	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		case <-ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil {
		a.logger.Warn("console read failed", slog.Any("error", err))
	}
}

// handle reports whether the console should exit.
func (a *App) handle(ctx context.Context, line string) bool {
	text := strings.TrimSpace(line)
	switch text {
	case "":
	case cmdQuit:
		return true
	case cmdTalk:
		if a.talk.Toggle(ctx) {
			fmt.Fprintln(a.out, "recording")
		} else {
			fmt.Fprintln(a.out, "stopped")
		}
	case cmdResume:
		a.remote.Resume()
	case cmdStatus:
		fmt.Fprintln(a.out, formatStats(a.relay.Stats()))
	default:
		a.remote.Command(text)
	}
	return false
}

func (a *App) stopTalk() {
	if !a.talk.Active() {
		return
	}
	if err := a.talk.Abort(); err != nil && !errors.Is(err, usecase.ErrNoActiveSession) {
		a.logger.Warn("failed to stop recording", slog.Any("error", err))
	}
}

func formatStats(s domain.Stats) string {
	line := fmt.Sprintf("state=%s policy=%s queued=%d/%d written=%d rejected=%d evicted=%d connections=%d failures=%d",
		s.State, s.Policy, s.Queued, s.Capacity, s.Written, s.Rejected, s.Evicted, s.Connections, s.FailedAttempts)
	if s.LastError != "" {
		line += fmt.Sprintf(" last_error=%q", s.LastError)
	}
	return line
}
