package usecase

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"watchrelay/internal/capture"
	"watchrelay/internal/domain"
	"watchrelay/internal/ports"
)

func TestTalkControllerPressRelease(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	controller := NewTalkController(runner, nil, time.Second)

	if !controller.Press(context.Background()) {
		t.Fatalf("expected press to start a session")
	}
	if controller.Press(context.Background()) {
		t.Fatalf("second press while recording must be a no-op")
	}
	if !controller.Active() {
		t.Fatalf("expected active session")
	}

	report, err := controller.Release()
	if err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if report.ID != "session-1" {
		t.Fatalf("unexpected report: %+v", report)
	}
	if controller.Active() {
		t.Fatalf("expected no active session after release")
	}
	if got := runner.runs.Load(); got != 1 {
		t.Fatalf("expected one session, got %d", got)
	}
}

func TestTalkControllerReleaseWithoutSession(t *testing.T) {
	t.Parallel()

	controller := NewTalkController(&fakeRunner{}, nil, 0)
	if _, err := controller.Release(); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
	if err := controller.Abort(); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
}

func TestTalkControllerReleaseCancelsStuckSession(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{ignorePredicate: true}
	controller := NewTalkController(runner, nil, 20*time.Millisecond)
	controller.Press(context.Background())

	done := make(chan struct{})
	go func() {
		_, _ = controller.Release()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("release did not cancel a stuck session")
	}
}

func TestTalkControllerAbort(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{ignorePredicate: true}
	controller := NewTalkController(runner, nil, time.Hour)
	controller.Press(context.Background())

	if err := controller.Abort(); err != nil {
		t.Fatalf("abort failed: %v", err)
	}
	if controller.Active() {
		t.Fatalf("expected no active session after abort")
	}
}

func TestTalkControllerSessionEndingOnItsOwnAllowsNewPress(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{endImmediately: true}
	controller := NewTalkController(runner, nil, time.Second)
	controller.Press(context.Background())

	deadline := time.Now().Add(time.Second)
	for controller.Active() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if controller.Active() {
		t.Fatalf("expected session to finish on its own")
	}
	if _, err := controller.Release(); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession for finished session, got %v", err)
	}
	if !controller.Press(context.Background()) {
		t.Fatalf("expected a new session to start")
	}
	_, _ = controller.Release()
}

func TestTalkControllerPressDuringPendingReleaseIsRefused(t *testing.T) {
	t.Parallel()

	runner := &closingRunner{closeDelay: 100 * time.Millisecond, stopping: make(chan struct{}, 4)}
	controller := NewTalkController(runner, nil, time.Second)

	if !controller.Press(context.Background()) {
		t.Fatalf("expected first press to start a session")
	}
	released := make(chan struct{})
	go func() {
		defer close(released)
		_, _ = controller.Release()
	}()

	select {
	case <-runner.stopping:
	case <-time.After(time.Second):
		t.Fatalf("session never observed the release")
	}
	if controller.Press(context.Background()) {
		t.Fatalf("press while the released session is still closing must be refused")
	}
	if _, err := controller.Release(); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("second release of a closing session: expected ErrNoActiveSession, got %v", err)
	}

	<-released
	if !controller.Press(context.Background()) {
		t.Fatalf("expected press after the session closed to start a new one")
	}
	_, _ = controller.Release()

	if got := runner.maxLive.Load(); got != 1 {
		t.Fatalf("expected at most one live session, got %d", got)
	}
}

func TestTalkControllerToggle(t *testing.T) {
	t.Parallel()

	controller := NewTalkController(&fakeRunner{}, nil, time.Second)
	if !controller.Toggle(context.Background()) {
		t.Fatalf("expected toggle to start recording")
	}
	if controller.Toggle(context.Background()) {
		t.Fatalf("expected toggle to stop recording")
	}
	if controller.Active() {
		t.Fatalf("expected idle after second toggle")
	}
}

func TestTalkControllerWithPipelineBracketsSession(t *testing.T) {
	t.Parallel()

	sender := &recordingRelay{}
	device := &streamingAudioSession{}
	pipeline := capture.NewPipeline(&fakeAudioCapture{session: device}, sender, nil, capture.Config{})
	controller := NewTalkController(pipeline, nil, time.Second)

	for cycle := 0; cycle < 3; cycle++ {
		controller.Press(context.Background())
		deadline := time.Now().Add(time.Second)
		for len(sender.snapshot()) < 3 && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		report, err := controller.Release()
		if err != nil {
			t.Fatalf("release failed: %v", err)
		}

		msgs := sender.drain()
		if msgs[0] != domain.AudioStart || msgs[len(msgs)-1] != domain.AudioEnd {
			t.Fatalf("cycle %d not bracketed: %q", cycle, msgs)
		}
		if len(msgs)-2 != report.Frames {
			t.Fatalf("cycle %d: %d frames on the wire, report says %d", cycle, len(msgs)-2, report.Frames)
		}
	}
	if got := device.stops.Load(); got != 3 {
		t.Fatalf("expected device released after each cycle, got %d", got)
	}
}

func TestRemoteMapsGesturesToCommands(t *testing.T) {
	t.Parallel()

	relay := &recordingRelay{}
	remote := NewRemote(relay)

	remote.Tap(domain.ZoneUp)
	remote.Tap(domain.ZoneLeft)
	remote.Swipe(domain.DirectionRight)
	remote.Button()
	remote.Resume()
	remote.Command("custom")

	want := []string{"k", "h", "Swipe Right", "Button Pressed", domain.HandshakeSentinel, "custom"}
	got := relay.snapshot()
	if len(got) != len(want) {
		t.Fatalf("expected %q, got %q", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("command %d: expected %q, got %q", i, want[i], got[i])
		}
	}
	if relay.announces != 1 {
		t.Fatalf("expected resume to announce")
	}
}

type fakeRunner struct {
	runs            atomic.Int32
	ignorePredicate bool
	endImmediately  bool
}

func (r *fakeRunner) Run(ctx context.Context, isActive func() bool) capture.SessionReport {
	n := r.runs.Add(1)
	report := capture.SessionReport{ID: "session-" + string(rune('0'+n)), Started: true}
	if r.endImmediately {
		return report
	}
	for {
		if ctx.Err() != nil {
			return report
		}
		if !r.ignorePredicate && !isActive() {
			return report
		}
		time.Sleep(time.Millisecond)
	}
}

// closingRunner keeps the session open for closeDelay after release, like a device
// that takes time to stop.
type closingRunner struct {
	closeDelay time.Duration
	stopping   chan struct{}
	live       atomic.Int32
	maxLive    atomic.Int32
}

func (r *closingRunner) Run(ctx context.Context, isActive func() bool) capture.SessionReport {
	n := r.live.Add(1)
	defer r.live.Add(-1)
	for {
		peak := r.maxLive.Load()
		if n <= peak || r.maxLive.CompareAndSwap(peak, n) {
			break
		}
	}

	for isActive() && ctx.Err() == nil {
		time.Sleep(time.Millisecond)
	}
	r.stopping <- struct{}{}
	time.Sleep(r.closeDelay)
	return capture.SessionReport{Started: true}
}

type recordingRelay struct {
	mu        sync.Mutex
	msgs      []string
	announces int
}

func (r *recordingRelay) Send(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recordingRelay) Announce() {
	r.mu.Lock()
	r.announces++
	r.mu.Unlock()
	r.Send(domain.HandshakeSentinel)
}

func (r *recordingRelay) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func (r *recordingRelay) drain() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.msgs
	r.msgs = nil
	return out
}

type fakeAudioCapture struct {
	session ports.AudioSession
}

func (f *fakeAudioCapture) Start(_ context.Context, _ ports.AudioConfig) (ports.AudioSession, error) {
	return f.session, nil
}

// streamingAudioSession yields a short buffer every millisecond, like a live mic.
type streamingAudioSession struct {
	stops atomic.Int32
}

func (s *streamingAudioSession) Read(p []byte) (int, error) {
	time.Sleep(time.Millisecond)
	if len(p) < 4 {
		return 0, io.ErrShortBuffer
	}
	return copy(p, []byte{1, 2, 3, 4}), nil
}

func (s *streamingAudioSession) Close() error { return s.Stop() }

func (s *streamingAudioSession) Stop() error {
	s.stops.Add(1)
	return nil
}
