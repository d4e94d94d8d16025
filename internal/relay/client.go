package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"

	"watchrelay/internal/domain"
	"watchrelay/internal/logging"
	"watchrelay/internal/ports"
	"watchrelay/internal/queue"
)

// ErrRemoteClosed reports that the listener hung up while the relay was idle.
var ErrRemoteClosed = errors.New("remote closed connection")

const defaultBackoff = time.Second

// Config controls reconnect and admission behavior.
type Config struct {
	Handshake string
	Backoff   time.Duration
	Policy    domain.AdmissionPolicy

	// FailureLogInterval throttles repeated connect failure logs during an outage.
	FailureLogInterval time.Duration
}

// Client owns the single connection to the remote listener. Producers call Send;
// one background loop drains the queue onto the wire and reconnects after failures.
type Client struct {
	dialer ports.Dialer
	queue  *queue.Queue
	cfg    Config
	logger *slog.Logger

	state atomic.Value

	written     atomic.Uint64
	rejected    atomic.Uint64
	connections atomic.Uint64
	failed      atomic.Uint64

	statsMu       sync.Mutex
	lastErr       string
	lastConnected time.Time
	failStreak    int
	failureLog    rate.Sometimes

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

var _ ports.Announcer = (*Client)(nil)

func NewClient(dialer ports.Dialer, q *queue.Queue, logger *slog.Logger, cfg Config) *Client {
	if cfg.Handshake == "" {
		cfg.Handshake = domain.HandshakeSentinel
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if _, ok := domain.ParseAdmissionPolicy(string(cfg.Policy)); !ok {
		cfg.Policy = domain.PolicyDrop
	}
	if cfg.FailureLogInterval <= 0 {
		cfg.FailureLogInterval = 30 * time.Second
	}
	if q == nil {
		q = queue.New(queue.DefaultCapacity)
	}
	if logger == nil {
		logger = logging.Discard()
	}

	c := &Client{
		dialer:     dialer,
		queue:      q,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "relay")),
		failureLog: rate.Sometimes{First: 1, Interval: cfg.FailureLogInterval},
	}
	c.state.Store(domain.StateDisconnected)
	return c
}

// Start launches the reconnect loop. It is a no-op while the loop is running.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done != nil {
		select {
		case <-c.done:
		default:
			return
		}
	}

	if c.cancel != nil {
		c.cancel()
	}
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.setState(domain.StateConnecting)
	go c.loop(loopCtx, c.done)
}

// Stop cancels the loop and waits for it to release the connection. Queued messages
// are left in the queue. Safe to call repeatedly or before Start. A concurrent Start
// blocks until the old loop has exited.
func (c *Client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	c.cancel, c.done = nil, nil
}

// Close stops the loop and closes the queue. Used at process shutdown.
func (c *Client) Close() {
	c.Stop()
	c.queue.Close()
}

// Send admits msg according to the admission policy. It never blocks.
func (c *Client) Send(msg string) {
	if c.cfg.Policy == domain.PolicyDrop && c.State() != domain.StateConnected {
		c.rejected.Add(1)
		return
	}
	if c.queue.Offer(msg) {
		c.logger.Debug("queue full, dropped oldest message")
	}
}

// Announce re-sends the handshake sentinel through the normal admission path.
func (c *Client) Announce() {
	c.Send(c.cfg.Handshake)
}

func (c *Client) State() domain.ConnectionState {
	return c.state.Load().(domain.ConnectionState)
}

func (c *Client) Policy() domain.AdmissionPolicy {
	return c.cfg.Policy
}

// Stats returns a point-in-time snapshot of relay activity.
func (c *Client) Stats() domain.Stats {
	c.statsMu.Lock()
	lastErr, lastConnected := c.lastErr, c.lastConnected
	c.statsMu.Unlock()

	stats := domain.Stats{
		State:          c.State(),
		Policy:         c.cfg.Policy,
		Queued:         c.queue.Len(),
		Capacity:       c.queue.Cap(),
		Written:        c.written.Load(),
		Rejected:       c.rejected.Load(),
		Evicted:        c.queue.Evicted(),
		Connections:    c.connections.Load(),
		FailedAttempts: c.failed.Load(),
		LastError:      lastErr,
	}
	if !lastConnected.IsZero() {
		stats.LastConnected = &lastConnected
	}
	return stats
}

func (c *Client) setState(state domain.ConnectionState) {
	c.state.Store(state)
}

func (c *Client) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer c.setState(domain.StateDisconnected)

	err := retry.Do(ctx, retry.NewConstant(c.cfg.Backoff), func(ctx context.Context) error {
		err := c.session(ctx)
		switch {
		case errors.Is(err, queue.ErrClosed):
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		}
		c.setState(domain.StateDisconnected)
		c.recordFailure(err)
		return retry.RetryableError(err)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Warn("relay loop exited", slog.Any("error", err))
		return
	}
	c.logger.Debug("relay loop stopped")
}

// session runs one connection from dial to failure. It always returns a non-nil error.
func (c *Client) session(ctx context.Context) error {
	c.setState(domain.StateConnecting)

	conn, err := c.dialer.Dial(ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		select {
		case <-conn.Done():
			cancel()
		case <-sessionCtx.Done():
		}
		_ = conn.Close()
	}()
	defer func() {
		cancel()
		<-watchDone
	}()

	c.recordConnected()
	c.setState(domain.StateConnected)

	if err := conn.WriteLine(c.cfg.Handshake); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	for {
		msg, err := c.queue.Take(sessionCtx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) || ctx.Err() != nil {
				return err
			}
			return ErrRemoteClosed
		}
		if err := conn.WriteLine(msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("write: %w", err)
		}
		c.written.Add(1)
	}
}

func (c *Client) recordConnected() {
	c.connections.Add(1)

	c.statsMu.Lock()
	c.lastConnected = time.Now()
	c.failStreak = 0
	c.statsMu.Unlock()

	c.logger.Info("connected")
}

func (c *Client) recordFailure(err error) {
	c.failed.Add(1)

	c.statsMu.Lock()
	c.lastErr = err.Error()
	c.failStreak++
	streak := c.failStreak
	c.statsMu.Unlock()

	log := func() {
		c.logger.Warn("connection failed, retrying",
			slog.Any("error", err),
			slog.Int("attempt", streak),
			slog.Duration("backoff", c.cfg.Backoff),
		)
	}
	if streak == 1 {
		log()
		return
	}
	c.failureLog.Do(log)
}
