package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"watchrelay/internal/ports"
)

// TCPDialer opens plain newline-delimited TCP connections.
type TCPDialer struct {
	address      string
	dialTimeout  time.Duration
	writeTimeout time.Duration
}

func NewTCPDialer(address string, opts Options) *TCPDialer {
	return &TCPDialer{
		address:      address,
		dialTimeout:  opts.DialTimeout,
		writeTimeout: opts.WriteTimeout,
	}
}

func (d *TCPDialer) Dial(ctx context.Context) (ports.Conn, error) {
	dialer := net.Dialer{Timeout: d.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", d.address)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", d.address, err)
	}

	c := &tcpConn{
		conn:         conn,
		writer:       bufio.NewWriter(conn),
		writeTimeout: d.writeTimeout,
		done:         make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

type tcpConn struct {
	conn         net.Conn
	writer       *bufio.Writer
	writeTimeout time.Duration

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func (c *tcpConn) WriteLine(line string) error {
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	if _, err := c.writer.WriteString(line); err != nil {
		return err
	}
	if err := c.writer.WriteByte('\n'); err != nil {
		return err
	}
	return c.writer.Flush()
}

func (c *tcpConn) Done() <-chan struct{} {
	return c.done
}

func (c *tcpConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// readLoop discards anything the listener sends and signals when it hangs up.
func (c *tcpConn) readLoop() {
	defer close(c.done)
	_, _ = io.Copy(io.Discard, c.conn)
}
