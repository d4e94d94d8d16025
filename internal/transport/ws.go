package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"watchrelay/internal/ports"
)

// WSDialer relays each line as one websocket text message.
type WSDialer struct {
	url          string
	writeTimeout time.Duration
	dialer       websocket.Dialer
}

func NewWSDialer(url string, opts Options) *WSDialer {
	return &WSDialer{
		url:          url,
		writeTimeout: opts.WriteTimeout,
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.DialTimeout,
		},
	}
}

func (d *WSDialer) Dial(ctx context.Context) (ports.Conn, error) {
	conn, _, err := d.dialer.DialContext(ctx, d.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to websocket %s: %w", d.url, err)
	}

	c := &wsConn{
		conn:         conn,
		writeTimeout: d.writeTimeout,
		done:         make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func (c *wsConn) WriteLine(line string) error {
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return c.conn.WriteMessage(websocket.TextMessage, []byte(line))
}

func (c *wsConn) Done() <-chan struct{} {
	return c.done
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		deadline := time.Now().Add(250 * time.Millisecond)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "relay closing"), deadline)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// readLoop services ping/close control frames until the peer goes away.
func (c *wsConn) readLoop() {
	defer close(c.done)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
