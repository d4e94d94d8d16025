package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"watchrelay/internal/ports"
)

const defaultMQTTTimeout = 5 * time.Second

// MQTTDialer relays each line as one QoS 0 publish. The broker connection is owned
// by the relay loop, so paho's own reconnect is disabled.
type MQTTDialer struct {
	broker       string
	topic        string
	clientID     string
	username     string
	password     string
	dialTimeout  time.Duration
	writeTimeout time.Duration
}

// NewMQTTDialer parses mqtt://[user:pass@]host[:port]/topic (mqtts:// for TLS).
func NewMQTTDialer(rawURL string, opts Options) (*MQTTDialer, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid mqtt address %q: %w", rawURL, err)
	}

	scheme := "tcp"
	port := "1883"
	if u.Scheme == "mqtts" {
		scheme = "ssl"
		port = "8883"
	}
	if u.Port() != "" {
		port = u.Port()
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("mqtt address %q has no host", rawURL)
	}

	topic := strings.Trim(u.Path, "/")
	if topic == "" {
		return nil, fmt.Errorf("mqtt address %q has no topic", rawURL)
	}

	d := &MQTTDialer{
		broker:       fmt.Sprintf("%s://%s:%s", scheme, u.Hostname(), port),
		topic:        topic,
		clientID:     opts.ClientID,
		dialTimeout:  opts.DialTimeout,
		writeTimeout: opts.WriteTimeout,
	}
	if d.clientID == "" {
		d.clientID = "watchrelay-" + uuid.NewString()[:8]
	}
	if u.User != nil {
		d.username = u.User.Username()
		d.password, _ = u.User.Password()
	}
	if d.dialTimeout <= 0 {
		d.dialTimeout = defaultMQTTTimeout
	}
	if d.writeTimeout <= 0 {
		d.writeTimeout = defaultMQTTTimeout
	}
	return d, nil
}

func (d *MQTTDialer) Dial(ctx context.Context) (ports.Conn, error) {
	c := &mqttConn{
		topic:        d.topic,
		writeTimeout: d.writeTimeout,
		done:         make(chan struct{}),
	}

	opts := paho.NewClientOptions().
		AddBroker(d.broker).
		SetClientID(d.clientID).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetConnectTimeout(d.dialTimeout)
	if d.username != "" {
		opts.SetUsername(d.username)
		opts.SetPassword(d.password)
	}
	opts.SetConnectionLostHandler(func(_ paho.Client, _ error) {
		c.signalDone()
	})

	c.client = paho.NewClient(opts)
	token := c.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		c.client.Disconnect(0)
		return nil, ctx.Err()
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to mqtt broker %s: %w", d.broker, err)
	}
	return c, nil
}

type mqttConn struct {
	client       paho.Client
	topic        string
	writeTimeout time.Duration

	done      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once
}

func (c *mqttConn) WriteLine(line string) error {
	token := c.client.Publish(c.topic, 0, false, line)
	if !token.WaitTimeout(c.writeTimeout) {
		return errors.New("mqtt publish timed out")
	}
	return token.Error()
}

func (c *mqttConn) Done() <-chan struct{} {
	return c.done
}

func (c *mqttConn) Close() error {
	c.closeOnce.Do(func() {
		c.client.Disconnect(250)
		c.signalDone()
	})
	return nil
}

func (c *mqttConn) signalDone() {
	c.doneOnce.Do(func() { close(c.done) })
}
