package transport

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"watchrelay/internal/ports"
)

// Options tune a dialer. Zero values mean no timeout unless a transport needs one.
type Options struct {
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	ClientID     string
}

// New picks a dialer from the address scheme. A bare host:port selects TCP.
func New(address string, opts Options) (ports.Dialer, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, fmt.Errorf("relay address is not configured")
	}
	if !strings.Contains(address, "://") {
		return NewTCPDialer(address, opts), nil
	}

	u, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("invalid relay address %q: %w", address, err)
	}

	switch u.Scheme {
	case "tcp":
		if u.Host == "" {
			return nil, fmt.Errorf("relay address %q has no host", address)
		}
		return NewTCPDialer(u.Host, opts), nil
	case "ws", "wss":
		return NewWSDialer(address, opts), nil
	case "mqtt", "mqtts":
		d, err := NewMQTTDialer(address, opts)
		if err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unsupported relay transport %q", u.Scheme)
	}
}
