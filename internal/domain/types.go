package domain

import "time"

// ConnectionState models the relay connection lifecycle.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
)

// AdmissionPolicy decides what Send does while the relay is not connected.
type AdmissionPolicy string

const (
	// PolicyDrop admits messages only while connected.
	PolicyDrop AdmissionPolicy = "drop"
	// PolicyQueue always admits; the queue bounds growth by evicting the oldest entry.
	PolicyQueue AdmissionPolicy = "queue"
)

// ParseAdmissionPolicy maps a config value to a policy. Unknown values yield PolicyDrop.
func ParseAdmissionPolicy(value string) (AdmissionPolicy, bool) {
	switch AdmissionPolicy(value) {
	case PolicyDrop:
		return PolicyDrop, true
	case PolicyQueue:
		return PolicyQueue, true
	default:
		return PolicyDrop, false
	}
}

// Protocol tokens.
const (
	HandshakeSentinel = "WATCH_CONNECTED"
	AudioStart        = "AUDIO_START"
	AudioEnd          = "AUDIO_END"
	AudioFramePrefix  = "AUDIO:"
)

// Zone identifies a directional touch zone on the watch face.
type Zone string

const (
	ZoneUp    Zone = "k"
	ZoneDown  Zone = "j"
	ZoneLeft  Zone = "h"
	ZoneRight Zone = "l"
)

// Direction identifies a recognized swipe.
type Direction string

const (
	DirectionUp    Direction = "Up"
	DirectionDown  Direction = "Down"
	DirectionLeft  Direction = "Left"
	DirectionRight Direction = "Right"
)

// SwipeCommand returns the wire token for a swipe.
func SwipeCommand(d Direction) string {
	return "Swipe " + string(d)
}

// ButtonCommand is sent for the center action.
const ButtonCommand = "Button Pressed"

// Stats summarizes relay activity for status reporting.
type Stats struct {
	State          ConnectionState `json:"state"`
	Policy         AdmissionPolicy `json:"policy"`
	Queued         int             `json:"queued"`
	Capacity       int             `json:"capacity"`
	Written        uint64          `json:"written"`
	Rejected       uint64          `json:"rejected"`
	Evicted        uint64          `json:"evicted"`
	Connections    uint64          `json:"connections"`
	FailedAttempts uint64          `json:"failedAttempts"`
	LastError      string          `json:"lastError,omitempty"`
	LastConnected  *time.Time      `json:"lastConnected,omitempty"`
}
