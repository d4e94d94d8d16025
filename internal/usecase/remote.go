package usecase

import (
	"watchrelay/internal/domain"
	"watchrelay/internal/ports"
)

// Remote turns watch-face gestures into relay commands.
type Remote struct {
	relay ports.Announcer
}

func NewRemote(relay ports.Announcer) *Remote {
	return &Remote{relay: relay}
}

func (r *Remote) Tap(zone domain.Zone) {
	r.relay.Send(string(zone))
}

func (r *Remote) Swipe(direction domain.Direction) {
	r.relay.Send(domain.SwipeCommand(direction))
}

func (r *Remote) Button() {
	r.relay.Send(domain.ButtonCommand)
}

// Resume re-announces the watch after the app returns to the foreground.
func (r *Remote) Resume() {
	r.relay.Announce()
}

// Command forwards an arbitrary token.
func (r *Remote) Command(text string) {
	r.relay.Send(text)
}
