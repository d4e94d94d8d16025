package usecase

import (
	"sync/atomic"

	"watchrelay/internal/capture"
)

type activeSession struct {
	cancel func()
	active atomic.Bool
	// released is guarded by the controller mutex.
	released bool

	done   chan struct{}
	report capture.SessionReport
}

func (s *activeSession) isActive() bool {
	return s.active.Load()
}

func (s *activeSession) finished() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
