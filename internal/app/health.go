package app

import (
	"sync/atomic"

	"github.com/toolgate/toolgate/internal/proxy"
)

// Health is the gateway's readiness flag: flipped on once the listener is
// serving and off again when shutdown starts. Safe for concurrent use.
type Health struct {
	ready atomic.Bool
}

var _ proxy.ReadinessChecker = (*Health)(nil)

// NewHealth returns a Health reporting not ready.
func NewHealth() *Health {
	return &Health{}
}

// SetReady flips the readiness flag.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the gateway should receive traffic.
func (h *Health) IsReady() bool {
	return h.ready.Load()
}
