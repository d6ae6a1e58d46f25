package session

import (
	"sync"
	"time"
)

// DefaultPingInterval is the default interval between server pings.
const DefaultPingInterval = 30 * time.Second

// Heartbeat invokes a send callback on a fixed interval until stopped or
// until a send fails. A failed send means the socket is dead; the read
// side of the connection handles the actual teardown.
type Heartbeat struct {
	interval time.Duration
	send     func() error

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewHeartbeat creates a heartbeat calling send every interval.
// A zero interval selects DefaultPingInterval.
func NewHeartbeat(interval time.Duration, send func() error) *Heartbeat {
	if interval == 0 {
		interval = DefaultPingInterval
	}
	return &Heartbeat{
		interval: interval,
		send:     send,
		stopCh:   make(chan struct{}),
	}
}

// Start begins pinging on a new goroutine.
func (h *Heartbeat) Start() {
	go h.loop()
}

// Stop halts the heartbeat. Safe to call more than once.
func (h *Heartbeat) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
}

func (h *Heartbeat) loop() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			if err := h.send(); err != nil {
				return
			}
		}
	}
}
