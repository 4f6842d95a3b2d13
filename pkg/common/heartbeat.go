package common

import (
	"time"
)

type Pong struct{}

// Heartbeat periodically pings the remote side and expects a pong within a
// timeout. The signaling gateway uses this to detect dead client sockets.
type Heartbeat struct {
	// How often to send pings.
	Interval time.Duration
	// After which time to consider the communication stalled.
	Timeout time.Duration
	// Called when a ping is due. Returns `false` if sending failed.
	SendPing func() bool
	// Called once `Timeout` is reached without a pong.
	OnTimeout func()
}

// Start runs the heartbeat loop on its own goroutine. The returned channel is
// what the caller uses to report received pongs. The loop stops once the
// channel is closed or upon firing `OnTimeout`.
func (h *Heartbeat) Start() chan<- Pong {
	pong := make(chan Pong, UnboundedChannelSize)

	go func() {
		ticker := time.NewTicker(h.Interval)
		defer ticker.Stop()

		for range ticker.C {
			if !h.sendWithRetry() {
				return
			}

			select {
			case <-time.After(h.Timeout):
				h.OnTimeout()
				return
			case _, ok := <-pong:
				if !ok {
					return
				}
			}
		}
	}()

	return pong
}

// Tries to send a ping and retries a couple of times if the send fails.
func (h *Heartbeat) sendWithRetry() bool {
	const retries = 3
	retryInterval := h.Timeout / retries

	for i := 0; i < retries; i++ {
		if !h.SendPing() {
			time.Sleep(retryInterval)
			continue
		}
		return true
	}

	return false
}
