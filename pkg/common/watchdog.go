package common

import (
	"sync"
	"time"
)

// Watchdog fires a callback if it has not been notified for a configured
// duration. Used for the ghost-grace window after a socket loss and for
// reclaiming pre-warmed routers that nobody touched.
type Watchdog struct {
	timeout   time.Duration
	onTimeout func()

	channel chan struct{}
	mutex   sync.Mutex
	closed  bool
}

func NewWatchdog(timeout time.Duration, onTimeout func()) *Watchdog {
	return &Watchdog{
		timeout:   timeout,
		onTimeout: onTimeout,
		channel:   make(chan struct{}, UnboundedChannelSize),
	}
}

// Start runs the watchdog loop. The returned channel is closed once the
// watchdog terminates (either by `Close` or after firing).
func (w *Watchdog) Start() <-chan struct{} {
	terminated := make(chan struct{})

	go func() {
		defer close(terminated)
		for {
			select {
			case _, ok := <-w.channel:
				if !ok {
					return
				}
			case <-time.After(w.timeout):
				w.onTimeout()
				return
			}
		}
	}()

	return terminated
}

// Notify resets the timeout. Returns `false` if the watchdog is already closed.
func (w *Watchdog) Notify() bool {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.closed {
		return false
	}

	w.channel <- struct{}{}
	return true
}

// Close stops the watchdog without firing the callback.
func (w *Watchdog) Close() {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if !w.closed {
		close(w.channel)
		w.closed = true
	}
}
