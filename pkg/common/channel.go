package common

import "sync/atomic"

// Default capacity for mailbox-style channels. Large enough to absorb bursts
// of signaling traffic without blocking the writer pumps.
const UnboundedChannelSize = 128

// NewChannel creates a buffered channel split into a send-only and a
// receive-only half. Unlike a plain Go channel, the receiver may mark the
// channel as closed, after which `Send` returns the undelivered message to
// the caller instead of panicking or blocking forever.
func NewChannel[M any]() (Sender[M], Receiver[M]) {
	channel := make(chan M, UnboundedChannelSize)
	closed := &atomic.Bool{}
	return Sender[M]{channel, closed}, Receiver[M]{channel, closed}
}

type Sender[M any] struct {
	channel        chan<- M
	receiverClosed *atomic.Bool
}

// Send delivers the message unless the receiver has closed the channel.
// Returns the message back if it could not be delivered.
func (s *Sender[M]) Send(message M) *M {
	if s.receiverClosed.Load() {
		return &message
	}

	s.channel <- message
	return nil
}

// TrySend delivers the message without blocking. Returns the message back if
// the receiver has closed the channel or the buffer is full.
func (s *Sender[M]) TrySend(message M) *M {
	if s.receiverClosed.Load() {
		return &message
	}

	select {
	case s.channel <- message:
		return nil
	default:
		return &message
	}
}

type Receiver[M any] struct {
	Channel        <-chan M
	receiverClosed *atomic.Bool
}

// Close marks the channel as closed for senders. Messages already buffered
// remain readable.
func (r *Receiver[M]) Close() {
	r.receiverClosed.Store(true)
}
