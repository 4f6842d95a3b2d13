package common

import (
	"errors"
)

var ErrSinkSealed = errors.New("the sink is sealed")

// Message is an envelope that pairs a payload with the identity of its sender.
// Mailbox consumers (the meeting actor) rely on the sender field to attribute
// the message to a participant or a connection.
type Message[SenderType comparable, MessageType any] struct {
	Sender  SenderType
	Content MessageType
}

// SinkWithSender binds a fixed sender to a shared mailbox channel. The sender
// is captured at construction time so that the holder of the sink cannot
// impersonate anyone else: whatever they send arrives attributed to them.
// This is the primitive behind the spoofing guarantees of the signal relay.
type SinkWithSender[SenderType comparable, MessageType any] struct {
	sender      SenderType
	messageSink chan<- Message[SenderType, MessageType]
	// Closed when the sink is sealed. We never close the underlying channel
	// since it is shared between multiple senders.
	sealed chan struct{}
}

// NewSink creates a sink bound to the given sender.
func NewSink[S comparable, M any](sender S, messageSink chan<- Message[S, M]) *SinkWithSender[S, M] {
	return &SinkWithSender[S, M]{
		sender:      sender,
		messageSink: messageSink,
		sealed:      make(chan struct{}),
	}
}

// Send delivers a message to the sink. Blocks if the sink is full.
func (s *SinkWithSender[S, M]) Send(message M) error {
	envelope := Message[S, M]{Sender: s.sender, Content: message}

	select {
	case <-s.sealed:
		return ErrSinkSealed
	case s.messageSink <- envelope:
		return nil
	}
}

// TrySend delivers a message without blocking. Returns an error if the sink
// is sealed or full. Used for events that are allowed to be dropped under
// backpressure (stats ticks, speaker updates).
func (s *SinkWithSender[S, M]) TrySend(message M) error {
	envelope := Message[S, M]{Sender: s.sender, Content: message}

	select {
	case <-s.sealed:
		return ErrSinkSealed
	default:
	}

	select {
	case s.messageSink <- envelope:
		return nil
	default:
		return errors.New("the sink is full")
	}
}

// Seal disallows any further sends through this sink. Unlike closing a
// channel, sealing only affects this sender; other senders that share the
// underlying mailbox are unaffected.
func (s *SinkWithSender[S, M]) Seal() {
	select {
	case <-s.sealed:
	default:
		close(s.sealed)
	}
}
