package sfu

import (
	"github.com/confab-dev/confab/pkg/mediaworker"
	"github.com/confab-dev/confab/pkg/meeting/participant"
)

// Event is something the router observed outside the meeting actor's call
// path. The actor drains the router's event channel and reacts.
type Event interface {
	isEvent()
}

// SpeakersChangedEvent carries the ordered active speaker set. An empty set
// means silence.
type SpeakersChangedEvent struct {
	ParticipantIDs []participant.ID
}

// StatsTickEvent asks the actor to collect and distribute fresh stats.
// Collection itself happens on the actor so participant state stays
// single-writer.
type StatsTickEvent struct{}

// DataEvent is one data-channel payload to deliver to one participant.
type DataEvent struct {
	ParticipantID participant.ID
	ProducerID    mediaworker.ProducerID
	Label         string
	Payload       []byte
}

func (SpeakersChangedEvent) isEvent() {}

func (StatsTickEvent) isEvent() {}

func (DataEvent) isEvent() {}

// ConsumerInfo describes a consumer the router autowired, so the gateway can
// push `new-consumer` to its owner.
type ConsumerInfo struct {
	ParticipantID participant.ID         `json:"participantId"`
	ConsumerID    mediaworker.ConsumerID `json:"consumerId"`
	ProducerID    mediaworker.ProducerID `json:"producerId"`
	ProducerOwner participant.ID         `json:"producerOwner"`
	Kind          mediaworker.MediaKind  `json:"kind"`
	Source        mediaworker.Source     `json:"source"`
}

// DataConsumerInfo describes an autowired data consumer.
type DataConsumerInfo struct {
	ParticipantID participant.ID         `json:"participantId"`
	ConsumerID    mediaworker.ConsumerID `json:"consumerId"`
	ProducerID    mediaworker.ProducerID `json:"producerId"`
	ProducerOwner participant.ID         `json:"producerOwner"`
	Label         string                 `json:"label"`
}
