package meeting

import (
	"github.com/confab-dev/confab/pkg/mediaworker"
	"github.com/confab-dev/confab/pkg/meeting/participant"
	"github.com/confab-dev/confab/pkg/meeting/topology"
	"github.com/confab-dev/confab/pkg/mesh"
	"github.com/confab-dev/confab/pkg/registry"
	"github.com/confab-dev/confab/pkg/sfu"
	"github.com/pion/webrtc/v3"
)

// Event is a lifecycle notification emitted by the meeting actor. The
// gateway turns events into server pushes; other observers (metrics, audit)
// may watch the same stream.
//
// Events with an empty To field are broadcast to every participant; events
// with To set are delivered to that participant only.
type Event interface {
	// EventMeeting is the meeting that emitted the event.
	EventMeeting() registry.MeetingID
}

type eventBase struct {
	Meeting registry.MeetingID
}

func (e eventBase) EventMeeting() registry.MeetingID { return e.Meeting }

type PeerJoined struct {
	eventBase
	Participant participant.ID
	DisplayName string
}

type PeerLeft struct {
	eventBase
	Participant participant.ID
	Reason      string
}

type MediaStateChanged struct {
	eventBase
	Participant participant.ID
	State       participant.MediaState
}

// SignalRelayed forwards a validated mesh signal to its target.
type SignalRelayed struct {
	eventBase
	To     participant.ID
	Signal mesh.Signal
}

type NewProducer struct {
	eventBase
	Owner      participant.ID
	ProducerID mediaworker.ProducerID
	Kind       mediaworker.MediaKind
	Source     mediaworker.Source
}

type NewConsumer struct {
	eventBase
	Info sfu.ConsumerInfo
}

type NewDataProducer struct {
	eventBase
	Owner      participant.ID
	ProducerID mediaworker.ProducerID
	Label      string
}

type NewDataConsumer struct {
	eventBase
	Info sfu.DataConsumerInfo
}

// DataDelivery carries one data-channel payload to one participant.
type DataDelivery struct {
	eventBase
	To         participant.ID
	ProducerID mediaworker.ProducerID
	Label      string
	Payload    []byte
}

type ActiveSpeakersChanged struct {
	eventBase
	ParticipantIDs []participant.ID
}

type StatsUpdated struct {
	eventBase
	Samples map[participant.ID]participant.Sample
}

type TransitionStarted struct {
	eventBase
	From   topology.Mode
	To     topology.Mode
	Reason topology.Reason
}

// TransitionInfo carries the new connection descriptor to one participant:
// router capabilities for SFU, the peer list for mesh.
type TransitionInfo struct {
	eventBase
	To                 participant.ID
	Mode               topology.Mode
	RouterCapabilities *webrtc.RTPCapabilities
	Peers              []participant.ID
}

type TransitionCompleted struct {
	eventBase
	Mode topology.Mode
}

type TransitionFailed struct {
	eventBase
	Reason topology.Reason
}

// RestartICENeeded tells a participant its transports were re-created after
// a media worker death.
type RestartICENeeded struct {
	eventBase
	Participant participant.ID
	Transports  []mediaworker.TransportInfo
}

type Ended struct {
	eventBase
	Reason string
}

// Droppable reports whether the event may be discarded under backpressure.
// Membership and transition events never are.
func Droppable(event Event) bool {
	switch event.(type) {
	case ActiveSpeakersChanged, StatsUpdated:
		return true
	default:
		return false
	}
}
