package signaling

import (
	"encoding/json"

	"github.com/confab-dev/confab/pkg/mediaworker"
	"github.com/confab-dev/confab/pkg/meeting"
	"github.com/confab-dev/confab/pkg/meeting/participant"
	"github.com/confab-dev/confab/pkg/meeting/topology"
	"github.com/confab-dev/confab/pkg/registry"
	"github.com/pion/webrtc/v3"
)

// Frame is the envelope of every message on the socket. Requests carry an id
// the response echoes back; server pushes have no id.
type Frame struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Request types. Membership and mesh operations use kebab-case names; the
// SFU suite mirrors the camelCase method names clients already know from
// media servers. Mesh signals travel as top-level frames named after the
// signal kind, not wrapped in an envelope.
const (
	TypeCreateMeeting     = "create-meeting"
	TypeJoin              = "join-room"
	TypeLeave             = "leave-room"
	TypeEnd               = "end"
	TypeInfo              = "info"
	TypeMediaState        = "media-state-changed"
	TypeOffer             = "offer"
	TypeAnswer            = "answer"
	TypeICECandidate      = "ice-candidate"
	TypeConnectionRefresh = "request-connection-refresh"
	TypeQuality           = "quality"
	TypeAckTransition     = "transition-acknowledged"
	TypeRouterCaps        = "getRouterCapabilities"
	TypeSetCaps           = "setRtpCapabilities"
	TypeCreateTransport   = "createTransport"
	TypeConnectTransport  = "connectTransport"
	TypeProduce           = "produce"
	TypeCloseProducer     = "closeProducer"
	TypeConsume           = "consume"
	TypeProduceData       = "produceData"
	TypeConsumeData       = "consumeData"
	TypeSendData          = "sendData"
	TypePauseProducer     = "pauseProducer"
	TypeResumeProducer    = "resumeProducer"
	TypePauseConsumer     = "pauseConsumer"
	TypeResumeConsumer    = "resumeConsumer"
	TypeSetLayers         = "setPreferredLayers"
	TypeSetPriority       = "setPriority"
	TypeRestartICE        = "restartIce"
	TypeReportAudioLevel  = "reportAudioLevel"
	TypeStats             = "getStats"
)

// Reply types.
const (
	TypeResponse = "response"
	TypeError    = "error"
)

// Push types.
const (
	TypePeerJoined          = "peer-joined"
	TypePeerLeft            = "peer-left"
	TypeMediaStateChanged   = "media-state-changed"
	TypeNewProducer         = "new-producer"
	TypeNewConsumer         = "new-consumer"
	TypeNewDataProducer     = "new-data-producer"
	TypeNewDataConsumer     = "new-data-consumer"
	TypeData                = "data"
	TypeActiveSpeakers      = "active-speakers-changed"
	TypeStatsUpdate         = "stats-update"
	TypeTransitionStarted   = "transition-started"
	TypeTransitionInfo      = "transition-info"
	TypeTransitionCompleted = "transition-completed"
	TypeTransitionFailed    = "transition-failed"
	TypeRestartICENeeded    = "restart-ice-needed"
	TypeMeetingEnded        = "meeting-ended"
)

// Request payloads.

type CreateMeetingRequest struct {
	MeetingID       registry.MeetingID `json:"meetingId,omitempty"`
	MaxParticipants int                `json:"maxParticipants,omitempty"`
	Encryption      bool               `json:"encryption,omitempty"`
}

type CreateMeetingResponse struct {
	MeetingID registry.MeetingID `json:"meetingId"`
}

type JoinRequest struct {
	MeetingID   registry.MeetingID `json:"meetingId"`
	DisplayName string             `json:"displayName"`
}

type EndRequest struct {
	Reason string `json:"reason,omitempty"`
}

type CreateTransportRequest struct {
	Direction mediaworker.TransportDirection `json:"direction"`
}

type ConnectTransportRequest struct {
	TransportID    mediaworker.TransportID `json:"transportId"`
	DTLSParameters webrtc.DTLSParameters   `json:"dtlsParameters"`
}

type ProduceRequest struct {
	Kind       mediaworker.MediaKind     `json:"kind"`
	Source     mediaworker.Source        `json:"source"`
	Parameters mediaworker.RTPParameters `json:"rtpParameters"`
	AppData    map[string]any            `json:"appData,omitempty"`
}

type ProducerRequest struct {
	ProducerID mediaworker.ProducerID `json:"producerId"`
}

type ConsumerRequest struct {
	ConsumerID mediaworker.ConsumerID `json:"consumerId"`
}

type ProduceDataRequest struct {
	Label   string         `json:"label"`
	AppData map[string]any `json:"appData,omitempty"`
}

type SendDataRequest struct {
	ProducerID mediaworker.ProducerID `json:"producerId"`
	Payload    []byte                 `json:"payload"`
}

type SetLayersRequest struct {
	ConsumerID    mediaworker.ConsumerID `json:"consumerId"`
	SpatialLayer  int                    `json:"spatialLayer"`
	TemporalLayer int                    `json:"temporalLayer"`
}

type SetPriorityRequest struct {
	ConsumerID mediaworker.ConsumerID `json:"consumerId"`
	Priority   int                    `json:"priority"`
}

type RestartICERequest struct {
	TransportID mediaworker.TransportID `json:"transportId"`
}

type ReportAudioLevelRequest struct {
	ProducerID mediaworker.ProducerID `json:"producerId"`
	VolumeDBFS float64                `json:"volumeDbfs"`
}

// Push payloads.

type PeerJoinedPush struct {
	PeerID      participant.ID `json:"peerId"`
	DisplayName string         `json:"displayName"`
}

type PeerLeftPush struct {
	PeerID participant.ID `json:"peerId"`
	Reason string         `json:"reason"`
}

type MediaStatePush struct {
	PeerID participant.ID         `json:"peerId"`
	State  participant.MediaState `json:"state"`
}

type NewProducerPush struct {
	PeerID     participant.ID         `json:"peerId"`
	ProducerID mediaworker.ProducerID `json:"producerId"`
	Kind       mediaworker.MediaKind  `json:"kind"`
	Source     mediaworker.Source     `json:"source"`
}

type NewDataProducerPush struct {
	PeerID     participant.ID         `json:"peerId"`
	ProducerID mediaworker.ProducerID `json:"producerId"`
	Label      string                 `json:"label"`
}

type DataPush struct {
	ProducerID mediaworker.ProducerID `json:"producerId"`
	Label      string                 `json:"label"`
	Payload    []byte                 `json:"payload"`
}

type ActiveSpeakersPush struct {
	PeerIDs []participant.ID `json:"peerIds"`
}

type StatsPush struct {
	Samples map[participant.ID]participant.Sample `json:"samples"`
}

type TransitionStartedPush struct {
	From   topology.Mode   `json:"from"`
	To     topology.Mode   `json:"to"`
	Reason topology.Reason `json:"reason"`
}

type TransitionInfoPush struct {
	Mode               topology.Mode           `json:"mode"`
	RouterCapabilities *webrtc.RTPCapabilities `json:"routerCapabilities,omitempty"`
	Peers              []participant.ID        `json:"peers,omitempty"`
}

type TransitionCompletedPush struct {
	Mode topology.Mode `json:"mode"`
}

type TransitionFailedPush struct {
	Reason topology.Reason `json:"reason"`
}

type RestartICEPush struct {
	Transports []mediaworker.TransportInfo `json:"transports"`
}

type MeetingEndedPush struct {
	Reason string `json:"reason"`
}

func mustMarshal(payload any) json.RawMessage {
	data, err := json.Marshal(payload)
	if err != nil {
		// Payloads are our own types; this cannot fail at runtime.
		panic(err)
	}
	return data
}

func push(frameType string, payload any) Frame {
	return Frame{Type: frameType, Data: mustMarshal(payload)}
}

// convertEvent maps a meeting event onto a wire push. The second return is
// the addressee; empty means broadcast to the whole meeting.
func convertEvent(event meeting.Event) (Frame, participant.ID, bool) {
	switch typed := event.(type) {
	case meeting.PeerJoined:
		return push(TypePeerJoined, PeerJoinedPush{PeerID: typed.Participant, DisplayName: typed.DisplayName}), "", true
	case meeting.PeerLeft:
		return push(TypePeerLeft, PeerLeftPush{PeerID: typed.Participant, Reason: typed.Reason}), "", true
	case meeting.MediaStateChanged:
		return push(TypeMediaStateChanged, MediaStatePush{PeerID: typed.Participant, State: typed.State}), "", true
	case meeting.SignalRelayed:
		// The relayed frame keeps the sender's kind as its type.
		return push(string(typed.Signal.Kind), typed.Signal), typed.To, true
	case meeting.NewProducer:
		return push(TypeNewProducer, NewProducerPush{
			PeerID:     typed.Owner,
			ProducerID: typed.ProducerID,
			Kind:       typed.Kind,
			Source:     typed.Source,
		}), "", true
	case meeting.NewConsumer:
		return push(TypeNewConsumer, typed.Info), typed.Info.ParticipantID, true
	case meeting.NewDataProducer:
		return push(TypeNewDataProducer, NewDataProducerPush{
			PeerID:     typed.Owner,
			ProducerID: typed.ProducerID,
			Label:      typed.Label,
		}), "", true
	case meeting.NewDataConsumer:
		return push(TypeNewDataConsumer, typed.Info), typed.Info.ParticipantID, true
	case meeting.DataDelivery:
		return push(TypeData, DataPush{ProducerID: typed.ProducerID, Label: typed.Label, Payload: typed.Payload}), typed.To, true
	case meeting.ActiveSpeakersChanged:
		return push(TypeActiveSpeakers, ActiveSpeakersPush{PeerIDs: typed.ParticipantIDs}), "", true
	case meeting.StatsUpdated:
		return push(TypeStatsUpdate, StatsPush{Samples: typed.Samples}), "", true
	case meeting.TransitionStarted:
		return push(TypeTransitionStarted, TransitionStartedPush{From: typed.From, To: typed.To, Reason: typed.Reason}), "", true
	case meeting.TransitionInfo:
		return push(TypeTransitionInfo, TransitionInfoPush{
			Mode:               typed.Mode,
			RouterCapabilities: typed.RouterCapabilities,
			Peers:              typed.Peers,
		}), typed.To, true
	case meeting.TransitionCompleted:
		return push(TypeTransitionCompleted, TransitionCompletedPush{Mode: typed.Mode}), "", true
	case meeting.TransitionFailed:
		return push(TypeTransitionFailed, TransitionFailedPush{Reason: typed.Reason}), "", true
	case meeting.RestartICENeeded:
		return push(TypeRestartICENeeded, RestartICEPush{Transports: typed.Transports}), typed.Participant, true
	case meeting.Ended:
		return push(TypeMeetingEnded, MeetingEndedPush{Reason: typed.Reason}), "", true
	default:
		return Frame{}, "", false
	}
}
