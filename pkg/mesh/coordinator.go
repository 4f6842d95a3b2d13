package mesh

import (
	"encoding/json"
	"errors"

	"github.com/confab-dev/confab/pkg/meeting/participant"
	"github.com/sirupsen/logrus"
)

// SignalKind of a relayed mesh message.
type SignalKind string

const (
	SignalOffer        SignalKind = "offer"
	SignalAnswer       SignalKind = "answer"
	SignalICECandidate SignalKind = "ice-candidate"
	// SignalConnectionRefresh asks the target to renegotiate from scratch,
	// typically after the sender recovered from a network change.
	SignalConnectionRefresh SignalKind = "request-connection-refresh"
)

// Signal is the envelope of one peer-to-peer signaling message. The payload
// (SDP body, candidate) is forwarded verbatim and never inspected.
type Signal struct {
	Kind    SignalKind      `json:"kind"`
	From    participant.ID  `json:"fromPeerId"`
	To      participant.ID  `json:"toPeerId"`
	Payload json.RawMessage `json:"payload"`
}

var (
	ErrSpoofedSender  = errors.New("fromPeerId does not match the authenticated participant")
	ErrUnknownPeer    = errors.New("toPeerId is not a participant of this meeting")
	ErrPeerSuspended  = errors.New("toPeerId has no live connection")
	ErrUnknownSignal  = errors.New("unsupported signal kind")
	ErrUnknownSampler = errors.New("quality report from unknown participant")
)

// Coordinator relays signaling between mesh peers and tracks the
// link-quality reports that drive topology decisions. Mesh mode stores no
// media state. Owned by the meeting actor.
type Coordinator struct {
	tracker *participant.Tracker
	logger  *logrus.Entry
}

func NewCoordinator(tracker *participant.Tracker, logger *logrus.Entry) *Coordinator {
	return &Coordinator{tracker: tracker, logger: logger}
}

// Relay validates the envelope against the caller's authenticated identity
// and the current peer set. The caller forwards the signal on success.
func (c *Coordinator) Relay(caller participant.ID, signal Signal) error {
	switch signal.Kind {
	case SignalOffer, SignalAnswer, SignalICECandidate, SignalConnectionRefresh:
	default:
		return ErrUnknownSignal
	}

	if signal.From != caller {
		c.logger.Warnf("rejected spoofed signal: claimed %s, authenticated %s", signal.From, caller)
		return ErrSpoofedSender
	}

	target := c.tracker.Get(signal.To)
	if target == nil {
		return ErrUnknownPeer
	}
	if target.Suspended {
		return ErrPeerSuspended
	}
	return nil
}

// RecordQuality appends the caller's sample and returns the meeting-wide
// average loss and round trip across all participants' windows.
func (c *Coordinator) RecordQuality(caller participant.ID, sample participant.Sample) (packetLossPct, roundTripMs float64, err error) {
	p := c.tracker.Get(caller)
	if p == nil {
		return 0, 0, ErrUnknownSampler
	}
	p.Quality.Append(sample)

	var count int
	c.tracker.ForEach(func(_ participant.ID, p *participant.Participant) {
		if p.Quality.Len() == 0 {
			return
		}
		loss, rtt := p.Quality.Averages()
		packetLossPct += loss
		roundTripMs += rtt
		count++
	})
	if count > 0 {
		packetLossPct /= float64(count)
		roundTripMs /= float64(count)
	}
	return packetLossPct, roundTripMs, nil
}

// Peers returns the ids a (re)connecting participant should dial, i.e.
// everyone but itself. Used in the mesh connection descriptor.
func (c *Coordinator) Peers(exclude participant.ID) []participant.ID {
	peers := make([]participant.ID, 0, c.tracker.Count())
	c.tracker.ForEach(func(id participant.ID, _ *participant.Participant) {
		if id != exclude {
			peers = append(peers, id)
		}
	})
	return peers
}
