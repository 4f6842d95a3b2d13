package participant

import (
	"time"

	"github.com/confab-dev/confab/pkg/mediaworker"
	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
)

// ID of a participant, unique within a meeting. This is the authenticated
// identity returned by the auth service, never a client-chosen value.
type ID string

// MediaState reflects which of the participant's local media are live.
type MediaState struct {
	Audio  bool `json:"audio"`
	Video  bool `json:"video"`
	Screen bool `json:"screen"`
}

// Participant represents one member of a meeting. All fields are owned by
// the meeting actor; nothing here needs locking.
type Participant struct {
	ID          ID
	DisplayName string
	JoinedAt    time.Time
	Host        bool

	MediaState MediaState

	// RTP capabilities, populated on the first SFU interaction. A participant
	// without capabilities cannot consume.
	RTPCapabilities *webrtc.RTPCapabilities

	// Per-direction transports, present in SFU mode only.
	SendTransport *mediaworker.Transport
	RecvTransport *mediaworker.Transport

	Producers     map[mediaworker.ProducerID]*mediaworker.Producer
	Consumers     map[mediaworker.ConsumerID]*mediaworker.Consumer
	DataProducers map[mediaworker.ProducerID]*mediaworker.DataProducer
	DataConsumers map[mediaworker.ConsumerID]*mediaworker.DataConsumer

	// Sliding window of link-quality samples reported by the client.
	Quality *QualityWindow

	// Set while the participant's socket is gone but the ghost-grace window
	// has not elapsed. Producers and consumers are retained so a reconnect
	// can resume.
	Suspended bool

	Logger *logrus.Entry
}

// New creates a participant with empty media state.
func New(id ID, displayName string, host bool, logger *logrus.Entry) *Participant {
	return &Participant{
		ID:            id,
		DisplayName:   displayName,
		JoinedAt:      time.Now(),
		Host:          host,
		Producers:     make(map[mediaworker.ProducerID]*mediaworker.Producer),
		Consumers:     make(map[mediaworker.ConsumerID]*mediaworker.Consumer),
		DataProducers: make(map[mediaworker.ProducerID]*mediaworker.DataProducer),
		DataConsumers: make(map[mediaworker.ConsumerID]*mediaworker.DataConsumer),
		Quality:       NewQualityWindow(DefaultWindowSize),
		Logger:        logger.WithField("participant_id", id),
	}
}

// HasLiveAudio reports whether the participant owns an unpaused audio producer.
func (p *Participant) HasLiveAudio() bool {
	for _, producer := range p.Producers {
		if producer.Kind() == mediaworker.KindAudio && !producer.Paused() {
			return true
		}
	}
	return false
}

// CloseMedia tears down every media handle the participant owns. Called on
// leave and when the meeting migrates away from SFU mode.
func (p *Participant) CloseMedia() {
	for _, consumer := range p.Consumers {
		consumer.Close()
	}
	for _, producer := range p.Producers {
		producer.Close()
	}
	for _, dc := range p.DataConsumers {
		dc.Close()
	}
	for _, dp := range p.DataProducers {
		dp.Close()
	}
	p.Consumers = make(map[mediaworker.ConsumerID]*mediaworker.Consumer)
	p.Producers = make(map[mediaworker.ProducerID]*mediaworker.Producer)
	p.DataConsumers = make(map[mediaworker.ConsumerID]*mediaworker.DataConsumer)
	p.DataProducers = make(map[mediaworker.ProducerID]*mediaworker.DataProducer)

	if p.SendTransport != nil {
		p.SendTransport.Close()
		p.SendTransport = nil
	}
	if p.RecvTransport != nil {
		p.RecvTransport.Close()
		p.RecvTransport = nil
	}
}
