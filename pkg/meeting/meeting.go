package meeting

import (
	"context"
	"sync"
	"time"

	"github.com/confab-dev/confab/pkg/common"
	"github.com/confab-dev/confab/pkg/mediaworker"
	"github.com/confab-dev/confab/pkg/meeting/participant"
	"github.com/confab-dev/confab/pkg/meeting/topology"
	"github.com/confab-dev/confab/pkg/mesh"
	"github.com/confab-dev/confab/pkg/registry"
	"github.com/confab-dev/confab/pkg/sfu"
	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
)

const (
	// Mailbox and event buffer sizes.
	requestBufferSize = 64
	eventBufferSize   = 256

	// Bound for registry I/O issued from the actor.
	registryTimeout = 2 * time.Second
)

// Config of one meeting.
type Config struct {
	// MaxParticipants caps the seat count, ghosts included.
	MaxParticipants int `yaml:"maxParticipants"`
	// Topology thresholds and timers.
	Topology topology.Config `yaml:"topology"`
	// GhostGrace is the reconnect window after a socket loss.
	GhostGrace time.Duration `yaml:"ghostGrace"`
	// EmptyLinger delays destruction of an emptied meeting. Zero destroys
	// immediately.
	EmptyLinger time.Duration `yaml:"emptyLinger"`
	// PrewarmIdleTimeout reclaims a pre-warmed router nobody used.
	PrewarmIdleTimeout time.Duration `yaml:"prewarmIdleTimeout"`
	// MaxDataPayloadBytes bounds data-channel payloads.
	MaxDataPayloadBytes int `yaml:"maxDataPayloadBytes"`
	// Encryption marks the meeting as end-to-end encrypted. The flag is
	// advertised to joiners; key exchange happens client-side.
	Encryption bool `yaml:"encryption"`
}

// Options are the per-meeting overrides accepted on creation.
type Options struct {
	MaxParticipants int  `json:"maxParticipants,omitempty"`
	Encryption      bool `json:"encryption,omitempty"`
}

// Apply folds the overrides into a node-level config.
func (o Options) Apply(config Config) Config {
	if o.MaxParticipants > 0 {
		config.MaxParticipants = o.MaxParticipants
	}
	if o.Encryption {
		config.Encryption = true
	}
	return config
}

func DefaultConfig() Config {
	return Config{
		MaxParticipants:     8,
		Topology:            topology.DefaultConfig(),
		GhostGrace:          15 * time.Second,
		PrewarmIdleTimeout:  60 * time.Second,
		MaxDataPayloadBytes: 8192,
	}
}

// Meeting is a single-writer actor: every mutation of the meeting's state
// happens on its run loop, fed by the requests mailbox. Public methods
// enqueue a request and wait for the reply.
type Meeting struct {
	id     registry.MeetingID
	host   participant.ID
	config Config
	logger *logrus.Entry
	pool   *mediaworker.Pool
	store  registry.Store

	requests chan request
	internal chan any
	events   chan Event
	ended    chan struct{}
	endOnce  sync.Once

	// Actor-owned state below. Only the run loop touches it.
	tracker     *participant.Tracker
	engine      *topology.Engine
	coordinator *mesh.Coordinator

	// Committed SFU router (nil in mesh mode) and the one being built
	// during a mesh->sfu migration.
	router        *sfu.Router
	pendingRouter *sfu.Router

	prewarmed    *mediaworker.Router
	prewarmGuard *common.Watchdog

	ghosts  map[participant.ID]*common.Watchdog
	sockets map[participant.ID]registry.SocketID

	transitionTimer *time.Timer
	emptyTimer      *time.Timer

	createdAt time.Time
}

type request struct {
	caller  participant.ID
	content any
	respond chan response
}

type response struct {
	payload any
	err     error
}

// New creates the meeting and starts its actor loop.
func New(
	id registry.MeetingID,
	host participant.ID,
	config Config,
	pool *mediaworker.Pool,
	store registry.Store,
	logger *logrus.Entry,
) *Meeting {
	m := &Meeting{
		id:        id,
		host:      host,
		config:    config,
		logger:    logger.WithField("meeting_id", id),
		pool:      pool,
		store:     store,
		requests:  make(chan request, requestBufferSize),
		internal:  make(chan any, requestBufferSize),
		events:    make(chan Event, eventBufferSize),
		ended:     make(chan struct{}),
		tracker:   participant.NewTracker(),
		ghosts:    make(map[participant.ID]*common.Watchdog),
		sockets:   make(map[participant.ID]registry.SocketID),
		createdAt: time.Now(),
	}
	m.engine = topology.NewEngine(config.Topology, m.logger)
	m.coordinator = mesh.NewCoordinator(m.tracker, m.logger)

	go m.run()
	return m
}

func (m *Meeting) ID() registry.MeetingID { return m.id }

func (m *Meeting) Host() participant.ID { return m.host }

// Events is the stream of lifecycle events. The owner must drain it.
func (m *Meeting) Events() <-chan Event { return m.events }

// Done is closed once the meeting has ended and its loop exited.
func (m *Meeting) Done() <-chan struct{} { return m.ended }

// PeerInfo is the externally visible state of one participant.
type PeerInfo struct {
	ID          participant.ID         `json:"id"`
	DisplayName string                 `json:"displayName"`
	JoinedAt    time.Time              `json:"joinedAt"`
	Host        bool                   `json:"host"`
	MediaState  participant.MediaState `json:"mediaState"`
	Suspended   bool                   `json:"suspended,omitempty"`
}

// JoinResult is returned to a joining (or resuming) participant.
type JoinResult struct {
	Mode               topology.Mode           `json:"mode"`
	Resumed            bool                    `json:"resumed"`
	Peers              []PeerInfo              `json:"peers"`
	RouterCapabilities *webrtc.RTPCapabilities `json:"routerCapabilities,omitempty"`
}

// Info is the snapshot served over REST.
type Info struct {
	ID              registry.MeetingID    `json:"id"`
	CreatedAt       time.Time             `json:"createdAt"`
	HostPeerID      participant.ID        `json:"hostPeerId"`
	Mode            topology.Mode         `json:"mode"`
	MaxParticipants int                   `json:"maxParticipants"`
	Encryption      bool                  `json:"encryption"`
	Participants    []PeerInfo            `json:"participants"`
	Transitions     []topology.Transition `json:"transitions"`
}

// ProduceResult pairs the new producer id with its effective encodings.
type ProduceResult struct {
	ProducerID mediaworker.ProducerID          `json:"producerId"`
	Encodings  []mediaworker.SimulcastEncoding `json:"encodings,omitempty"`
}

// Mailbox message contents, one type per operation.

type joinRequest struct {
	displayName string
	socket      registry.SocketID
}

type leaveRequest struct{}

type endRequest struct{ reason string }

type infoRequest struct{}

type mediaStateRequest struct{ state participant.MediaState }

type relayRequest struct{ signal mesh.Signal }

type qualityRequest struct{ sample participant.Sample }

type ackRequest struct{}

type socketLostRequest struct{}

type routerCapsRequest struct{}

type setCapsRequest struct{ capabilities webrtc.RTPCapabilities }

type createTransportRequest struct{ direction mediaworker.TransportDirection }

type connectTransportRequest struct {
	transport mediaworker.TransportID
	dtls      webrtc.DTLSParameters
}

type produceRequest struct {
	kind       mediaworker.MediaKind
	source     mediaworker.Source
	parameters mediaworker.RTPParameters
	appData    map[string]any
}

type closeProducerRequest struct{ producer mediaworker.ProducerID }

type consumeRequest struct{ producer mediaworker.ProducerID }

type produceDataRequest struct {
	label   string
	appData map[string]any
}

type consumeDataRequest struct{ producer mediaworker.ProducerID }

type sendDataRequest struct {
	producer mediaworker.ProducerID
	payload  []byte
}

type audioLevelRequest struct {
	producer   mediaworker.ProducerID
	volumeDBFS float64
}

type pauseProducerRequest struct{ producer mediaworker.ProducerID }

type resumeProducerRequest struct{ producer mediaworker.ProducerID }

type pauseConsumerRequest struct{ consumer mediaworker.ConsumerID }

type resumeConsumerRequest struct{ consumer mediaworker.ConsumerID }

type setLayersRequest struct {
	consumer mediaworker.ConsumerID
	spatial  int
	temporal int
}

type setPriorityRequest struct {
	consumer mediaworker.ConsumerID
	priority int
}

type restartICERequest struct{ transport mediaworker.TransportID }

type statsRequest struct{}

// Internal loop messages.

type ghostExpired struct{ id participant.ID }

type transitionTimedOut struct{}

type prewarmExpired struct{}

type emptyExpired struct{}

type workerDied struct {
	dead        *mediaworker.Worker
	replacement *mediaworker.Worker
}

// do enqueues one request and waits for the reply or the deadline.
func (m *Meeting) do(ctx context.Context, caller participant.ID, content any) (any, error) {
	respond := make(chan response, 1)

	select {
	case m.requests <- request{caller: caller, content: content, respond: respond}:
	case <-m.ended:
		return nil, NewError(CodeNotFound, "meeting has ended")
	case <-ctx.Done():
		return nil, NewError(CodeTransient, "request timed out")
	}

	select {
	case resp := <-respond:
		return resp.payload, resp.err
	case <-m.ended:
		return nil, NewError(CodeNotFound, "meeting has ended")
	case <-ctx.Done():
		return nil, NewError(CodeTransient, "request timed out")
	}
}

func (m *Meeting) Join(ctx context.Context, caller participant.ID, displayName string, socket registry.SocketID) (JoinResult, error) {
	payload, err := m.do(ctx, caller, joinRequest{displayName: displayName, socket: socket})
	if err != nil {
		return JoinResult{}, err
	}
	return payload.(JoinResult), nil
}

func (m *Meeting) Leave(ctx context.Context, caller participant.ID) error {
	_, err := m.do(ctx, caller, leaveRequest{})
	return err
}

func (m *Meeting) End(ctx context.Context, reason string) error {
	_, err := m.do(ctx, m.host, endRequest{reason: reason})
	return err
}

func (m *Meeting) Info(ctx context.Context) (Info, error) {
	payload, err := m.do(ctx, "", infoRequest{})
	if err != nil {
		return Info{}, err
	}
	return payload.(Info), nil
}

func (m *Meeting) SetMediaState(ctx context.Context, caller participant.ID, state participant.MediaState) error {
	_, err := m.do(ctx, caller, mediaStateRequest{state: state})
	return err
}

func (m *Meeting) RelaySignal(ctx context.Context, caller participant.ID, signal mesh.Signal) error {
	_, err := m.do(ctx, caller, relayRequest{signal: signal})
	return err
}

func (m *Meeting) UpdateQuality(ctx context.Context, caller participant.ID, sample participant.Sample) error {
	_, err := m.do(ctx, caller, qualityRequest{sample: sample})
	return err
}

func (m *Meeting) AcknowledgeTransition(ctx context.Context, caller participant.ID) error {
	_, err := m.do(ctx, caller, ackRequest{})
	return err
}

func (m *Meeting) SocketLost(ctx context.Context, caller participant.ID) error {
	_, err := m.do(ctx, caller, socketLostRequest{})
	return err
}

func (m *Meeting) RouterCapabilities(ctx context.Context, caller participant.ID) (webrtc.RTPCapabilities, error) {
	payload, err := m.do(ctx, caller, routerCapsRequest{})
	if err != nil {
		return webrtc.RTPCapabilities{}, err
	}
	return payload.(webrtc.RTPCapabilities), nil
}

func (m *Meeting) SetRTPCapabilities(ctx context.Context, caller participant.ID, capabilities webrtc.RTPCapabilities) error {
	_, err := m.do(ctx, caller, setCapsRequest{capabilities: capabilities})
	return err
}

func (m *Meeting) CreateTransport(ctx context.Context, caller participant.ID, direction mediaworker.TransportDirection) (mediaworker.TransportInfo, error) {
	payload, err := m.do(ctx, caller, createTransportRequest{direction: direction})
	if err != nil {
		return mediaworker.TransportInfo{}, err
	}
	return payload.(mediaworker.TransportInfo), nil
}

func (m *Meeting) ConnectTransport(ctx context.Context, caller participant.ID, transport mediaworker.TransportID, dtls webrtc.DTLSParameters) error {
	_, err := m.do(ctx, caller, connectTransportRequest{transport: transport, dtls: dtls})
	return err
}

func (m *Meeting) Produce(
	ctx context.Context,
	caller participant.ID,
	kind mediaworker.MediaKind,
	source mediaworker.Source,
	parameters mediaworker.RTPParameters,
	appData map[string]any,
) (ProduceResult, error) {
	payload, err := m.do(ctx, caller, produceRequest{kind: kind, source: source, parameters: parameters, appData: appData})
	if err != nil {
		return ProduceResult{}, err
	}
	return payload.(ProduceResult), nil
}

func (m *Meeting) CloseProducer(ctx context.Context, caller participant.ID, producer mediaworker.ProducerID) error {
	_, err := m.do(ctx, caller, closeProducerRequest{producer: producer})
	return err
}

func (m *Meeting) Consume(ctx context.Context, caller participant.ID, producer mediaworker.ProducerID) (sfu.ConsumerInfo, error) {
	payload, err := m.do(ctx, caller, consumeRequest{producer: producer})
	if err != nil {
		return sfu.ConsumerInfo{}, err
	}
	return payload.(sfu.ConsumerInfo), nil
}

func (m *Meeting) ProduceData(ctx context.Context, caller participant.ID, label string, appData map[string]any) (mediaworker.ProducerID, error) {
	payload, err := m.do(ctx, caller, produceDataRequest{label: label, appData: appData})
	if err != nil {
		return "", err
	}
	return payload.(mediaworker.ProducerID), nil
}

func (m *Meeting) ConsumeData(ctx context.Context, caller participant.ID, producer mediaworker.ProducerID) (sfu.DataConsumerInfo, error) {
	payload, err := m.do(ctx, caller, consumeDataRequest{producer: producer})
	if err != nil {
		return sfu.DataConsumerInfo{}, err
	}
	return payload.(sfu.DataConsumerInfo), nil
}

func (m *Meeting) SendData(ctx context.Context, caller participant.ID, producer mediaworker.ProducerID, payload []byte) error {
	_, err := m.do(ctx, caller, sendDataRequest{producer: producer, payload: payload})
	return err
}

// ReportAudioLevel feeds a client-reported microphone level (dBFS) into the
// active speaker detection.
func (m *Meeting) ReportAudioLevel(ctx context.Context, caller participant.ID, producer mediaworker.ProducerID, volumeDBFS float64) error {
	_, err := m.do(ctx, caller, audioLevelRequest{producer: producer, volumeDBFS: volumeDBFS})
	return err
}

func (m *Meeting) PauseProducer(ctx context.Context, caller participant.ID, producer mediaworker.ProducerID) error {
	_, err := m.do(ctx, caller, pauseProducerRequest{producer: producer})
	return err
}

func (m *Meeting) ResumeProducer(ctx context.Context, caller participant.ID, producer mediaworker.ProducerID) error {
	_, err := m.do(ctx, caller, resumeProducerRequest{producer: producer})
	return err
}

func (m *Meeting) PauseConsumer(ctx context.Context, caller participant.ID, consumer mediaworker.ConsumerID) error {
	_, err := m.do(ctx, caller, pauseConsumerRequest{consumer: consumer})
	return err
}

func (m *Meeting) ResumeConsumer(ctx context.Context, caller participant.ID, consumer mediaworker.ConsumerID) error {
	_, err := m.do(ctx, caller, resumeConsumerRequest{consumer: consumer})
	return err
}

func (m *Meeting) SetPreferredLayers(ctx context.Context, caller participant.ID, consumer mediaworker.ConsumerID, spatial, temporal int) error {
	_, err := m.do(ctx, caller, setLayersRequest{consumer: consumer, spatial: spatial, temporal: temporal})
	return err
}

func (m *Meeting) SetPriority(ctx context.Context, caller participant.ID, consumer mediaworker.ConsumerID, priority int) error {
	_, err := m.do(ctx, caller, setPriorityRequest{consumer: consumer, priority: priority})
	return err
}

func (m *Meeting) RestartICE(ctx context.Context, caller participant.ID, transport mediaworker.TransportID) (webrtc.ICEParameters, error) {
	payload, err := m.do(ctx, caller, restartICERequest{transport: transport})
	if err != nil {
		return webrtc.ICEParameters{}, err
	}
	return payload.(webrtc.ICEParameters), nil
}

func (m *Meeting) Stats(ctx context.Context, caller participant.ID) (participant.Sample, error) {
	payload, err := m.do(ctx, caller, statsRequest{})
	if err != nil {
		return participant.Sample{}, err
	}
	return payload.(participant.Sample), nil
}

// NotifyWorkerDeath is called by the dispatcher when the pool replaced a
// dead worker, so the meeting can re-allocate if it was affected.
func (m *Meeting) NotifyWorkerDeath(dead, replacement *mediaworker.Worker) {
	m.postInternal(workerDied{dead: dead, replacement: replacement})
}

func (m *Meeting) postInternal(message any) {
	select {
	case m.internal <- message:
	case <-m.ended:
	}
}
