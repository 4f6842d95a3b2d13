package sfu

import (
	"errors"
	"sync"
	"time"

	"github.com/confab-dev/confab/pkg/common"
	"github.com/confab-dev/confab/pkg/mediaworker"
	"github.com/confab-dev/confab/pkg/meeting/participant"
	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

const (
	// Speaker set updates are rate limited on top of the observer interval.
	speakerEmitInterval = 200 * time.Millisecond
	// How often participant stats are aggregated.
	statsInterval = 5 * time.Second
	// Smoothed consumer scores outside this band adapt the preferred layers.
	scoreStepDown = 5
	scoreStepUp   = 8
)

var (
	ErrSelfConsumption = errors.New("cannot consume own producer")
	ErrNoCapabilities  = errors.New("participant has not registered rtp capabilities")
	ErrNoSendTransport = errors.New("participant has no send transport")
	ErrNoRecvTransport = errors.New("participant has no receive transport")
)

// DefaultEncodings are the simulcast layers a video producer gets when the
// client did not specify any.
func DefaultEncodings(source mediaworker.Source) []mediaworker.SimulcastEncoding {
	if source == mediaworker.SourceScreen {
		return []mediaworker.SimulcastEncoding{
			{MaxBitrate: 1_500_000, ScaleResolutionDownBy: 1, MaxFramerate: 30},
		}
	}
	return []mediaworker.SimulcastEncoding{
		{MaxBitrate: 100_000, ScaleResolutionDownBy: 4},
		{MaxBitrate: 300_000, ScaleResolutionDownBy: 2},
		{MaxBitrate: 900_000, ScaleResolutionDownBy: 1},
	}
}

type Config struct {
	MaxDataPayloadBytes int
}

// Router is the per-meeting SFU control plane. It owns the producer and
// consumer graph on top of a media worker router: autowiring, simulcast
// defaults, layer adaptation, active speakers and stats aggregation.
//
// All methods are called from the meeting actor. The background loop only
// touches the owner index, which has its own lock.
type Router struct {
	logger  *logrus.Entry
	config  Config
	media   *mediaworker.Router
	tracker *participant.Tracker

	ownersMutex sync.Mutex
	owners      map[mediaworker.ProducerID]participant.ID

	// Data deliveries arrive on a shared mailbox through per-consumer sinks,
	// so every payload carries the identity of its receiving participant.
	dataMailbox chan common.Message[participant.ID, dataDelivery]
	sinksMutex  sync.Mutex
	dataSinks   map[mediaworker.ConsumerID]*common.SinkWithSender[participant.ID, dataDelivery]

	eventsIn  common.Sender[Event]
	eventsOut common.Receiver[Event]
	keyframes *common.Worker[mediaworker.ProducerID]
	done      chan struct{}
	closeOnce sync.Once
}

// dataDelivery is one payload on its way from a data producer to one
// consuming participant.
type dataDelivery struct {
	producerID mediaworker.ProducerID
	label      string
	payload    []byte
}

func NewRouter(
	media *mediaworker.Router,
	tracker *participant.Tracker,
	config Config,
	logger *logrus.Entry,
) *Router {
	sender, receiver := common.NewChannel[Event]()
	router := &Router{
		logger:      logger.WithField("router_id", media.ID()),
		config:      config,
		media:       media,
		tracker:     tracker,
		owners:      make(map[mediaworker.ProducerID]participant.ID),
		dataMailbox: make(chan common.Message[participant.ID, dataDelivery], common.UnboundedChannelSize),
		dataSinks:   make(map[mediaworker.ConsumerID]*common.SinkWithSender[participant.ID, dataDelivery]),
		eventsIn:    sender,
		eventsOut:   receiver,
		done:        make(chan struct{}),
	}
	router.keyframes = common.StartWorker(common.WorkerConfig[mediaworker.ProducerID]{
		ChannelSize: 32,
		Timeout:     time.Hour,
		OnTimeout:   func() {},
		OnTask:      router.requestKeyFrame,
	})
	go router.run()
	return router
}

// Events is drained by the meeting actor.
func (r *Router) Events() <-chan Event { return r.eventsOut.Channel }

// Media exposes the underlying worker router.
func (r *Router) Media() *mediaworker.Router { return r.media }

func (r *Router) RTPCapabilities() webrtc.RTPCapabilities {
	return r.media.RTPCapabilities()
}

func (r *Router) run() {
	observer := r.media.AudioLevelObserver()
	statsTicker := time.NewTicker(statsInterval)
	defer statsTicker.Stop()

	var lastSpeakers []participant.ID
	var lastEmit time.Time

	for {
		select {
		case <-r.done:
			return
		case event := <-observer.Events():
			speakers := r.mapSpeakers(event)
			if slices.Equal(speakers, lastSpeakers) {
				continue
			}
			if time.Since(lastEmit) < speakerEmitInterval {
				continue
			}
			lastSpeakers = speakers
			lastEmit = time.Now()
			r.emit(SpeakersChangedEvent{ParticipantIDs: speakers})
		case delivery := <-r.dataMailbox:
			r.emit(DataEvent{
				ParticipantID: delivery.Sender,
				ProducerID:    delivery.Content.producerID,
				Label:         delivery.Content.label,
				Payload:       delivery.Content.payload,
			})
		case <-statsTicker.C:
			r.emit(StatsTickEvent{})
		}
	}
}

// requestKeyFrame runs on the keyframe worker so that PLI generation never
// stalls the caller. Consumers that join or switch layers mid-stream cannot
// decode until the sender produces a fresh keyframe.
func (r *Router) requestKeyFrame(id mediaworker.ProducerID) {
	producer, err := r.media.Producer(id)
	if err != nil {
		return
	}
	if producer.Kind() != mediaworker.KindVideo {
		return
	}
	if payload := producer.RequestKeyFrame(); payload == nil {
		r.logger.Debugf("keyframe request for %s rate limited", id)
	}
}

func (r *Router) askKeyFrame(id mediaworker.ProducerID) {
	if err := r.keyframes.Send(id); err != nil {
		r.logger.WithError(err).Warnf("cannot request keyframe for %s", id)
	}
}

func (r *Router) mapSpeakers(event mediaworker.AudioLevelEvent) []participant.ID {
	r.ownersMutex.Lock()
	defer r.ownersMutex.Unlock()

	ids := make([]participant.ID, 0, len(event.Speakers))
	for _, speaker := range event.Speakers {
		if owner, ok := r.owners[speaker.ProducerID]; ok {
			ids = append(ids, owner)
		}
	}
	return ids
}

func (r *Router) emit(event Event) {
	if r.eventsIn.TrySend(event) != nil {
		r.logger.Warn("event channel full, dropping router event")
	}
}

func (r *Router) registerOwner(id mediaworker.ProducerID, owner participant.ID) {
	r.ownersMutex.Lock()
	defer r.ownersMutex.Unlock()
	r.owners[id] = owner
}

func (r *Router) forgetOwner(id mediaworker.ProducerID) {
	r.ownersMutex.Lock()
	defer r.ownersMutex.Unlock()
	delete(r.owners, id)
}

func (r *Router) ownerOf(id mediaworker.ProducerID) (participant.ID, bool) {
	r.ownersMutex.Lock()
	defer r.ownersMutex.Unlock()
	owner, ok := r.owners[id]
	return owner, ok
}

// CreateTransport allocates a transport for the participant, replacing any
// previous one in the same direction.
func (r *Router) CreateTransport(p *participant.Participant, direction mediaworker.TransportDirection) (mediaworker.TransportInfo, error) {
	transport, err := r.media.CreateWebRtcTransport(direction)
	if err != nil {
		return mediaworker.TransportInfo{}, err
	}

	if direction == mediaworker.DirectionSend {
		if p.SendTransport != nil {
			p.SendTransport.Close()
		}
		p.SendTransport = transport
	} else {
		if p.RecvTransport != nil {
			p.RecvTransport.Close()
		}
		p.RecvTransport = transport
	}
	return transport.Info(), nil
}

func (r *Router) transportByID(p *participant.Participant, id mediaworker.TransportID) (*mediaworker.Transport, error) {
	if p.SendTransport != nil && p.SendTransport.ID() == id {
		return p.SendTransport, nil
	}
	if p.RecvTransport != nil && p.RecvTransport.ID() == id {
		return p.RecvTransport, nil
	}
	return nil, mediaworker.ErrTransportNotFound
}

func (r *Router) ConnectTransport(p *participant.Participant, id mediaworker.TransportID, dtls webrtc.DTLSParameters) error {
	transport, err := r.transportByID(p, id)
	if err != nil {
		return err
	}
	return transport.Connect(dtls)
}

func (r *Router) RestartICE(p *participant.Participant, id mediaworker.TransportID) (webrtc.ICEParameters, error) {
	transport, err := r.transportByID(p, id)
	if err != nil {
		return webrtc.ICEParameters{}, err
	}
	return transport.RestartICE()
}

// SetRTPCapabilities stores the participant's capabilities and wires
// consumers for every producer already present in the meeting.
func (r *Router) SetRTPCapabilities(p *participant.Participant, capabilities webrtc.RTPCapabilities) ([]ConsumerInfo, []DataConsumerInfo) {
	p.RTPCapabilities = &capabilities
	return r.wireExistingProducers(p)
}

func (r *Router) wireExistingProducers(p *participant.Participant) (wired []ConsumerInfo, wiredData []DataConsumerInfo) {
	if p.RecvTransport == nil || p.RTPCapabilities == nil {
		return nil, nil
	}

	r.tracker.ForEach(func(otherID participant.ID, other *participant.Participant) {
		if otherID == p.ID {
			return
		}
		for _, producer := range other.Producers {
			if r.consumes(p, producer.ID()) {
				continue
			}
			info, err := r.wireConsumer(p, otherID, producer)
			if err != nil {
				p.Logger.WithError(err).Warnf("cannot autowire consumer for producer %s", producer.ID())
				continue
			}
			wired = append(wired, info)
		}
		for _, dataProducer := range other.DataProducers {
			if r.consumesData(p, dataProducer.ID()) {
				continue
			}
			info, err := r.wireDataConsumer(p, otherID, dataProducer)
			if err != nil {
				p.Logger.WithError(err).Warnf("cannot autowire data consumer for producer %s", dataProducer.ID())
				continue
			}
			wiredData = append(wiredData, info)
		}
	})
	return wired, wiredData
}

func (r *Router) consumes(p *participant.Participant, producerID mediaworker.ProducerID) bool {
	for _, consumer := range p.Consumers {
		if consumer.ProducerID() == producerID {
			return true
		}
	}
	return false
}

func (r *Router) consumesData(p *participant.Participant, producerID mediaworker.ProducerID) bool {
	for _, consumer := range p.DataConsumers {
		if consumer.ProducerID() == producerID {
			return true
		}
	}
	return false
}

// Produce creates a producer on the participant's send transport and
// autowires consumers for everyone else who can receive it.
func (r *Router) Produce(
	p *participant.Participant,
	kind mediaworker.MediaKind,
	source mediaworker.Source,
	parameters mediaworker.RTPParameters,
	appData map[string]any,
) (*mediaworker.Producer, []ConsumerInfo, error) {
	if p.SendTransport == nil {
		return nil, nil, ErrNoSendTransport
	}
	if kind == mediaworker.KindVideo {
		parameters.Encodings = fillEncodingDefaults(source, parameters.Encodings)
	}

	producer, err := p.SendTransport.Produce(kind, source, parameters, appData)
	if err != nil {
		return nil, nil, err
	}
	p.Producers[producer.ID()] = producer
	r.registerOwner(producer.ID(), p.ID)

	// Clients ship their microphone level along with the produce call, so
	// the speaker detection starts without waiting for the first report.
	if kind == mediaworker.KindAudio {
		if level, ok := audioLevelFrom(appData); ok {
			producer.ReportAudioLevel(level)
		}
	}

	var wired []ConsumerInfo
	r.tracker.ForEach(func(otherID participant.ID, other *participant.Participant) {
		if otherID == p.ID || other.RecvTransport == nil || other.RTPCapabilities == nil {
			return
		}
		info, err := r.wireConsumer(other, p.ID, producer)
		if err != nil {
			other.Logger.WithError(err).Warnf("cannot autowire consumer for producer %s", producer.ID())
			return
		}
		wired = append(wired, info)
	})
	return producer, wired, nil
}

// audioLevelFrom extracts the client-reported level (dBFS) from a producer's
// appData. JSON numbers arrive as float64.
func audioLevelFrom(appData map[string]any) (float64, bool) {
	switch level := appData["audioLevel"].(type) {
	case float64:
		return level, true
	case int:
		return float64(level), true
	default:
		return 0, false
	}
}

// ReportAudioLevel feeds an ongoing level report into the observer, keeping
// the speaker set fresh between produce calls.
func (r *Router) ReportAudioLevel(p *participant.Participant, id mediaworker.ProducerID, volumeDBFS float64) error {
	producer, ok := p.Producers[id]
	if !ok {
		return mediaworker.ErrProducerNotFound
	}
	producer.ReportAudioLevel(volumeDBFS)
	return nil
}

// ScoreConsumers folds a client-reported quality sample into the delivery
// score of every consumer the participant holds. Sustained poor reports step
// their simulcast layers down through the score watcher.
func (r *Router) ScoreConsumers(p *participant.Participant, sample participant.Sample) {
	score := deliveryScore(sample)
	for _, consumer := range p.Consumers {
		consumer.UpdateScore(score)
	}
}

// deliveryScore maps a quality sample onto the [0..10] consumer score scale.
func deliveryScore(sample participant.Sample) float64 {
	score := 10 - sample.PacketLossPct - sample.RoundTripMs/100
	if score < 0 {
		return 0
	}
	if score > 10 {
		return 10
	}
	return score
}

// fillEncodingDefaults substitutes source-appropriate defaults for missing
// encodings or missing max bitrates.
func fillEncodingDefaults(source mediaworker.Source, encodings []mediaworker.SimulcastEncoding) []mediaworker.SimulcastEncoding {
	defaults := DefaultEncodings(source)
	if len(encodings) == 0 {
		return defaults
	}

	for i := range encodings {
		if encodings[i].MaxBitrate == 0 && i < len(defaults) {
			encodings[i].MaxBitrate = defaults[i].MaxBitrate
		}
	}
	return encodings
}

// Consume wires a consumer for the given producer on the participant's
// receive transport.
func (r *Router) Consume(p *participant.Participant, producerID mediaworker.ProducerID) (ConsumerInfo, error) {
	if p.RecvTransport == nil {
		return ConsumerInfo{}, ErrNoRecvTransport
	}
	if p.RTPCapabilities == nil {
		return ConsumerInfo{}, ErrNoCapabilities
	}

	owner, ok := r.ownerOf(producerID)
	if !ok {
		return ConsumerInfo{}, mediaworker.ErrProducerNotFound
	}
	if owner == p.ID {
		return ConsumerInfo{}, ErrSelfConsumption
	}

	producer, err := r.media.Producer(producerID)
	if err != nil {
		return ConsumerInfo{}, err
	}
	return r.wireConsumer(p, owner, producer)
}

func (r *Router) wireConsumer(p *participant.Participant, owner participant.ID, producer *mediaworker.Producer) (ConsumerInfo, error) {
	consumer, err := p.RecvTransport.Consume(producer.ID(), *p.RTPCapabilities)
	if err != nil {
		return ConsumerInfo{}, err
	}

	p.Consumers[consumer.ID()] = consumer
	r.watchScore(consumer)

	// The new consumer starts mid-stream and needs a keyframe to decode.
	if producer.Kind() == mediaworker.KindVideo {
		r.askKeyFrame(producer.ID())
	}

	return ConsumerInfo{
		ParticipantID: p.ID,
		ConsumerID:    consumer.ID(),
		ProducerID:    producer.ID(),
		ProducerOwner: owner,
		Kind:          producer.Kind(),
		Source:        producer.Source(),
	}, nil
}

// watchScore adapts the consumer's preferred layers from its smoothed
// delivery score.
func (r *Router) watchScore(consumer *mediaworker.Consumer) {
	consumer.OnScore(func(score float64) {
		spatial, temporal := consumer.PreferredLayers()
		switch {
		case score < scoreStepDown && spatial > 0:
			if temporal > 0 {
				temporal--
			}
			if consumer.SetPreferredLayers(spatial-1, temporal) == nil {
				r.askKeyFrame(consumer.ProducerID())
			}
		case score > scoreStepUp && spatial < consumer.MaxSpatialLayer():
			if temporal < 2 {
				temporal++
			}
			if consumer.SetPreferredLayers(spatial+1, temporal) == nil {
				r.askKeyFrame(consumer.ProducerID())
			}
		}
	})
}

// CloseProducer closes one of the participant's producers. Consumers of the
// producer are closed by the media router and pruned here.
func (r *Router) CloseProducer(p *participant.Participant, producerID mediaworker.ProducerID) error {
	producer, ok := p.Producers[producerID]
	if !ok {
		return mediaworker.ErrProducerNotFound
	}

	producer.Close()
	delete(p.Producers, producerID)
	r.forgetOwner(producerID)
	r.pruneClosedConsumers()
	return nil
}

func (r *Router) pruneClosedConsumers() {
	r.tracker.ForEach(func(_ participant.ID, other *participant.Participant) {
		for id, consumer := range other.Consumers {
			if consumer.Closed() {
				delete(other.Consumers, id)
			}
		}
	})
}

func (r *Router) PauseProducer(p *participant.Participant, id mediaworker.ProducerID) error {
	producer, ok := p.Producers[id]
	if !ok {
		return mediaworker.ErrProducerNotFound
	}
	producer.Pause()
	return nil
}

func (r *Router) ResumeProducer(p *participant.Participant, id mediaworker.ProducerID) error {
	producer, ok := p.Producers[id]
	if !ok {
		return mediaworker.ErrProducerNotFound
	}
	producer.Resume()
	return nil
}

func (r *Router) PauseConsumer(p *participant.Participant, id mediaworker.ConsumerID) error {
	consumer, ok := p.Consumers[id]
	if !ok {
		return mediaworker.ErrConsumerNotFound
	}
	consumer.Pause()
	return nil
}

func (r *Router) ResumeConsumer(p *participant.Participant, id mediaworker.ConsumerID) error {
	consumer, ok := p.Consumers[id]
	if !ok {
		return mediaworker.ErrConsumerNotFound
	}
	consumer.Resume()
	return nil
}

func (r *Router) SetPreferredLayers(p *participant.Participant, id mediaworker.ConsumerID, spatial, temporal int) error {
	consumer, ok := p.Consumers[id]
	if !ok {
		return mediaworker.ErrConsumerNotFound
	}
	if err := consumer.SetPreferredLayers(spatial, temporal); err != nil {
		return err
	}
	r.askKeyFrame(consumer.ProducerID())
	return nil
}

func (r *Router) SetPriority(p *participant.Participant, id mediaworker.ConsumerID, priority int) error {
	consumer, ok := p.Consumers[id]
	if !ok {
		return mediaworker.ErrConsumerNotFound
	}
	consumer.SetPriority(priority)
	return nil
}

// ProduceData creates a data producer and fans it out to every other
// participant with a receive transport.
func (r *Router) ProduceData(p *participant.Participant, label string, appData map[string]any) (*mediaworker.DataProducer, []DataConsumerInfo, error) {
	if p.SendTransport == nil {
		return nil, nil, ErrNoSendTransport
	}

	dataProducer, err := p.SendTransport.ProduceData(label, r.config.MaxDataPayloadBytes, appData)
	if err != nil {
		return nil, nil, err
	}
	p.DataProducers[dataProducer.ID()] = dataProducer
	r.registerOwner(dataProducer.ID(), p.ID)

	var wired []DataConsumerInfo
	r.tracker.ForEach(func(otherID participant.ID, other *participant.Participant) {
		if otherID == p.ID || other.RecvTransport == nil {
			return
		}
		info, err := r.wireDataConsumer(other, p.ID, dataProducer)
		if err != nil {
			other.Logger.WithError(err).Warnf("cannot autowire data consumer for producer %s", dataProducer.ID())
			return
		}
		wired = append(wired, info)
	})
	return dataProducer, wired, nil
}

// ConsumeData wires a data consumer for the given data producer.
func (r *Router) ConsumeData(p *participant.Participant, producerID mediaworker.ProducerID) (DataConsumerInfo, error) {
	if p.RecvTransport == nil {
		return DataConsumerInfo{}, ErrNoRecvTransport
	}

	owner, ok := r.ownerOf(producerID)
	if !ok {
		return DataConsumerInfo{}, mediaworker.ErrProducerNotFound
	}
	if owner == p.ID {
		return DataConsumerInfo{}, ErrSelfConsumption
	}

	source := r.tracker.Get(owner)
	if source == nil {
		return DataConsumerInfo{}, mediaworker.ErrProducerNotFound
	}
	dataProducer, ok := source.DataProducers[producerID]
	if !ok {
		return DataConsumerInfo{}, mediaworker.ErrProducerNotFound
	}
	return r.wireDataConsumer(p, owner, dataProducer)
}

func (r *Router) wireDataConsumer(p *participant.Participant, owner participant.ID, dataProducer *mediaworker.DataProducer) (DataConsumerInfo, error) {
	dataConsumer, err := p.RecvTransport.ConsumeData(dataProducer)
	if err != nil {
		return DataConsumerInfo{}, err
	}

	p.DataConsumers[dataConsumer.ID()] = dataConsumer

	// The sink pins the receiving participant's identity: whatever this
	// consumer delivers arrives on the mailbox attributed to them.
	sink := common.NewSink(p.ID, r.dataMailbox)
	r.sinksMutex.Lock()
	r.dataSinks[dataConsumer.ID()] = sink
	r.sinksMutex.Unlock()

	dataConsumer.OnMessage(func(payload []byte) {
		err := sink.Send(dataDelivery{
			producerID: dataProducer.ID(),
			label:      dataProducer.Label(),
			payload:    payload,
		})
		if err != nil {
			r.logger.WithError(err).Debugf("dropping data delivery for %s", dataConsumer.ID())
		}
	})

	return DataConsumerInfo{
		ParticipantID: p.ID,
		ConsumerID:    dataConsumer.ID(),
		ProducerID:    dataProducer.ID(),
		ProducerOwner: owner,
		Label:         dataProducer.Label(),
	}, nil
}

// SendData fans a payload out through one of the participant's data producers.
func (r *Router) SendData(p *participant.Participant, producerID mediaworker.ProducerID, payload []byte) error {
	dataProducer, ok := p.DataProducers[producerID]
	if !ok {
		return mediaworker.ErrProducerNotFound
	}
	return dataProducer.Send(payload)
}

// CollectStats aggregates transport stats into one sample per participant
// and appends each to the participant's quality window.
func (r *Router) CollectStats() map[participant.ID]participant.Sample {
	now := time.Now()
	samples := make(map[participant.ID]participant.Sample)

	r.tracker.ForEach(func(id participant.ID, p *participant.Participant) {
		var total mediaworker.Stats
		var count int
		for _, transport := range []*mediaworker.Transport{p.SendTransport, p.RecvTransport} {
			if transport == nil {
				continue
			}
			stats := transport.Stats()
			total.BitrateBps += stats.BitrateBps
			total.PacketLossPct += stats.PacketLossPct
			total.JitterMs += stats.JitterMs
			total.RoundTripMs += stats.RoundTripMs
			count++
		}
		if count == 0 {
			return
		}

		sample := participant.Sample{
			BitrateBps:    total.BitrateBps,
			PacketLossPct: total.PacketLossPct / float64(count),
			JitterMs:      total.JitterMs / float64(count),
			RoundTripMs:   total.RoundTripMs / float64(count),
			Timestamp:     now,
		}
		p.Quality.Append(sample)
		samples[id] = sample
	})
	return samples
}

// ParticipantStats returns the latest aggregated sample for one participant.
func (r *Router) ParticipantStats(p *participant.Participant) participant.Sample {
	if latest := p.Quality.Latest(); latest != nil {
		return *latest
	}
	return participant.Sample{}
}

// RemoveParticipant releases everything the participant owns on the router.
func (r *Router) RemoveParticipant(p *participant.Participant) {
	for id := range p.Producers {
		r.forgetOwner(id)
	}
	for id := range p.DataProducers {
		r.forgetOwner(id)
	}
	for id := range p.DataConsumers {
		r.sealSink(id)
	}
	p.CloseMedia()
	r.pruneClosedConsumers()
}

func (r *Router) sealSink(id mediaworker.ConsumerID) {
	r.sinksMutex.Lock()
	defer r.sinksMutex.Unlock()
	if sink, ok := r.dataSinks[id]; ok {
		sink.Seal()
		delete(r.dataSinks, id)
	}
}

// Close stops the event loop and tears down the media router.
func (r *Router) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
		r.keyframes.Stop()
		r.eventsOut.Close()

		r.sinksMutex.Lock()
		for _, sink := range r.dataSinks {
			sink.Seal()
		}
		r.dataSinks = make(map[mediaworker.ConsumerID]*common.SinkWithSender[participant.ID, dataDelivery])
		r.sinksMutex.Unlock()
	})
	r.media.Close()
}
