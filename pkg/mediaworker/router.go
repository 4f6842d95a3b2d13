package mediaworker

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

// DefaultMediaCodecs is used when the caller does not specify a codec set.
func DefaultMediaCodecs() []webrtc.RTPCodecCapability {
	return []webrtc.RTPCodecCapability{
		{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		{
			MimeType:  webrtc.MimeTypeVP8,
			ClockRate: 90000,
		},
		{
			MimeType:    webrtc.MimeTypeVP9,
			ClockRate:   90000,
			SDPFmtpLine: "profile-id=0",
		},
	}
}

// Router is the per-meeting media hub on a worker. It owns transports and
// the producer/consumer handles created on them, plus the audio level
// observer that watches the meeting's audio producers.
type Router struct {
	id     RouterID
	worker *Worker
	logger *logrus.Entry
	codecs []webrtc.RTPCodecCapability

	mutex      sync.Mutex
	transports map[TransportID]*Transport
	producers  map[ProducerID]*Producer
	consumers  map[ConsumerID]*Consumer
	observer   *AudioLevelObserver
	closed     bool
}

func newRouter(id RouterID, worker *Worker, codecs []webrtc.RTPCodecCapability) *Router {
	if len(codecs) == 0 {
		codecs = DefaultMediaCodecs()
	}

	return &Router{
		id:         id,
		worker:     worker,
		logger:     worker.logger.WithField("router_id", id),
		codecs:     codecs,
		transports: make(map[TransportID]*Transport),
		producers:  make(map[ProducerID]*Producer),
		consumers:  make(map[ConsumerID]*Consumer),
	}
}

func (r *Router) ID() RouterID    { return r.id }
func (r *Router) Worker() *Worker { return r.worker }

// RTPCapabilities advertised to clients via `getRouterCapabilities`.
func (r *Router) RTPCapabilities() webrtc.RTPCapabilities {
	return webrtc.RTPCapabilities{Codecs: r.codecs}
}

// CreateWebRtcTransport allocates a transport on this router.
func (r *Router) CreateWebRtcTransport(direction TransportDirection) (*Transport, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.closed {
		return nil, ErrRouterClosed
	}

	transport := newTransport(TransportID(uuid.NewString()), r, direction)
	r.transports[transport.id] = transport
	return transport, nil
}

// TransportCount is the number of live transports on this router.
func (r *Router) TransportCount() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.transports)
}

// Transport looks up a transport by id.
func (r *Router) Transport(id TransportID) (*Transport, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	transport, ok := r.transports[id]
	if !ok {
		return nil, ErrTransportNotFound
	}
	return transport, nil
}

// Producer looks up a producer by id.
func (r *Router) Producer(id ProducerID) (*Producer, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	producer, ok := r.producers[id]
	if !ok {
		return nil, ErrProducerNotFound
	}
	return producer, nil
}

// Consumer looks up a consumer by id.
func (r *Router) Consumer(id ConsumerID) (*Consumer, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	consumer, ok := r.consumers[id]
	if !ok {
		return nil, ErrConsumerNotFound
	}
	return consumer, nil
}

// CanConsume reports whether a consumer with the given capabilities could
// receive the producer's media, i.e. whether the codec sets intersect.
func (r *Router) CanConsume(producerID ProducerID, capabilities webrtc.RTPCapabilities) bool {
	producer, err := r.Producer(producerID)
	if err != nil {
		return false
	}

	if producer.Kind() == KindData {
		return true
	}

	mimeTypes := make([]string, 0, len(capabilities.Codecs))
	for _, codec := range capabilities.Codecs {
		mimeTypes = append(mimeTypes, codec.MimeType)
	}

	for _, codec := range producer.codecs {
		if slices.Contains(mimeTypes, codec.MimeType) {
			return true
		}
	}
	return false
}

// AudioLevelObserver lazily creates the observer for this router.
func (r *Router) AudioLevelObserver() *AudioLevelObserver {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.observer == nil {
		r.observer = newAudioLevelObserver(r.logger)
		r.observer.start()
	}
	return r.observer
}

func (r *Router) registerProducer(p *Producer) {
	r.mutex.Lock()
	r.producers[p.id] = p
	r.mutex.Unlock()

	if p.Kind() == KindAudio {
		r.AudioLevelObserver().AddProducer(p.id)
	}
}

func (r *Router) unregisterProducer(id ProducerID) {
	r.mutex.Lock()
	observer := r.observer
	delete(r.producers, id)
	// Consumers never outlive their producer.
	orphans := make([]*Consumer, 0)
	for _, c := range r.consumers {
		if c.producerID == id {
			orphans = append(orphans, c)
		}
	}
	r.mutex.Unlock()

	for _, c := range orphans {
		c.Close()
	}
	if observer != nil {
		observer.RemoveProducer(id)
	}
}

func (r *Router) registerConsumer(c *Consumer) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.consumers[c.id] = c
}

func (r *Router) unregisterConsumer(id ConsumerID) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.consumers, id)
}

// Close tears the router down: transports, producers, consumers, observer.
func (r *Router) Close() {
	r.mutex.Lock()
	if r.closed {
		r.mutex.Unlock()
		return
	}
	r.closed = true
	transports := make([]*Transport, 0, len(r.transports))
	for _, t := range r.transports {
		transports = append(transports, t)
	}
	r.transports = make(map[TransportID]*Transport)
	observer := r.observer
	r.mutex.Unlock()

	for _, t := range transports {
		t.Close()
	}
	if observer != nil {
		observer.stop()
	}
	r.worker.removeRouter(r.id)
}
