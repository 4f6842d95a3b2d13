package mediaworker

import (
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"golang.org/x/exp/slices"
)

// Interval below which repeated keyframe requests for one producer are
// swallowed. Clients re-requesting a keyframe right after a layer switch
// would otherwise force too many of them.
const keyframeInterval = 500 * time.Millisecond

// Producer is the server-side handle of an outgoing media stream at the SFU.
type Producer struct {
	id        ProducerID
	transport *Transport
	kind      MediaKind
	source    Source
	codecs    []webrtc.RTPCodecCapability
	appData   map[string]any

	mutex     sync.Mutex
	encodings []SimulcastEncoding
	paused    bool
	score     int
	stats     Stats
	// The earliest time at which we may forward another keyframe request.
	canSendKeyframeAt time.Time
	keyframeRequests  int
	closed            bool
}

func newProducer(
	id ProducerID,
	transport *Transport,
	kind MediaKind,
	source Source,
	codecs []webrtc.RTPCodecCapability,
	encodings []SimulcastEncoding,
	appData map[string]any,
) *Producer {
	// Encodings are kept weakly ordered by max bitrate, lowest spatial
	// layer first.
	sorted := make([]SimulcastEncoding, len(encodings))
	copy(sorted, encodings)
	slices.SortStableFunc(sorted, func(a, b SimulcastEncoding) int {
		return a.MaxBitrate - b.MaxBitrate
	})

	return &Producer{
		id:        id,
		transport: transport,
		kind:      kind,
		source:    source,
		codecs:    codecs,
		encodings: sorted,
		appData:   appData,
		score:     10,
	}
}

func (p *Producer) ID() ProducerID { return p.id }

func (p *Producer) Kind() MediaKind { return p.kind }

func (p *Producer) Source() Source { return p.source }

func (p *Producer) Transport() *Transport { return p.transport }

func (p *Producer) AppData() map[string]any { return p.appData }

func (p *Producer) Encodings() []SimulcastEncoding {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	out := make([]SimulcastEncoding, len(p.encodings))
	copy(out, p.encodings)
	return out
}

// MaxSpatialLayer is the index of the highest simulcast encoding.
func (p *Producer) MaxSpatialLayer() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if len(p.encodings) == 0 {
		return 0
	}
	return len(p.encodings) - 1
}

func (p *Producer) Pause() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.paused = true
}

func (p *Producer) Resume() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.paused = false
}

func (p *Producer) Paused() bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.paused
}

// Score is the live score of the producer's inbound stream, [0..10].
func (p *Producer) Score() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.score
}

func (p *Producer) SetScore(score int) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.score = score
}

// RequestKeyFrame asks the sending client for a keyframe via a PLI packet.
// Rate limited; returns the marshaled RTCP payload for the media plane, or
// nil if the request was swallowed.
func (p *Producer) RequestKeyFrame() []byte {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	now := time.Now()
	if now.Before(p.canSendKeyframeAt) {
		return nil
	}
	p.canSendKeyframeAt = now.Add(keyframeInterval)
	p.keyframeRequests++

	pli := &rtcp.PictureLossIndication{MediaSSRC: uint32(p.keyframeRequests)}
	payload, err := pli.Marshal()
	if err != nil {
		return nil
	}
	return payload
}

// ReportAudioLevel feeds a client-reported audio level (dBFS, negative) into
// the router's observer. No-op for non-audio producers.
func (p *Producer) ReportAudioLevel(volumeDBFS float64) {
	if p.kind != KindAudio {
		return
	}
	p.transport.router.AudioLevelObserver().ReportLevel(p.id, volumeDBFS)
}

// Stats returns the latest media-plane stats for this producer.
func (p *Producer) Stats() Stats {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.stats
}

// SetStats records a media-plane stats observation.
func (p *Producer) SetStats(stats Stats) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.stats = stats
}

func (p *Producer) Closed() bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.closed
}

func (p *Producer) Close() {
	p.mutex.Lock()
	if p.closed {
		p.mutex.Unlock()
		return
	}
	p.closed = true
	p.mutex.Unlock()

	p.transport.router.unregisterProducer(p.id)
}
