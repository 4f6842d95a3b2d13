package mediaworker

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
)

// Transport models one WebRTC transport of a participant (send or receive
// direction). ICE/DTLS parameters are generated by the worker; the DTLS
// handshake itself happens on the media plane and is reported back through
// `connectTransport`.
type Transport struct {
	id        TransportID
	router    *Router
	direction TransportDirection

	iceParameters  webrtc.ICEParameters
	iceCandidates  []webrtc.ICECandidateInit
	dtlsParameters webrtc.DTLSParameters
	sctpCapability webrtc.SCTPCapabilities

	mutex      sync.Mutex
	connected  bool
	remoteDTLS *webrtc.DTLSParameters
	closed     bool
	iceRestart int
}

func newTransport(id TransportID, router *Router, direction TransportDirection) *Transport {
	return &Transport{
		id:             id,
		router:         router,
		direction:      direction,
		iceParameters:  generateICEParameters(),
		iceCandidates:  generateICECandidates(router.worker),
		dtlsParameters: generateDTLSParameters(),
		sctpCapability: webrtc.SCTPCapabilities{MaxMessageSize: 262144},
	}
}

func (t *Transport) ID() TransportID { return t.id }

func (t *Transport) Direction() TransportDirection { return t.direction }

// Info returns the connection descriptor handed to the client.
func (t *Transport) Info() TransportInfo {
	sctp := t.sctpCapability
	return TransportInfo{
		ID:             t.id,
		ICEParameters:  t.iceParameters,
		ICECandidates:  t.iceCandidates,
		ICEServers:     t.router.worker.config.ICEServers,
		DTLSParameters: t.dtlsParameters,
		SCTPCapability: &sctp,
	}
}

// Connect completes the DTLS handshake with the client's parameters.
func (t *Transport) Connect(dtlsParameters webrtc.DTLSParameters) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.closed {
		return ErrTransportClosed
	}

	t.remoteDTLS = &dtlsParameters
	t.connected = true
	return nil
}

func (t *Transport) Connected() bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.connected
}

// RestartICE generates fresh ICE credentials, invalidating the old ones.
func (t *Transport) RestartICE() (webrtc.ICEParameters, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.closed {
		return webrtc.ICEParameters{}, ErrTransportClosed
	}

	t.iceParameters = generateICEParameters()
	t.iceRestart++
	return t.iceParameters, nil
}

// Produce creates a producer on this (send) transport.
func (t *Transport) Produce(kind MediaKind, source Source, parameters RTPParameters, appData map[string]any) (*Producer, error) {
	t.mutex.Lock()
	if t.closed {
		t.mutex.Unlock()
		return nil, ErrTransportClosed
	}
	if !t.connected {
		t.mutex.Unlock()
		return nil, ErrNotConnected
	}
	if t.direction != DirectionSend {
		t.mutex.Unlock()
		return nil, ErrWrongDirection
	}
	t.mutex.Unlock()

	codecs := parameters.Codecs
	if len(codecs) == 0 {
		codecs = t.router.codecs
	}

	producer := newProducer(ProducerID(uuid.NewString()), t, kind, source, codecs, parameters.Encodings, appData)
	t.router.registerProducer(producer)
	return producer, nil
}

// Consume creates a consumer for the given producer on this (recv) transport.
func (t *Transport) Consume(producerID ProducerID, capabilities webrtc.RTPCapabilities) (*Consumer, error) {
	t.mutex.Lock()
	if t.closed {
		t.mutex.Unlock()
		return nil, ErrTransportClosed
	}
	if t.direction != DirectionRecv {
		t.mutex.Unlock()
		return nil, ErrWrongDirection
	}
	t.mutex.Unlock()

	if !t.router.CanConsume(producerID, capabilities) {
		return nil, ErrCannotConsume
	}

	producer, err := t.router.Producer(producerID)
	if err != nil {
		return nil, err
	}

	consumer := newConsumer(ConsumerID(uuid.NewString()), t, producer)
	t.router.registerConsumer(consumer)
	return consumer, nil
}

// Stats aggregates the producers and consumers living on this transport.
func (t *Transport) Stats() Stats {
	var total Stats
	var count int

	t.router.mutex.Lock()
	handles := make([]*Producer, 0)
	consumers := make([]*Consumer, 0)
	for _, p := range t.router.producers {
		if p.transport == t {
			handles = append(handles, p)
		}
	}
	for _, c := range t.router.consumers {
		if c.transport == t {
			consumers = append(consumers, c)
		}
	}
	t.router.mutex.Unlock()

	for _, p := range handles {
		s := p.Stats()
		total.BitrateBps += s.BitrateBps
		total.PacketLossPct += s.PacketLossPct
		total.JitterMs += s.JitterMs
		total.RoundTripMs += s.RoundTripMs
		count++
	}
	for _, c := range consumers {
		s := c.Stats()
		total.BitrateBps += s.BitrateBps
		total.PacketLossPct += s.PacketLossPct
		total.JitterMs += s.JitterMs
		total.RoundTripMs += s.RoundTripMs
		count++
	}

	if count > 0 {
		total.PacketLossPct /= float64(count)
		total.JitterMs /= float64(count)
		total.RoundTripMs /= float64(count)
	}
	return total
}

// Close tears down the transport and everything created on it.
func (t *Transport) Close() {
	t.mutex.Lock()
	if t.closed {
		t.mutex.Unlock()
		return
	}
	t.closed = true
	t.mutex.Unlock()

	t.router.mutex.Lock()
	delete(t.router.transports, t.id)
	producers := make([]*Producer, 0)
	for _, p := range t.router.producers {
		if p.transport == t {
			producers = append(producers, p)
		}
	}
	consumers := make([]*Consumer, 0)
	for _, c := range t.router.consumers {
		if c.transport == t {
			consumers = append(consumers, c)
		}
	}
	t.router.mutex.Unlock()

	for _, c := range consumers {
		c.Close()
	}
	for _, p := range producers {
		p.Close()
	}
}

func generateICEParameters() webrtc.ICEParameters {
	return webrtc.ICEParameters{
		UsernameFragment: randomToken(8),
		Password:         randomToken(24),
		ICELite:          true,
	}
}

func generateICECandidates(worker *Worker) []webrtc.ICECandidateInit {
	// A single host candidate; TURN/STUN endpoints travel in ICEServers.
	ip := worker.config.AnnouncedIP
	if ip == "" {
		ip = "0.0.0.0"
	}
	port := 40000 + worker.id
	candidate := fmt.Sprintf("candidate:1 1 udp 2130706431 %s %d typ host", ip, port)
	return []webrtc.ICECandidateInit{{Candidate: candidate}}
}

func generateDTLSParameters() webrtc.DTLSParameters {
	return webrtc.DTLSParameters{
		Role: webrtc.DTLSRoleServer,
		Fingerprints: []webrtc.DTLSFingerprint{
			{Algorithm: "sha-256", Value: randomFingerprint()},
		},
	}
}

func randomToken(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)[:n]
}

func randomFingerprint() string {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	out := make([]byte, 0, 32*3)
	for i, b := range buf {
		if i > 0 {
			out = append(out, ':')
		}
		out = append(out, []byte(fmt.Sprintf("%02X", b))...)
	}
	return string(out)
}
