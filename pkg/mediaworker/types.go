package mediaworker

import (
	"errors"

	"github.com/pion/webrtc/v3"
)

// Identifiers assigned by the media worker. Opaque to the rest of the system.
type (
	RouterID    string
	TransportID string
	ProducerID  string
	ConsumerID  string
)

// MediaKind of a producer or consumer.
type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
	KindData  MediaKind = "data"
)

// Source tag describing where the media comes from. Drives the simulcast
// defaults a producer gets when the client did not specify encodings.
type Source string

const (
	SourceMicrophone Source = "microphone"
	SourceCamera     Source = "camera"
	SourceScreen     Source = "screen"
	SourceChat       Source = "chat"
)

// TransportDirection from the participant's point of view.
type TransportDirection string

const (
	DirectionSend TransportDirection = "send"
	DirectionRecv TransportDirection = "recv"
)

// SimulcastEncoding is a single spatial layer of a simulcast producer.
type SimulcastEncoding struct {
	// Maximum bitrate in bits per second.
	MaxBitrate int `json:"maxBitrate"`
	// Factor by which the source resolution is scaled down, 1 meaning full size.
	ScaleResolutionDownBy float64 `json:"scaleResolutionDownBy,omitempty"`
	// Optional framerate cap.
	MaxFramerate int `json:"maxFramerate,omitempty"`
}

// RTPParameters carried by `produce`. The codec set piggybacks on pion types
// so that capability matching speaks the same vocabulary as the clients.
type RTPParameters struct {
	Codecs    []webrtc.RTPCodecCapability `json:"codecs,omitempty"`
	Encodings []SimulcastEncoding         `json:"encodings,omitempty"`
}

// TransportInfo is what `createWebRtcTransport` hands back to the client.
type TransportInfo struct {
	ID             TransportID               `json:"id"`
	ICEParameters  webrtc.ICEParameters      `json:"iceParameters"`
	ICECandidates  []webrtc.ICECandidateInit `json:"iceCandidates"`
	ICEServers     []string                  `json:"iceServers,omitempty"`
	DTLSParameters webrtc.DTLSParameters     `json:"dtlsParameters"`
	SCTPCapability *webrtc.SCTPCapabilities  `json:"sctpParameters,omitempty"`
}

// Stats collected from a single producer or consumer.
type Stats struct {
	BitrateBps    int     `json:"bitrateBps"`
	PacketLossPct float64 `json:"packetLossPct"`
	JitterMs      float64 `json:"jitterMs"`
	RoundTripMs   float64 `json:"roundTripMs"`
}

// Errors surfaced by the worker contract.
var (
	ErrWorkerDead         = errors.New("media worker is dead")
	ErrRouterClosed       = errors.New("router is closed")
	ErrTransportClosed    = errors.New("transport is closed")
	ErrTransportNotFound  = errors.New("transport not found")
	ErrProducerNotFound   = errors.New("producer not found")
	ErrConsumerNotFound   = errors.New("consumer not found")
	ErrNotConnected       = errors.New("transport is not connected")
	ErrWrongDirection     = errors.New("operation not allowed on this transport direction")
	ErrLayerOutOfRange    = errors.New("preferred layer is out of range")
	ErrCannotConsume      = errors.New("router cannot consume for the given capabilities")
	ErrPayloadTooLarge    = errors.New("data payload exceeds the configured limit")
	ErrNoWorkersAvailable = errors.New("no media workers available")
)
