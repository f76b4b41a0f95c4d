// Package core declares the contracts between the session orchestrator and
// its collaborators. The orchestrator never touches pion (or any other media
// stack) directly; it only calls the interfaces below.
package core

import (
	"github.com/pion/webrtc/v4"

	"github.com/openmeet/sfu/internal/domain"
)

// RTPCapabilities is the codec/extension set a router or a peer supports.
// It decides whether a given producer can be consumed.
type RTPCapabilities struct {
	Codecs           []webrtc.RTPCodecCapability           `json:"codecs"`
	HeaderExtensions []webrtc.RTPHeaderExtensionCapability `json:"headerExtensions,omitempty"`
}

// RTPParameters describe a single media stream: negotiated codecs plus the
// SSRC/RID layout of its encodings.
type RTPParameters struct {
	MID       string                       `json:"mid,omitempty"`
	Codecs    []webrtc.RTPCodecParameters  `json:"codecs"`
	Encodings []webrtc.RTPCodingParameters `json:"encodings,omitempty"`
}

// TransportInfo is everything the client needs to establish the ICE/DTLS
// leg of a transport. It goes on the wire verbatim.
type TransportInfo struct {
	ICEParameters  webrtc.ICEParameters  `json:"iceParameters"`
	ICECandidates  []webrtc.ICECandidate `json:"iceCandidates"`
	DTLSParameters webrtc.DTLSParameters `json:"dtlsParameters"`
}

// Engine is the media-plane factory. Workers are created once at process
// start; a worker failing to come up is fatal for the whole server.
type Engine interface {
	NewWorker() (Worker, error)
}

// Worker is an isolated media-processing unit hosting routers.
type Worker interface {
	ID() string
	NewRouter(codecs []webrtc.RTPCodecCapability) (Router, error)
	Close() error
}

// Router is the per-room capability context. At most one live router exists
// per room at any time.
type Router interface {
	ID() string
	Capabilities() RTPCapabilities
	NewTransport() (Transport, error)
	// CanConsume reports whether a consumer with the given capabilities can
	// receive the producer's stream.
	CanConsume(producer Producer, caps RTPCapabilities) bool
	Close() error
}

// Transport is one directional channel between a peer and the router.
type Transport interface {
	ID() string
	Info() TransportInfo
	Connect(dtls webrtc.DTLSParameters) error
	Produce(kind domain.MediaKind, params RTPParameters) (Producer, error)
	Consume(producer Producer, caps RTPCapabilities) (Consumer, error)
	Close() error
}

// Producer is a media source published on a send transport.
type Producer interface {
	ID() string
	Kind() domain.MediaKind
	Close() error
}

// Consumer is a media sink feeding exactly one producer's stream to a recv
// transport.
type Consumer interface {
	ID() string
	Kind() domain.MediaKind
	RTPParameters() RTPParameters
	Pause() error
	Resume() error
	Close() error
}
