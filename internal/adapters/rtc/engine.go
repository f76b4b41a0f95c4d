// Package rtc implements the core media-engine contract on pion/webrtc.
// Transports are built from ORTC primitives (ICE gatherer + ICE transport +
// DTLS transport) so the signaling protocol's parameter exchange maps onto
// them directly, without SDP.
package rtc

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/openmeet/sfu/internal/core"
)

// Config carries the media-plane knobs from the server configuration.
type Config struct {
	MinPort     uint16
	MaxPort     uint16
	AnnouncedIP string
	STUNURLs    []string
}

// DefaultCodecs is the router codec table offered to every room.
func DefaultCodecs() []webrtc.RTPCodecCapability {
	return []webrtc.RTPCodecCapability{
		{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		{MimeType: webrtc.MimeTypeVP9, ClockRate: 90000, SDPFmtpLine: "profile-id=2"},
		{MimeType: webrtc.MimeTypeH264, ClockRate: 90000,
			SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f"},
	}
}

type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// NewWorker builds an isolated webrtc.API: its own media engine and setting
// engine, so codec registration and port ranges are per worker.
func (e *Engine) NewWorker() (core.Worker, error) {
	me := &webrtc.MediaEngine{}
	if err := registerCodecs(me); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	se := webrtc.SettingEngine{}
	// The server side is ICE lite: clients drive connectivity checks, which
	// is why connect-transport carries DTLS parameters only.
	se.SetLite(true)
	if e.cfg.MinPort > 0 && e.cfg.MaxPort > 0 {
		if err := se.SetEphemeralUDPPortRange(e.cfg.MinPort, e.cfg.MaxPort); err != nil {
			return nil, fmt.Errorf("set port range: %w", err)
		}
	}
	if e.cfg.AnnouncedIP != "" {
		se.SetNAT1To1IPs([]string{e.cfg.AnnouncedIP}, webrtc.ICECandidateTypeHost)
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(me), webrtc.WithSettingEngine(se))
	w := &Worker{
		id:      uuid.NewString(),
		api:     api,
		cfg:     e.cfg,
		routers: make(map[string]*Router),
	}
	log.Info().Str("module", "rtc").Str("worker", w.id).Msg("worker created")
	return w, nil
}

func registerCodecs(me *webrtc.MediaEngine) error {
	for _, c := range []struct {
		params webrtc.RTPCodecParameters
		kind   webrtc.RTPCodecType
	}{
		{webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			PayloadType:        111,
		}, webrtc.RTPCodecTypeAudio},
		{webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			PayloadType:        96,
		}, webrtc.RTPCodecTypeVideo},
		{webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP9, ClockRate: 90000, SDPFmtpLine: "profile-id=2"},
			PayloadType:        98,
		}, webrtc.RTPCodecTypeVideo},
		{webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: 90000,
				SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f"},
			PayloadType: 102,
		}, webrtc.RTPCodecTypeVideo},
	} {
		if err := me.RegisterCodec(c.params, c.kind); err != nil {
			return err
		}
	}
	return nil
}

type Worker struct {
	id  string
	api *webrtc.API
	cfg Config

	mu      sync.Mutex
	routers map[string]*Router
	closed  bool
}

func (w *Worker) ID() string { return w.id }

func (w *Worker) NewRouter(codecs []webrtc.RTPCodecCapability) (core.Router, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, fmt.Errorf("worker %s closed", w.id)
	}
	r := &Router{
		id:         uuid.NewString(),
		worker:     w,
		caps:       core.RTPCapabilities{Codecs: codecs},
		transports: make(map[string]*Transport),
	}
	w.routers[r.id] = r
	return r, nil
}

func (w *Worker) removeRouter(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.routers, id)
}

func (w *Worker) Close() error {
	w.mu.Lock()
	w.closed = true
	routers := make([]*Router, 0, len(w.routers))
	for _, r := range w.routers {
		routers = append(routers, r)
	}
	w.routers = make(map[string]*Router)
	w.mu.Unlock()

	for _, r := range routers {
		_ = r.Close()
	}
	return nil
}

type Router struct {
	id     string
	worker *Worker
	caps   core.RTPCapabilities

	mu         sync.Mutex
	transports map[string]*Transport
	closed     bool
}

func (r *Router) ID() string { return r.id }

func (r *Router) Capabilities() core.RTPCapabilities { return r.caps }

func (r *Router) NewTransport() (core.Transport, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, fmt.Errorf("router %s closed", r.id)
	}
	r.mu.Unlock()

	t, err := newTransport(r)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.transports[t.id] = t
	r.mu.Unlock()
	return t, nil
}

func (r *Router) removeTransport(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.transports, id)
}

// CanConsume: the consumer's capabilities must cover the producer's codec.
func (r *Router) CanConsume(producer core.Producer, caps core.RTPCapabilities) bool {
	src, ok := producer.(*Producer)
	if !ok {
		return false
	}
	for _, c := range caps.Codecs {
		if strings.EqualFold(c.MimeType, src.codec.MimeType) {
			return true
		}
	}
	return false
}

func (r *Router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	transports := make([]*Transport, 0, len(r.transports))
	for _, t := range r.transports {
		transports = append(transports, t)
	}
	r.transports = make(map[string]*Transport)
	r.mu.Unlock()

	for _, t := range transports {
		_ = t.Close()
	}
	r.worker.removeRouter(r.id)
	log.Info().Str("module", "rtc").Str("router", r.id).Msg("router closed")
	return nil
}
