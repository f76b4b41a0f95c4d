package rtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/openmeet/sfu/internal/core"
	"github.com/openmeet/sfu/internal/domain"
)

// Transport is one ICE+DTLS leg between a peer and the router, carrying
// either producers or consumers but never both.
type Transport struct {
	id     string
	router *Router

	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport
	info     core.TransportInfo

	mu        sync.Mutex
	producers map[string]*Producer
	consumers map[string]*Consumer
	connected bool
	closed    bool
}

func newTransport(r *Router) (*Transport, error) {
	api := r.worker.api

	var servers []webrtc.ICEServer
	for _, u := range r.worker.cfg.STUNURLs {
		servers = append(servers, webrtc.ICEServer{URLs: []string{u}})
	}
	gatherer, err := api.NewICEGatherer(webrtc.ICEGatherOptions{ICEServers: servers})
	if err != nil {
		return nil, fmt.Errorf("new gatherer: %w", err)
	}
	ice := api.NewICETransport(gatherer)
	dtls, err := api.NewDTLSTransport(ice, nil)
	if err != nil {
		return nil, fmt.Errorf("new dtls transport: %w", err)
	}

	gathered := make(chan struct{})
	gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			close(gathered)
		}
	})
	if err := gatherer.Gather(); err != nil {
		return nil, fmt.Errorf("gather: %w", err)
	}
	<-gathered

	iceParams, err := gatherer.GetLocalParameters()
	if err != nil {
		return nil, fmt.Errorf("local ice parameters: %w", err)
	}
	candidates, err := gatherer.GetLocalCandidates()
	if err != nil {
		return nil, fmt.Errorf("local candidates: %w", err)
	}
	dtlsParams, err := dtls.GetLocalParameters()
	if err != nil {
		return nil, fmt.Errorf("local dtls parameters: %w", err)
	}

	return &Transport{
		id:       uuid.NewString(),
		router:   r,
		gatherer: gatherer,
		ice:      ice,
		dtls:     dtls,
		info: core.TransportInfo{
			ICEParameters:  iceParams,
			ICECandidates:  candidates,
			DTLSParameters: dtlsParams,
		},
		producers: make(map[string]*Producer),
		consumers: make(map[string]*Consumer),
	}, nil
}

func (t *Transport) ID() string { return t.id }

func (t *Transport) Info() core.TransportInfo { return t.info }

// Connect completes the leg once the client reports its DTLS parameters.
// The client's ICE parameters never cross the wire: the lite agent stays in
// the controlled role and learns the remote from incoming connectivity
// checks.
func (t *Transport) Connect(dtls webrtc.DTLSParameters) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("transport %s closed", t.id)
	}
	if t.connected {
		return nil
	}

	role := webrtc.ICERoleControlled
	if err := t.ice.Start(nil, webrtc.ICEParameters{}, &role); err != nil {
		return fmt.Errorf("ice start: %w", err)
	}
	if err := t.dtls.Start(dtls); err != nil {
		return fmt.Errorf("dtls start: %w", err)
	}
	t.connected = true
	return nil
}

func (t *Transport) Produce(kind domain.MediaKind, params core.RTPParameters) (core.Producer, error) {
	if len(params.Codecs) == 0 {
		return nil, fmt.Errorf("produce %s: no codecs", kind)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, fmt.Errorf("transport %s closed", t.id)
	}

	receiver, err := t.router.worker.api.NewRTPReceiver(codecTypeOf(kind), t.dtls)
	if err != nil {
		return nil, fmt.Errorf("new receiver: %w", err)
	}

	recv := webrtc.RTPReceiveParameters{
		Encodings: make([]webrtc.RTPDecodingParameters, 0, len(params.Encodings)),
	}
	for _, e := range params.Encodings {
		recv.Encodings = append(recv.Encodings, webrtc.RTPDecodingParameters{RTPCodingParameters: e})
	}
	if err := receiver.Receive(recv); err != nil {
		return nil, fmt.Errorf("receive: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Producer{
		id:        uuid.NewString(),
		kind:      kind,
		codec:     params.Codecs[0].RTPCodecCapability,
		transport: t,
		receiver:  receiver,
		relay:     newRelay(receiver.Track(), cancel),
	}
	go p.relay.loop(ctx)

	t.producers[p.id] = p
	log.Debug().Str("module", "rtc").
		Str("transport", t.id).Str("producer", p.id).Str("kind", string(kind)).
		Msg("producer created")
	return p, nil
}

func (t *Transport) Consume(producer core.Producer, caps core.RTPCapabilities) (core.Consumer, error) {
	src, ok := producer.(*Producer)
	if !ok {
		return nil, fmt.Errorf("consume: foreign producer %s", producer.ID())
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, fmt.Errorf("transport %s closed", t.id)
	}

	id := uuid.NewString()
	track, err := webrtc.NewTrackLocalStaticRTP(src.codec, id, string(src.kind))
	if err != nil {
		return nil, fmt.Errorf("new local track: %w", err)
	}
	sender, err := t.router.worker.api.NewRTPSender(track, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("new sender: %w", err)
	}
	sendParams := sender.GetParameters()
	if err := sender.Send(sendParams); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}

	c := &Consumer{
		id:        id,
		kind:      src.kind,
		transport: t,
		producer:  src,
		sender:    sender,
		out:       newOutTrack(track),
		params:    sendParamsToRTP(sendParams),
	}
	src.relay.addOutTrack(c.id, c.out)

	t.consumers[c.id] = c
	log.Debug().Str("module", "rtc").
		Str("transport", t.id).Str("consumer", c.id).Str("producer", src.id).
		Msg("consumer created")
	return c, nil
}

func (t *Transport) removeProducer(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.producers, id)
}

func (t *Transport) removeConsumer(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.consumers, id)
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	producers := make([]*Producer, 0, len(t.producers))
	for _, p := range t.producers {
		producers = append(producers, p)
	}
	consumers := make([]*Consumer, 0, len(t.consumers))
	for _, c := range t.consumers {
		consumers = append(consumers, c)
	}
	t.producers = make(map[string]*Producer)
	t.consumers = make(map[string]*Consumer)
	t.mu.Unlock()

	for _, c := range consumers {
		_ = c.Close()
	}
	for _, p := range producers {
		_ = p.Close()
	}

	_ = t.dtls.Stop()
	_ = t.ice.Stop()
	t.router.removeTransport(t.id)
	return nil
}

func codecTypeOf(kind domain.MediaKind) webrtc.RTPCodecType {
	if kind == domain.MediaKindAudio {
		return webrtc.RTPCodecTypeAudio
	}
	return webrtc.RTPCodecTypeVideo
}

func sendParamsToRTP(p webrtc.RTPSendParameters) core.RTPParameters {
	out := core.RTPParameters{Codecs: p.Codecs}
	for _, e := range p.Encodings {
		out.Encodings = append(out.Encodings, e.RTPCodingParameters)
	}
	return out
}

// Producer is a published stream: an RTP receiver plus the relay fanning its
// packets out to every consumer's track.
type Producer struct {
	id        string
	kind      domain.MediaKind
	codec     webrtc.RTPCodecCapability
	transport *Transport
	receiver  *webrtc.RTPReceiver
	relay     *relay

	closeOnce sync.Once
}

func (p *Producer) ID() string { return p.id }

func (p *Producer) Kind() domain.MediaKind { return p.kind }

func (p *Producer) Close() error {
	p.closeOnce.Do(func() {
		p.relay.stop()
		_ = p.receiver.Stop()
		p.transport.removeProducer(p.id)
	})
	return nil
}

// Consumer delivers one producer's stream over its own RTP sender. Pause and
// Resume flip the relay-side track state; the sender itself stays up.
type Consumer struct {
	id        string
	kind      domain.MediaKind
	transport *Transport
	producer  *Producer
	sender    *webrtc.RTPSender
	out       *outTrack
	params    core.RTPParameters

	closeOnce sync.Once
}

func (c *Consumer) ID() string { return c.id }

func (c *Consumer) Kind() domain.MediaKind { return c.kind }

func (c *Consumer) RTPParameters() core.RTPParameters { return c.params }

func (c *Consumer) Pause() error {
	c.out.markMuted()
	return nil
}

func (c *Consumer) Resume() error {
	c.out.markOk()
	return nil
}

func (c *Consumer) Close() error {
	c.closeOnce.Do(func() {
		c.out.markDelete()
		c.producer.relay.removeOutTrack(c.id)
		_ = c.sender.Stop()
		c.transport.removeConsumer(c.id)
	})
	return nil
}
