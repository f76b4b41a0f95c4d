package app

import (
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/openmeet/sfu/internal/core"
	"github.com/openmeet/sfu/internal/domain"
)

// Orchestrator is the operation surface between signaling and the media
// engine. Every operation keeps the session registry consistent with the
// engine call it delegates: both succeed, or the registry entry is rolled
// back and the engine object closed.
type Orchestrator struct {
	Workers  *WorkerPool
	Routers  *RouterRegistry
	Sessions *SessionRegistry
}

// JoinResult reports the outcome of a join, including the room the peer was
// implicitly removed from when it re-joined while still in a room.
type JoinResult struct {
	RoomID       domain.RoomID
	PreviousRoom domain.RoomID
}

// JoinRoom ensures the room's router exists and registers the peer. A peer
// already in a room is taken through the full leave cascade first
// (leave-then-join), so no resources from the previous room survive.
func (o *Orchestrator) JoinRoom(id domain.Identity, roomID domain.RoomID) (JoinResult, error) {
	res := JoinResult{RoomID: roomID}
	if prev, ok := o.Sessions.RoomOf(id.PeerID); ok {
		if removal, found := o.RemovePeer(id.PeerID); found {
			res.PreviousRoom = removal.RoomID
		} else {
			res.PreviousRoom = prev
		}
		log.Info().Str("module", "app.orch").Str("peer", string(id.PeerID)).
			Str("from_room", string(prev)).Msg("kicked from room on re-join")
	}

	if _, err := o.Routers.Ensure(roomID); err != nil {
		return JoinResult{}, err
	}
	o.Sessions.RegisterPeer(id, roomID)
	return res, nil
}

// RouterCapabilities returns the room router's RTP capabilities, creating
// the router if the room has none yet.
func (o *Orchestrator) RouterCapabilities(roomID domain.RoomID) (core.RTPCapabilities, error) {
	router, err := o.Routers.Ensure(roomID)
	if err != nil {
		return core.RTPCapabilities{}, err
	}
	return router.Capabilities(), nil
}

// CreateTransport creates a directional transport for a peer already joined
// to the room. A same-direction duplicate displaces the previous transport,
// which is fully released before the new one is reported.
func (o *Orchestrator) CreateTransport(roomID domain.RoomID, peerID domain.PeerID, dir domain.Direction) (*TransportRecord, error) {
	if current, ok := o.Sessions.RoomOf(peerID); !ok || current != roomID {
		return nil, ErrPeerNotInRoom
	}
	router, err := o.Routers.Ensure(roomID)
	if err != nil {
		return nil, err
	}

	tr, err := router.NewTransport()
	if err != nil {
		return nil, fmt.Errorf("create %s transport: %w", dir, err)
	}
	rec := &TransportRecord{
		ID:        domain.TransportID(tr.ID()),
		PeerID:    peerID,
		RoomID:    roomID,
		Direction: dir,
		Transport: tr,
	}
	displaced, err := o.Sessions.AttachTransport(rec)
	if err != nil {
		_ = tr.Close()
		return nil, err
	}
	o.release(displaced)
	log.Info().Str("module", "app.orch").Str("peer", string(peerID)).Str("room", string(roomID)).
		Str("transport", string(rec.ID)).Str("direction", string(dir)).Msg("transport created")
	return rec, nil
}

// ConnectTransport applies the client's DTLS parameters to the transport.
func (o *Orchestrator) ConnectTransport(transportID domain.TransportID, dtls webrtc.DTLSParameters) error {
	rec, ok := o.Sessions.TransportByID(transportID)
	if !ok {
		return ErrTransportNotFound
	}
	if err := rec.Transport.Connect(dtls); err != nil {
		return fmt.Errorf("connect transport %s: %w", transportID, err)
	}
	return nil
}

// Produce publishes a media source on a send transport. An empty codec list
// is a protocol error rejected before the engine is touched.
func (o *Orchestrator) Produce(transportID domain.TransportID, kind domain.MediaKind, params core.RTPParameters, appData map[string]any) (*ProducerRecord, error) {
	if len(params.Codecs) == 0 {
		return nil, ErrInvalidRTPParameters
	}
	rec, ok := o.Sessions.TransportByID(transportID)
	if !ok {
		return nil, ErrTransportNotFound
	}

	producer, err := rec.Transport.Produce(kind, params)
	if err != nil {
		return nil, fmt.Errorf("produce %s: %w", kind, err)
	}
	pr := &ProducerRecord{
		ID:          domain.ProducerID(producer.ID()),
		PeerID:      rec.PeerID,
		RoomID:      rec.RoomID,
		TransportID: rec.ID,
		Kind:        kind,
		Producer:    producer,
		AppData:     appData,
	}
	if err := o.Sessions.AttachProducer(pr); err != nil {
		// The owning transport vanished mid-flight (peer disconnect racing
		// this call); the fresh engine producer must not leak.
		_ = producer.Close()
		return nil, err
	}
	log.Info().Str("module", "app.orch").Str("peer", string(rec.PeerID)).
		Str("producer", string(pr.ID)).Str("kind", string(kind)).Msg("producer created")
	return pr, nil
}

// Consume attaches the consuming peer's recv transport to a producer's
// stream, provided the router confirms the capabilities match.
func (o *Orchestrator) Consume(peerID domain.PeerID, producerID domain.ProducerID, caps core.RTPCapabilities) (*ConsumerRecord, error) {
	pr, ok := o.Sessions.ProducerByID(producerID)
	if !ok {
		return nil, ErrProducerNotFound
	}
	recvTr, ok := o.Sessions.RecvTransport(peerID)
	if !ok {
		return nil, ErrNoRecvTransport
	}
	router, ok := o.Routers.Get(pr.RoomID)
	if !ok {
		return nil, fmt.Errorf("no router for room %s: %w", pr.RoomID, ErrProducerNotFound)
	}
	if !router.CanConsume(pr.Producer, caps) {
		return nil, ErrCannotConsume
	}

	consumer, err := recvTr.Transport.Consume(pr.Producer, caps)
	if err != nil {
		return nil, fmt.Errorf("consume producer %s: %w", producerID, err)
	}
	cr := &ConsumerRecord{
		ID:          domain.ConsumerID(consumer.ID()),
		PeerID:      peerID,
		RoomID:      pr.RoomID,
		TransportID: recvTr.ID,
		ProducerID:  producerID,
		Consumer:    consumer,
	}
	if err := o.Sessions.AttachConsumer(cr); err != nil {
		_ = consumer.Close()
		return nil, err
	}
	log.Info().Str("module", "app.orch").Str("peer", string(peerID)).
		Str("consumer", string(cr.ID)).Str("producer", string(producerID)).Msg("consumer created")
	return cr, nil
}

func (o *Orchestrator) PauseConsumer(consumerID domain.ConsumerID) error {
	rec, ok := o.Sessions.ConsumerByID(consumerID)
	if !ok {
		return ErrConsumerNotFound
	}
	return rec.Consumer.Pause()
}

func (o *Orchestrator) ResumeConsumer(consumerID domain.ConsumerID) error {
	rec, ok := o.Sessions.ConsumerByID(consumerID)
	if !ok {
		return ErrConsumerNotFound
	}
	return rec.Consumer.Resume()
}

// CloseProducer closes a producer and every consumer referencing it, in the
// same cascading operation. No-op when the producer is unknown.
func (o *Orchestrator) CloseProducer(producerID domain.ProducerID) (*ProducerRecord, []*ConsumerRecord) {
	pr, consumers := o.Sessions.DetachProducer(producerID)
	if pr == nil {
		return nil, nil
	}
	for _, cr := range consumers {
		o.closeConsumer(cr)
	}
	if err := pr.Producer.Close(); err != nil {
		log.Error().Err(err).Str("module", "app.orch").Str("producer", string(producerID)).Msg("producer close")
	}
	log.Info().Str("module", "app.orch").Str("producer", string(producerID)).
		Int("consumers_closed", len(consumers)).Msg("producer closed")
	return pr, consumers
}

// PeerRemoval reports a completed disconnect cascade.
type PeerRemoval struct {
	RoomID     domain.RoomID
	Removed    Removed
	RoomClosed bool
}

// RemovePeer is the single teardown path for both explicit leave-room and
// disconnect. The registry's return value is the one source of what still
// needs releasing, which keeps a leave racing a disconnect from
// double-releasing anything. The cascade runs to completion before the
// empty-room check that closes the router.
func (o *Orchestrator) RemovePeer(peerID domain.PeerID) (PeerRemoval, bool) {
	rm, roomID, found := o.Sessions.RemovePeer(peerID)
	if !found {
		return PeerRemoval{}, false
	}
	o.release(rm)

	removal := PeerRemoval{RoomID: roomID, Removed: rm}
	if o.Sessions.RoomPeerCount(roomID) == 0 {
		o.Routers.CloseRoom(roomID)
		removal.RoomClosed = true
	}
	return removal, true
}

// release closes the engine resources behind detached registry records,
// consumers first so nothing ever drains a closed producer or transport.
func (o *Orchestrator) release(rm Removed) {
	for _, cr := range rm.Consumers {
		o.closeConsumer(cr)
	}
	for _, pr := range rm.Producers {
		if err := pr.Producer.Close(); err != nil {
			log.Error().Err(err).Str("module", "app.orch").Str("producer", string(pr.ID)).Msg("producer close")
		}
	}
	for _, tr := range rm.Transports {
		if err := tr.Transport.Close(); err != nil {
			log.Error().Err(err).Str("module", "app.orch").Str("transport", string(tr.ID)).Msg("transport close")
		}
	}
}

func (o *Orchestrator) closeConsumer(cr *ConsumerRecord) {
	if err := cr.Consumer.Close(); err != nil {
		log.Error().Err(err).Str("module", "app.orch").Str("consumer", string(cr.ID)).Msg("consumer close")
	}
}
