package app

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openmeet/sfu/internal/core"
	"github.com/openmeet/sfu/internal/domain"
)

// TransportRecord ties an engine transport to its owning peer and room.
type TransportRecord struct {
	ID        domain.TransportID
	PeerID    domain.PeerID
	RoomID    domain.RoomID
	Direction domain.Direction
	Transport core.Transport
}

// ProducerRecord ties an engine producer to the send transport it lives on.
type ProducerRecord struct {
	ID          domain.ProducerID
	PeerID      domain.PeerID
	RoomID      domain.RoomID
	TransportID domain.TransportID
	Kind        domain.MediaKind
	Producer    core.Producer
	AppData     map[string]any
}

// ConsumerRecord ties an engine consumer to the consuming peer's recv
// transport and to the producer it drains.
type ConsumerRecord struct {
	ID          domain.ConsumerID
	PeerID      domain.PeerID
	RoomID      domain.RoomID
	TransportID domain.TransportID
	ProducerID  domain.ProducerID
	Consumer    core.Consumer
}

type peerEntry struct {
	identity  domain.Identity
	roomID    domain.RoomID
	send      *TransportRecord
	recv      *TransportRecord
	producers map[domain.ProducerID]*ProducerRecord
	consumers map[domain.ConsumerID]*ConsumerRecord
	joinedAt  time.Time
}

// Removed reports everything a mutation released from the registry. The
// caller owns releasing the matching engine resources exactly once; nothing
// is ever dropped silently.
type Removed struct {
	Transports []*TransportRecord
	Producers  []*ProducerRecord
	Consumers  []*ConsumerRecord
}

func (r Removed) Empty() bool {
	return len(r.Transports) == 0 && len(r.Producers) == 0 && len(r.Consumers) == 0
}

// SessionRegistry is the single source of truth for the ownership graph
// rooms -> peers -> transports -> producers/consumers. Pure bookkeeping: it
// never calls the engine.
type SessionRegistry struct {
	mu         sync.RWMutex
	peers      map[domain.PeerID]*peerEntry
	rooms      map[domain.RoomID]map[domain.PeerID]struct{}
	transports map[domain.TransportID]*TransportRecord
	producers  map[domain.ProducerID]*ProducerRecord
	consumers  map[domain.ConsumerID]*ConsumerRecord
	// byProducer lets closeProducer find its consumers without scanning
	// every consuming peer.
	byProducer map[domain.ProducerID]map[domain.ConsumerID]struct{}
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		peers:      make(map[domain.PeerID]*peerEntry),
		rooms:      make(map[domain.RoomID]map[domain.PeerID]struct{}),
		transports: make(map[domain.TransportID]*TransportRecord),
		producers:  make(map[domain.ProducerID]*ProducerRecord),
		consumers:  make(map[domain.ConsumerID]*ConsumerRecord),
		byProducer: make(map[domain.ProducerID]map[domain.ConsumerID]struct{}),
	}
}

// RegisterPeer binds the peer to a room, creating the entry on first join.
func (s *SessionRegistry) RegisterPeer(id domain.Identity, roomID domain.RoomID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.peers[id.PeerID]
	if !ok {
		entry = &peerEntry{
			identity:  id,
			producers: make(map[domain.ProducerID]*ProducerRecord),
			consumers: make(map[domain.ConsumerID]*ConsumerRecord),
			joinedAt:  time.Now(),
		}
		s.peers[id.PeerID] = entry
	}
	entry.identity = id
	entry.roomID = roomID
	peersOfRoom, ok := s.rooms[roomID]
	if !ok {
		peersOfRoom = make(map[domain.PeerID]struct{})
		s.rooms[roomID] = peersOfRoom
	}
	peersOfRoom[id.PeerID] = struct{}{}
	log.Info().Str("module", "app.registry").Str("peer", string(id.PeerID)).Str("room", string(roomID)).Msg("peer registered")
}

// RoomOf returns the room the peer is currently joined to.
func (s *SessionRegistry) RoomOf(peerID domain.PeerID) (domain.RoomID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.peers[peerID]
	if !ok || entry.roomID == "" {
		return "", false
	}
	return entry.roomID, true
}

// AttachTransport records a new transport for the peer. A same-direction
// duplicate displaces the old transport and everything on it; the displaced
// subtree is returned so the caller can release it (replace-and-release).
func (s *SessionRegistry) AttachTransport(rec *TransportRecord) (Removed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.peers[rec.PeerID]
	if !ok || entry.roomID != rec.RoomID {
		return Removed{}, ErrPeerNotInRoom
	}

	var displaced Removed
	switch rec.Direction {
	case domain.DirectionSend:
		if entry.send != nil {
			s.removeTransportLocked(entry.send, &displaced)
		}
		entry.send = rec
	case domain.DirectionRecv:
		if entry.recv != nil {
			s.removeTransportLocked(entry.recv, &displaced)
		}
		entry.recv = rec
	}
	s.transports[rec.ID] = rec
	return displaced, nil
}

// AttachProducer fails if the owning transport disappeared between the
// engine call and this registration, so the caller can roll the engine
// object back.
func (s *SessionRegistry) AttachProducer(rec *ProducerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.peers[rec.PeerID]
	if !ok {
		return ErrPeerNotInRoom
	}
	if _, ok := s.transports[rec.TransportID]; !ok {
		return ErrTransportNotFound
	}
	entry.producers[rec.ID] = rec
	s.producers[rec.ID] = rec
	s.byProducer[rec.ID] = make(map[domain.ConsumerID]struct{})
	return nil
}

func (s *SessionRegistry) AttachConsumer(rec *ConsumerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.peers[rec.PeerID]
	if !ok {
		return ErrPeerNotInRoom
	}
	if _, ok := s.transports[rec.TransportID]; !ok {
		return ErrTransportNotFound
	}
	if _, ok := s.producers[rec.ProducerID]; !ok {
		return ErrProducerNotFound
	}
	entry.consumers[rec.ID] = rec
	s.consumers[rec.ID] = rec
	s.byProducer[rec.ProducerID][rec.ID] = struct{}{}
	return nil
}

// DetachProducer removes the producer and every consumer referencing it.
// Nil when the producer is unknown.
func (s *SessionRegistry) DetachProducer(producerID domain.ProducerID) (*ProducerRecord, []*ConsumerRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.producers[producerID]
	if !ok {
		return nil, nil
	}
	var rm Removed
	s.removeProducerLocked(rec, &rm)
	return rec, rm.Consumers
}

// DetachConsumer removes a single consumer. Nil when unknown.
func (s *SessionRegistry) DetachConsumer(consumerID domain.ConsumerID) *ConsumerRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.consumers[consumerID]
	if !ok {
		return nil
	}
	var rm Removed
	s.removeConsumerLocked(rec, &rm)
	return rec
}

// RemovePeer releases the peer's whole subtree: both transports, all
// producers (plus every consumer of those producers, wherever it lives) and
// all consumers the peer owns. Idempotent: a second call finds nothing and
// returns the zero value.
func (s *SessionRegistry) RemovePeer(peerID domain.PeerID) (Removed, domain.RoomID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.peers[peerID]
	if !ok {
		return Removed{}, "", false
	}

	var rm Removed
	if entry.send != nil {
		s.removeTransportLocked(entry.send, &rm)
		entry.send = nil
	}
	if entry.recv != nil {
		s.removeTransportLocked(entry.recv, &rm)
		entry.recv = nil
	}
	for _, pr := range entry.producers {
		s.removeProducerLocked(pr, &rm)
	}
	for _, cr := range entry.consumers {
		s.removeConsumerLocked(cr, &rm)
	}

	roomID := entry.roomID
	if peersOfRoom, ok := s.rooms[roomID]; ok {
		delete(peersOfRoom, peerID)
		if len(peersOfRoom) == 0 {
			delete(s.rooms, roomID)
		}
	}
	delete(s.peers, peerID)
	log.Info().Str("module", "app.registry").Str("peer", string(peerID)).Str("room", string(roomID)).
		Int("transports", len(rm.Transports)).Int("producers", len(rm.Producers)).Int("consumers", len(rm.Consumers)).
		Msg("peer removed")
	return rm, roomID, true
}

func (s *SessionRegistry) removeTransportLocked(tr *TransportRecord, rm *Removed) {
	if _, ok := s.transports[tr.ID]; !ok {
		return
	}
	delete(s.transports, tr.ID)
	if owner, ok := s.peers[tr.PeerID]; ok {
		for _, pr := range owner.producers {
			if pr.TransportID == tr.ID {
				s.removeProducerLocked(pr, rm)
			}
		}
		for _, cr := range owner.consumers {
			if cr.TransportID == tr.ID {
				s.removeConsumerLocked(cr, rm)
			}
		}
		if owner.send == tr {
			owner.send = nil
		}
		if owner.recv == tr {
			owner.recv = nil
		}
	}
	rm.Transports = append(rm.Transports, tr)
}

func (s *SessionRegistry) removeProducerLocked(pr *ProducerRecord, rm *Removed) {
	if _, ok := s.producers[pr.ID]; !ok {
		return
	}
	delete(s.producers, pr.ID)
	if owner, ok := s.peers[pr.PeerID]; ok {
		delete(owner.producers, pr.ID)
	}
	for consumerID := range s.byProducer[pr.ID] {
		if cr, ok := s.consumers[consumerID]; ok {
			s.removeConsumerLocked(cr, rm)
		}
	}
	delete(s.byProducer, pr.ID)
	rm.Producers = append(rm.Producers, pr)
}

func (s *SessionRegistry) removeConsumerLocked(cr *ConsumerRecord, rm *Removed) {
	if _, ok := s.consumers[cr.ID]; !ok {
		return
	}
	delete(s.consumers, cr.ID)
	if owner, ok := s.peers[cr.PeerID]; ok {
		delete(owner.consumers, cr.ID)
	}
	if set, ok := s.byProducer[cr.ProducerID]; ok {
		delete(set, cr.ID)
	}
	rm.Consumers = append(rm.Consumers, cr)
}

func (s *SessionRegistry) TransportByID(id domain.TransportID) (*TransportRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.transports[id]
	return rec, ok
}

func (s *SessionRegistry) ProducerByID(id domain.ProducerID) (*ProducerRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.producers[id]
	return rec, ok
}

func (s *SessionRegistry) ConsumerByID(id domain.ConsumerID) (*ConsumerRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.consumers[id]
	return rec, ok
}

// RecvTransport returns the peer's receive transport, required before the
// peer may consume anything.
func (s *SessionRegistry) RecvTransport(peerID domain.PeerID) (*TransportRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.peers[peerID]
	if !ok || entry.recv == nil {
		return nil, false
	}
	return entry.recv, true
}

// PeersInRoom snapshots the identities presently joined to a room.
func (s *SessionRegistry) PeersInRoom(roomID domain.RoomID) []domain.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Identity, 0, len(s.rooms[roomID]))
	for peerID := range s.rooms[roomID] {
		if entry, ok := s.peers[peerID]; ok {
			out = append(out, entry.identity)
		}
	}
	return out
}

// RoomPeerCount reports how many peers are joined to a room.
func (s *SessionRegistry) RoomPeerCount(roomID domain.RoomID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms[roomID])
}

// RoomProducers lists the producers published in a room, optionally skipping
// one peer (the requester, who does not consume its own streams).
func (s *SessionRegistry) RoomProducers(roomID domain.RoomID, exclude domain.PeerID) []*ProducerRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*ProducerRecord
	for peerID := range s.rooms[roomID] {
		if peerID == exclude {
			continue
		}
		entry, ok := s.peers[peerID]
		if !ok {
			continue
		}
		for _, pr := range entry.producers {
			out = append(out, pr)
		}
	}
	return out
}

// Counts returns the registry-wide totals for the stats surface.
func (s *SessionRegistry) Counts() (rooms, peers, transports, producers, consumers int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms), len(s.peers), len(s.transports), len(s.producers), len(s.consumers)
}
