package signal

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/openmeet/sfu/internal/core"
	"github.com/openmeet/sfu/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

// Event is the envelope every signaling message travels in, both directions.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func newEvent(name string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Event: name, Data: data}, nil
}

// Conn is one websocket connection bound to a verified identity. A peer may
// hold several connections at once; media state is per peer, signaling state
// is per connection.
type Conn struct {
	id       string
	identity domain.Identity

	ws   *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func newConn(id string, identity domain.Identity, ws *websocket.Conn) *Conn {
	return &Conn{
		id:       id,
		identity: identity,
		ws:       ws,
		send:     make(chan core.Frame, 32),
	}
}

func (c *Conn) Identity() domain.Identity { return c.identity }

func (c *Conn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.ws.Close()
	c.mu.Unlock()
}

// Hub is the fan-out table. Delivery is fire-and-forget: a slow or gone
// recipient is logged and skipped, never reported to the sender.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]*Conn
	byPeer map[domain.PeerID]map[string]*Conn
}

func NewHub() *Hub {
	return &Hub{
		conns:  make(map[string]*Conn),
		byPeer: make(map[domain.PeerID]map[string]*Conn),
	}
}

func (h *Hub) Add(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.id] = c
	peerConns, ok := h.byPeer[c.identity.PeerID]
	if !ok {
		peerConns = make(map[string]*Conn)
		h.byPeer[c.identity.PeerID] = peerConns
	}
	peerConns[c.id] = c
}

// Remove drops the connection and reports whether it was the peer's last one.
// Media teardown keys off that flag.
func (h *Hub) Remove(c *Conn) (last bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c.id]; !ok {
		return false
	}
	delete(h.conns, c.id)
	peerConns := h.byPeer[c.identity.PeerID]
	delete(peerConns, c.id)
	if len(peerConns) == 0 {
		delete(h.byPeer, c.identity.PeerID)
		return true
	}
	return false
}

// ToPeer delivers an event to every connection the peer holds.
func (h *Hub) ToPeer(peerID domain.PeerID, ev Event) {
	frame, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("event", ev.Event).Msg("marshal event")
		return
	}
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.byPeer[peerID]))
	for _, c := range h.byPeer[peerID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		h.deliver(c, frame, ev.Event)
	}
}

// ToRoom delivers an event to every listed peer except the excluded one.
func (h *Hub) ToRoom(peers []domain.Identity, exclude domain.PeerID, ev Event) {
	for _, id := range peers {
		if id.PeerID == exclude {
			continue
		}
		h.ToPeer(id.PeerID, ev)
	}
}

func (h *Hub) deliver(c *Conn, frame core.Frame, event string) {
	if err := c.TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "signal").
			Str("conn", c.id).Str("peer", string(c.identity.PeerID)).Str("event", event).
			Msg("dropping event")
	}
}
