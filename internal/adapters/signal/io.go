package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/openmeet/sfu/internal/domain"
)

func (ctl *Controller) writePump(ctx context.Context, c *Conn) {
	ticker := time.NewTicker(ctl.pingPeriod())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("conn", c.id).Msg("writePump set deadline")
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("conn", c.id).Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, c *Conn) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", c.id).
			Str("peer", string(c.identity.PeerID)).Msg("readPump closing")
		ctl.onDisconnect(c)
		cancel()
		c.Close()
	}()

	c.ws.SetReadLimit(ctl.readLimit())
	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.ws.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Error().Err(err).Str("module", "signal").Str("conn", c.id).Msg("readPump read error")
				}
				return
			}
			ctl.handleEvent(c, data)
		}
	}
}

func (ctl *Controller) handleEvent(c *Conn, data []byte) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("conn", c.id).Msg("bad json")
		ctl.sendError(c, "malformed message")
		return
	}

	switch ev.Event {
	case "join-room":
		ctl.handleJoinRoom(c, ev.Data)
	case "leave-room":
		ctl.handleLeaveRoom(c)
	case "get-producers":
		ctl.handleGetProducers(c)
	case "get-router-rtp-capabilities":
		ctl.handleRouterCapabilities(c, ev.Data)
	case "create-webrtc-transport":
		ctl.handleCreateTransport(c, ev.Data)
	case "connect-transport":
		ctl.handleConnectTransport(c, ev.Data)
	case "produce":
		ctl.handleProduce(c, ev.Data)
	case "consume":
		ctl.handleConsume(c, ev.Data)
	case "pause-consumer":
		ctl.handlePauseConsumer(c, ev.Data)
	case "resume-consumer":
		ctl.handleResumeConsumer(c, ev.Data)
	case "close-producer":
		ctl.handleCloseProducer(c, ev.Data)
	default:
		log.Warn().Str("module", "signal").Str("event", ev.Event).Msg("unknown event")
		ctl.sendError(c, "unknown event: "+ev.Event)
	}
}

// reply sends an event to the originating connection only.
func (ctl *Controller) reply(c *Conn, name string, payload any) {
	ev, err := newEvent(name, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("event", name).Msg("marshal reply")
		return
	}
	frame, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("event", name).Msg("marshal reply")
		return
	}
	ctl.Hub.deliver(c, frame, name)
}

func (ctl *Controller) sendError(c *Conn, message string) {
	ctl.reply(c, "error", map[string]string{"message": message})
}

// broadcast fans an event out to every peer in the room except one.
func (ctl *Controller) broadcast(roomID domain.RoomID, exclude domain.PeerID, name string, payload any) {
	ev, err := newEvent(name, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("event", name).Msg("marshal broadcast")
		return
	}
	ctl.Hub.ToRoom(ctl.Orch.Sessions.PeersInRoom(roomID), exclude, ev)
}
