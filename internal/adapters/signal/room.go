package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/openmeet/sfu/internal/domain"
)

func (ctl *Controller) handleJoinRoom(c *Conn, data json.RawMessage) {
	var p struct {
		RoomID string `json:"roomId"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" {
		ctl.sendError(c, "bad join-room payload")
		return
	}
	roomID := domain.RoomID(p.RoomID)

	res, err := ctl.Orch.JoinRoom(c.identity, roomID)
	if err != nil {
		ctl.sendError(c, err.Error())
		return
	}
	if res.PreviousRoom != "" && res.PreviousRoom != roomID {
		ctl.broadcast(res.PreviousRoom, c.identity.PeerID, "peer-left",
			map[string]string{"peerId": string(c.identity.PeerID)})
	}

	ctl.reply(c, "joined-room", map[string]string{"roomId": p.RoomID})
	ctl.broadcast(roomID, c.identity.PeerID, "peer-joined", map[string]string{
		"peerId":   string(c.identity.PeerID),
		"username": c.identity.Username,
	})
}

func (ctl *Controller) handleLeaveRoom(c *Conn) {
	removal, found := ctl.Orch.RemovePeer(c.identity.PeerID)
	if !found {
		return
	}
	ctl.broadcast(removal.RoomID, c.identity.PeerID, "peer-left",
		map[string]string{"peerId": string(c.identity.PeerID)})
}

func (ctl *Controller) handleGetProducers(c *Conn) {
	roomID, ok := ctl.Orch.Sessions.RoomOf(c.identity.PeerID)
	if !ok {
		ctl.sendError(c, "not in a room")
		return
	}

	type producerInfo struct {
		ID     string `json:"id"`
		PeerID string `json:"peerId"`
		Kind   string `json:"kind"`
	}
	producers := make([]producerInfo, 0)
	for _, pr := range ctl.Orch.Sessions.RoomProducers(roomID, c.identity.PeerID) {
		producers = append(producers, producerInfo{
			ID:     string(pr.ID),
			PeerID: string(pr.PeerID),
			Kind:   string(pr.Kind),
		})
	}
	ctl.reply(c, "producers", map[string]any{"producers": producers})
}

// onDisconnect runs when a connection's read pump exits. Media teardown only
// happens when the peer's last connection is gone; a racing explicit
// leave-room is harmless because the removal cascade is idempotent.
func (ctl *Controller) onDisconnect(c *Conn) {
	if !ctl.Hub.Remove(c) {
		return
	}
	removal, found := ctl.Orch.RemovePeer(c.identity.PeerID)
	if !found {
		return
	}
	log.Info().Str("module", "signal").Str("peer", string(c.identity.PeerID)).
		Str("room", string(removal.RoomID)).Bool("room_closed", removal.RoomClosed).
		Msg("peer disconnected")
	ctl.broadcast(removal.RoomID, c.identity.PeerID, "peer-left",
		map[string]string{"peerId": string(c.identity.PeerID)})
}
