package signal

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"

	"github.com/openmeet/sfu/internal/core"
	"github.com/openmeet/sfu/internal/domain"
)

func (ctl *Controller) handleRouterCapabilities(c *Conn, data json.RawMessage) {
	var p struct {
		RoomID string `json:"roomId"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" {
		ctl.sendError(c, "bad get-router-rtp-capabilities payload")
		return
	}

	caps, err := ctl.Orch.RouterCapabilities(domain.RoomID(p.RoomID))
	if err != nil {
		ctl.sendError(c, err.Error())
		return
	}
	ctl.reply(c, "router-rtp-capabilities", map[string]any{"capabilities": caps})
}

func (ctl *Controller) handleCreateTransport(c *Conn, data json.RawMessage) {
	var p struct {
		Direction string `json:"direction"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(c, "bad create-webrtc-transport payload")
		return
	}
	dir, err := domain.ParseDirection(p.Direction)
	if err != nil {
		ctl.sendError(c, err.Error())
		return
	}
	roomID, ok := ctl.Orch.Sessions.RoomOf(c.identity.PeerID)
	if !ok {
		ctl.sendError(c, "not in a room")
		return
	}

	rec, err := ctl.Orch.CreateTransport(roomID, c.identity.PeerID, dir)
	if err != nil {
		ctl.sendError(c, err.Error())
		return
	}
	info := rec.Transport.Info()
	ctl.reply(c, "webrtc-transport-created", map[string]any{
		"direction":      string(dir),
		"id":             string(rec.ID),
		"iceParameters":  info.ICEParameters,
		"iceCandidates":  info.ICECandidates,
		"dtlsParameters": info.DTLSParameters,
	})
}

func (ctl *Controller) handleConnectTransport(c *Conn, data json.RawMessage) {
	var p struct {
		TransportID    string                `json:"transportId"`
		DTLSParameters webrtc.DTLSParameters `json:"dtlsParameters"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.TransportID == "" {
		ctl.sendError(c, "bad connect-transport payload")
		return
	}

	if err := ctl.Orch.ConnectTransport(domain.TransportID(p.TransportID), p.DTLSParameters); err != nil {
		ctl.sendError(c, err.Error())
		return
	}
	ctl.reply(c, "transport-connected", map[string]string{"transportId": p.TransportID})
}

func (ctl *Controller) handleProduce(c *Conn, data json.RawMessage) {
	var p struct {
		TransportID   string             `json:"transportId"`
		Kind          string             `json:"kind"`
		RTPParameters core.RTPParameters `json:"rtpParameters"`
		AppData       map[string]any     `json:"appData"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.TransportID == "" {
		ctl.sendError(c, "bad produce payload")
		return
	}
	kind, err := domain.ParseMediaKind(p.Kind)
	if err != nil {
		ctl.sendError(c, err.Error())
		return
	}

	pr, err := ctl.Orch.Produce(domain.TransportID(p.TransportID), kind, p.RTPParameters, p.AppData)
	if err != nil {
		ctl.sendError(c, err.Error())
		return
	}
	ctl.reply(c, "produced", map[string]string{
		"id":   string(pr.ID),
		"kind": string(pr.Kind),
	})
	ctl.broadcast(pr.RoomID, pr.PeerID, "new-producer", map[string]string{
		"peerId":     string(pr.PeerID),
		"producerId": string(pr.ID),
		"kind":       string(pr.Kind),
	})
}

func (ctl *Controller) handleConsume(c *Conn, data json.RawMessage) {
	var p struct {
		ProducerID      string               `json:"producerId"`
		RTPCapabilities core.RTPCapabilities `json:"rtpCapabilities"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.ProducerID == "" {
		ctl.sendError(c, "bad consume payload")
		return
	}

	cr, err := ctl.Orch.Consume(c.identity.PeerID, domain.ProducerID(p.ProducerID), p.RTPCapabilities)
	if err != nil {
		ctl.sendError(c, err.Error())
		return
	}
	ctl.reply(c, "consumed", map[string]any{
		"id":            string(cr.ID),
		"producerId":    string(cr.ProducerID),
		"kind":          string(cr.Consumer.Kind()),
		"rtpParameters": cr.Consumer.RTPParameters(),
	})
}

func (ctl *Controller) handlePauseConsumer(c *Conn, data json.RawMessage) {
	var p struct {
		ConsumerID string `json:"consumerId"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.ConsumerID == "" {
		ctl.sendError(c, "bad pause-consumer payload")
		return
	}
	if err := ctl.Orch.PauseConsumer(domain.ConsumerID(p.ConsumerID)); err != nil {
		ctl.sendError(c, err.Error())
		return
	}
	ctl.reply(c, "consumer-paused", map[string]string{"consumerId": p.ConsumerID})
}

func (ctl *Controller) handleResumeConsumer(c *Conn, data json.RawMessage) {
	var p struct {
		ConsumerID string `json:"consumerId"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.ConsumerID == "" {
		ctl.sendError(c, "bad resume-consumer payload")
		return
	}
	if err := ctl.Orch.ResumeConsumer(domain.ConsumerID(p.ConsumerID)); err != nil {
		ctl.sendError(c, err.Error())
		return
	}
	ctl.reply(c, "consumer-resumed", map[string]string{"consumerId": p.ConsumerID})
}

func (ctl *Controller) handleCloseProducer(c *Conn, data json.RawMessage) {
	var p struct {
		ProducerID string `json:"producerId"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.ProducerID == "" {
		ctl.sendError(c, "bad close-producer payload")
		return
	}

	pr, _ := ctl.Orch.CloseProducer(domain.ProducerID(p.ProducerID))
	if pr == nil {
		ctl.sendError(c, "producer not found")
		return
	}
	ctl.reply(c, "producer-closed", map[string]string{"producerId": p.ProducerID})
	ctl.broadcast(pr.RoomID, pr.PeerID, "producer-closed", map[string]string{
		"peerId":     string(pr.PeerID),
		"producerId": p.ProducerID,
	})
}
