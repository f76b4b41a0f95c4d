package app

import (
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/openmeet/sfu/internal/core"
	"github.com/openmeet/sfu/internal/domain"
	"github.com/openmeet/sfu/internal/enginetest"
)

var testCodecs = []webrtc.RTPCodecCapability{
	{MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
	{MimeType: "video/VP8", ClockRate: 90000},
}

func newOrchestrator(t *testing.T) (*Orchestrator, *enginetest.Engine) {
	t.Helper()
	engine := enginetest.New()
	pool, err := NewWorkerPool(engine, 2)
	if err != nil {
		t.Fatalf("NewWorkerPool: %v", err)
	}
	return &Orchestrator{
		Workers:  pool,
		Routers:  NewRouterRegistry(pool, testCodecs),
		Sessions: NewSessionRegistry(),
	}, engine
}

func identity(peerID string) domain.Identity {
	return domain.Identity{PeerID: domain.PeerID(peerID), Username: "user-" + peerID}
}

func audioParams() core.RTPParameters {
	return core.RTPParameters{
		Codecs: []webrtc.RTPCodecParameters{{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
			PayloadType:        111,
		}},
		Encodings: []webrtc.RTPCodingParameters{{SSRC: 1111}},
	}
}

func opusCaps() core.RTPCapabilities {
	return core.RTPCapabilities{Codecs: []webrtc.RTPCodecCapability{{MimeType: "audio/opus", ClockRate: 48000, Channels: 2}}}
}

func join(t *testing.T, o *Orchestrator, peerID, room string) {
	t.Helper()
	if _, err := o.JoinRoom(identity(peerID), domain.RoomID(room)); err != nil {
		t.Fatalf("JoinRoom(%s, %s): %v", peerID, room, err)
	}
}

func createTransport(t *testing.T, o *Orchestrator, peerID, room string, dir domain.Direction) *TransportRecord {
	t.Helper()
	rec, err := o.CreateTransport(domain.RoomID(room), domain.PeerID(peerID), dir)
	if err != nil {
		t.Fatalf("CreateTransport(%s, %s): %v", peerID, dir, err)
	}
	return rec
}

func produceAudio(t *testing.T, o *Orchestrator, transportID domain.TransportID) *ProducerRecord {
	t.Helper()
	pr, err := o.Produce(transportID, domain.MediaKindAudio, audioParams(), nil)
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}
	return pr
}

func TestJoinRoom_ReusesRouterForSecondPeer(t *testing.T) {
	o, engine := newOrchestrator(t)

	join(t, o, "p1", "r1")
	join(t, o, "p2", "r1")

	total := 0
	for _, w := range engine.Workers() {
		total += w.RouterCount()
	}
	if total != 1 {
		t.Fatalf("routers created = %d, want 1", total)
	}
	if got := o.Sessions.RoomPeerCount("r1"); got != 2 {
		t.Fatalf("room peer count = %d, want 2", got)
	}
}

func TestJoinRoom_WhileInRoomLeavesFirst(t *testing.T) {
	o, _ := newOrchestrator(t)

	join(t, o, "p1", "r1")
	tr := createTransport(t, o, "p1", "r1", domain.DirectionSend)

	res, err := o.JoinRoom(identity("p1"), "r2")
	if err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	if res.PreviousRoom != "r1" {
		t.Fatalf("PreviousRoom=%s, want r1", res.PreviousRoom)
	}
	if room, _ := o.Sessions.RoomOf("p1"); room != "r2" {
		t.Fatalf("RoomOf=%s, want r2", room)
	}
	// The old room's resources and router are gone.
	if !tr.Transport.(*enginetest.Transport).IsClosed() {
		t.Fatal("old room transport not closed on re-join")
	}
	if _, ok := o.Routers.Get("r1"); ok {
		t.Fatal("empty previous room kept its router")
	}
}

func TestCreateTransport_RequiresMembership(t *testing.T) {
	o, _ := newOrchestrator(t)

	if _, err := o.CreateTransport("r1", "stranger", domain.DirectionSend); !errors.Is(err, ErrPeerNotInRoom) {
		t.Fatalf("err=%v, want ErrPeerNotInRoom", err)
	}

	join(t, o, "p1", "r1")
	if _, err := o.CreateTransport("r2", "p1", domain.DirectionSend); !errors.Is(err, ErrPeerNotInRoom) {
		t.Fatalf("err=%v, want ErrPeerNotInRoom for wrong room", err)
	}
}

func TestCreateTransport_DuplicateDirectionReplacesAndReleases(t *testing.T) {
	o, _ := newOrchestrator(t)
	join(t, o, "p1", "r1")

	first := createTransport(t, o, "p1", "r1", domain.DirectionSend)
	pr := produceAudio(t, o, first.ID)

	second := createTransport(t, o, "p1", "r1", domain.DirectionSend)
	if second.ID == first.ID {
		t.Fatal("replacement transport has same id")
	}
	if !first.Transport.(*enginetest.Transport).IsClosed() {
		t.Fatal("displaced transport not closed")
	}
	if !pr.Producer.(*enginetest.Producer).IsClosed() {
		t.Fatal("producer on displaced transport not closed")
	}
	if _, ok := o.Sessions.TransportByID(first.ID); ok {
		t.Fatal("displaced transport still registered")
	}
}

func TestConnectTransport(t *testing.T) {
	o, _ := newOrchestrator(t)
	join(t, o, "p1", "r1")
	tr := createTransport(t, o, "p1", "r1", domain.DirectionSend)

	if err := o.ConnectTransport(tr.ID, webrtc.DTLSParameters{}); err != nil {
		t.Fatalf("ConnectTransport: %v", err)
	}
	if !tr.Transport.(*enginetest.Transport).Connected() {
		t.Fatal("transport not connected")
	}

	if err := o.ConnectTransport("ghost", webrtc.DTLSParameters{}); !errors.Is(err, ErrTransportNotFound) {
		t.Fatalf("err=%v, want ErrTransportNotFound", err)
	}
}

func TestProduce_RejectsEmptyCodecListBeforeEngine(t *testing.T) {
	o, _ := newOrchestrator(t)
	join(t, o, "p1", "r1")
	tr := createTransport(t, o, "p1", "r1", domain.DirectionSend)

	_, err := o.Produce(tr.ID, domain.MediaKindAudio, core.RTPParameters{}, nil)
	if !errors.Is(err, ErrInvalidRTPParameters) {
		t.Fatalf("err=%v, want ErrInvalidRTPParameters", err)
	}
	if got := o.Stats().Producers; got != 0 {
		t.Fatalf("producers registered = %d, want 0 after validation failure", got)
	}
}

func TestProduce_UnknownTransport(t *testing.T) {
	o, _ := newOrchestrator(t)

	if _, err := o.Produce("ghost", domain.MediaKindAudio, audioParams(), nil); !errors.Is(err, ErrTransportNotFound) {
		t.Fatalf("err=%v, want ErrTransportNotFound", err)
	}
}

func TestConsume_HappyPath(t *testing.T) {
	o, _ := newOrchestrator(t)
	join(t, o, "p1", "r1")
	join(t, o, "p2", "r1")
	send := createTransport(t, o, "p1", "r1", domain.DirectionSend)
	pr := produceAudio(t, o, send.ID)
	createTransport(t, o, "p2", "r1", domain.DirectionRecv)

	cr, err := o.Consume("p2", pr.ID, opusCaps())
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if cr.ProducerID != pr.ID || cr.PeerID != "p2" {
		t.Fatalf("consumer record %+v, want producer=%s peer=p2", cr, pr.ID)
	}
	if cr.Consumer.Kind() != domain.MediaKindAudio {
		t.Fatalf("consumer kind = %s, want audio", cr.Consumer.Kind())
	}
}

func TestConsume_CapabilityMismatchRegistersNothing(t *testing.T) {
	o, _ := newOrchestrator(t)
	join(t, o, "p1", "r1")
	join(t, o, "p2", "r1")
	send := createTransport(t, o, "p1", "r1", domain.DirectionSend)
	pr := produceAudio(t, o, send.ID)
	createTransport(t, o, "p2", "r1", domain.DirectionRecv)

	badCaps := core.RTPCapabilities{Codecs: []webrtc.RTPCodecCapability{{MimeType: "video/H265", ClockRate: 90000}}}
	if _, err := o.Consume("p2", pr.ID, badCaps); !errors.Is(err, ErrCannotConsume) {
		t.Fatalf("err=%v, want ErrCannotConsume", err)
	}
	if got := o.Stats().Consumers; got != 0 {
		t.Fatalf("consumers registered = %d, want 0 after mismatch", got)
	}
}

func TestConsume_PrerequisiteFailures(t *testing.T) {
	o, _ := newOrchestrator(t)
	join(t, o, "p1", "r1")
	join(t, o, "p2", "r1")
	send := createTransport(t, o, "p1", "r1", domain.DirectionSend)
	pr := produceAudio(t, o, send.ID)

	if _, err := o.Consume("p2", "ghost", opusCaps()); !errors.Is(err, ErrProducerNotFound) {
		t.Fatalf("err=%v, want ErrProducerNotFound", err)
	}
	// p2 has not created a recv transport yet.
	if _, err := o.Consume("p2", pr.ID, opusCaps()); !errors.Is(err, ErrNoRecvTransport) {
		t.Fatalf("err=%v, want ErrNoRecvTransport", err)
	}
}

func TestPauseResumeConsumer(t *testing.T) {
	o, _ := newOrchestrator(t)
	join(t, o, "p1", "r1")
	join(t, o, "p2", "r1")
	send := createTransport(t, o, "p1", "r1", domain.DirectionSend)
	pr := produceAudio(t, o, send.ID)
	createTransport(t, o, "p2", "r1", domain.DirectionRecv)
	cr, err := o.Consume("p2", pr.ID, opusCaps())
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}

	if err := o.PauseConsumer(cr.ID); err != nil {
		t.Fatalf("PauseConsumer: %v", err)
	}
	if !cr.Consumer.(*enginetest.Consumer).Paused() {
		t.Fatal("consumer not paused")
	}
	if err := o.ResumeConsumer(cr.ID); err != nil {
		t.Fatalf("ResumeConsumer: %v", err)
	}
	if cr.Consumer.(*enginetest.Consumer).Paused() {
		t.Fatal("consumer still paused after resume")
	}

	if err := o.PauseConsumer("ghost"); !errors.Is(err, ErrConsumerNotFound) {
		t.Fatalf("err=%v, want ErrConsumerNotFound", err)
	}
}

func TestCloseProducer_CascadesToConsumers(t *testing.T) {
	o, _ := newOrchestrator(t)
	join(t, o, "p1", "r1")
	join(t, o, "p2", "r1")
	send := createTransport(t, o, "p1", "r1", domain.DirectionSend)
	pr := produceAudio(t, o, send.ID)
	createTransport(t, o, "p2", "r1", domain.DirectionRecv)
	cr, err := o.Consume("p2", pr.ID, opusCaps())
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}

	closedPr, closedConsumers := o.CloseProducer(pr.ID)
	if closedPr == nil || len(closedConsumers) != 1 {
		t.Fatalf("CloseProducer returned (%v, %d consumers), want producer + 1 consumer", closedPr, len(closedConsumers))
	}
	if !pr.Producer.(*enginetest.Producer).IsClosed() {
		t.Fatal("engine producer not closed")
	}
	if !cr.Consumer.(*enginetest.Consumer).IsClosed() {
		t.Fatal("engine consumer not closed")
	}

	// Absent producer is a no-op.
	if closedPr, closedConsumers := o.CloseProducer(pr.ID); closedPr != nil || closedConsumers != nil {
		t.Fatal("second CloseProducer not a no-op")
	}
}

func TestRemovePeer_DisconnectCascade(t *testing.T) {
	o, _ := newOrchestrator(t)
	join(t, o, "p1", "r1")
	join(t, o, "p2", "r1")

	// p1 owns: 1 send transport, 2 producers, 1 consumer (of p2's stream).
	send1 := createTransport(t, o, "p1", "r1", domain.DirectionSend)
	prA := produceAudio(t, o, send1.ID)
	prB, err := o.Produce(send1.ID, domain.MediaKindVideo, core.RTPParameters{
		Codecs: []webrtc.RTPCodecParameters{{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: "video/VP8", ClockRate: 90000},
			PayloadType:        96,
		}},
	}, nil)
	if err != nil {
		t.Fatalf("Produce video: %v", err)
	}
	recv1 := createTransport(t, o, "p1", "r1", domain.DirectionRecv)
	send2 := createTransport(t, o, "p2", "r1", domain.DirectionSend)
	prP2 := produceAudio(t, o, send2.ID)
	crP1, err := o.Consume("p1", prP2.ID, opusCaps())
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}

	removal, found := o.RemovePeer("p1")
	if !found {
		t.Fatal("RemovePeer did not find p1")
	}
	if removal.RoomID != "r1" || removal.RoomClosed {
		t.Fatalf("removal=%+v, want room r1 still open (p2 present)", removal)
	}
	if len(removal.Removed.Transports) != 2 ||
		len(removal.Removed.Producers) != 2 ||
		len(removal.Removed.Consumers) != 1 {
		t.Fatalf("removed %d/%d/%d transports/producers/consumers, want 2/2/1",
			len(removal.Removed.Transports), len(removal.Removed.Producers), len(removal.Removed.Consumers))
	}
	for _, tr := range []*TransportRecord{send1, recv1} {
		if !tr.Transport.(*enginetest.Transport).IsClosed() {
			t.Fatalf("transport %s not closed", tr.ID)
		}
	}
	for _, pr := range []*ProducerRecord{prA, prB} {
		if !pr.Producer.(*enginetest.Producer).IsClosed() {
			t.Fatalf("producer %s not closed", pr.ID)
		}
	}
	if !crP1.Consumer.(*enginetest.Consumer).IsClosed() {
		t.Fatal("p1's consumer not closed")
	}

	// Second removal (leave racing disconnect) is a no-op.
	if _, found := o.RemovePeer("p1"); found {
		t.Fatal("second RemovePeer found the peer again")
	}

	// Last occupant leaving closes the router and drops the room.
	router, _ := o.Routers.Get("r1")
	removal, found = o.RemovePeer("p2")
	if !found || !removal.RoomClosed {
		t.Fatalf("removal=%+v found=%v, want room closed for sole occupant", removal, found)
	}
	if !router.(*enginetest.Router).Closed() {
		t.Fatal("router not closed when room emptied")
	}
	if _, ok := o.Routers.Get("r1"); ok {
		t.Fatal("room still holds a router after close")
	}
}

func TestStats(t *testing.T) {
	o, _ := newOrchestrator(t)
	join(t, o, "p1", "r1")
	send := createTransport(t, o, "p1", "r1", domain.DirectionSend)
	produceAudio(t, o, send.ID)

	got := o.Stats()
	want := Stats{Workers: 2, Routers: 1, Rooms: 1, Peers: 1, Transports: 1, Producers: 1}
	if got != want {
		t.Fatalf("Stats=%+v, want %+v", got, want)
	}

	rs := o.RoomStats("r1")
	if rs.ParticipantCount != 1 || rs.Participants[0].PeerID != "p1" {
		t.Fatalf("RoomStats=%+v, want p1 only", rs)
	}
}
