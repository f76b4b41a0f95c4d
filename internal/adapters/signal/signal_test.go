package signal

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/openmeet/sfu/internal/app"
	"github.com/openmeet/sfu/internal/auth"
	"github.com/openmeet/sfu/internal/core"
	"github.com/openmeet/sfu/internal/enginetest"
)

const testSecret = "s3cret"

func signToken(t *testing.T, peerID, username string) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payloadJSON, err := json.Marshal(map[string]any{
		"peerId":   peerID,
		"username": username,
		"exp":      time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	body := base64.RawURLEncoding.EncodeToString(payloadJSON)
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(header + "." + body))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return header + "." + body + "." + sig
}

func newTestServer(t *testing.T) (*httptest.Server, *app.Orchestrator, *enginetest.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	engine := enginetest.New()
	workers, err := app.NewWorkerPool(engine, 2)
	if err != nil {
		t.Fatalf("NewWorkerPool: %v", err)
	}
	orch := &app.Orchestrator{
		Workers: workers,
		Routers: app.NewRouterRegistry(workers, []webrtc.RTPCodecCapability{
			{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		}),
		Sessions: app.NewSessionRegistry(),
	}
	ctl := NewController(orch, NewHub(), auth.NewVerifier(testSecret))

	r := gin.New()
	r.GET("/api/ws", func(c *gin.Context) {
		ctl.HandleSignal(context.Background(), c)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, orch, engine
}

func dial(t *testing.T, srv *httptest.Server, peerID, username string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws?token=" + signToken(t, peerID, username)
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", peerID, err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal %s payload: %v", event, err)
	}
	if err := ws.WriteJSON(Event{Event: event, Data: data}); err != nil {
		t.Fatalf("send %s: %v", event, err)
	}
}

// waitFor reads events until the named one arrives, skipping unrelated
// broadcasts interleaved by other peers' activity.
func waitFor(t *testing.T, ws *websocket.Conn, event string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		_ = ws.SetReadDeadline(deadline)
		var ev Event
		if err := ws.ReadJSON(&ev); err != nil {
			t.Fatalf("waiting for %s: %v", event, err)
		}
		if ev.Event != event {
			continue
		}
		var payload map[string]any
		if len(ev.Data) > 0 {
			if err := json.Unmarshal(ev.Data, &payload); err != nil {
				t.Fatalf("unmarshal %s payload: %v", event, err)
			}
		}
		return payload
	}
}

func joinRoom(t *testing.T, ws *websocket.Conn, roomID string) {
	t.Helper()
	send(t, ws, "join-room", map[string]string{"roomId": roomID})
	if got := waitFor(t, ws, "joined-room"); got["roomId"] != roomID {
		t.Fatalf("joined-room roomId=%v, want %s", got["roomId"], roomID)
	}
}

func opusParams() map[string]any {
	return map[string]any{
		"codecs": []map[string]any{
			{"mimeType": "audio/opus", "clockRate": 48000, "channels": 2, "payloadType": 111},
		},
	}
}

func routersCreated(engine *enginetest.Engine) int {
	total := 0
	for _, w := range engine.Workers() {
		total += w.RouterCount()
	}
	return total
}

func TestHandleSignal_RejectsBadToken(t *testing.T) {
	srv, _, _ := newTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws?token=not-a-token"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial succeeded with a bad token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("resp=%+v, want 401", resp)
	}
}

func TestJoinRoom_NotifiesExistingPeersAndReusesRouter(t *testing.T) {
	srv, _, engine := newTestServer(t)

	p1 := dial(t, srv, "p1", "alice")
	joinRoom(t, p1, "r1")

	p2 := dial(t, srv, "p2", "bob")
	joinRoom(t, p2, "r1")

	got := waitFor(t, p1, "peer-joined")
	if got["peerId"] != "p2" || got["username"] != "bob" {
		t.Fatalf("peer-joined payload=%v, want p2/bob", got)
	}
	if n := routersCreated(engine); n != 1 {
		t.Fatalf("routers created = %d, want 1 (reused for second join)", n)
	}
}

func TestProduce_BroadcastsNewProducer(t *testing.T) {
	srv, _, _ := newTestServer(t)

	p1 := dial(t, srv, "p1", "alice")
	joinRoom(t, p1, "r1")
	p2 := dial(t, srv, "p2", "bob")
	joinRoom(t, p2, "r1")

	send(t, p1, "create-webrtc-transport", map[string]string{"direction": "send"})
	created := waitFor(t, p1, "webrtc-transport-created")
	transportID, _ := created["id"].(string)
	if transportID == "" {
		t.Fatalf("webrtc-transport-created payload=%v, want id", created)
	}

	send(t, p1, "connect-transport", map[string]any{
		"transportId":    transportID,
		"dtlsParameters": map[string]any{},
	})
	waitFor(t, p1, "transport-connected")

	send(t, p1, "produce", map[string]any{
		"transportId":   transportID,
		"kind":          "audio",
		"rtpParameters": opusParams(),
	})
	produced := waitFor(t, p1, "produced")
	if produced["kind"] != "audio" {
		t.Fatalf("produced payload=%v, want kind=audio", produced)
	}

	np := waitFor(t, p2, "new-producer")
	if np["peerId"] != "p1" || np["kind"] != "audio" || np["producerId"] != produced["id"] {
		t.Fatalf("new-producer payload=%v, want p1/audio/%v", np, produced["id"])
	}
}

func TestConsume_MismatchedCapabilitiesIsAnError(t *testing.T) {
	srv, orch, _ := newTestServer(t)

	p1 := dial(t, srv, "p1", "alice")
	joinRoom(t, p1, "r1")
	p2 := dial(t, srv, "p2", "bob")
	joinRoom(t, p2, "r1")

	send(t, p1, "create-webrtc-transport", map[string]string{"direction": "send"})
	transportID := waitFor(t, p1, "webrtc-transport-created")["id"].(string)
	send(t, p1, "produce", map[string]any{
		"transportId":   transportID,
		"kind":          "audio",
		"rtpParameters": opusParams(),
	})
	producerID := waitFor(t, p1, "produced")["id"].(string)

	send(t, p2, "create-webrtc-transport", map[string]string{"direction": "recv"})
	waitFor(t, p2, "webrtc-transport-created")

	// Video-only capabilities cannot cover an audio producer.
	send(t, p2, "consume", map[string]any{
		"producerId": producerID,
		"rtpCapabilities": map[string]any{
			"codecs": []map[string]any{{"mimeType": "video/VP8", "clockRate": 90000}},
		},
	})
	got := waitFor(t, p2, "error")
	if msg, _ := got["message"].(string); msg == "" {
		t.Fatalf("error payload=%v, want a message", got)
	}

	_, _, _, _, consumers := orch.Sessions.Counts()
	if consumers != 0 {
		t.Fatalf("consumers registered = %d, want 0", consumers)
	}
}

func TestDisconnect_CascadesAndNotifiesRoom(t *testing.T) {
	srv, orch, _ := newTestServer(t)

	p1 := dial(t, srv, "p1", "alice")
	joinRoom(t, p1, "r1")
	p2 := dial(t, srv, "p2", "bob")
	joinRoom(t, p2, "r1")
	waitFor(t, p1, "peer-joined")

	send(t, p1, "create-webrtc-transport", map[string]string{"direction": "send"})
	transportID := waitFor(t, p1, "webrtc-transport-created")["id"].(string)
	send(t, p1, "produce", map[string]any{
		"transportId":   transportID,
		"kind":          "audio",
		"rtpParameters": opusParams(),
	})
	waitFor(t, p1, "produced")
	waitFor(t, p2, "new-producer")

	_ = p1.Close()

	got := waitFor(t, p2, "peer-left")
	if got["peerId"] != "p1" {
		t.Fatalf("peer-left payload=%v, want p1", got)
	}

	// The broadcast happens after the cascade, so the registry is clean by
	// the time peer-left is observed.
	_, peers, transports, producers, _ := orch.Sessions.Counts()
	if peers != 1 || transports != 0 || producers != 0 {
		t.Fatalf("counts after disconnect: peers=%d transports=%d producers=%d, want 1/0/0", peers, transports, producers)
	}
	if orch.Sessions.RoomPeerCount("r1") != 1 {
		t.Fatal("room should still hold p2")
	}
}

var _ core.SignalConnection = (*Conn)(nil)
