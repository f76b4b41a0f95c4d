// Package signal is the websocket signaling surface: one controller per
// server, one Conn per websocket, events dispatched to the orchestrator and
// fanned out through the Hub.
package signal

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/openmeet/sfu/internal/app"
	"github.com/openmeet/sfu/internal/auth"
)

const (
	writeWait       = 5 * time.Second
	defaultReadLim  = 1 << 20
	defaultPingTime = 30 * time.Second
)

type Controller struct {
	Orch     *app.Orchestrator
	Hub      *Hub
	Verifier *auth.Verifier

	// Zero values fall back to the package defaults.
	ReadLimit  int64
	PingPeriod time.Duration
}

func NewController(orch *app.Orchestrator, hub *Hub, verifier *auth.Verifier) *Controller {
	return &Controller{Orch: orch, Hub: hub, Verifier: verifier}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal authenticates, upgrades, and starts the connection's pumps.
// The credential is checked before the upgrade so a rejected client never
// creates any server-side state.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	identity, err := ctl.Verifier.Verify(c.Query("token"))
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("rejected connection")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := newConn(uuid.NewString(), identity, ws)
	ctl.Hub.Add(conn)
	log.Info().Str("module", "signal").
		Str("conn", conn.id).Str("peer", string(identity.PeerID)).Str("username", identity.Username).
		Msg("new WS connection")

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, conn)
}

func (ctl *Controller) pingPeriod() time.Duration {
	if ctl.PingPeriod > 0 {
		return ctl.PingPeriod
	}
	return defaultPingTime
}

func (ctl *Controller) readLimit() int64 {
	if ctl.ReadLimit > 0 {
		return ctl.ReadLimit
	}
	return defaultReadLim
}
