package app

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/openmeet/sfu/internal/core"
	"github.com/openmeet/sfu/internal/domain"
)

// RouterRegistry lazily creates one router per room and owns its teardown.
// At most one live router exists per room; concurrent first joins race on
// Ensure and must still create exactly one.
type RouterRegistry struct {
	pool   *WorkerPool
	codecs []webrtc.RTPCodecCapability

	mu      sync.RWMutex
	routers map[domain.RoomID]core.Router
}

func NewRouterRegistry(pool *WorkerPool, codecs []webrtc.RTPCodecCapability) *RouterRegistry {
	return &RouterRegistry{
		pool:    pool,
		codecs:  codecs,
		routers: make(map[domain.RoomID]core.Router),
	}
}

// Ensure returns the room's router, creating it on first reference.
func (r *RouterRegistry) Ensure(roomID domain.RoomID) (core.Router, error) {
	r.mu.RLock()
	router, ok := r.routers[roomID]
	r.mu.RUnlock()
	if ok {
		return router, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if router, ok = r.routers[roomID]; ok {
		return router, nil
	}

	worker := r.pool.Assign()
	router, err := worker.NewRouter(r.codecs)
	if err != nil {
		return nil, fmt.Errorf("create router for room %s: %w", roomID, err)
	}
	r.routers[roomID] = router
	log.Info().Str("module", "app.routers").Str("room", string(roomID)).
		Str("router", router.ID()).Str("worker", worker.ID()).Msg("router created")
	return router, nil
}

// Get returns the router without creating it.
func (r *RouterRegistry) Get(roomID domain.RoomID) (core.Router, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	router, ok := r.routers[roomID]
	return router, ok
}

// CloseRoom closes the room's router and drops the entry. No-op when absent.
func (r *RouterRegistry) CloseRoom(roomID domain.RoomID) {
	r.mu.Lock()
	router, ok := r.routers[roomID]
	if ok {
		delete(r.routers, roomID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	if err := router.Close(); err != nil {
		log.Error().Err(err).Str("module", "app.routers").Str("room", string(roomID)).Msg("router close")
	}
	log.Info().Str("module", "app.routers").Str("room", string(roomID)).Msg("router closed")
}

func (r *RouterRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.routers)
}
