package app

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/openmeet/sfu/internal/core"
)

// WorkerPool owns the fixed set of media workers created at process start.
// Routers are spread over the pool in round-robin order, independent of room
// identity.
type WorkerPool struct {
	mu      sync.Mutex
	workers []core.Worker
	next    int
}

func NewWorkerPool(engine core.Engine, n int) (*WorkerPool, error) {
	if n <= 0 {
		return nil, ErrEmptyWorkerPool
	}
	workers := make([]core.Worker, 0, n)
	for i := 0; i < n; i++ {
		w, err := engine.NewWorker()
		if err != nil {
			for _, created := range workers {
				_ = created.Close()
			}
			return nil, fmt.Errorf("create worker %d: %w", i, err)
		}
		workers = append(workers, w)
		log.Info().Str("module", "app.workers").Str("worker", w.ID()).Int("index", i).Msg("worker created")
	}
	return &WorkerPool{workers: workers}, nil
}

// Assign returns the next worker in rotation. The pool is non-empty by
// construction, so Assign never fails.
func (p *WorkerPool) Assign() core.Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	w := p.workers[p.next]
	p.next = (p.next + 1) % len(p.workers)
	return w
}

func (p *WorkerPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Close shuts down every worker. Called once at server shutdown.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.workers {
		if err := w.Close(); err != nil {
			log.Error().Err(err).Str("module", "app.workers").Str("worker", w.ID()).Msg("worker close")
		}
	}
}
