// Package enginetest provides an in-memory core.Engine double so that
// orchestrator and signaling tests run without sockets or media stacks. It
// mirrors the real engine's observable behavior: capability checks are a
// mime-type intersection, and Close is idempotent.
package enginetest

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"

	"github.com/openmeet/sfu/internal/core"
	"github.com/openmeet/sfu/internal/domain"
)

type Engine struct {
	mu      sync.Mutex
	seq     atomic.Int64
	workers []*Worker

	// WorkerErr, when set, makes NewWorker fail.
	WorkerErr error
}

func New() *Engine { return &Engine{} }

func (e *Engine) nextID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, e.seq.Add(1))
}

func (e *Engine) NewWorker() (core.Worker, error) {
	if e.WorkerErr != nil {
		return nil, e.WorkerErr
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	w := &Worker{engine: e, id: e.nextID("worker")}
	e.workers = append(e.workers, w)
	return w, nil
}

// Workers returns every worker created so far, in creation order.
func (e *Engine) Workers() []*Worker {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Worker(nil), e.workers...)
}

type Worker struct {
	engine *Engine
	id     string

	mu      sync.Mutex
	routers int
	closed  bool
}

func (w *Worker) ID() string { return w.id }

func (w *Worker) NewRouter(codecs []webrtc.RTPCodecCapability) (core.Router, error) {
	w.mu.Lock()
	w.routers++
	w.mu.Unlock()
	return &Router{
		engine: w.engine,
		id:     w.engine.nextID("router"),
		caps:   core.RTPCapabilities{Codecs: codecs},
	}, nil
}

// RouterCount reports how many routers were created on this worker.
func (w *Worker) RouterCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.routers
}

func (w *Worker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *Worker) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

type Router struct {
	engine *Engine
	id     string
	caps   core.RTPCapabilities

	mu     sync.Mutex
	closed bool
}

func (r *Router) ID() string { return r.id }

func (r *Router) Capabilities() core.RTPCapabilities { return r.caps }

func (r *Router) NewTransport() (core.Transport, error) {
	return &Transport{engine: r.engine, id: r.engine.nextID("transport")}, nil
}

// CanConsume mirrors the real engine: the consumer capabilities must cover
// the producer's codec.
func (r *Router) CanConsume(producer core.Producer, caps core.RTPCapabilities) bool {
	p, ok := producer.(*Producer)
	if !ok {
		return false
	}
	for _, c := range caps.Codecs {
		if strings.EqualFold(c.MimeType, p.mimeType) {
			return true
		}
	}
	return false
}

func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *Router) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

type Transport struct {
	engine *Engine
	id     string

	mu        sync.Mutex
	connected bool
	closed    bool
}

func (t *Transport) ID() string { return t.id }

func (t *Transport) Info() core.TransportInfo {
	return core.TransportInfo{
		ICEParameters: webrtc.ICEParameters{
			UsernameFragment: "ufrag-" + t.id,
			Password:         "pwd-" + t.id,
			ICELite:          true,
		},
		DTLSParameters: webrtc.DTLSParameters{Role: webrtc.DTLSRoleAuto},
	}
}

func (t *Transport) Connect(webrtc.DTLSParameters) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("transport %s closed", t.id)
	}
	t.connected = true
	return nil
}

func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *Transport) Produce(kind domain.MediaKind, params core.RTPParameters) (core.Producer, error) {
	if len(params.Codecs) == 0 {
		return nil, fmt.Errorf("no codecs")
	}
	return &Producer{
		id:       t.engine.nextID("producer"),
		kind:     kind,
		mimeType: params.Codecs[0].MimeType,
	}, nil
}

func (t *Transport) Consume(producer core.Producer, _ core.RTPCapabilities) (core.Consumer, error) {
	p, ok := producer.(*Producer)
	if !ok {
		return nil, fmt.Errorf("foreign producer")
	}
	return &Consumer{
		id:   t.engine.nextID("consumer"),
		kind: p.kind,
		params: core.RTPParameters{
			Codecs: []webrtc.RTPCodecParameters{{
				RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: p.mimeType},
			}},
		},
	}, nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *Transport) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type Producer struct {
	id       string
	kind     domain.MediaKind
	mimeType string

	mu     sync.Mutex
	closed bool
}

func (p *Producer) ID() string { return p.id }

func (p *Producer) Kind() domain.MediaKind { return p.kind }

func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *Producer) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type Consumer struct {
	id     string
	kind   domain.MediaKind
	params core.RTPParameters

	mu     sync.Mutex
	paused bool
	closed bool
}

func (c *Consumer) ID() string { return c.id }

func (c *Consumer) Kind() domain.MediaKind { return c.kind }

func (c *Consumer) RTPParameters() core.RTPParameters { return c.params }

func (c *Consumer) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
	return nil
}

func (c *Consumer) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = false
	return nil
}

func (c *Consumer) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *Consumer) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
