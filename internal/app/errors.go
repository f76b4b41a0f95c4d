package app

import "errors"

var (
	// Protocol violations: the client referenced something the registry does
	// not know about, or skipped a prerequisite step.
	ErrPeerNotInRoom     = errors.New("peer not in room")
	ErrTransportNotFound = errors.New("transport not found")
	ErrProducerNotFound  = errors.New("producer not found")
	ErrConsumerNotFound  = errors.New("consumer not found")
	ErrNoRecvTransport   = errors.New("peer has no recv transport")

	// ErrInvalidRTPParameters is a client-side validation failure, rejected
	// before any engine call.
	ErrInvalidRTPParameters = errors.New("invalid rtp parameters: empty codec list")

	// ErrCannotConsume is the engine's capability mismatch verdict.
	ErrCannotConsume = errors.New("cannot consume producer with given capabilities")

	ErrEmptyWorkerPool = errors.New("worker pool is empty")
)
