package consult

import (
	"log/slog"
	"sync"
)

// batch is a run of payloads pushed together. done closes once every payload
// in it has been sent or dropped.
type batch struct {
	payloads []string
	drained  bool
	done     chan struct{}
}

// outbox writes to one peer in push order from its own goroutine.
// A closed outbox still finishes the batches it already accepted.
type outbox struct {
	peer   Peer
	role   Role
	logger *slog.Logger

	mu     sync.Mutex
	queue  []batch
	closed bool
	wake   chan struct{}
}

func newOutbox(p Peer, role Role, logger *slog.Logger) *outbox {
	o := &outbox{
		peer:   p,
		role:   role,
		logger: logger,
		wake:   make(chan struct{}, 1),
	}
	go o.run()
	return o
}

// push queues payloads for delivery and returns a channel closed after the
// last of them has been attempted. drained marks payloads flushed from the
// pending queue.
func (o *outbox) push(payloads []string, drained bool) <-chan struct{} {
	b := batch{payloads: payloads, drained: drained, done: make(chan struct{})}
	o.mu.Lock()
	o.queue = append(o.queue, b)
	o.mu.Unlock()
	o.signal()
	return b.done
}

func (o *outbox) close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.signal()
}

func (o *outbox) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *outbox) run() {
	for {
		o.mu.Lock()
		for len(o.queue) == 0 && !o.closed {
			o.mu.Unlock()
			<-o.wake
			o.mu.Lock()
		}
		if len(o.queue) == 0 {
			o.mu.Unlock()
			return
		}
		b := o.queue[0]
		o.queue = o.queue[1:]
		o.mu.Unlock()

		o.deliver(b)
	}
}

func (o *outbox) deliver(b batch) {
	defer close(b.done)
	for _, msg := range b.payloads {
		if err := o.peer.Send(msg); err != nil {
			if b.drained {
				o.logger.Warn("Dropped queued consultation message", "role", o.role, "error", err)
			} else {
				o.logger.Warn("Failed to relay consultation message", "to", o.role, "error", err)
			}
		}
	}
}
