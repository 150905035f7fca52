// Package consult relays live-consultation signaling between two peers.
//
// A Session holds one connection per role and forwards each text message from
// one role to the other. Messages for a role that is not connected wait in a
// per-role FIFO queue and are flushed when that role connects. Delivery is
// best effort: send failures are logged and the message is dropped. Writes to
// one peer never wait on writes to another.
package consult

import (
	"log/slog"
	"sync"
)

// Role names a slot in the two-party session.
type Role string

const (
	RoleSender   Role = "sender"
	RoleReceiver Role = "receiver"
)

// Valid reports whether r is one of the two relaying roles.
func (r Role) Valid() bool {
	return r == RoleSender || r == RoleReceiver
}

// Counterpart returns the role messages from r are delivered to, or "" for
// roles that do not relay.
func (r Role) Counterpart() Role {
	switch r {
	case RoleSender:
		return RoleReceiver
	case RoleReceiver:
		return RoleSender
	default:
		return ""
	}
}

// Peer is one end of the relay. Implementations must be comparable (pointer
// types); the session tells peers apart by identity.
type Peer interface {
	Send(payload string) error
}

// Session is the registry of connected peers plus their pending queues.
// Slot changes and queue order are decided under mu; the writes themselves run
// on each peer's outbox so a stalled peer never holds the lock.
type Session struct {
	mu      sync.Mutex
	peers   map[Role]*outbox
	pending map[Role][]string
	logger  *slog.Logger
}

// NewSession creates an empty session.
func NewSession(logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		peers:   make(map[Role]*outbox),
		pending: make(map[Role][]string),
		logger:  logger,
	}
}

// Connect registers p under role, silently replacing any previous holder, and
// flushes the messages queued for role to p in arrival order. It returns once
// the flush has been attempted.
func (s *Session) Connect(p Peer, role Role) {
	s.mu.Lock()

	box, ok := s.peers[role]
	switch {
	case ok && box.peer == p:
		// Same peer re-registering keeps its outbox and write order.
	case ok:
		s.logger.Info("Consultation peer displaced", "role", role)
		box.close()
		box = newOutbox(p, role, s.logger)
	default:
		box = newOutbox(p, role, s.logger)
	}
	s.peers[role] = box

	queued := s.pending[role]
	delete(s.pending, role)

	var done <-chan struct{}
	if len(queued) > 0 {
		done = box.push(queued, true)
	}
	s.mu.Unlock()

	if done != nil {
		<-done
	}
	s.logger.Info("Consultation peer connected", "role", role, "flushed", len(queued), "known_role", role.Valid())
}

// Disconnect clears every slot currently held by p. Stale peers are ignored.
func (s *Session) Disconnect(p Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for role, box := range s.peers {
		if box.peer == p {
			delete(s.peers, role)
			box.close()
			s.logger.Info("Consultation peer disconnected", "role", role)
		}
	}
}

// Relay forwards payload from src to the counterpart role, or queues it when
// the counterpart is not connected. Peers that hold neither relaying role are
// ignored. A forwarded message has been written (or dropped) when Relay returns.
func (s *Session) Relay(src Peer, payload string) {
	s.mu.Lock()

	role := s.roleOf(src)
	if role == "" {
		s.mu.Unlock()
		return
	}
	target := role.Counterpart()

	dst, ok := s.peers[target]
	if !ok {
		s.pending[target] = append(s.pending[target], payload)
		s.logger.Debug("Queued consultation message", "for", target, "queued", len(s.pending[target]))
		s.mu.Unlock()
		return
	}
	done := dst.push([]string{payload}, false)
	s.mu.Unlock()

	<-done
}

// roleOf resolves src among the relaying roles. Caller holds mu.
func (s *Session) roleOf(src Peer) Role {
	if box, ok := s.peers[RoleSender]; ok && box.peer == src {
		return RoleSender
	}
	if box, ok := s.peers[RoleReceiver]; ok && box.peer == src {
		return RoleReceiver
	}
	return ""
}

// Holder returns the peer registered under role, or nil.
func (s *Session) Holder(role Role) Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if box, ok := s.peers[role]; ok {
		return box.peer
	}
	return nil
}

// Pending returns how many messages are queued for role.
func (s *Session) Pending(role Role) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending[role])
}

// Status summarizes the relaying slots for health reporting.
type Status struct {
	SenderConnected   bool `json:"sender_connected"`
	ReceiverConnected bool `json:"receiver_connected"`
	PendingSender     int  `json:"pending_for_sender"`
	PendingReceiver   int  `json:"pending_for_receiver"`
}

// Status returns a snapshot of the relaying slots.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, senderOK := s.peers[RoleSender]
	_, receiverOK := s.peers[RoleReceiver]
	return Status{
		SenderConnected:   senderOK,
		ReceiverConnected: receiverOK,
		PendingSender:     len(s.pending[RoleSender]),
		PendingReceiver:   len(s.pending[RoleReceiver]),
	}
}
