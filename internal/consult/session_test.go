package consult

import (
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakePeer struct {
	mu       sync.Mutex
	received []string
	failOn   map[string]bool
}

func newFakePeer() *fakePeer {
	return &fakePeer{failOn: make(map[string]bool)}
}

func (f *fakePeer) Send(payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn[payload] {
		return errors.New("peer unreachable")
	}
	f.received = append(f.received, payload)
	return nil
}

func (f *fakePeer) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.received...)
}

// stalledPeer blocks every Send until release is closed.
type stalledPeer struct {
	entered atomic.Bool
	release chan struct{}
}

func (p *stalledPeer) Send(string) error {
	p.entered.Store(true)
	<-p.release
	return nil
}

func TestRoleCounterpart(t *testing.T) {
	require.Equal(t, RoleReceiver, RoleSender.Counterpart())
	require.Equal(t, RoleSender, RoleReceiver.Counterpart())
	require.Equal(t, Role(""), Role("observer").Counterpart())
	require.False(t, Role("observer").Valid())
}

func TestRelayDeliversToCounterpart(t *testing.T) {
	s := NewSession(nil)
	sender, receiver := newFakePeer(), newFakePeer()
	s.Connect(sender, RoleSender)
	s.Connect(receiver, RoleReceiver)

	s.Relay(sender, "offer")
	s.Relay(receiver, "answer")

	require.Equal(t, []string{"offer"}, receiver.messages())
	require.Equal(t, []string{"answer"}, sender.messages())
	require.Zero(t, s.Pending(RoleReceiver))
	require.Zero(t, s.Pending(RoleSender))
}

func TestDisplacement(t *testing.T) {
	s := NewSession(nil)
	first, second, receiver := newFakePeer(), newFakePeer(), newFakePeer()
	s.Connect(first, RoleSender)
	s.Connect(receiver, RoleReceiver)
	s.Connect(second, RoleSender)

	require.Equal(t, Peer(second), s.Holder(RoleSender))

	s.Relay(receiver, "to-sender")
	require.Empty(t, first.messages())
	require.Equal(t, []string{"to-sender"}, second.messages())

	// The displaced connection is no longer a recognized source.
	s.Relay(first, "stale")
	require.Empty(t, receiver.messages())
}

func TestQueueThenFlush(t *testing.T) {
	s := NewSession(nil)
	sender := newFakePeer()
	s.Connect(sender, RoleSender)

	s.Relay(sender, "offer")
	require.Equal(t, 1, s.Pending(RoleReceiver))

	receiver := newFakePeer()
	s.Connect(receiver, RoleReceiver)
	require.Equal(t, []string{"offer"}, receiver.messages())
	require.Zero(t, s.Pending(RoleReceiver))

	// Reconnecting does not replay anything.
	again := newFakePeer()
	s.Connect(again, RoleReceiver)
	require.Empty(t, again.messages())
}

func TestMultiMessageFIFO(t *testing.T) {
	s := NewSession(nil)
	sender := newFakePeer()
	s.Connect(sender, RoleSender)
	for _, m := range []string{"a", "b", "c"} {
		s.Relay(sender, m)
	}

	receiver := newFakePeer()
	s.Connect(receiver, RoleReceiver)
	require.Equal(t, []string{"a", "b", "c"}, receiver.messages())
}

func TestDrainContinuesAfterSendFailure(t *testing.T) {
	s := NewSession(nil)
	sender := newFakePeer()
	s.Connect(sender, RoleSender)
	for _, m := range []string{"a", "b", "c"} {
		s.Relay(sender, m)
	}

	receiver := newFakePeer()
	receiver.failOn["b"] = true
	s.Connect(receiver, RoleReceiver)

	require.Equal(t, []string{"a", "c"}, receiver.messages())
	require.Zero(t, s.Pending(RoleReceiver), "failed message is dropped, not requeued")
}

func TestLiveSendFailureIsNotQueued(t *testing.T) {
	s := NewSession(nil)
	sender, receiver := newFakePeer(), newFakePeer()
	receiver.failOn["lost"] = true
	s.Connect(sender, RoleSender)
	s.Connect(receiver, RoleReceiver)

	s.Relay(sender, "lost")
	require.Empty(t, receiver.messages())
	require.Zero(t, s.Pending(RoleReceiver))
}

func TestNoSelfLoop(t *testing.T) {
	s := NewSession(nil)
	sender := newFakePeer()
	s.Connect(sender, RoleSender)

	s.Relay(sender, "hello")
	require.Empty(t, sender.messages())
	require.Equal(t, 1, s.Pending(RoleReceiver))
	require.Zero(t, s.Pending(RoleSender))
}

func TestDisconnectIsolation(t *testing.T) {
	s := NewSession(nil)
	sender, receiver := newFakePeer(), newFakePeer()
	s.Connect(sender, RoleSender)
	s.Connect(receiver, RoleReceiver)
	s.Disconnect(sender)
	s.Relay(receiver, "for-sender")
	require.Equal(t, 1, s.Pending(RoleSender))

	s.Disconnect(receiver)
	require.Nil(t, s.Holder(RoleReceiver))
	require.Equal(t, 1, s.Pending(RoleSender), "receiver leaving keeps the sender queue")

	other := newFakePeer()
	s.Connect(other, RoleSender)
	require.Equal(t, []string{"for-sender"}, other.messages())
}

func TestIdempotentDisconnect(t *testing.T) {
	s := NewSession(nil)
	first, second := newFakePeer(), newFakePeer()
	s.Connect(first, RoleSender)
	s.Connect(second, RoleSender)

	// Displaced handle: no-op.
	s.Disconnect(first)
	require.Equal(t, Peer(second), s.Holder(RoleSender))

	s.Disconnect(second)
	s.Disconnect(second)
	require.Nil(t, s.Holder(RoleSender))
	require.Equal(t, Status{}, s.Status())
}

func TestUnrecognizedSource(t *testing.T) {
	s := NewSession(nil)
	receiver, stranger, observer := newFakePeer(), newFakePeer(), newFakePeer()
	s.Connect(receiver, RoleReceiver)
	s.Connect(observer, Role("observer"))

	s.Relay(stranger, "x")
	s.Relay(observer, "y")

	require.Empty(t, receiver.messages())
	require.Zero(t, s.Pending(RoleSender))
	require.Zero(t, s.Pending(RoleReceiver))
	require.Equal(t, Peer(observer), s.Holder(Role("observer")))

	s.Disconnect(observer)
	require.Nil(t, s.Holder(Role("observer")))
}

func TestConcurrentRelayDuringReconnect(t *testing.T) {
	s := NewSession(nil)
	sender := newFakePeer()
	s.Connect(sender, RoleSender)

	const n = 200
	receivers := make([]*fakePeer, 5)
	for i := range receivers {
		receivers[i] = newFakePeer()
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			s.Relay(sender, strconv.Itoa(i))
		}
	}()
	go func() {
		defer wg.Done()
		for _, r := range receivers {
			s.Connect(r, RoleReceiver)
		}
	}()
	wg.Wait()

	// Flush anything still queued to a final receiver.
	final := newFakePeer()
	s.Connect(final, RoleReceiver)

	var all []string
	for _, r := range receivers {
		all = append(all, r.messages()...)
	}
	all = append(all, final.messages()...)

	require.Len(t, all, n, "every message is delivered exactly once")
	for i, m := range all {
		require.Equal(t, strconv.Itoa(i), m, "arrival order is preserved")
	}
}

func TestStalledPeerDoesNotBlockSession(t *testing.T) {
	s := NewSession(nil)
	sender := newFakePeer()
	stuck := &stalledPeer{release: make(chan struct{})}
	defer close(stuck.release)
	s.Connect(sender, RoleSender)
	s.Connect(stuck, RoleReceiver)

	go s.Relay(sender, "offer")
	require.Eventually(t, stuck.entered.Load, time.Second, 5*time.Millisecond)

	replacement := newFakePeer()
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Relay(stuck, "answer")
		_ = s.Status()
		s.Connect(replacement, RoleReceiver)
		s.Relay(sender, "offer-again")
		s.Disconnect(sender)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session operations waited on a stalled peer")
	}

	require.Equal(t, []string{"answer"}, sender.messages())
	require.Equal(t, []string{"offer-again"}, replacement.messages())
	require.Nil(t, s.Holder(RoleSender))
}
