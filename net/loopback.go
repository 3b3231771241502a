package net

import (
	"sync"

	"github.com/rotisserie/eris"
)

var ErrLoopbackClosed = eris.New("loopback conn is closed")

// LoopbackConn is an in-memory transport endpoint. Delivery is
// synchronous: a send lands in the other endpoint's inbox before the call
// returns, which keeps tests deterministic. Sends made before the far end
// starts are buffered.
type LoopbackConn struct {
	mu        sync.Mutex
	peer      *LoopbackConn
	onMessage func([]byte)
	onClose   func(error)
	pending   [][]byte
	closed    bool

	// unreliableFilter decides per payload whether an unreliable send is
	// delivered. Nil delivers everything.
	unreliableFilter func([]byte) bool
}

// NewLoopbackPair returns two connected in-memory endpoints.
func NewLoopbackPair() (*LoopbackConn, *LoopbackConn) {
	a := &LoopbackConn{}
	b := &LoopbackConn{}
	a.peer = b
	b.peer = a
	return a, b
}

// SetUnreliableFilter installs a drop predicate for outgoing unreliable
// payloads; returning false drops the message silently, like a lost
// datagram.
func (c *LoopbackConn) SetUnreliableFilter(fn func([]byte) bool) {
	c.mu.Lock()
	c.unreliableFilter = fn
	c.mu.Unlock()
}

func (c *LoopbackConn) Start(onMessage func([]byte), onClose func(error)) {
	c.mu.Lock()
	c.onMessage = onMessage
	c.onClose = onClose
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, payload := range pending {
		onMessage(payload)
	}
}

func (c *LoopbackConn) SendReliable(payload []byte) error {
	return c.peer.deliver(payload)
}

func (c *LoopbackConn) SendUnreliable(payload []byte) error {
	c.mu.Lock()
	filter := c.unreliableFilter
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrLoopbackClosed
	}
	if filter != nil && !filter(payload) {
		return nil
	}
	return c.peer.deliver(payload)
}

func (c *LoopbackConn) deliver(payload []byte) error {
	buf := make([]byte, len(payload))
	copy(buf, payload)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrLoopbackClosed
	}
	if c.onMessage == nil {
		c.pending = append(c.pending, buf)
		c.mu.Unlock()
		return nil
	}
	onMessage := c.onMessage
	c.mu.Unlock()
	onMessage(buf)
	return nil
}

func (c *LoopbackConn) RemoteAddr() string { return "loopback" }

func (c *LoopbackConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.peer.mu.Lock()
	peerClosed := c.peer.closed
	onClose := c.peer.onClose
	c.peer.closed = true
	c.peer.mu.Unlock()
	if !peerClosed && onClose != nil {
		onClose(nil)
	}
	return nil
}
