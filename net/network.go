package net

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/driftline/netsync/statsd"
	"github.com/driftline/netsync/types"
)

// DefaultMaxStrikes is how many malformed messages a peer may send before
// it is forcibly disconnected.
const DefaultMaxStrikes = 5

const inboxSize = 1024

var ErrPeerGone = eris.New("peer is no longer connected")

// Handler consumes network events. All callbacks run on the goroutine
// that calls Network.Process, never on transport read loops.
type Handler interface {
	OnConnect(*Peer)
	OnDisconnect(*Peer)
	// HandleMessage processes one inbound message. A returned error
	// counts a strike against the peer.
	HandleMessage(p *Peer, header types.MessageHeader, payload []byte) error
}

// Peer is one connected remote identified by a session id.
type Peer struct {
	id      uuid.UUID
	conn    Conn
	strikes int
	gone    bool
}

func (p *Peer) ID() uuid.UUID { return p.id }

func (p *Peer) Addr() string { return p.conn.RemoteAddr() }

// Strikes reports the peer's accumulated strike count.
func (p *Peer) Strikes() int { return p.strikes }

func (p *Peer) SendReliable(payload []byte) error {
	if p.gone {
		return ErrPeerGone
	}
	if err := p.conn.SendReliable(payload); err != nil {
		return eris.Wrap(err, "reliable send")
	}
	statsd.EmitBytesStat("sent", channelReliable, len(payload))
	return nil
}

func (p *Peer) SendUnreliable(payload []byte) error {
	if p.gone {
		return ErrPeerGone
	}
	if err := p.conn.SendUnreliable(payload); err != nil {
		return eris.Wrap(err, "unreliable send")
	}
	statsd.EmitBytesStat("sent", channelUnreliable, len(payload))
	return nil
}

type eventKind int

const (
	evMessage eventKind = iota
	evConnect
	evDisconnect
)

type event struct {
	kind    eventKind
	peer    *Peer
	payload []byte
	reason  string
}

// Network owns the peer registry and funnels transport events onto one
// goroutine. Transports deliver from their own read loops; the engine
// drains with Process once per tick, so handlers run under the same
// single-threaded contract as the world.
type Network struct {
	log        zerolog.Logger
	handler    Handler
	maxStrikes int

	mu    sync.Mutex
	peers map[uuid.UUID]*Peer

	inbox chan event
}

func NewNetwork(logger zerolog.Logger, handler Handler, maxStrikes int) *Network {
	if maxStrikes <= 0 {
		maxStrikes = DefaultMaxStrikes
	}
	return &Network{
		log:        logger.With().Str("subsystem", "network").Logger(),
		handler:    handler,
		maxStrikes: maxStrikes,
		peers:      map[uuid.UUID]*Peer{},
		inbox:      make(chan event, inboxSize),
	}
}

// Attach registers a transport connection as a peer and starts its read
// loops. Safe to call from accept/dial goroutines.
func (n *Network) Attach(conn Conn) *Peer {
	p := &Peer{id: uuid.New(), conn: conn}
	n.mu.Lock()
	n.peers[p.id] = p
	count := len(n.peers)
	n.mu.Unlock()
	statsd.EmitConnectionStat(count)

	conn.Start(
		func(payload []byte) {
			n.post(event{kind: evMessage, peer: p, payload: payload})
		},
		func(err error) {
			reason := "closed by remote"
			if err != nil {
				reason = err.Error()
			}
			n.post(event{kind: evDisconnect, peer: p, reason: reason})
		},
	)
	n.post(event{kind: evConnect, peer: p})
	return p
}

func (n *Network) post(ev event) {
	select {
	case n.inbox <- ev:
	default:
		// A full inbox means the sim goroutine stopped draining; dropping
		// with a log beats blocking every transport read loop.
		n.log.Error().Str("peer", ev.peer.id.String()).Msg("inbox full, dropping event")
	}
}

// Process drains all queued events without blocking. Call once per tick
// from the simulation goroutine.
func (n *Network) Process() {
	for {
		select {
		case ev := <-n.inbox:
			n.handle(ev)
		default:
			return
		}
	}
}

func (n *Network) handle(ev event) {
	if ev.peer.gone {
		return
	}
	switch ev.kind {
	case evConnect:
		n.log.Info().
			Str("peer", ev.peer.id.String()).
			Str("addr", ev.peer.Addr()).
			Msg("peer connected")
		n.handler.OnConnect(ev.peer)
	case evDisconnect:
		n.drop(ev.peer, ev.reason)
	case evMessage:
		n.dispatch(ev.peer, ev.payload)
	}
}

func (n *Network) dispatch(p *Peer, payload []byte) {
	if len(payload) == 0 {
		n.Strike(p, "empty message")
		return
	}
	header := types.MessageHeader(payload[0])
	if header == types.HeaderInvalid {
		n.Strike(p, "invalid header")
		return
	}
	if err := n.handler.HandleMessage(p, header, payload); err != nil {
		n.log.Warn().
			Err(err).
			Str("peer", p.id.String()).
			Uint8("header", uint8(header)).
			Msg("message rejected")
		n.Strike(p, "rejected message")
	}
}

// Strike records one offense. Hitting the limit disconnects the peer.
func (n *Network) Strike(p *Peer, reason string) {
	p.strikes++
	statsd.EmitStrikeStat()
	n.log.Warn().
		Str("peer", p.id.String()).
		Str("reason", reason).
		Int("strikes", p.strikes).
		Msg("peer struck")
	if p.strikes >= n.maxStrikes {
		n.drop(p, "too many strikes")
	}
}

// Disconnect removes a peer deliberately.
func (n *Network) Disconnect(p *Peer, reason string) {
	n.drop(p, reason)
}

func (n *Network) drop(p *Peer, reason string) {
	if p.gone {
		return
	}
	p.gone = true
	n.mu.Lock()
	delete(n.peers, p.id)
	count := len(n.peers)
	n.mu.Unlock()
	statsd.EmitConnectionStat(count)
	_ = p.conn.Close()
	n.log.Info().
		Str("peer", p.id.String()).
		Str("reason", reason).
		Msg("peer disconnected")
	n.handler.OnDisconnect(p)
}

// Broadcast sends the same buffers to every connected peer, skipping
// except when set. A nil slice skips that channel.
func (n *Network) Broadcast(reliable, unreliable []byte, except *Peer) {
	for _, p := range n.peerList() {
		if p == except || p.gone {
			continue
		}
		if reliable != nil {
			if err := p.SendReliable(reliable); err != nil {
				n.log.Warn().Err(err).Str("peer", p.id.String()).Msg("broadcast reliable failed")
			}
		}
		if unreliable != nil {
			if err := p.SendUnreliable(unreliable); err != nil {
				n.log.Debug().Err(err).Str("peer", p.id.String()).Msg("broadcast unreliable failed")
			}
		}
	}
}

func (n *Network) peerList() []*Peer {
	n.mu.Lock()
	defer n.mu.Unlock()
	peers := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		peers = append(peers, p)
	}
	return peers
}

// Len reports the connected peer count.
func (n *Network) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.peers)
}

// Close disconnects everything.
func (n *Network) Close() {
	for _, p := range n.peerList() {
		n.drop(p, "shutting down")
	}
}
