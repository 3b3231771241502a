package net

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/driftline/netsync/replica"
	"github.com/driftline/netsync/statsd"
	"github.com/driftline/netsync/types"
)

// AppHandler processes application-defined messages, i.e. any header
// above HeaderCoreLast.
type AppHandler func(p *Peer, header types.MessageHeader, payload []byte) error

var ErrUnknownHeader = eris.New("no handler for message header")

// Server is the authoritative side: it owns the replica manager's
// outgoing stream, answers resync requests, and pushes a full snapshot to
// every joiner.
type Server struct {
	log     zerolog.Logger
	mgr     *replica.Manager
	network *Network
	app     AppHandler
}

func NewServer(logger zerolog.Logger, mgr *replica.Manager, maxStrikes int) *Server {
	s := &Server{
		log: logger.With().Str("subsystem", "server").Logger(),
		mgr: mgr,
	}
	s.network = NewNetwork(logger, s, maxStrikes)
	return s
}

func (s *Server) Network() *Network { return s.network }

// SetAppHandler installs the handler for application message headers.
func (s *Server) SetAppHandler(h AppHandler) { s.app = h }

// Flush drains the delta accumulator and broadcasts the result to every
// connected peer. The same buffers are shared across all sends.
func (s *Server) Flush() error {
	start := time.Now()
	reliable, unreliable, err := s.mgr.CreateDeltaSnapshot()
	if err != nil {
		return eris.Wrap(err, "flushing delta snapshot")
	}
	s.network.Broadcast(reliable, unreliable, nil)
	statsd.EmitFlushStat(start, "delta")
	return nil
}

// Process drains inbound network events. Call once per tick.
func (s *Server) Process() { s.network.Process() }

func (s *Server) OnConnect(p *Peer) {
	s.sendFull(p)
}

func (s *Server) OnDisconnect(p *Peer) {}

func (s *Server) HandleMessage(p *Peer, header types.MessageHeader, payload []byte) error {
	switch {
	case header == types.HeaderRequestFullSnapshot:
		s.log.Info().Str("peer", p.ID().String()).Msg("full snapshot requested")
		s.sendFull(p)
		return nil
	case header > types.HeaderCoreLast && s.app != nil:
		return s.app(p, header, payload)
	default:
		return eris.Wrapf(ErrUnknownHeader, "header %d", header)
	}
}

func (s *Server) sendFull(p *Peer) {
	start := time.Now()
	full, err := s.mgr.CreateFullSnapshot()
	if err != nil {
		s.log.Error().Err(err).Msg("building full snapshot")
		return
	}
	if err := p.SendReliable(full); err != nil {
		s.log.Warn().Err(err).Str("peer", p.ID().String()).Msg("sending full snapshot")
		return
	}
	statsd.EmitFlushStat(start, "full")
}
