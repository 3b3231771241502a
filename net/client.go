package net

import (
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/driftline/netsync/replica"
	"github.com/driftline/netsync/types"
)

// DefaultMaxDesyncs is how many dangling-id warnings a client tolerates
// before asking the server for a full snapshot.
const DefaultMaxDesyncs = 30

// Client is the replicated side: it applies the server's snapshot stream
// and falls back to a full resync when enough applies went sideways.
type Client struct {
	log     zerolog.Logger
	mgr     *replica.Manager
	network *Network
	app     AppHandler

	server *Peer

	desyncs    int
	maxDesyncs int
}

func NewClient(logger zerolog.Logger, mgr *replica.Manager, maxDesyncs int) *Client {
	if maxDesyncs <= 0 {
		maxDesyncs = DefaultMaxDesyncs
	}
	c := &Client{
		log:        logger.With().Str("subsystem", "client").Logger(),
		mgr:        mgr,
		maxDesyncs: maxDesyncs,
	}
	c.network = NewNetwork(logger, c, DefaultMaxStrikes)
	mgr.OnDesync(c.noteDesync)
	return c
}

func (c *Client) Network() *Network { return c.network }

// SetAppHandler installs the handler for application message headers.
func (c *Client) SetAppHandler(h AppHandler) { c.app = h }

// Connect attaches the transport connection to the server.
func (c *Client) Connect(conn Conn) *Peer {
	c.server = c.network.Attach(conn)
	return c.server
}

// Server returns the server peer, nil before Connect.
func (c *Client) Server() *Peer { return c.server }

// Process drains inbound network events. Call once per tick.
func (c *Client) Process() { c.network.Process() }

// SendReliable forwards an application message to the server.
func (c *Client) SendReliable(payload []byte) error {
	if c.server == nil {
		return ErrPeerGone
	}
	return c.server.SendReliable(payload)
}

// SendUnreliable forwards an application message to the server.
func (c *Client) SendUnreliable(payload []byte) error {
	if c.server == nil {
		return ErrPeerGone
	}
	return c.server.SendUnreliable(payload)
}

func (c *Client) OnConnect(p *Peer) {}

func (c *Client) OnDisconnect(p *Peer) {
	if p == c.server {
		c.server = nil
	}
}

func (c *Client) HandleMessage(p *Peer, header types.MessageHeader, payload []byte) error {
	switch {
	case header == types.HeaderDeltaSnapshot:
		return c.mgr.ApplyDeltaSnapshot(payload)
	case header == types.HeaderFullSnapshot:
		if err := c.mgr.ApplyFullSnapshot(payload); err != nil {
			return err
		}
		c.desyncs = 0
		return nil
	case header > types.HeaderCoreLast && c.app != nil:
		return c.app(p, header, payload)
	default:
		return eris.Wrapf(ErrUnknownHeader, "header %d", header)
	}
}

// noteDesync counts dangling-id skips; past the threshold the client
// requests a full snapshot and starts counting fresh.
func (c *Client) noteDesync() {
	c.desyncs++
	if c.desyncs < c.maxDesyncs {
		return
	}
	c.desyncs = 0
	if c.server == nil {
		return
	}
	c.log.Warn().Int("threshold", c.maxDesyncs).Msg("too many desyncs, requesting full snapshot")
	if err := c.server.SendReliable(replica.RequestFullSnapshot()); err != nil {
		c.log.Warn().Err(err).Msg("requesting full snapshot")
	}
}
