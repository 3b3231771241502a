package net

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"io"
	"sync"

	"github.com/quic-go/quic-go"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/driftline/netsync/statsd"
)

// NextProto is the ALPN identifier peers must agree on.
const NextProto = "netsync/1"

// maxFrameSize bounds one reliable message so a corrupt length prefix
// cannot stall the stream on an absurd read.
const maxFrameSize = 16 << 20

var ErrFrameTooLarge = eris.New("reliable frame exceeds size limit")

func quicConfig() *quic.Config {
	return &quic.Config{EnableDatagrams: true}
}

// quicConn adapts one QUIC connection: the dedicated bidirectional stream
// carries length-framed reliable messages, datagrams carry unreliable
// ones.
type quicConn struct {
	conn   quic.Connection
	stream quic.Stream

	writeMu sync.Mutex
	cancel  context.CancelFunc
	ctx     context.Context
}

func newQUICConn(conn quic.Connection, stream quic.Stream) *quicConn {
	ctx, cancel := context.WithCancel(context.Background())
	return &quicConn{conn: conn, stream: stream, ctx: ctx, cancel: cancel}
}

func (c *quicConn) Start(onMessage func([]byte), onClose func(error)) {
	var closeOnce sync.Once
	closing := func(err error) {
		closeOnce.Do(func() { onClose(err) })
	}
	go c.streamLoop(onMessage, closing)
	go c.datagramLoop(onMessage, closing)
}

func (c *quicConn) streamLoop(onMessage func([]byte), closing func(error)) {
	var prefix [4]byte
	for {
		if _, err := io.ReadFull(c.stream, prefix[:]); err != nil {
			closing(err)
			return
		}
		size := binary.LittleEndian.Uint32(prefix[:])
		if size == 0 {
			// Empty hello frame; it only exists to open the stream.
			continue
		}
		if size > maxFrameSize {
			closing(eris.Wrapf(ErrFrameTooLarge, "%d bytes", size))
			return
		}
		payload := make([]byte, size)
		if _, err := io.ReadFull(c.stream, payload); err != nil {
			closing(err)
			return
		}
		statsd.EmitBytesStat("received", channelReliable, len(payload))
		onMessage(payload)
	}
}

func (c *quicConn) datagramLoop(onMessage func([]byte), closing func(error)) {
	for {
		payload, err := c.conn.ReceiveDatagram(c.ctx)
		if err != nil {
			closing(err)
			return
		}
		statsd.EmitBytesStat("received", channelUnreliable, len(payload))
		onMessage(payload)
	}
}

func (c *quicConn) SendReliable(payload []byte) error {
	if len(payload) > maxFrameSize {
		return eris.Wrapf(ErrFrameTooLarge, "%d bytes", len(payload))
	}
	var prefix [4]byte
	binary.LittleEndian.PutUint32(prefix[:], uint32(len(payload)))
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.stream.Write(prefix[:]); err != nil {
		return eris.Wrap(err, "writing frame prefix")
	}
	if _, err := c.stream.Write(payload); err != nil {
		return eris.Wrap(err, "writing frame payload")
	}
	return nil
}

func (c *quicConn) SendUnreliable(payload []byte) error {
	return c.conn.SendDatagram(payload)
}

func (c *quicConn) RemoteAddr() string { return c.conn.RemoteAddr().String() }

func (c *quicConn) Close() error {
	c.cancel()
	return c.conn.CloseWithError(0, "closed")
}

// DialQUIC connects to a server and opens the reliable stream. The empty
// hello frame forces the stream open so the server's AcceptStream
// returns without waiting for the first real message.
func DialQUIC(ctx context.Context, addr string, tlsConf *tls.Config) (Conn, error) {
	tlsConf = tlsConf.Clone()
	tlsConf.NextProtos = []string{NextProto}
	conn, err := quic.DialAddr(ctx, addr, tlsConf, quicConfig())
	if err != nil {
		return nil, eris.Wrapf(err, "dialing %s", addr)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "no stream")
		return nil, eris.Wrap(err, "opening reliable stream")
	}
	c := newQUICConn(conn, stream)
	if err := c.SendReliable(nil); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// QUICListener accepts QUIC connections and attaches each to a network.
type QUICListener struct {
	log      zerolog.Logger
	listener *quic.Listener
	network  *Network
	cancel   context.CancelFunc
}

// ListenQUIC serves the given network on addr until Close.
func ListenQUIC(logger zerolog.Logger, addr string, tlsConf *tls.Config, network *Network) (*QUICListener, error) {
	tlsConf = tlsConf.Clone()
	tlsConf.NextProtos = []string{NextProto}
	listener, err := quic.ListenAddr(addr, tlsConf, quicConfig())
	if err != nil {
		return nil, eris.Wrapf(err, "listening on %s", addr)
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &QUICListener{
		log:      logger.With().Str("subsystem", "quic_listener").Logger(),
		listener: listener,
		network:  network,
		cancel:   cancel,
	}
	go l.acceptLoop(ctx)
	return l, nil
}

func (l *QUICListener) acceptLoop(ctx context.Context) {
	for {
		conn, err := l.listener.Accept(ctx)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				l.log.Warn().Err(err).Msg("accepting connection")
				continue
			}
		}
		go l.acceptStream(ctx, conn)
	}
}

func (l *QUICListener) acceptStream(ctx context.Context, conn quic.Connection) {
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		l.log.Warn().Err(err).Msg("accepting reliable stream")
		_ = conn.CloseWithError(0, "no stream")
		return
	}
	l.network.Attach(newQUICConn(conn, stream))
}

// Addr reports the bound address.
func (l *QUICListener) Addr() string { return l.listener.Addr().String() }

func (l *QUICListener) Close() error {
	l.cancel()
	return l.listener.Close()
}
