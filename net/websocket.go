package net

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/driftline/netsync/statsd"
)

// wsConn adapts a websocket to the Conn interface. Websockets have no
// unreliable lane, so both channels share the socket; the delivery
// guarantee quietly upgrades.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsConn) Start(onMessage func([]byte), onClose func(error)) {
	go func() {
		for {
			kind, payload, err := c.conn.ReadMessage()
			if err != nil {
				onClose(err)
				return
			}
			if kind != websocket.BinaryMessage {
				continue
			}
			statsd.EmitBytesStat("received", channelReliable, len(payload))
			onMessage(payload)
		}
	}()
}

func (c *wsConn) send(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, payload)
}

func (c *wsConn) SendReliable(payload []byte) error { return c.send(payload) }

func (c *wsConn) SendUnreliable(payload []byte) error { return c.send(payload) }

func (c *wsConn) RemoteAddr() string { return c.conn.RemoteAddr().String() }

func (c *wsConn) Close() error {
	message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	c.writeMu.Lock()
	_ = c.conn.WriteMessage(websocket.CloseMessage, message)
	c.writeMu.Unlock()
	return c.conn.Close()
}

// WebSocketHandler upgrades HTTP requests and attaches each socket to the
// network. Mount it wherever the HTTP mux wants it.
func WebSocketHandler(logger zerolog.Logger, network *Network) http.Handler {
	log := logger.With().Str("subsystem", "ws_handler").Logger()
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}
		network.Attach(&wsConn{conn: conn})
	})
}

// DialWebSocket connects to a websocket endpoint, e.g. ws://host/sync.
func DialWebSocket(ctx context.Context, url string) (Conn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "dialing %s", url)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return &wsConn{conn: conn}, nil
}
