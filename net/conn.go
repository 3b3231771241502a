// Package net moves snapshot messages between peers. It separates the
// replication engine from any particular transport: QUIC carries the
// reliable/unreliable split natively, websocket degrades both channels to
// reliable delivery, and the loopback pair wires two engines together in
// memory for tests.
package net

// Channel tags used in metrics.
const (
	channelReliable   = "reliable"
	channelUnreliable = "unreliable"
)

// Conn is the transport half of one remote peer. Send methods must be
// safe for concurrent use; received payloads are handed to the callback
// installed by Start, one complete message per call.
type Conn interface {
	// Start begins the transport's read loops. onMessage receives each
	// complete inbound payload; onClose fires once when the underlying
	// transport fails or is closed remotely.
	Start(onMessage func([]byte), onClose func(error))

	SendReliable(payload []byte) error

	// SendUnreliable may drop the payload; transports without an
	// unreliable lane fall back to reliable delivery.
	SendUnreliable(payload []byte) error

	RemoteAddr() string
	Close() error
}
