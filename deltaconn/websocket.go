package deltaconn

import (
	"time"

	"github.com/vovakirdan/deltaconn-go/deltaconn/internal"
)

// NewWebSocketDialer returns the default Dialer, opening binary WebSocket
// connections with the handshake and write timeouts from cfg.
func NewWebSocketDialer(cfg Config) Dialer {
	return wsDialer{handshakeTimeout: cfg.HandshakeTimeout, writeTimeout: cfg.WriteTimeout}
}

type wsDialer struct {
	handshakeTimeout, writeTimeout time.Duration
}

func (d wsDialer) Dial(uri string, l Listener) Handle {
	return wsHandle{internal.Dial(uri, d.handshakeTimeout, d.writeTimeout, l)}
}

type wsHandle struct{ c *internal.Conn }

func (h wsHandle) ReadyState() ReadyState  { return ReadyState(h.c.State()) }
func (h wsHandle) Send(frame []byte) error { return h.c.Send(frame) }
func (h wsHandle) Close() error            { return h.c.Close() }
