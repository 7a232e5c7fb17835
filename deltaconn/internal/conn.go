package internal

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

// Ready states, numerically equal to deltaconn.ReadyState.
const (
	StateConnecting int32 = iota
	StateOpen
	StateClosing
	StateClosed
)

// readLimit caps a single inbound frame.
const readLimit = 64 << 20

// Listener receives connection events.
type Listener interface {
	Opened()
	Failed(err error)
	Closed(err error)
	Message(frame []byte)
}

// ErrNotOpen is returned by Send outside the open state.
var ErrNotOpen = errors.New("websocket not open")

// ErrQueueFull is returned by Send when the write queue is saturated.
var ErrQueueFull = errors.New("write queue full")

// Conn wraps websocket.Conn with timeouts and a connecting/open/closed
// lifecycle reported through a Listener. Each event fires at most once,
// Closed always last.
type Conn struct {
	uri              string
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	listener         Listener

	state   atomic.Int32
	ctx     context.Context
	cancel  context.CancelFunc
	writeCh chan []byte

	mu sync.Mutex
	ws *websocket.Conn
}

// Dial starts connecting to uri in the background and returns immediately.
func Dial(uri string, handshakeTimeout, writeTimeout time.Duration, l Listener) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		uri:              uri,
		handshakeTimeout: handshakeTimeout,
		writeTimeout:     writeTimeout,
		listener:         l,
		ctx:              ctx,
		cancel:           cancel,
		writeCh:          make(chan []byte, 16),
	}
	go c.run()
	return c
}

// State returns the current ready state.
func (c *Conn) State() int32 { return c.state.Load() }

// Send queues frame for a binary write.
func (c *Conn) Send(frame []byte) error {
	if c.state.Load() != StateOpen {
		return ErrNotOpen
	}
	select {
	case c.writeCh <- frame:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close starts the closing handshake without waiting for it.
func (c *Conn) Close() error {
	for {
		s := c.state.Load()
		if s == StateClosing || s == StateClosed {
			return nil
		}
		if c.state.CompareAndSwap(s, StateClosing) {
			break
		}
	}
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws != nil {
		go func() { _ = ws.Close(websocket.StatusNormalClosure, "client close") }()
	} else {
		c.cancel()
	}
	return nil
}

func (c *Conn) run() {
	dialCtx := c.ctx
	if c.handshakeTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(c.ctx, c.handshakeTimeout)
		defer cancel()
	}

	ws, _, err := websocket.Dial(dialCtx, c.uri, nil)
	if err != nil {
		closing := c.state.Load() == StateClosing
		c.state.Store(StateClosed)
		c.cancel()
		if !closing {
			c.listener.Failed(err)
		}
		c.listener.Closed(err)
		return
	}
	ws.SetReadLimit(readLimit)

	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
	if !c.state.CompareAndSwap(StateConnecting, StateOpen) {
		_ = ws.Close(websocket.StatusNormalClosure, "closed during handshake")
		c.state.Store(StateClosed)
		c.cancel()
		c.listener.Closed(nil)
		return
	}
	c.listener.Opened()

	go c.writeLoop(ws)
	err = c.readLoop(ws)
	expected := c.state.Load() == StateClosing || isExpectedDisconnect(c.ctx, err)
	c.state.Store(StateClosed)
	c.cancel()
	if !expected {
		c.listener.Failed(err)
	}
	c.listener.Closed(err)
}

func (c *Conn) readLoop(ws *websocket.Conn) error {
	for {
		_, data, err := ws.Read(c.ctx)
		if err != nil {
			return err
		}
		c.listener.Message(data)
	}
}

func (c *Conn) writeLoop(ws *websocket.Conn) {
	for {
		select {
		case frame := <-c.writeCh:
			if err := c.write(ws, frame); err != nil {
				_ = ws.Close(websocket.StatusInternalError, "write error")
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Conn) write(ws *websocket.Conn, frame []byte) error {
	ctx := c.ctx
	if c.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.writeTimeout)
		defer cancel()
	}
	return ws.Write(ctx, websocket.MessageBinary, frame)
}

func isExpectedDisconnect(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if ctx != nil && ctx.Err() != nil {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	default:
		return false
	}
}
