package deltaconn

import "sync/atomic"

// ReadyState mirrors the lifecycle of a transport handle.
type ReadyState int32

const (
	ReadyConnecting ReadyState = iota
	ReadyOpen
	ReadyClosing
	ReadyClosed
)

// Handle is one live transport connection.
type Handle interface {
	ReadyState() ReadyState
	// Send queues a binary frame for writing. It fails unless the handle is open.
	Send(frame []byte) error
	Close() error
}

// Listener receives a handle's events. Implementations may call it from any
// goroutine, in the order the events happened.
type Listener interface {
	Opened()
	Failed(err error)
	Closed(err error)
	Message(frame []byte)
}

// Dialer opens handles. Dial must not block on the network: it returns a
// handle in ReadyConnecting and reports the outcome through l.
type Dialer interface {
	Dial(uri string, l Listener) Handle
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(uri string, l Listener) Handle

func (f DialerFunc) Dial(uri string, l Listener) Handle { return f(uri, l) }

// handleListener forwards one handle's events onto the manager loop until it
// is revoked. Events already posted when revoke happens are dropped on the
// loop by comparing the handle against the current one.
type handleListener struct {
	m       *Manager
	handle  Handle
	revoked atomic.Bool
}

func (l *handleListener) revoke() { l.revoked.Store(true) }

func (l *handleListener) forward(ev Event, err error, frame []byte) {
	if l.revoked.Load() {
		return
	}
	l.m.loop.post(func() {
		l.m.handleTransportEvent(l, ev, err, frame)
	})
}

func (l *handleListener) Opened()              { l.forward(EventOpened, nil, nil) }
func (l *handleListener) Failed(err error)     { l.forward(EventError, err, nil) }
func (l *handleListener) Closed(err error)     { l.forward(EventClosed, err, nil) }
func (l *handleListener) Message(frame []byte) { l.forward(eventMessage, nil, frame) }

// eventMessage is a transport event that never reaches Transition.
const eventMessage Event = -1
