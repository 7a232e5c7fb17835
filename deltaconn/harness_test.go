package deltaconn

import (
	"errors"
	"testing"
	"time"
)

// fakeHandle is a transport the test drives by hand.
type fakeHandle struct {
	uri      string
	listener Listener
	state    ReadyState
	sent     [][]byte
	closed   bool
}

func (h *fakeHandle) ReadyState() ReadyState { return h.state }

func (h *fakeHandle) Send(frame []byte) error {
	if h.state != ReadyOpen {
		return errors.New("not open")
	}
	h.sent = append(h.sent, frame)
	return nil
}

func (h *fakeHandle) Close() error {
	h.closed = true
	h.state = ReadyClosed
	return nil
}

func (h *fakeHandle) open() {
	h.state = ReadyOpen
	h.listener.Opened()
}

// fail mimics a refused connection: error followed by close.
func (h *fakeHandle) fail() {
	h.state = ReadyClosed
	h.listener.Failed(errors.New("connection refused"))
	h.listener.Closed(nil)
}

func (h *fakeHandle) drop() {
	h.state = ReadyClosed
	h.listener.Closed(nil)
}

type fakeDialer struct {
	handles []*fakeHandle
}

func (d *fakeDialer) Dial(uri string, l Listener) Handle {
	h := &fakeHandle{uri: uri, listener: l}
	d.handles = append(d.handles, h)
	return h
}

func (d *fakeDialer) last() *fakeHandle {
	if len(d.handles) == 0 {
		return nil
	}
	return d.handles[len(d.handles)-1]
}

func (d *fakeDialer) uris() []string {
	var out []string
	for _, h := range d.handles {
		out = append(out, h.uri)
	}
	return out
}

// fakeClock is a virtual-time Scheduler.
type fakeClock struct {
	now    time.Duration
	timers []*fakeTimer
}

type fakeTimer struct {
	at        time.Duration
	fn        func()
	cancelled bool
	fired     bool
}

func (c *fakeClock) After(d time.Duration, fn func()) CancelFunc {
	t := &fakeTimer{at: c.now + d, fn: fn}
	c.timers = append(c.timers, t)
	return func() { t.cancelled = true }
}

// next returns the earliest live timer due at or before limit.
func (c *fakeClock) next(limit time.Duration) *fakeTimer {
	var best *fakeTimer
	for _, t := range c.timers {
		if t.cancelled || t.fired || t.at > limit {
			continue
		}
		if best == nil || t.at < best.at {
			best = t
		}
	}
	return best
}

func (c *fakeClock) live() int {
	n := 0
	for _, t := range c.timers {
		if !t.cancelled && !t.fired {
			n++
		}
	}
	return n
}

// harness runs a Manager's loop on the test goroutine.
type harness struct {
	t        *testing.T
	m        *Manager
	dialer   *fakeDialer
	clock    *fakeClock
	states   []StateEvent
	messages []*ForwardMsg
	errs     []error
	fatal    error
}

func testConfig(endpoints ...string) Config {
	cfg := DefaultConfig()
	cfg.Endpoints = endpoints
	cfg.CacheSize = 0
	return cfg
}

func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()
	h := &harness{t: t, dialer: &fakeDialer{}, clock: &fakeClock{}}
	opts = append([]Option{WithDialer(h.dialer), WithScheduler(h.clock)}, opts...)
	m, err := NewManager(cfg, opts...)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	m.OnStateChange(func(ev StateEvent) { h.states = append(h.states, ev) })
	m.OnMessage(func(msg *ForwardMsg) { h.messages = append(h.messages, msg) })
	m.OnError(func(err error) { h.errs = append(h.errs, err) })
	h.m = m
	return h
}

func (h *harness) pump() {
	if err := h.m.loop.runPending(h.m.exec); err != nil && h.fatal == nil {
		h.fatal = err
	}
}

func (h *harness) start() {
	h.m.loop.post(h.m.start)
	h.pump()
}

// advance moves virtual time forward, firing due timers in order.
func (h *harness) advance(d time.Duration) {
	target := h.clock.now + d
	for {
		t := h.clock.next(target)
		if t == nil {
			break
		}
		h.clock.now = t.at
		t.fired = true
		h.m.loop.post(t.fn)
		h.pump()
	}
	h.clock.now = target
}

func (h *harness) state() ConnectionState {
	return h.m.State()
}

func (h *harness) lastState() StateEvent {
	if len(h.states) == 0 {
		return StateEvent{}
	}
	return h.states[len(h.states)-1]
}
