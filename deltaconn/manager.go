package deltaconn

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/vovakirdan/deltaconn-go/deltaconn/rest"
)

// Option configures a Manager during construction.
type Option func(*Manager)

// WithDialer overrides the transport. The default dials WebSockets.
func WithDialer(d Dialer) Option { return func(m *Manager) { m.dialer = d } }

// WithScheduler overrides the timer source used for timeouts and backoff.
func WithScheduler(s Scheduler) Option { return func(m *Manager) { m.sched = s } }

// WithDecoder overrides frame parsing. Ref resolution through the message
// cache, if enabled, still applies to its output.
func WithDecoder(d Decoder) Option { return func(m *Manager) { m.decode = d } }

// WithMessageFetcher sets where cache misses are fetched from. It defaults to
// the REST client when Config.HTTPBaseURL is set.
func WithMessageFetcher(f MessageFetcher) Option { return func(m *Manager) { m.fetcher = f } }

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithStaticSource serves the session from s instead of a transport.
func WithStaticSource(s StaticSource) Option { return func(m *Manager) { m.static = s } }

// WithFrameTap observes every raw frame before it is decoded, in arrival order.
func WithFrameTap(fn func(frame []byte)) Option { return func(m *Manager) { m.tap = fn } }

// Manager owns the connection to the backend: it picks endpoints, retries,
// tracks the connection state and delivers decoded messages in wire order.
//
// Callbacks must be registered before Run and are invoked on the manager's
// loop goroutine, one at a time.
type Manager struct {
	cfg    Config
	logger Logger
	dialer Dialer
	sched  Scheduler
	decode Decoder
	static StaticSource
	tap    func([]byte)
	rest    *rest.Client
	cache   *MessageCache
	fetcher MessageFetcher
	fetches *fetchQueue

	onMessage func(*ForwardMsg)
	onState   func(StateEvent)
	onError   func(error)

	loop        *loop
	buffer      *ReorderBuffer[*ForwardMsg]
	decodeAsync AsyncDecoder[*ForwardMsg]
	snapshot    atomic.Int32

	mu      sync.Mutex
	running bool
	closed  bool
	stop    context.CancelFunc
	runCtx  context.Context

	// Owned by the loop.
	state         ConnectionState
	current       *handleListener
	cancelTimeout CancelFunc
	cancelRetry   CancelFunc
	endpointIndex int
	attemptCount  int
	fatal         error
}

// NewManager constructs a manager with provided config.
// Use DefaultConfig() as a starting point and modify as needed.
func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	m := &Manager{
		cfg:    cfg,
		logger: noopLogger{},
		decode: DecodeFrame,
		loop:   newLoop(),
		runCtx: context.Background(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if cfg.HTTPBaseURL != "" {
		m.rest = rest.NewClient(cfg.HTTPBaseURL)
	}
	if m.static == nil && cfg.StaticSessionID != "" {
		if m.rest == nil {
			return nil, NewError(ErrorInvalidConfig, "static session requires http_base_url")
		}
		m.static = NewHTTPSource(m.rest, cfg.StaticSessionID)
	}
	if m.static == nil {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	if m.dialer == nil {
		m.dialer = NewWebSocketDialer(cfg)
	}
	if m.sched == nil {
		m.sched = clockScheduler{post: m.loop.post}
	}
	if cfg.CacheSize > 0 {
		if m.fetcher == nil && m.rest != nil {
			m.fetcher = m.rest
		}
		m.cache = NewMessageCache(cfg.CacheSize, m.fetcher)
		m.fetches = newFetchQueue(m, maxConcurrentFetches)
	}
	m.decodeAsync = m.decodeFrame
	m.buffer = NewReorderBuffer(func(frame []byte, done func(*ForwardMsg, error)) {
		m.decodeAsync(frame, done)
	}, m.deliver)
	return m, nil
}

// OnMessage registers the consumer of decoded messages.
func (m *Manager) OnMessage(fn func(*ForwardMsg)) { m.onMessage = fn }

// OnStateChange registers callback for state transitions.
func (m *Manager) OnStateChange(fn func(StateEvent)) { m.onState = fn }

// OnError registers callback for errors.
func (m *Manager) OnError(fn func(error)) { m.onError = fn }

// State returns the current connection state. Safe from any goroutine.
func (m *Manager) State() ConnectionState { return ConnectionState(m.snapshot.Load()) }

// Cache returns the message cache, or nil when disabled.
func (m *Manager) Cache() *MessageCache { return m.cache }

// Run connects (or loads the static session) and processes events until ctx
// is done or Close is called. It returns a non-nil error only when the state
// machine hit a transition it does not define.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return NewError(ErrorAlreadyRunning, "manager is already running")
	}
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.running = true
	m.stop = cancel
	m.runCtx = runCtx
	m.mu.Unlock()
	defer cancel()

	m.loop.post(m.start)
	err := m.loop.run(runCtx, m.exec)
	m.shutdown()
	if err != nil && runCtx.Err() != nil && !IsIllegalTransition(err) {
		return nil
	}
	return err
}

// Close stops Run and closes the current transport.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	if m.stop != nil {
		m.stop()
	}
	return nil
}

// SendMessage encodes msg and writes it on the current transport. When not
// connected it is a logged no-op; there is no delivery acknowledgement.
func (m *Manager) SendMessage(msg *BackMsg) {
	m.loop.post(func() { m.send(msg) })
}

// Reconnect starts a fresh attempt cycle from the first endpoint. It only
// has an effect in the disconnected and error states.
func (m *Manager) Reconnect() {
	m.loop.post(func() {
		if m.state != StateDisconnected && m.state != StateError {
			m.logger.Debug("reconnect ignored", map[string]any{"state": m.state.String()})
			return
		}
		m.clearRetry()
		m.startAttempt()
	})
}

func (m *Manager) exec(fn func()) error {
	if m.fatal != nil {
		return m.fatal
	}
	fn()
	return m.fatal
}

func (m *Manager) start() {
	if m.static != nil {
		m.serveStatic()
		return
	}
	m.startAttempt()
}

func (m *Manager) shutdown() {
	m.clearRetry()
	m.release()
}

// step applies e to the current state and reports the transition.
func (m *Manager) step(e Event, msg string) error {
	next, err := Transition(m.state, e)
	if err != nil {
		m.fatal = err
		m.logger.Error("illegal state transition", map[string]any{"state": m.state.String(), "event": e.String()})
		m.reportError(err)
		return err
	}
	if next == m.state {
		return nil
	}
	old := m.state
	m.state = next
	m.snapshot.Store(int32(next))
	m.logger.Debug("state change", map[string]any{"from": old.String(), "to": next.String(), "event": e.String()})
	if m.onState != nil {
		m.onState(StateEvent{OldState: old, NewState: next, Message: msg})
	}
	return nil
}

func (m *Manager) startAttempt() {
	m.endpointIndex = 0
	m.attemptCount = 0
	m.open()
}

// open dials the current candidate endpoint, superseding any live handle.
func (m *Manager) open() {
	if err := m.step(EventAttemptStarted, ""); err != nil {
		return
	}
	m.release()

	uri := m.cfg.Endpoints[m.endpointIndex]
	l := &handleListener{m: m}
	m.current = l
	l.handle = m.dialer.Dial(uri, l)
	m.logger.Debug("dialing", map[string]any{"endpoint": uri, "cycle": m.attemptCount})
	m.cancelTimeout = m.sched.After(m.cfg.ConnectTimeout, func() { m.connectTimedOut(l) })
}

// continueAttempt moves to the next candidate after a failed open.
func (m *Manager) continueAttempt() {
	m.endpointIndex++
	if m.endpointIndex >= len(m.cfg.Endpoints) {
		m.endpointIndex = 0
		m.attemptCount++
	}
	if bound, ok := m.cfg.retryBound(); ok && m.attemptCount >= bound {
		msg := fmt.Sprintf("unable to connect to %s after %d attempts", strings.Join(m.cfg.Endpoints, ", "), m.attemptCount)
		m.release()
		if err := m.step(EventRetriesExhausted, msg); err != nil {
			return
		}
		m.logger.Error("giving up", map[string]any{"attempts": m.attemptCount})
		m.reportError(NewError(ErrorRetriesExhausted, msg))
		return
	}
	m.cancelRetry = m.sched.After(m.cfg.RetryBackoff, func() {
		m.cancelRetry = nil
		m.open()
	})
}

func (m *Manager) connectTimedOut(l *handleListener) {
	if l != m.current {
		return
	}
	m.cancelTimeout = nil
	if l.handle.ReadyState() != ReadyConnecting {
		return
	}
	m.logger.Warn("connection attempt timed out", map[string]any{"endpoint": m.cfg.Endpoints[m.endpointIndex]})
	m.release()
	if err := m.step(EventTimedOut, ""); err != nil {
		return
	}
	m.continueAttempt()
}

func (m *Manager) handleTransportEvent(l *handleListener, e Event, err error, frame []byte) {
	if l != m.current {
		m.logger.Debug("dropping event from superseded transport", map[string]any{"event": e.String()})
		return
	}
	if e == eventMessage {
		m.receive(frame)
		return
	}
	m.clearTimeout()
	if err != nil {
		m.logger.Warn("transport event", map[string]any{"event": e.String(), "error": err.Error()})
	}
	prev := m.state
	if m.step(e, "") != nil {
		return
	}
	switch {
	case e == EventOpened:
		m.logger.Info("connected", map[string]any{"endpoint": m.cfg.Endpoints[m.endpointIndex]})
	case prev.Connecting():
		m.continueAttempt()
	case prev == StateConnected:
		m.startAttempt()
	}
}

func (m *Manager) receive(frame []byte) {
	if m.tap != nil {
		m.tap(frame)
	}
	m.buffer.Submit(frame)
}

// decodeFrame parses frame on the loop, so the cache is updated in wire
// order. Only a ref whose original is not cached completes later, once the
// fetch queue has retrieved it.
func (m *Manager) decodeFrame(frame []byte, done func(*ForwardMsg, error)) {
	msg, err := m.decode(m.runCtx, frame)
	if err != nil || m.cache == nil {
		done(msg, err)
		return
	}
	if msg.Type != forwardRef {
		m.cache.Put(msg)
		done(msg, nil)
		return
	}
	if hit, ok := m.cache.Resolve(msg); ok {
		done(hit, nil)
		return
	}
	m.fetches.request(msg, done)
}

func (m *Manager) deliver(d Delivery[*ForwardMsg]) {
	if d.Err != nil {
		m.logger.Warn("skipping undecodable frame", map[string]any{"seq": d.Seq, "error": d.Err.Error()})
		m.reportError(WrapError(ErrorDecode, fmt.Sprintf("frame %d", d.Seq), d.Err))
		return
	}
	if m.onMessage != nil {
		m.onMessage(d.Value)
	}
}

func (m *Manager) send(msg *BackMsg) {
	if m.current == nil || m.state != StateConnected || m.current.handle.ReadyState() != ReadyOpen {
		m.logger.Warn("cannot send while not connected", map[string]any{"state": m.state.String(), "type": msg.Type})
		return
	}
	frame, err := EncodeBackMsg(msg)
	if err != nil {
		m.reportError(err)
		return
	}
	if err := m.current.handle.Send(frame); err != nil {
		m.logger.Warn("send failed", map[string]any{"type": msg.Type, "error": err.Error()})
	}
}

func (m *Manager) serveStatic() {
	if m.step(EventStaticMode, "") != nil {
		return
	}
	src, ctx := m.static, m.runCtx
	go func() {
		err := src.Frames(ctx, func(frame []byte) error {
			m.loop.post(func() { m.receive(frame) })
			return ctx.Err()
		})
		if err != nil && ctx.Err() == nil {
			m.loop.post(func() { m.reportError(WrapError(ErrorConnection, "load static session", err)) })
		}
	}()
}

// release revokes and closes the current handle.
func (m *Manager) release() {
	m.clearTimeout()
	l := m.current
	if l == nil {
		return
	}
	m.current = nil
	l.revoke()
	if err := l.handle.Close(); err != nil {
		m.logger.Debug("close transport", map[string]any{"error": err.Error()})
	}
}

func (m *Manager) clearTimeout() {
	if m.cancelTimeout != nil {
		m.cancelTimeout()
		m.cancelTimeout = nil
	}
}

func (m *Manager) clearRetry() {
	if m.cancelRetry != nil {
		m.cancelRetry()
		m.cancelRetry = nil
	}
}

func (m *Manager) reportError(err error) {
	if m.onError != nil && err != nil {
		m.onError(err)
	}
}
