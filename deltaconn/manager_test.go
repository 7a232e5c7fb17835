package deltaconn

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestRetriesExhaustedAfterEveryEndpointFails(t *testing.T) {
	cfg := testConfig("ws://a", "ws://b")
	cfg.MaxRetries = 2
	h := newHarness(t, cfg)
	h.start()

	for i := 0; i < 4; i++ {
		if i > 0 {
			h.advance(cfg.RetryBackoff)
		}
		hd := h.dialer.last()
		if len(h.dialer.handles) != i+1 {
			t.Fatalf("attempt %d: got %d dials", i, len(h.dialer.handles))
		}
		hd.fail()
		h.pump()
	}

	if h.state() != StateError {
		t.Fatalf("state = %s, want error", h.state())
	}
	if msg := h.lastState().Message; msg == "" {
		t.Fatalf("error state without message")
	}
	if diff := cmp.Diff([]string{"ws://a", "ws://b", "ws://a", "ws://b"}, h.dialer.uris()); diff != "" {
		t.Fatalf("dialed endpoints (-want +got):\n%s", diff)
	}

	h.advance(time.Hour)
	if n := len(h.dialer.handles); n != 4 {
		t.Fatalf("dialed %d times after giving up, want 4", n)
	}
	if h.fatal != nil {
		t.Fatalf("unexpected fatal: %v", h.fatal)
	}
	if len(h.errs) != 1 || CodeOf(h.errs[0]) != ErrorRetriesExhausted {
		t.Fatalf("errors = %v, want one retries_exhausted", h.errs)
	}
}

func TestStateSequenceDuringFailover(t *testing.T) {
	cfg := testConfig("ws://a", "ws://b")
	cfg.MaxRetries = 1
	h := newHarness(t, cfg)
	h.start()
	h.dialer.last().fail()
	h.pump()
	h.advance(cfg.RetryBackoff)
	h.dialer.last().fail()
	h.pump()

	var got []ConnectionState
	for _, ev := range h.states {
		got = append(got, ev.NewState)
	}
	want := []ConnectionState{
		StateInitialConnecting,
		StateDisconnected,
		StateReconnecting,
		StateDisconnected,
		StateError,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("states (-want +got):\n%s", diff)
	}
}

func TestTimeoutsCountTowardRetryBound(t *testing.T) {
	cfg := testConfig("ws://a")
	cfg.MaxRetries = 3
	h := newHarness(t, cfg)
	h.start()

	for i := 0; i < 3; i++ {
		hd := h.dialer.last()
		h.advance(cfg.ConnectTimeout)
		if !hd.closed {
			t.Fatalf("attempt %d: timed out handle not closed", i)
		}
		h.advance(cfg.RetryBackoff)
	}
	if h.state() != StateError {
		t.Fatalf("state = %s, want error", h.state())
	}
	if n := len(h.dialer.handles); n != 3 {
		t.Fatalf("dials = %d, want 3", n)
	}
}

func TestLocalTargetRetriesForever(t *testing.T) {
	cfg := testConfig("ws://localhost:8501/stream")
	cfg.Local = true
	cfg.MaxRetries = 1
	h := newHarness(t, cfg)
	h.start()

	for i := 0; i < 50; i++ {
		if i%2 == 0 {
			h.dialer.last().fail()
			h.pump()
		} else {
			h.advance(cfg.ConnectTimeout)
		}
		if h.state() == StateError {
			t.Fatalf("reached error after %d failures", i+1)
		}
		h.advance(cfg.RetryBackoff)
	}
	if n := len(h.dialer.handles); n != 51 {
		t.Fatalf("dials = %d, want 51", n)
	}
	if h.state() != StateReconnecting {
		t.Fatalf("state = %s, want reconnecting", h.state())
	}
}

func TestConnectedDropRestartsFromFirstEndpoint(t *testing.T) {
	h := newHarness(t, testConfig("ws://a", "ws://b"))
	h.start()
	h.dialer.last().fail()
	h.pump()
	h.advance(h.m.cfg.RetryBackoff)

	b := h.dialer.last()
	b.open()
	h.pump()
	if h.state() != StateConnected {
		t.Fatalf("state = %s, want connected", h.state())
	}

	b.drop()
	h.pump()
	if h.state() != StateReconnecting {
		t.Fatalf("state = %s, want reconnecting", h.state())
	}
	if got := h.dialer.last().uri; got != "ws://a" {
		t.Fatalf("reconnect dialed %s, want ws://a", got)
	}
	if n := len(h.dialer.handles); n != 3 {
		t.Fatalf("dials = %d, want 3 (no backoff after a drop)", n)
	}
}

func TestTimeoutClearedOnOpen(t *testing.T) {
	h := newHarness(t, testConfig("ws://a"))
	h.start()
	h.dialer.last().open()
	h.pump()
	h.advance(10 * h.m.cfg.ConnectTimeout)
	if h.state() != StateConnected {
		t.Fatalf("state = %s, want connected", h.state())
	}
	if n := h.clock.live(); n != 0 {
		t.Fatalf("%d timers still armed", n)
	}
}

func TestSupersededHandleIsIgnored(t *testing.T) {
	h := newHarness(t, testConfig("ws://a"))
	h.start()
	old := h.dialer.last()
	oldListener := old.listener.(*handleListener)

	h.advance(h.m.cfg.ConnectTimeout)
	h.advance(h.m.cfg.RetryBackoff)
	if len(h.dialer.handles) != 2 {
		t.Fatalf("dials = %d, want 2", len(h.dialer.handles))
	}
	if !old.closed {
		t.Fatalf("superseded handle not closed")
	}
	before := len(h.states)

	// Revoked listener: nothing reaches the loop.
	old.open()
	old.listener.Message([]byte(`{"type":"delta"}`))
	old.fail()
	h.pump()

	// Events already in flight when the handle was replaced.
	for _, ev := range []Event{EventOpened, EventError, EventClosed, eventMessage} {
		ev := ev
		h.m.loop.post(func() { h.m.handleTransportEvent(oldListener, ev, nil, []byte(`{"type":"delta"}`)) })
	}
	h.pump()

	if len(h.states) != before {
		t.Fatalf("stale events changed state: %v", h.states[before:])
	}
	if len(h.messages) != 0 || h.m.buffer.Submitted() != 0 {
		t.Fatalf("stale message was accepted")
	}
	if h.fatal != nil {
		t.Fatalf("unexpected fatal: %v", h.fatal)
	}
}

func TestIllegalTransitionIsFatal(t *testing.T) {
	h := newHarness(t, testConfig("ws://a"))
	h.start()
	hd := h.dialer.last()
	hd.open()
	hd.listener.Opened()
	h.pump()

	if !IsIllegalTransition(h.fatal) {
		t.Fatalf("fatal = %v, want illegal transition", h.fatal)
	}
	if h.state() != StateConnected {
		t.Fatalf("state = %s, want connected to be kept", h.state())
	}
	hd.drop()
	h.pump()
	if h.state() != StateConnected {
		t.Fatalf("events processed after fatal error")
	}
}

func TestRunReturnsIllegalTransition(t *testing.T) {
	d := DialerFunc(func(uri string, l Listener) Handle {
		h := &fakeHandle{uri: uri, listener: l, state: ReadyOpen}
		l.Opened()
		l.Opened()
		return h
	})
	m, err := NewManager(testConfig("ws://a"), WithDialer(d))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Run(ctx); !IsIllegalTransition(err) {
		t.Fatalf("Run = %v, want illegal transition", err)
	}
}

func TestSendMessageWhenNotConnected(t *testing.T) {
	h := newHarness(t, testConfig("ws://a"))

	h.m.SendMessage(RerunScript(""))
	h.pump()
	if h.state() != StateInitial {
		t.Fatalf("state = %s", h.state())
	}

	h.start()
	hd := h.dialer.last()
	hd.fail()
	h.pump()
	if h.state() != StateDisconnected {
		t.Fatalf("state = %s, want disconnected", h.state())
	}
	h.m.SendMessage(StopScript())
	h.pump()
	if len(hd.sent) != 0 {
		t.Fatalf("wrote %d frames while disconnected", len(hd.sent))
	}
	if h.fatal != nil || len(h.errs) != 0 {
		t.Fatalf("send while disconnected reported errors: %v %v", h.fatal, h.errs)
	}
}

func TestSendMessageWhenConnected(t *testing.T) {
	h := newHarness(t, testConfig("ws://a"))
	h.start()
	hd := h.dialer.last()
	hd.open()
	h.pump()

	h.m.SendMessage(RerunScript("x=1"))
	h.pump()
	if len(hd.sent) != 1 {
		t.Fatalf("sent %d frames, want 1", len(hd.sent))
	}
	var got struct {
		Type string       `json:"type"`
		Data RerunPayload `json:"data"`
	}
	if err := json.Unmarshal(hd.sent[0], &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != backRerunScript || got.Data.QueryString != "x=1" {
		t.Fatalf("unexpected frame: %s", hd.sent[0])
	}
}

func TestReconnectFromError(t *testing.T) {
	cfg := testConfig("ws://a", "ws://b")
	cfg.MaxRetries = 1
	h := newHarness(t, cfg)
	h.start()
	h.dialer.last().fail()
	h.pump()
	h.advance(cfg.RetryBackoff)
	h.dialer.last().fail()
	h.pump()
	if h.state() != StateError {
		t.Fatalf("state = %s, want error", h.state())
	}

	h.m.Reconnect()
	h.pump()
	if h.state() != StateReconnecting {
		t.Fatalf("state = %s, want reconnecting", h.state())
	}
	if got := h.dialer.last().uri; got != "ws://a" {
		t.Fatalf("dialed %s, want ws://a", got)
	}

	// A new cycle gets the full retry budget again.
	h.dialer.last().open()
	h.pump()
	if h.state() != StateConnected {
		t.Fatalf("state = %s, want connected", h.state())
	}
}

func TestReconnectIgnoredWhileConnecting(t *testing.T) {
	h := newHarness(t, testConfig("ws://a"))
	h.start()
	h.m.Reconnect()
	h.pump()
	if n := len(h.dialer.handles); n != 1 {
		t.Fatalf("dials = %d, want 1", n)
	}
}

// manualDecodes captures decode completions so the test picks their order.
type manualDecodes struct {
	frames [][]byte
	done   []func(*ForwardMsg, error)
}

func (d *manualDecodes) decode(frame []byte, done func(*ForwardMsg, error)) {
	d.frames = append(d.frames, frame)
	d.done = append(d.done, done)
}

func (d *manualDecodes) finish(i int) {
	msg, err := DecodeFrame(context.Background(), d.frames[i])
	d.done[i](msg, err)
}

func TestMessagesDeliveredInWireOrder(t *testing.T) {
	h := newHarness(t, testConfig("ws://a"))
	dec := &manualDecodes{}
	h.m.decodeAsync = dec.decode
	h.start()
	hd := h.dialer.last()
	hd.open()
	for _, ev := range []string{"first", "second", "third"} {
		hd.listener.Message([]byte(`{"type":"session_event","data":{"kind":"` + ev + `"}}`))
	}
	h.pump()

	for _, i := range []int{2, 0, 1} {
		h.m.loop.post(func() { dec.finish(i) })
		h.pump()
		if i == 2 && len(h.messages) != 0 {
			t.Fatalf("frame 2 delivered before frame 0")
		}
	}

	var got []string
	for _, msg := range h.messages {
		var ev SessionEvent
		if err := UnmarshalData(msg.Data, &ev); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		got = append(got, ev.Kind)
	}
	if diff := cmp.Diff([]string{"first", "second", "third"}, got); diff != "" {
		t.Fatalf("delivery order (-want +got):\n%s", diff)
	}
}

func TestUndecodableFrameDoesNotStall(t *testing.T) {
	h := newHarness(t, testConfig("ws://a"))
	dec := &manualDecodes{}
	h.m.decodeAsync = dec.decode
	h.start()
	hd := h.dialer.last()
	hd.open()
	hd.listener.Message([]byte(`{"type":"delta"}`))
	hd.listener.Message([]byte(`not json`))
	hd.listener.Message([]byte(`{"type":"script_finished"}`))
	h.pump()
	for _, i := range []int{2, 1, 0} {
		i := i
		h.m.loop.post(func() { dec.finish(i) })
	}
	h.pump()

	if len(h.messages) != 2 || h.messages[0].Type != forwardDelta || h.messages[1].Type != forwardScriptFinished {
		t.Fatalf("unexpected messages: %+v", h.messages)
	}
	if len(h.errs) != 1 || CodeOf(h.errs[0]) != ErrorDecode {
		t.Fatalf("errors = %v, want one decode error", h.errs)
	}
}

func TestFrameTapSeesArrivalOrder(t *testing.T) {
	var tapped []string
	h := newHarness(t, testConfig("ws://a"), WithFrameTap(func(frame []byte) { tapped = append(tapped, string(frame)) }))
	h.m.decodeAsync = (&manualDecodes{}).decode
	h.start()
	hd := h.dialer.last()
	hd.open()
	hd.listener.Message([]byte("1"))
	hd.listener.Message([]byte("2"))
	h.pump()
	if diff := cmp.Diff([]string{"1", "2"}, tapped); diff != "" {
		t.Fatalf("tap (-want +got):\n%s", diff)
	}
}

type sliceSource [][]byte

func (s sliceSource) Frames(ctx context.Context, yield func([]byte) error) error {
	for _, f := range s {
		if err := yield(f); err != nil {
			return err
		}
	}
	return nil
}

func TestStaticModeDeliversFrames(t *testing.T) {
	src := sliceSource{
		[]byte(`{"type":"new_session","data":{"session_id":"s1"}}`),
		[]byte(`{"type":"delta","data":{"kind":"new_element"}}`),
		[]byte(`{"type":"script_finished","data":{"status":"success"}}`),
	}
	m, err := NewManager(Config{}, WithStaticSource(src))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	got := make(chan string, len(src))
	m.OnMessage(func(msg *ForwardMsg) { got <- msg.Type })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- m.Run(ctx) }()

	var types []string
	for len(types) < len(src) {
		select {
		case typ := <-got:
			types = append(types, typ)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out after %v", types)
		}
	}
	if diff := cmp.Diff([]string{forwardNewSession, forwardDelta, forwardScriptFinished}, types); diff != "" {
		t.Fatalf("static order (-want +got):\n%s", diff)
	}
	if m.State() != StateStatic {
		t.Fatalf("state = %s, want static", m.State())
	}
	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestNewManagerRejectsBadConfig(t *testing.T) {
	_, err := NewManager(Config{})
	if CodeOf(err) != ErrorInvalidConfig {
		t.Fatalf("err = %v, want invalid config", err)
	}
	cfg := testConfig("ws://a")
	cfg.StaticSessionID = "abc"
	cfg.Endpoints = nil
	if _, err := NewManager(cfg); !errors.Is(err, NewError(ErrorInvalidConfig, "")) {
		t.Fatalf("err = %v, want invalid config", err)
	}
}

func TestCloseBeforeRun(t *testing.T) {
	m, err := NewManager(testConfig("ws://a"), WithDialer(&fakeDialer{}))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	_ = m.Close()
	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run after Close = %v", err)
	}
}
