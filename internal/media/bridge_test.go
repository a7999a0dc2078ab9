package media

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/outdial/internal/config"
	"github.com/haasonsaas/outdial/internal/observability"
)

// testMetrics is shared across the package: prometheus collectors register
// with the default registry once per test binary.
var testMetrics = observability.NewMetrics()

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.LogConfig{Level: "error", Output: io.Discard})
}

// bridgeServer is a scripted stand-in for the media bridge. It accepts
// websocket upgrades, queues every request frame it reads, and lets tests
// push responses and events back down the latest connection.
type bridgeServer struct {
	t   *testing.T
	srv *httptest.Server

	reqs chan Frame

	mu        sync.Mutex
	conns     []*websocket.Conn
	lastAuth  string
	upgrades  int
	rejectAll bool
}

func newBridgeServer(t *testing.T) *bridgeServer {
	t.Helper()
	s := &bridgeServer{t: t, reqs: make(chan Frame, 16)}
	upgrader := websocket.Upgrader{}

	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.lastAuth = r.Header.Get("Authorization")
		reject := s.rejectAll
		s.mu.Unlock()
		if reject {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.upgrades++
		s.mu.Unlock()

		go func() {
			for {
				var frame Frame
				if err := conn.ReadJSON(&frame); err != nil {
					return
				}
				s.reqs <- frame
			}
		}()
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *bridgeServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *bridgeServer) conn() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) == 0 {
		return nil
	}
	return s.conns[len(s.conns)-1]
}

func (s *bridgeServer) nextRequest(t *testing.T) Frame {
	t.Helper()
	select {
	case frame := <-s.reqs:
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a request frame")
		return Frame{}
	}
}

func (s *bridgeServer) send(t *testing.T, v any) {
	t.Helper()
	conn := s.conn()
	if conn == nil {
		t.Fatal("no connection to send on")
	}
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("send frame: %v", err)
	}
}

func (s *bridgeServer) respond(t *testing.T, id string, ok bool, frameErr *FrameError) {
	t.Helper()
	s.send(t, Frame{Type: "res", ID: id, OK: &ok, Error: frameErr})
}

func (s *bridgeServer) sendEvent(t *testing.T, event string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	s.send(t, Frame{Type: "event", Event: event, Payload: raw})
}

func (s *bridgeServer) dropConn(t *testing.T) {
	t.Helper()
	conn := s.conn()
	if conn == nil {
		t.Fatal("no connection to drop")
	}
	_ = conn.Close()
}

func testConfig(url string) config.BridgeConfig {
	return config.BridgeConfig{
		URL:               url,
		ReconnectDelay:    5 * time.Millisecond,
		ReconnectMaxDelay: 50 * time.Millisecond,
		SayTimeout:        time.Second,
	}
}

func startBridge(t *testing.T, cfg config.BridgeConfig) *Bridge {
	t.Helper()
	b, err := New(cfg, testLogger(), testMetrics)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("bridge did not stop after cancel")
		}
	})
	return b
}

func waitEvent(t *testing.T, b *Bridge, want EventType) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-b.Events():
			if !ok {
				t.Fatalf("events channel closed while waiting for %s", want)
			}
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", want)
		}
	}
}

func nextEvent(t *testing.T, b *Bridge) Event {
	t.Helper()
	select {
	case ev, ok := <-b.Events():
		if !ok {
			t.Fatal("events channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an event")
	}
	return Event{}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(config.BridgeConfig{}, testLogger(), testMetrics); err == nil {
		t.Fatal("expected error for missing url")
	}

	b, err := New(config.BridgeConfig{URL: "ws://bridge.local"}, testLogger(), testMetrics)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if b.cfg.SayTimeout != 10*time.Second {
		t.Fatalf("SayTimeout default = %s, want 10s", b.cfg.SayTimeout)
	}
	if b.cfg.ReconnectDelay != 500*time.Millisecond {
		t.Fatalf("ReconnectDelay default = %s, want 500ms", b.cfg.ReconnectDelay)
	}
}

func TestSayDeliversRequestAndTracksPlayout(t *testing.T) {
	s := newBridgeServer(t)
	b := startBridge(t, testConfig(s.url()))
	waitEvent(t, b, EventConnected)

	type outcome struct {
		id  string
		err error
	}
	res := make(chan outcome, 1)
	go func() {
		id, err := b.Say(context.Background(), "call-1", "hello there")
		res <- outcome{id, err}
	}()

	req := s.nextRequest(t)
	if req.Type != "req" || req.Method != "say" {
		t.Fatalf("got frame type=%q method=%q, want say request", req.Type, req.Method)
	}
	var params sayParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		t.Fatalf("unmarshal params: %v", err)
	}
	if params.Room != "call-1" || params.Text != "hello there" {
		t.Fatalf("params = %+v", params)
	}

	s.respond(t, req.ID, true, nil)
	out := <-res
	if out.err != nil {
		t.Fatalf("Say: %v", out.err)
	}
	if out.id != req.ID {
		t.Fatalf("utterance id = %q, want request id %q", out.id, req.ID)
	}

	s.sendEvent(t, "speech.started", map[string]any{"room": "call-1", "utterance_id": out.id})
	ev := waitEvent(t, b, EventSpeechStarted)
	if ev.Room != "call-1" || ev.UtteranceID != out.id {
		t.Fatalf("speech.started event = %+v", ev)
	}

	pending, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := b.WaitForPlayout(pending, "call-1"); err == nil {
		t.Fatal("WaitForPlayout returned before speech completed")
	}

	s.sendEvent(t, "speech.completed", map[string]any{"room": "call-1", "utterance_id": out.id})
	waitEvent(t, b, EventSpeechCompleted)
	if err := b.WaitForPlayout(context.Background(), "call-1"); err != nil {
		t.Fatalf("WaitForPlayout after completion: %v", err)
	}
}

func TestSayRejectedByBridge(t *testing.T) {
	s := newBridgeServer(t)
	b := startBridge(t, testConfig(s.url()))
	waitEvent(t, b, EventConnected)

	res := make(chan error, 1)
	go func() {
		_, err := b.Say(context.Background(), "call-1", "hello")
		res <- err
	}()

	req := s.nextRequest(t)
	s.respond(t, req.ID, false, &FrameError{Code: "tts_failed", Message: "no voices available"})

	err := <-res
	if err == nil {
		t.Fatal("expected rejection error")
	}
	if !strings.Contains(err.Error(), "tts_failed") {
		t.Fatalf("error = %v, want tts_failed code", err)
	}

	// The rejected utterance must not leave the room marked as playing.
	if err := b.WaitForPlayout(context.Background(), "call-1"); err != nil {
		t.Fatalf("WaitForPlayout: %v", err)
	}
}

func TestSayTimesOutWithoutResponse(t *testing.T) {
	s := newBridgeServer(t)
	cfg := testConfig(s.url())
	cfg.SayTimeout = 50 * time.Millisecond
	b := startBridge(t, cfg)
	waitEvent(t, b, EventConnected)

	_, err := b.Say(context.Background(), "call-1", "hello")
	if err == nil || !strings.Contains(err.Error(), "not acknowledged") {
		t.Fatalf("error = %v, want acknowledgment timeout", err)
	}
	if err := b.WaitForPlayout(context.Background(), "call-1"); err != nil {
		t.Fatalf("WaitForPlayout: %v", err)
	}
}

func TestSayFailsWhenDisconnected(t *testing.T) {
	b, err := New(config.BridgeConfig{URL: "ws://bridge.local"}, testLogger(), testMetrics)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := b.Say(context.Background(), "call-1", "hello"); err == nil {
		t.Fatal("expected error without a connection")
	}
	if err := b.WaitForPlayout(context.Background(), "call-1"); err != nil {
		t.Fatalf("WaitForPlayout: %v", err)
	}
}

func TestSayInputValidation(t *testing.T) {
	b, err := New(config.BridgeConfig{URL: "ws://bridge.local"}, testLogger(), testMetrics)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := b.Say(context.Background(), "", "hello"); err == nil {
		t.Fatal("expected error for empty room")
	}
	if _, err := b.Say(context.Background(), "call-1", "   "); err == nil {
		t.Fatal("expected error for blank text")
	}
}

func TestEventMapping(t *testing.T) {
	s := newBridgeServer(t)
	b := startBridge(t, testConfig(s.url()))
	waitEvent(t, b, EventConnected)

	s.sendEvent(t, "participant.joined", map[string]any{"room": "call-1", "identity": "phone_user"})
	ev := nextEvent(t, b)
	if ev.Type != EventParticipantJoined || ev.Identity != "phone_user" || ev.Room != "call-1" {
		t.Fatalf("joined event = %+v", ev)
	}

	s.sendEvent(t, "turn.completed", map[string]any{
		"room":        "call-1",
		"text":        "haan, bataiye",
		"participant": "phone_user",
	})
	ev = nextEvent(t, b)
	if ev.Type != EventTurnCompleted || ev.Text != "haan, bataiye" {
		t.Fatalf("turn event = %+v", ev)
	}
	if ev.Identity != "phone_user" {
		t.Fatalf("turn identity = %q, want participant fallback", ev.Identity)
	}

	s.sendEvent(t, "job.request", map[string]any{
		"room":        "call-42",
		"dispatch_id": "disp_9",
		"metadata":    map[string]any{"phone_number": "+14155550100"},
	})
	ev = nextEvent(t, b)
	if ev.Type != EventJobRequest || ev.Room != "call-42" || ev.DispatchID != "disp_9" {
		t.Fatalf("job event = %+v", ev)
	}
	var meta map[string]string
	if err := json.Unmarshal(ev.Metadata, &meta); err != nil {
		t.Fatalf("unmarshal metadata: %v", err)
	}
	if meta["phone_number"] != "+14155550100" {
		t.Fatalf("metadata = %v", meta)
	}

	s.sendEvent(t, "participant.disconnected", map[string]any{"room": "call-1", "identity": "phone_user"})
	ev = nextEvent(t, b)
	if ev.Type != EventParticipantLeft {
		t.Fatalf("left event = %+v", ev)
	}
}

func TestMalformedFramesDropped(t *testing.T) {
	s := newBridgeServer(t)
	b := startBridge(t, testConfig(s.url()))
	waitEvent(t, b, EventConnected)

	conn := s.conn()
	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json at all")); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	// turn.completed without its required text field.
	s.sendEvent(t, "turn.completed", map[string]any{"room": "call-1"})
	// Response frame missing its id.
	s.send(t, Frame{Type: "res"})
	// Unknown frame type.
	s.send(t, Frame{Type: "rpc"})

	s.sendEvent(t, "turn.completed", map[string]any{"room": "call-1", "text": "ok"})
	ev := nextEvent(t, b)
	if ev.Type != EventTurnCompleted || ev.Text != "ok" {
		t.Fatalf("got %+v, want only the valid turn event", ev)
	}
}

func TestUnknownEventsPassThrough(t *testing.T) {
	s := newBridgeServer(t)
	b := startBridge(t, testConfig(s.url()))
	waitEvent(t, b, EventConnected)

	s.sendEvent(t, "room.metrics", map[string]any{"room": "call-1", "jitter_ms": 12})
	ev := nextEvent(t, b)
	if ev.Type != EventType("room.metrics") || ev.Room != "call-1" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	s := newBridgeServer(t)
	b := startBridge(t, testConfig(s.url()))
	waitEvent(t, b, EventConnected)

	s.dropConn(t)
	waitEvent(t, b, EventDisconnected)
	waitEvent(t, b, EventConnected)

	s.mu.Lock()
	upgrades := s.upgrades
	s.mu.Unlock()
	if upgrades < 2 {
		t.Fatalf("upgrades = %d, want a second connection", upgrades)
	}

	// The fresh connection carries traffic.
	res := make(chan error, 1)
	go func() {
		_, err := b.Say(context.Background(), "call-1", "still here")
		res <- err
	}()
	req := s.nextRequest(t)
	s.respond(t, req.ID, true, nil)
	if err := <-res; err != nil {
		t.Fatalf("Say after reconnect: %v", err)
	}
}

func TestDropFailsPendingSay(t *testing.T) {
	s := newBridgeServer(t)
	cfg := testConfig(s.url())
	cfg.SayTimeout = 5 * time.Second
	b := startBridge(t, cfg)
	waitEvent(t, b, EventConnected)

	res := make(chan error, 1)
	go func() {
		_, err := b.Say(context.Background(), "call-1", "hello")
		res <- err
	}()
	s.nextRequest(t)
	s.dropConn(t)

	select {
	case err := <-res:
		if err == nil || !strings.Contains(err.Error(), "connection lost") {
			t.Fatalf("error = %v, want connection lost", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Say did not fail after the connection dropped")
	}
}

func TestRunGivesUpWhenUnreachable(t *testing.T) {
	s := newBridgeServer(t)
	url := s.url()
	s.srv.Close()

	cfg := testConfig(url)
	cfg.ReconnectDelay = time.Millisecond
	cfg.ReconnectMaxDelay = 2 * time.Millisecond
	b, err := New(cfg, testLogger(), testMetrics)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- b.Run(context.Background()) }()

	select {
	case err := <-done:
		if err == nil || !strings.Contains(err.Error(), "unreachable") {
			t.Fatalf("Run = %v, want unreachable error", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not give up")
	}

	if _, ok := <-b.Events(); ok {
		t.Fatal("events channel should close when Run returns")
	}
}

func TestDialSendsAuthHeader(t *testing.T) {
	s := newBridgeServer(t)
	cfg := testConfig(s.url())
	cfg.AuthToken = "secret-token"
	b := startBridge(t, cfg)
	waitEvent(t, b, EventConnected)

	s.mu.Lock()
	auth := s.lastAuth
	s.mu.Unlock()
	if auth != "Bearer secret-token" {
		t.Fatalf("Authorization = %q", auth)
	}
}

func TestCancelStopsRun(t *testing.T) {
	s := newBridgeServer(t)
	b, err := New(testConfig(s.url()), testLogger(), testMetrics)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	waitEvent(t, b, EventConnected)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run after cancel = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
