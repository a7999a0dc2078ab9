// Package media maintains the websocket link to the media bridge, the
// process that holds the room audio: it synthesizes agent speech into the
// room and streams transcription and participant events back to the worker.
//
// A single connection multiplexes every active call, so frames carry the
// room name and the worker routes events to the owning session.
package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/haasonsaas/outdial/internal/config"
	"github.com/haasonsaas/outdial/internal/observability"
	"github.com/haasonsaas/outdial/internal/retry"
)

const (
	maxPayloadBytes = 1 << 20

	pingInterval = 15 * time.Second
	pongWait     = 45 * time.Second
	writeWait    = 10 * time.Second

	sendQueueDepth  = 64
	eventQueueDepth = 64

	// maxConnectAttempts bounds consecutive dial failures before Run gives
	// up. Calls in flight cannot survive a bridge outage this long anyway.
	maxConnectAttempts = 5
)

// EventType names a bridge event delivered to the worker.
type EventType string

const (
	// EventConnected and EventDisconnected describe the link itself, not a
	// room. They carry no payload fields.
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"

	EventJobRequest        EventType = "job.request"
	EventParticipantJoined EventType = "participant.joined"
	EventParticipantLeft   EventType = "participant.disconnected"
	EventSpeechStarted     EventType = "speech.started"
	EventSpeechCompleted   EventType = "speech.completed"
	EventTurnCompleted     EventType = "turn.completed"
)

// Event is a decoded bridge frame.
type Event struct {
	Type EventType

	// Room scopes the event. Empty for link events.
	Room string

	// Identity is the participant the event concerns, when known.
	Identity string

	// UtteranceID references the say request that produced a speech event.
	UtteranceID string

	// Text carries the transcript of a completed user turn.
	Text string

	// Metadata is the raw job metadata on job.request events.
	Metadata json.RawMessage

	// DispatchID identifies the job dispatch on job.request events.
	DispatchID string
}

// Frame is the wire envelope shared by requests, responses and events.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
	Error   *FrameError     `json:"error,omitempty"`
}

// FrameError carries a bridge-side failure on a response frame.
type FrameError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type sayParams struct {
	Room string `json:"room"`
	Text string `json:"text"`
}

type eventPayload struct {
	Room        string          `json:"room"`
	Identity    string          `json:"identity"`
	Participant string          `json:"participant"`
	UtteranceID string          `json:"utterance_id"`
	Text        string          `json:"text"`
	Metadata    json.RawMessage `json:"metadata"`
	DispatchID  string          `json:"dispatch_id"`
}

type sayResult struct {
	ok       bool
	frameErr *FrameError
}

// Bridge is a client for the media bridge websocket. Run must be called
// exactly once; Say and WaitForPlayout are safe from any goroutine.
type Bridge struct {
	cfg     config.BridgeConfig
	log     *observability.Logger
	metrics *observability.Metrics
	dialer  *websocket.Dialer

	events chan Event

	connMu sync.Mutex
	send   chan []byte

	pendingMu sync.Mutex
	pending   map[string]chan sayResult

	// playing tracks utterance ids per room from say submission until the
	// bridge reports speech.completed. idle[room] is closed when the room
	// drains; the invariant is playing[room] != nil iff idle[room] != nil.
	playMu  sync.Mutex
	playing map[string]map[string]struct{}
	idle    map[string]chan struct{}
}

// New creates a bridge client. It does not connect; call Run.
func New(cfg config.BridgeConfig, log *observability.Logger, metrics *observability.Metrics) (*Bridge, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("media: bridge url is required")
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 500 * time.Millisecond
	}
	if cfg.ReconnectMaxDelay <= 0 {
		cfg.ReconnectMaxDelay = 10 * time.Second
	}
	if cfg.SayTimeout <= 0 {
		cfg.SayTimeout = 10 * time.Second
	}
	return &Bridge{
		cfg:     cfg,
		log:     log,
		metrics: metrics,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		events:  make(chan Event, eventQueueDepth),
		pending: make(map[string]chan sayResult),
		playing: make(map[string]map[string]struct{}),
		idle:    make(map[string]chan struct{}),
	}, nil
}

// Events returns the stream of decoded bridge events. The channel closes
// when Run returns.
func (b *Bridge) Events() <-chan Event {
	return b.events
}

// Run connects to the bridge and keeps the connection alive, redialing with
// jittered backoff after drops. It returns nil once ctx is canceled, or an
// error when the bridge stays unreachable.
func (b *Bridge) Run(ctx context.Context) error {
	defer close(b.events)

	attempts := 0
	for {
		conn, err := b.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			attempts++
			b.metrics.RecordError("media", "dial_failed")
			if attempts >= maxConnectAttempts {
				return fmt.Errorf("media: bridge unreachable after %d attempts: %w", attempts, err)
			}
			delay := retry.BackoffWithJitter(attempts, b.cfg.ReconnectDelay, b.cfg.ReconnectMaxDelay, 2.0)
			b.log.Warn(ctx, "bridge dial failed",
				"url", b.cfg.URL,
				"attempt", attempts,
				"retry_in", delay,
				"error", err,
			)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			continue
		}

		attempts = 0
		b.log.Info(ctx, "bridge connected", "url", b.cfg.URL)
		b.emit(ctx, Event{Type: EventConnected})

		err = b.serve(ctx, conn)
		b.failInflight()
		if ctx.Err() != nil {
			return nil
		}
		b.metrics.RecordError("media", "connection_lost")
		b.log.Warn(ctx, "bridge connection lost", "error", err)
		b.emit(ctx, Event{Type: EventDisconnected})
	}
}

// Say asks the bridge to synthesize text into the room and waits for the
// bridge to accept it. The returned id shows up later on the speech.started
// and speech.completed events for this utterance.
func (b *Bridge) Say(ctx context.Context, room, text string) (string, error) {
	if room == "" {
		return "", errors.New("media: room is required")
	}
	if strings.TrimSpace(text) == "" {
		return "", errors.New("media: say text is empty")
	}

	id := uuid.NewString()
	params, err := json.Marshal(sayParams{Room: room, Text: text})
	if err != nil {
		return "", fmt.Errorf("media: encode say params: %w", err)
	}
	frame, err := json.Marshal(Frame{Type: "req", ID: id, Method: "say", Params: params})
	if err != nil {
		return "", fmt.Errorf("media: encode say frame: %w", err)
	}

	ch := make(chan sayResult, 1)
	b.pendingMu.Lock()
	b.pending[id] = ch
	b.pendingMu.Unlock()
	b.startUtterance(room, id)

	if err := b.enqueue(frame); err != nil {
		b.dropPending(id)
		b.finishUtterance(room, id)
		return "", err
	}

	timer := time.NewTimer(b.cfg.SayTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		b.dropPending(id)
		b.finishUtterance(room, id)
		return "", ctx.Err()
	case <-timer.C:
		b.dropPending(id)
		b.finishUtterance(room, id)
		b.metrics.RecordError("media", "say_timeout")
		return "", fmt.Errorf("media: say not acknowledged within %s", b.cfg.SayTimeout)
	case res := <-ch:
		if !res.ok {
			b.finishUtterance(room, id)
			if res.frameErr != nil {
				return "", fmt.Errorf("media: say rejected: %s (%s)", res.frameErr.Message, res.frameErr.Code)
			}
			return "", errors.New("media: say rejected")
		}
		return id, nil
	}
}

// WaitForPlayout blocks until every utterance queued for the room has
// finished playing. It returns immediately when nothing is playing, and
// unblocks early if the connection drops.
func (b *Bridge) WaitForPlayout(ctx context.Context, room string) error {
	b.playMu.Lock()
	ch := b.idle[room]
	b.playMu.Unlock()
	if ch == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
	}
}

func (b *Bridge) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if b.cfg.AuthToken != "" {
		header.Set("Authorization", "Bearer "+b.cfg.AuthToken)
	}
	conn, resp, err := b.dialer.DialContext(ctx, b.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("media: dial %s: status %d: %w", b.cfg.URL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("media: dial %s: %w", b.cfg.URL, err)
	}
	return conn, nil
}

// serve runs the read and write pumps for one connection and returns when
// either side fails or ctx is canceled.
func (b *Bridge) serve(ctx context.Context, conn *websocket.Conn) error {
	send := make(chan []byte, sendQueueDepth)
	b.setSend(send)
	defer b.setSend(nil)

	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			deadline := time.Now().Add(writeWait)
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
		case <-done:
		}
		_ = conn.Close()
	}()

	go b.writeLoop(conn, send, done)

	return b.readLoop(ctx, conn)
}

func (b *Bridge) writeLoop(conn *websocket.Conn, send <-chan []byte, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case msg := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

func (b *Bridge) readLoop(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadLimit(maxPayloadBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if messageType != websocket.TextMessage {
			continue
		}
		b.handleFrame(ctx, data)
	}
}

func (b *Bridge) handleFrame(ctx context.Context, raw []byte) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		b.metrics.RecordError("media", "bad_frame")
		b.log.Warn(ctx, "bridge frame rejected", "error", err)
		return
	}

	switch frame.Type {
	case "res":
		if err := validateResponseFrame(raw); err != nil {
			b.metrics.RecordError("media", "bad_frame")
			b.log.Warn(ctx, "bridge response rejected", "id", frame.ID, "error", err)
			return
		}
		b.resolveSay(ctx, &frame)
	case "event":
		if err := validateEventFrame(raw, &frame); err != nil {
			b.metrics.RecordError("media", "bad_frame")
			b.log.Warn(ctx, "bridge event rejected", "event", frame.Event, "error", err)
			return
		}
		b.handleEvent(ctx, &frame)
	default:
		b.metrics.RecordError("media", "bad_frame")
		b.log.Warn(ctx, "bridge frame rejected", "type", frame.Type)
	}
}

func (b *Bridge) resolveSay(ctx context.Context, frame *Frame) {
	b.pendingMu.Lock()
	ch, ok := b.pending[frame.ID]
	if ok {
		delete(b.pending, frame.ID)
	}
	b.pendingMu.Unlock()

	if !ok {
		// Late response after a say timeout. Nothing left to notify.
		b.log.Debug(ctx, "bridge response without request", "id", frame.ID)
		return
	}
	ch <- sayResult{ok: frame.OK != nil && *frame.OK, frameErr: frame.Error}
}

func (b *Bridge) handleEvent(ctx context.Context, frame *Frame) {
	var p eventPayload
	if len(frame.Payload) > 0 {
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			b.metrics.RecordError("media", "bad_frame")
			b.log.Warn(ctx, "bridge event rejected", "event", frame.Event, "error", err)
			return
		}
	}

	ev := Event{
		Type:        EventType(frame.Event),
		Room:        p.Room,
		Identity:    p.Identity,
		UtteranceID: p.UtteranceID,
		Text:        p.Text,
		Metadata:    p.Metadata,
		DispatchID:  p.DispatchID,
	}
	if ev.Identity == "" {
		ev.Identity = p.Participant
	}

	if ev.Type == EventSpeechCompleted {
		b.finishUtterance(ev.Room, ev.UtteranceID)
	}

	b.emit(ctx, ev)
}

func (b *Bridge) emit(ctx context.Context, ev Event) {
	select {
	case b.events <- ev:
	case <-ctx.Done():
	}
}

func (b *Bridge) setSend(send chan []byte) {
	b.connMu.Lock()
	b.send = send
	b.connMu.Unlock()
}

func (b *Bridge) enqueue(frame []byte) error {
	b.connMu.Lock()
	send := b.send
	b.connMu.Unlock()

	if send == nil {
		return errors.New("media: bridge is not connected")
	}
	select {
	case send <- frame:
		return nil
	default:
		return errors.New("media: bridge send queue is full")
	}
}

func (b *Bridge) dropPending(id string) {
	b.pendingMu.Lock()
	delete(b.pending, id)
	b.pendingMu.Unlock()
}

// failInflight resolves every pending say and releases every playout waiter
// after a connection drop. The bridge forgets utterances with the
// connection, so nothing tracked here will complete.
func (b *Bridge) failInflight() {
	b.pendingMu.Lock()
	for id, ch := range b.pending {
		delete(b.pending, id)
		ch <- sayResult{ok: false, frameErr: &FrameError{Code: "disconnected", Message: "bridge connection lost"}}
	}
	b.pendingMu.Unlock()

	b.playMu.Lock()
	for room, ch := range b.idle {
		close(ch)
		delete(b.idle, room)
	}
	b.playing = make(map[string]map[string]struct{})
	b.playMu.Unlock()
}

func (b *Bridge) startUtterance(room, id string) {
	b.playMu.Lock()
	defer b.playMu.Unlock()

	set := b.playing[room]
	if set == nil {
		set = make(map[string]struct{})
		b.playing[room] = set
		b.idle[room] = make(chan struct{})
	}
	set[id] = struct{}{}
}

func (b *Bridge) finishUtterance(room, id string) {
	b.playMu.Lock()
	defer b.playMu.Unlock()

	set := b.playing[room]
	if set == nil {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(b.playing, room)
		if ch := b.idle[room]; ch != nil {
			close(ch)
			delete(b.idle, room)
		}
	}
}
