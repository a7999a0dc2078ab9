// Package controller runs one outbound call end to end: it places the dial,
// greets the callee, turns transcribed speech into generated replies, lets
// the generator steer the call through tools, and tears the room down
// exactly once when the call is over.
package controller

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/haasonsaas/outdial/internal/config"
	"github.com/haasonsaas/outdial/internal/dialogue"
	"github.com/haasonsaas/outdial/internal/livekit"
	"github.com/haasonsaas/outdial/internal/media"
	"github.com/haasonsaas/outdial/internal/monitor"
	"github.com/haasonsaas/outdial/internal/observability"
	"github.com/haasonsaas/outdial/internal/prompts"
	"github.com/haasonsaas/outdial/internal/session"
)

const (
	// eventQueueDepth buffers bridge events while a generation is in
	// flight. A full queue drops events; the emergency failsafe covers a
	// call whose speaking state goes stale.
	eventQueueDepth = 64

	// playoutWait bounds waits for speech playout so a lost completion
	// event cannot wedge a tool.
	playoutWait = 15 * time.Second

	// teardownTimeout bounds detached termination attempts that outlive
	// the call context.
	teardownTimeout = 10 * time.Second
)

// AudioOutput speaks into the call's room.
type AudioOutput interface {
	Say(ctx context.Context, room, text string) (string, error)
	WaitForPlayout(ctx context.Context, room string) error
}

// Gateway is the slice of the telephony API the controller drives directly.
type Gateway interface {
	TransferSIPParticipant(ctx context.Context, room, identity, transferTo string) error
	DeleteRoom(ctx context.Context, room string) error
}

// Dialer places the outbound leg of the call.
type Dialer interface {
	PlaceCall(ctx context.Context, room, destination string) (*livekit.SIPParticipant, error)
}

// SummaryStore persists finished-call summaries. A nil store disables
// persistence.
type SummaryStore interface {
	Save(ctx context.Context, sum session.Summary, endedAt time.Time) (string, error)
}

// Params wires one controller. Session, Generator, Prompts, Audio, Gateway,
// Logger, Metrics and Tracer are required; Dialer is required when the
// session has a destination; Store is optional.
type Params struct {
	Session   *session.Session
	Call      config.CallConfig
	Silence   config.SilenceConfig
	Generator dialogue.Generator
	Prompts   *prompts.Registry
	Audio     AudioOutput
	Gateway   Gateway
	Dialer    Dialer
	Store     SummaryStore
	Logger    *observability.Logger
	Metrics   *observability.Metrics
	Tracer    *observability.Tracer
	NowFunc   func() time.Time
}

// Controller owns one call session. Run drives it; HandleEvent feeds it
// bridge events for its room.
type Controller struct {
	call    config.CallConfig
	sess    *session.Session
	gen     dialogue.Generator
	prompts *prompts.Registry
	audio   AudioOutput
	gateway Gateway
	dialer  Dialer
	store   SummaryStore
	mon     *monitor.Monitor
	log     *observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
	nowFunc func() time.Time

	queue chan media.Event
	tools *Registry

	// history and handedOff belong to the Run goroutine.
	history   []dialogue.Message
	handedOff bool

	summarySaved atomic.Bool
}

// New creates a controller and its silence monitor for one session.
func New(p Params) (*Controller, error) {
	switch {
	case p.Session == nil:
		return nil, errors.New("controller: session is required")
	case p.Generator == nil:
		return nil, errors.New("controller: dialogue generator is required")
	case p.Prompts == nil:
		return nil, errors.New("controller: prompt registry is required")
	case p.Audio == nil:
		return nil, errors.New("controller: audio output is required")
	case p.Gateway == nil:
		return nil, errors.New("controller: gateway is required")
	case p.Logger == nil || p.Metrics == nil || p.Tracer == nil:
		return nil, errors.New("controller: logger, metrics and tracer are required")
	case p.Session.Destination() != "" && p.Dialer == nil:
		return nil, errors.New("controller: dialer is required for telephony sessions")
	}
	if p.NowFunc == nil {
		p.NowFunc = time.Now
	}

	c := &Controller{
		call:    p.Call,
		sess:    p.Session,
		gen:     p.Generator,
		prompts: p.Prompts,
		audio:   p.Audio,
		gateway: p.Gateway,
		dialer:  p.Dialer,
		store:   p.Store,
		log:     p.Logger,
		metrics: p.Metrics,
		tracer:  p.Tracer,
		nowFunc: p.NowFunc,
		queue:   make(chan media.Event, eventQueueDepth),
		tools:   NewRegistry(),
	}
	c.tools.Register(&endCallTool{c: c})
	c.tools.Register(&voicemailTool{c: c})
	c.tools.Register(&transferTool{c: c})

	c.mon = monitor.New(p.Silence, p.Session, p.Logger, p.Metrics, c.speakGoodbye, c.Terminate)
	return c, nil
}

// HandleEvent queues one bridge event for this call. It never blocks: a
// full queue drops the event.
func (c *Controller) HandleEvent(ev media.Event) {
	select {
	case c.queue <- ev:
	default:
		c.metrics.RecordError("controller", "event_dropped")
		c.log.Warn(context.Background(), "event queue full, dropping event",
			"room", c.sess.Room(), "event", string(ev.Type))
	}
}

// Run drives the call to completion. It returns once the session is
// terminated or the context is canceled; the dial failing is the only error
// it surfaces.
func (c *Controller) Run(ctx context.Context) error {
	ctx = observability.WithRoom(ctx, c.sess.Room())
	c.metrics.CallStarted()
	defer c.end()

	if destination := c.sess.Destination(); destination != "" {
		participant, err := c.dialer.PlaceCall(ctx, c.sess.Room(), destination)
		if err != nil {
			c.log.Error(ctx, "call could not be placed", "destination", destination, "error", err)
			tctx, cancel := teardownContext()
			defer cancel()
			_ = c.Terminate(tctx, session.EndReasonDialFailed)
			return err
		}
		c.sess.Begin(participant.ParticipantIdentity, c.nowFunc())
		ctx = observability.WithParticipant(ctx, participant.ParticipantIdentity)
	} else if !c.awaitJoin(ctx) {
		tctx, cancel := teardownContext()
		defer cancel()
		_ = c.Terminate(tctx, session.EndReasonDisconnect)
		return nil
	}

	c.log.Info(ctx, "call connected", "participant", c.sess.Snapshot().ParticipantID)
	c.mon.Start(ctx)
	defer c.mon.Stop()

	c.greet(ctx)
	c.loop(ctx)
	return nil
}

// awaitJoin waits in direct-participant mode for the callee to show up.
func (c *Controller) awaitJoin(ctx context.Context) bool {
	c.log.Info(ctx, "waiting for participant to join")
	for {
		select {
		case <-ctx.Done():
			return false
		case ev := <-c.queue:
			if ev.Type == media.EventParticipantJoined && ev.Identity != c.call.AgentIdentity {
				c.sess.Begin(ev.Identity, c.nowFunc())
				return true
			}
		}
	}
}

func (c *Controller) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			tctx, cancel := teardownContext()
			_ = c.Terminate(tctx, session.EndReasonDisconnect)
			cancel()
			return
		case <-c.sess.Done():
			return
		case ev := <-c.queue:
			c.handleEvent(ctx, ev)
		}
		if c.sess.Phase().IsTerminal() {
			return
		}
	}
}

func (c *Controller) handleEvent(ctx context.Context, ev media.Event) {
	switch ev.Type {
	case media.EventTurnCompleted:
		if ev.Identity != "" && ev.Identity == c.call.AgentIdentity {
			return
		}
		c.handleUserTurn(ctx, ev.Text)
	case media.EventSpeechStarted:
		c.sess.SpeechStarted()
	case media.EventSpeechCompleted:
		c.sess.SpeechCompleted()
	case media.EventParticipantLeft:
		if ev.Identity == c.call.AgentIdentity {
			return
		}
		reason := session.EndReasonDisconnect
		if c.handedOff {
			reason = session.EndReasonTransferred
		}
		c.log.Info(ctx, "participant left", "identity", ev.Identity, "reason", string(reason))
		_ = c.Terminate(ctx, reason)
	case media.EventParticipantJoined:
		c.log.Debug(ctx, "participant joined", "identity", ev.Identity)
	default:
		c.log.Debug(ctx, "ignoring bridge event", "event", string(ev.Type))
	}
}

// handleUserTurn applies one completed utterance and speaks the response.
func (c *Controller) handleUserTurn(ctx context.Context, text string) {
	outcome, ok := c.sess.RecordUserTurn(text, c.nowFunc())
	if !ok {
		return
	}
	c.metrics.RecordUserTurn()
	c.log.Debug(ctx, "user turn completed",
		"script", outcome.Script,
		"new_topics", outcome.NewTopics,
		"bare_greeting", outcome.BareGreeting,
	)

	if c.handedOff {
		return
	}
	if outcome.BareGreeting {
		// "hello? are you there?" gets a short acknowledgment, not a
		// replay of the introduction.
		c.sayPrompt(ctx, prompts.Acknowledgment)
		return
	}

	c.history = append(c.history, dialogue.Message{Role: "user", Content: text})
	reply, err := c.gen.Generate(ctx, &dialogue.Request{
		System:   c.systemPrompt(ctx),
		Messages: c.history,
		Tools:    c.tools.List(),
	})
	if err != nil {
		c.log.Warn(ctx, "reply generation failed", "error", err)
		c.sayPrompt(ctx, prompts.Fallback)
		return
	}
	c.deliver(ctx, reply)
}

// deliver speaks the reply text, then executes its tool calls in order.
func (c *Controller) deliver(ctx context.Context, reply *dialogue.Reply) {
	if reply.Text == "" && len(reply.ToolCalls) == 0 {
		return
	}
	c.history = append(c.history, dialogue.Message{
		Role:      "assistant",
		Content:   reply.Text,
		ToolCalls: reply.ToolCalls,
	})
	if reply.Text != "" {
		_ = c.say(ctx, reply.Text)
	}

	for _, call := range reply.ToolCalls {
		result := c.executeTool(ctx, call)
		c.history = append(c.history, dialogue.Message{
			Role:        "tool",
			ToolResults: []dialogue.ToolResult{result},
		})
		if phase := c.sess.Phase(); phase == session.PhaseEnding || phase.IsTerminal() {
			return
		}
	}
}

// greet makes the single greeting attempt. Generation failure falls back to
// the fixed line; both failing is logged and the call still proceeds.
func (c *Controller) greet(ctx context.Context) {
	text := c.generateLine(ctx, prompts.Greeting, prompts.GreetingFallback)
	if text == "" {
		c.log.Error(ctx, "no greeting available, proceeding without one")
	} else if err := c.say(ctx, text); err != nil {
		c.log.Error(ctx, "greeting could not be spoken", "error", err)
	} else {
		c.history = append(c.history, dialogue.Message{Role: "assistant", Content: text})
	}
	c.sess.MarkIntroduced()
}

// speakGoodbye is the monitor's farewell callback. It must not touch the
// conversation history: it runs on the monitor goroutine.
func (c *Controller) speakGoodbye(ctx context.Context) error {
	text := c.generateLine(ctx, prompts.Goodbye, prompts.GoodbyeFallback)
	if text == "" {
		return errors.New("controller: no goodbye text available")
	}
	return c.say(ctx, text)
}

// generateLine asks the generator for a one-off utterance and falls back to
// the fixed line when generation fails or comes back empty.
func (c *Controller) generateLine(ctx context.Context, name, fallbackName string) string {
	if instruction, ok := c.prompts.Get(name); ok {
		reply, err := c.gen.Generate(ctx, &dialogue.Request{
			System:   c.systemPrompt(ctx),
			Messages: []dialogue.Message{{Role: "user", Content: instruction}},
		})
		if err == nil && strings.TrimSpace(reply.Text) != "" {
			return reply.Text
		}
		if err != nil {
			c.log.Warn(ctx, "line generation failed", "prompt", name, "error", err)
		}
	}
	fallback, _ := c.prompts.Get(fallbackName)
	return fallback
}

func (c *Controller) systemPrompt(ctx context.Context) string {
	data := struct{ TransferTarget string }{TransferTarget: c.sess.TransferTarget()}
	text, err := c.prompts.Render(prompts.System, data)
	if err != nil {
		c.log.Warn(ctx, "system prompt render failed", "error", err)
		raw, _ := c.prompts.Get(prompts.System)
		return raw
	}
	return text
}

func (c *Controller) say(ctx context.Context, text string) error {
	if _, err := c.audio.Say(ctx, c.sess.Room(), text); err != nil {
		c.metrics.RecordError("controller", "say_failed")
		c.log.Warn(ctx, "speech delivery failed", "error", err)
		return err
	}
	return nil
}

func (c *Controller) sayPrompt(ctx context.Context, name string) {
	text, ok := c.prompts.Get(name)
	if !ok || strings.TrimSpace(text) == "" {
		return
	}
	_ = c.say(ctx, text)
}

// sayAndWait speaks a fixed prompt and lets it play out, bounded so a lost
// completion event cannot hang the caller.
func (c *Controller) sayAndWait(ctx context.Context, name string) {
	text, ok := c.prompts.Get(name)
	if !ok || strings.TrimSpace(text) == "" {
		return
	}
	if err := c.say(ctx, text); err != nil {
		return
	}
	waitCtx, cancel := context.WithTimeout(ctx, playoutWait)
	defer cancel()
	if err := c.audio.WaitForPlayout(waitCtx, c.sess.Room()); err != nil {
		c.log.Debug(ctx, "playout wait ended early", "error", err)
	}
}

// end records the call-level metrics exactly once per Run and makes a last
// termination attempt if the loop exited without one.
func (c *Controller) end() {
	if !c.sess.Phase().IsTerminal() {
		tctx, cancel := teardownContext()
		defer cancel()
		_ = c.Terminate(tctx, session.EndReasonDisconnect)
	}

	snap := c.sess.Snapshot()
	reason := string(snap.EndReason)
	if reason == "" {
		reason = "unknown"
	}
	var duration float64
	if !snap.CallStart.IsZero() {
		duration = c.nowFunc().Sub(snap.CallStart).Seconds()
	}
	c.metrics.CallEnded(reason, duration)
}

func teardownContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), teardownTimeout)
}
