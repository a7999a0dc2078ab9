// Package monitor runs the per-call silence watchdog: a background loop that
// polls the session's liveness and walks a fixed escalation ladder from a
// silent check-in mark, to a spoken goodbye, to a forced hangup.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/haasonsaas/outdial/internal/config"
	"github.com/haasonsaas/outdial/internal/observability"
	"github.com/haasonsaas/outdial/internal/session"
)

// GoodbyeFunc speaks the final farewell to a silent callee. The controller
// routes it through the dialogue generator with a fixed fallback utterance.
type GoodbyeFunc func(ctx context.Context) error

// HangupFunc runs the call termination sequence. It must acquire the
// session's hangup guard itself and must not call Stop on the monitor; the
// poll loop exits on its own once the session terminates.
type HangupFunc func(ctx context.Context, reason session.EndReason) error

// escalation is what a single poll decided the monitor must do.
type escalation int

const (
	escalateNone escalation = iota
	escalateMark
	escalateGoodbye
	escalateForced
	escalateStop
)

// Monitor watches time-since-last-user-activity for one call. It is the sole
// authority for silence escalation: it only ever moves the level forward, one
// stage per poll, and a completed user turn resets the ladder out from under
// it between polls.
type Monitor struct {
	cfg     config.SilenceConfig
	sess    *session.Session
	log     *observability.Logger
	metrics *observability.Metrics
	goodbye GoodbyeFunc
	hangup  HangupFunc
	nowFunc func() time.Time

	mu       sync.Mutex
	running  bool
	stopping bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	ticker   *time.Ticker
}

// New creates a silence monitor for one session. Start must be called before
// it observes anything.
func New(cfg config.SilenceConfig, sess *session.Session, log *observability.Logger, metrics *observability.Metrics, goodbye GoodbyeFunc, hangup HangupFunc) *Monitor {
	return &Monitor{
		cfg:     cfg,
		sess:    sess,
		log:     log,
		metrics: metrics,
		goodbye: goodbye,
		hangup:  hangup,
		nowFunc: time.Now,
	}
}

// SetNowFunc sets a custom time function for testing.
func (m *Monitor) SetNowFunc(fn func() time.Time) {
	m.nowFunc = fn
}

// Start launches the poll loop. Starting an already-running monitor is a
// no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopping = false
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	interval := m.cfg.PollInterval
	if interval <= 0 {
		interval = 2500 * time.Millisecond
	}
	m.ticker = time.NewTicker(interval)
	m.mu.Unlock()

	go m.run(ctx)
}

// run is the poll loop. It exits on cancellation, on Stop, or on its own
// once the session terminates or a hangup it issued succeeds.
func (m *Monitor) run(ctx context.Context) {
	defer func() {
		m.mu.Lock()
		if m.ticker != nil {
			m.ticker.Stop()
			m.ticker = nil
		}
		m.running = false
		close(m.doneCh)
		m.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-m.ticker.C:
			if m.tick(ctx) {
				return
			}
		}
	}
}

// Stop halts the poll loop and waits for it to exit. If a tick is mid-way
// through a goodbye or hangup, Stop blocks until that action completes;
// escalations are never cancelled once dispatched.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running || m.stopping {
		m.mu.Unlock()
		return
	}
	m.stopping = true
	close(m.stopCh)
	doneCh := m.doneCh
	m.mu.Unlock()

	<-doneCh
}

// IsRunning returns true while the poll loop is active.
func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// tick performs one poll. It returns true when the loop should exit.
func (m *Monitor) tick(ctx context.Context) bool {
	liv := m.sess.Liveness()
	now := m.nowFunc()

	switch m.decide(liv, now) {
	case escalateStop:
		return true
	case escalateMark:
		m.markFirstCheck(ctx, liv, now)
	case escalateGoodbye:
		return m.goodbyeAndHangUp(ctx, liv, now)
	case escalateForced:
		return m.forceHangup(ctx, liv, now)
	}
	return false
}

// decide inspects one liveness snapshot and returns the escalation due at
// now. It is pure: all session reads happen through the snapshot.
func (m *Monitor) decide(liv session.Liveness, now time.Time) escalation {
	if liv.Phase == session.PhaseTerminated {
		return escalateStop
	}
	if liv.LastUserActivity.IsZero() {
		return escalateNone
	}
	silence := now.Sub(liv.LastUserActivity)

	// The failsafe ignores the speaking gate: a stuck speaking flag must
	// not keep a dead call billable.
	if m.cfg.Emergency > 0 && silence > m.cfg.Emergency {
		if liv.HangupInFlight {
			return escalateNone
		}
		return escalateForced
	}

	if liv.HangupInFlight || liv.AgentSpeaking {
		return escalateNone
	}

	switch liv.SilenceLevel {
	case session.SilenceNominal:
		if liv.IntroductionDone && m.cfg.Threshold > 0 && silence > m.cfg.Threshold {
			return escalateMark
		}
	case session.SilenceFirstCheck:
		if silence > m.cfg.Threshold+m.cfg.Grace {
			return escalateGoodbye
		}
	}
	return escalateNone
}

// markFirstCheck records the first escalation stage. No speech is forced
// here; the primary dialogue path owns check-in wording, and the mark alone
// arms the goodbye stage.
func (m *Monitor) markFirstCheck(ctx context.Context, liv session.Liveness, now time.Time) {
	if !m.sess.EscalateSilence(session.SilenceNominal, session.SilenceFirstCheck) {
		return
	}
	m.metrics.RecordEscalation("1")
	m.log.Info(ctx, "callee silent past threshold",
		"silence", now.Sub(liv.LastUserActivity).Round(time.Second),
		"level", session.SilenceFirstCheck)
}

// goodbyeAndHangUp runs the second escalation stage: say one short farewell,
// give it time to play out, then tear the call down. Returns true when the
// hangup succeeded and the loop is done.
func (m *Monitor) goodbyeAndHangUp(ctx context.Context, liv session.Liveness, now time.Time) bool {
	if !m.sess.EscalateSilence(session.SilenceFirstCheck, session.SilenceSecondCheck) {
		return false
	}
	m.metrics.RecordEscalation("2")
	m.log.Info(ctx, "callee still silent, closing the call",
		"silence", now.Sub(liv.LastUserActivity).Round(time.Second),
		"level", session.SilenceSecondCheck)

	if m.goodbye != nil {
		if err := m.goodbye(ctx); err != nil {
			m.log.Warn(ctx, "silence goodbye failed", "error", err)
		} else if m.cfg.GoodbyePlayoutDelay > 0 {
			time.Sleep(m.cfg.GoodbyePlayoutDelay)
		}
	}

	if m.hangup == nil {
		return false
	}
	if err := m.hangup(ctx, session.EndReasonSilenceTimeout); err != nil {
		// Leave the loop running: the emergency stage is still armed and
		// will retry the teardown.
		m.log.Error(ctx, "hangup after silence goodbye failed", "error", err)
		return false
	}
	return true
}

// forceHangup is the emergency stage: immediate teardown, no goodbye.
func (m *Monitor) forceHangup(ctx context.Context, liv session.Liveness, now time.Time) bool {
	m.metrics.RecordEscalation("emergency")
	m.log.Warn(ctx, "emergency silence threshold exceeded, forcing hangup",
		"silence", now.Sub(liv.LastUserActivity).Round(time.Second),
		"level", liv.SilenceLevel)

	if m.hangup == nil {
		return false
	}
	if err := m.hangup(ctx, session.EndReasonEmergency); err != nil {
		m.log.Error(ctx, "forced hangup failed", "error", err)
		return false
	}
	return true
}
