// Package session holds the per-call state machine: lifecycle phases, turn
// accounting, speaking state, and the silence escalation level. One Session
// exists per outbound call attempt; the controller and the silence monitor
// are its only writers.
package session

import (
	"sync"
	"sync/atomic"
	"time"
)

// Phase is the coarse lifecycle stage of one outbound call attempt.
type Phase string

const (
	PhaseConnecting  Phase = "connecting"
	PhaseIntroducing Phase = "introducing"
	PhaseConversing  Phase = "conversing"
	PhaseEnding      Phase = "ending"
	PhaseTerminated  Phase = "terminated"
)

// IsTerminal returns true once the session can no longer change.
func (p Phase) IsTerminal() bool {
	return p == PhaseTerminated
}

// canAdvanceTo enforces monotonic forward progression. Ending is reachable
// from Introducing or Conversing; Terminated is reachable from anywhere.
func (p Phase) canAdvanceTo(next Phase) bool {
	if next == PhaseTerminated {
		return p != PhaseTerminated
	}
	switch p {
	case PhaseConnecting:
		return next == PhaseIntroducing
	case PhaseIntroducing:
		return next == PhaseConversing || next == PhaseEnding
	case PhaseConversing:
		return next == PhaseEnding
	}
	return false
}

// EndReason describes why a call ended.
type EndReason string

const (
	EndReasonUserRequest    EndReason = "user_request"
	EndReasonSilenceTimeout EndReason = "silence_timeout"
	EndReasonEmergency      EndReason = "emergency_timeout"
	EndReasonVoicemail      EndReason = "voicemail"
	EndReasonTransferFailed EndReason = "transfer_failed"
	EndReasonDisconnect     EndReason = "remote_disconnect"
	EndReasonDialFailed     EndReason = "dial_failed"
	EndReasonTransferred    EndReason = "transferred"
)

// Silence escalation levels.
const (
	SilenceNominal     = 0
	SilenceFirstCheck  = 1
	SilenceSecondCheck = 2
)

// Session is the shared mutable record for one call. All field access goes
// through methods; the mutex keeps the turn tracker, the controller, and the
// silence monitor from interleaving partial updates. The hangup guard is an
// atomic so termination can test-and-set it before any suspending call.
type Session struct {
	mu sync.Mutex

	room           string
	destination    string
	transferTarget string
	participantID  string

	phase            Phase
	callStart        time.Time
	introductionDone bool
	lastUserActivity time.Time
	agentSpeaking    bool
	userTurnCount    int
	silenceLevel     int
	maxSilenceLevel  int
	topicsSeen       []string
	endReason        EndReason

	hangupInFlight atomic.Bool
	done           chan struct{}
}

// New creates a session in the Connecting phase. The transfer target is
// fixed for the session's lifetime; destination may be empty for direct
// (non-telephony) participants.
func New(room, destination, transferTarget string) *Session {
	return &Session{
		room:           room,
		destination:    destination,
		transferTarget: transferTarget,
		phase:          PhaseConnecting,
		done:           make(chan struct{}),
	}
}

// Room returns the room this session runs in.
func (s *Session) Room() string {
	return s.room
}

// Destination returns the dialed address, empty in direct mode.
func (s *Session) Destination() string {
	return s.destination
}

// TransferTarget returns the human handoff destination, empty when transfers
// are unavailable.
func (s *Session) TransferTarget() string {
	return s.transferTarget
}

// Begin records the confirmed participant join: Connecting -> Introducing.
// It seeds the activity clock so silence accrues from the moment the callee
// is on the line. The participant identity is set once and immutable after.
func (s *Session) Begin(participantID string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.phase.canAdvanceTo(PhaseIntroducing) {
		return false
	}
	s.phase = PhaseIntroducing
	s.participantID = participantID
	s.callStart = now
	s.lastUserActivity = now
	return true
}

// MarkIntroduced flags the introduction as delivered and moves the session
// to Conversing. Returns false if the introduction was already done or the
// session is terminated; the flag itself is set at most once.
func (s *Session) MarkIntroduced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == PhaseTerminated {
		return false
	}
	first := !s.introductionDone
	s.introductionDone = true
	if s.phase.canAdvanceTo(PhaseConversing) {
		s.phase = PhaseConversing
	}
	return first
}

// BeginEnding moves the session into the Ending phase. Returns false when
// the session is already Ending or Terminated.
func (s *Session) BeginEnding(reason EndReason) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.phase.canAdvanceTo(PhaseEnding) {
		return false
	}
	s.phase = PhaseEnding
	s.endReason = reason
	return true
}

// Terminate moves the session to Terminated from any phase. Returns false
// if it was already terminated. A reason recorded earlier by BeginEnding is
// preserved; otherwise the given reason is recorded.
func (s *Session) Terminate(reason EndReason) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == PhaseTerminated {
		return false
	}
	s.phase = PhaseTerminated
	if s.endReason == "" {
		s.endReason = reason
	}
	close(s.done)
	return true
}

// Done returns a channel that closes when the session terminates. Event
// loops select on it so a hangup issued from another goroutine wakes them.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Phase returns the current lifecycle phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// SpeechStarted marks the start of agent-originated audio. The silence
// monitor treats the agent's own playout window as not-silence.
func (s *Session) SpeechStarted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseTerminated {
		return
	}
	s.agentSpeaking = true
}

// SpeechCompleted marks the end of agent-originated audio.
func (s *Session) SpeechCompleted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseTerminated {
		return
	}
	s.agentSpeaking = false
}

// AgentSpeaking reports whether agent audio is currently playing out.
func (s *Session) AgentSpeaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agentSpeaking
}

// EscalateSilence advances the silence level from exactly `from` to `to`.
// It refuses to move backwards, skip the expected predecessor, act while the
// agent is speaking, or act on a terminated session. Only RecordUserTurn
// resets the level.
func (s *Session) EscalateSilence(from, to int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == PhaseTerminated || s.agentSpeaking {
		return false
	}
	if s.silenceLevel != from || to <= from {
		return false
	}
	s.silenceLevel = to
	if to > s.maxSilenceLevel {
		s.maxSilenceLevel = to
	}
	return true
}

// SilenceLevel returns the current escalation level.
func (s *Session) SilenceLevel() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.silenceLevel
}

// BeginHangup acquires the hangup guard. The first caller wins; everyone
// else must treat the termination as already handled.
func (s *Session) BeginHangup() bool {
	return s.hangupInFlight.CompareAndSwap(false, true)
}

// ReleaseHangup returns the guard after a failed termination attempt so a
// later path can still tear the call down.
func (s *Session) ReleaseHangup() {
	s.hangupInFlight.Store(false)
}

// HangupInFlight reports whether a termination sequence has been claimed.
func (s *Session) HangupInFlight() bool {
	return s.hangupInFlight.Load()
}

// Liveness is the silence monitor's consistent per-tick view.
type Liveness struct {
	Phase            Phase
	IntroductionDone bool
	AgentSpeaking    bool
	LastUserActivity time.Time
	SilenceLevel     int
	HangupInFlight   bool
}

// Liveness returns a consistent snapshot of the fields the silence monitor
// bases escalation decisions on.
func (s *Session) Liveness() Liveness {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Liveness{
		Phase:            s.phase,
		IntroductionDone: s.introductionDone,
		AgentSpeaking:    s.agentSpeaking,
		LastUserActivity: s.lastUserActivity,
		SilenceLevel:     s.silenceLevel,
		HangupInFlight:   s.hangupInFlight.Load(),
	}
}

// Snapshot is a point-in-time copy of the session for logging and storage.
type Snapshot struct {
	Room             string    `json:"room"`
	Destination      string    `json:"destination,omitempty"`
	ParticipantID    string    `json:"participant_id,omitempty"`
	Phase            Phase     `json:"phase"`
	CallStart        time.Time `json:"call_start,omitempty"`
	IntroductionDone bool      `json:"introduction_done"`
	AgentSpeaking    bool      `json:"agent_speaking"`
	UserTurnCount    int       `json:"user_turn_count"`
	SilenceLevel     int       `json:"silence_level"`
	MaxSilenceLevel  int       `json:"max_silence_level"`
	Topics           []string  `json:"topics,omitempty"`
	EndReason        EndReason `json:"end_reason,omitempty"`
}

// Snapshot returns a copy of the full session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	topics := make([]string, len(s.topicsSeen))
	copy(topics, s.topicsSeen)

	return Snapshot{
		Room:             s.room,
		Destination:      s.destination,
		ParticipantID:    s.participantID,
		Phase:            s.phase,
		CallStart:        s.callStart,
		IntroductionDone: s.introductionDone,
		AgentSpeaking:    s.agentSpeaking,
		UserTurnCount:    s.userTurnCount,
		SilenceLevel:     s.silenceLevel,
		MaxSilenceLevel:  s.maxSilenceLevel,
		Topics:           topics,
		EndReason:        s.endReason,
	}
}

// Summary condenses a finished call for the termination log and the call
// record store.
type Summary struct {
	Room             string    `json:"room"`
	Destination      string    `json:"destination,omitempty"`
	ParticipantID    string    `json:"participant_id,omitempty"`
	StartedAt        time.Time `json:"started_at,omitempty"`
	Duration         float64   `json:"duration_seconds"`
	UserTurnCount    int       `json:"user_turn_count"`
	IntroductionDone bool      `json:"introduction_done"`
	EscalationLevel  int       `json:"escalation_level"`
	Topics           []string  `json:"topics,omitempty"`
	EndReason        EndReason `json:"end_reason,omitempty"`
}

// Summarize builds the end-of-call summary. Duration is zero when the
// participant never connected.
func (s *Session) Summarize(now time.Time) Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	topics := make([]string, len(s.topicsSeen))
	copy(topics, s.topicsSeen)

	var duration float64
	if !s.callStart.IsZero() {
		duration = now.Sub(s.callStart).Seconds()
	}

	return Summary{
		Room:             s.room,
		Destination:      s.destination,
		ParticipantID:    s.participantID,
		StartedAt:        s.callStart,
		Duration:         duration,
		UserTurnCount:    s.userTurnCount,
		IntroductionDone: s.introductionDone,
		EscalationLevel:  s.maxSilenceLevel,
		Topics:           topics,
		EndReason:        s.endReason,
	}
}
