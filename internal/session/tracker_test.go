package session

import (
	"testing"
	"time"
)

func newConversingSession(t *testing.T) *Session {
	t.Helper()
	sess := New("call-1", "+14155552671", "+14155550000")
	if !sess.Begin("phone_user", time.Now()) {
		t.Fatal("Begin() failed")
	}
	if !sess.MarkIntroduced() {
		t.Fatal("MarkIntroduced() failed")
	}
	return sess
}

func TestRecordUserTurnBasics(t *testing.T) {
	sess := newConversingSession(t)
	turnAt := time.Now().Add(3 * time.Second)

	outcome, ok := sess.RecordUserTurn("tell me about courses", turnAt)
	if !ok {
		t.Fatal("RecordUserTurn() ok = false, want true")
	}
	if !outcome.FirstTurn {
		t.Error("FirstTurn = false, want true")
	}
	if outcome.BareGreeting {
		t.Error("BareGreeting = true for a substantive first turn")
	}
	if len(outcome.NewTopics) != 1 || outcome.NewTopics[0] != "courses" {
		t.Errorf("NewTopics = %v, want [courses]", outcome.NewTopics)
	}

	snap := sess.Snapshot()
	if snap.UserTurnCount != 1 {
		t.Errorf("turn count = %d, want 1", snap.UserTurnCount)
	}
	if live := sess.Liveness(); !live.LastUserActivity.Equal(turnAt) {
		t.Errorf("last activity = %v, want %v", live.LastUserActivity, turnAt)
	}
}

func TestTurnResetsSilenceLevel(t *testing.T) {
	sess := newConversingSession(t)

	if !sess.EscalateSilence(SilenceNominal, SilenceFirstCheck) {
		t.Fatal("EscalateSilence() failed")
	}
	if _, ok := sess.RecordUserTurn("sorry, I stepped away", time.Now()); !ok {
		t.Fatal("RecordUserTurn() failed")
	}
	if got := sess.SilenceLevel(); got != SilenceNominal {
		t.Fatalf("silence level after turn = %d, want %d", got, SilenceNominal)
	}
}

func TestFirstTurnCompletesIntroduction(t *testing.T) {
	sess := New("call-1", "+14155552671", "")
	sess.Begin("phone_user", time.Now())

	// The callee speaks before the proactive greeting finishes.
	outcome, ok := sess.RecordUserTurn("hello, who is this?", time.Now())
	if !ok {
		t.Fatal("RecordUserTurn() failed")
	}
	if !outcome.FirstTurn {
		t.Error("FirstTurn = false, want true")
	}
	if outcome.BareGreeting {
		t.Error("first turn classified as BareGreeting")
	}

	snap := sess.Snapshot()
	if !snap.IntroductionDone {
		t.Error("introduction done = false after first turn")
	}
	if snap.Phase != PhaseConversing {
		t.Errorf("phase = %s, want %s", snap.Phase, PhaseConversing)
	}
}

func TestBareGreetingAfterIntroduction(t *testing.T) {
	sess := newConversingSession(t)

	if _, ok := sess.RecordUserTurn("tell me about courses", time.Now()); !ok {
		t.Fatal("RecordUserTurn() failed")
	}

	outcome, ok := sess.RecordUserTurn("hello?", time.Now())
	if !ok {
		t.Fatal("RecordUserTurn() failed")
	}
	if !outcome.BareGreeting {
		t.Error("BareGreeting = false for a bare 'hello?' on turn 2")
	}

	// A greeting with substance is a normal turn.
	outcome, ok = sess.RecordUserTurn("hello, what are the fees?", time.Now())
	if !ok {
		t.Fatal("RecordUserTurn() failed")
	}
	if outcome.BareGreeting {
		t.Error("BareGreeting = true for an utterance with content")
	}
	if len(outcome.NewTopics) != 1 || outcome.NewTopics[0] != "pricing" {
		t.Errorf("NewTopics = %v, want [pricing]", outcome.NewTopics)
	}
}

func TestBareGreetingNotSignaledOnFirstTurn(t *testing.T) {
	sess := newConversingSession(t)

	outcome, ok := sess.RecordUserTurn("hello", time.Now())
	if !ok {
		t.Fatal("RecordUserTurn() failed")
	}
	if outcome.BareGreeting {
		t.Error("BareGreeting = true on the first turn, want false")
	}
}

func TestTopicsAppendOnlyAndDeduplicated(t *testing.T) {
	sess := newConversingSession(t)

	sess.RecordUserTurn("what courses do you offer", time.Now())
	outcome, _ := sess.RecordUserTurn("and is the course online?", time.Now())
	if len(outcome.NewTopics) != 0 {
		t.Errorf("NewTopics = %v, want none for an already-seen topic", outcome.NewTopics)
	}

	sess.RecordUserTurn("what about placements and fees", time.Now())

	snap := sess.Snapshot()
	want := []string{"courses", "pricing", "placement"}
	if len(snap.Topics) != len(want) {
		t.Fatalf("topics = %v, want %v", snap.Topics, want)
	}
	for i, tag := range want {
		if snap.Topics[i] != tag {
			t.Errorf("topics[%d] = %s, want %s", i, snap.Topics[i], tag)
		}
	}
}

func TestIsBareGreeting(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"hello", true},
		{"Hello!", true},
		{"  HELLO  ", true},
		{"hello?", true},
		{"hi", true},
		{"hey", true},
		{"are you there", true},
		{"Are you there?", true},
		{"can you hear me", true},
		{"नमस्ते", true},
		{"हैलो", true},
		{"హలో", true},
		{"hello, tell me about courses", false},
		{"hello there my friend", false},
		{"I said hello to them", false},
		{"what are the fees", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := IsBareGreeting(tt.text); got != tt.want {
				t.Errorf("IsBareGreeting(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestDetectScript(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"latin", "tell me about courses", "latin"},
		{"devanagari", "नमस्ते, मुझे कोर्स के बारे में बताओ", "devanagari"},
		{"telugu", "హలో, కోర్సుల గురించి చెప్పండి", "telugu"},
		{"mixed mostly latin", "ok नमस्ते tell me more about it", "latin"},
		{"digits only", "123 456", "unknown"},
		{"empty", "", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectScript(tt.text); got != tt.want {
				t.Errorf("DetectScript(%q) = %s, want %s", tt.text, got, tt.want)
			}
		})
	}
}
