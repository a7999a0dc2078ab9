package session

import (
	"strings"
	"time"
	"unicode"
)

// TurnOutcome reports how a completed user utterance was classified.
type TurnOutcome struct {
	// FirstTurn is true for the first completed utterance of the call.
	FirstTurn bool

	// BareGreeting is true when the utterance is only a greeting token, the
	// introduction already happened, and this is not the first turn. The
	// controller answers these with a short acknowledgment instead of
	// replaying the introduction.
	BareGreeting bool

	// NewTopics lists topic tags first seen in this utterance.
	NewTopics []string

	// Script names the writing system of the utterance.
	Script string
}

// topicTable maps advisory topic tags to trigger substrings. Matching is
// case-insensitive substring search over the utterance; the tags feed the
// call summary, nothing downstream depends on them.
var topicTable = []struct {
	tag      string
	triggers []string
}{
	{"courses", []string{"course", "class", "program", "training", "curriculum", "syllabus"}},
	{"pricing", []string{"price", "cost", "fee", "payment", "emi", "discount"}},
	{"placement", []string{"placement", "job", "salary", "hiring", "career", "intern"}},
	{"schedule", []string{"schedule", "timing", "duration", "how long", "start date"}},
	{"enrollment", []string{"enroll", "admission", "register", "sign up", "apply"}},
	{"support", []string{"help", "support", "mentor", "doubt", "question"}},
	{"handoff", []string{"human", "real person", "counselor", "representative"}},
}

// greetingTokens are utterances that carry no content beyond "are you
// there". Includes Devanagari and Telugu forms since callees answer in
// whichever language the deployment speaks.
var greetingTokens = newTokenSet(
	"hello", "hello hello", "hi", "hey", "hai", "haan", "yes hello",
	"are you there", "you there", "can you hear me",
	"नमस्ते", "हैलो", "हां",
	"హలో", "నమస్తే",
)

func newTokenSet(tokens ...string) map[string]bool {
	set := make(map[string]bool, len(tokens))
	for _, token := range tokens {
		set[token] = true
	}
	return set
}

// RecordUserTurn applies one completed user utterance to the session: bumps
// the turn count, refreshes the activity clock, clears any pending silence
// escalation, and classifies the utterance. The first turn also completes
// the introduction, covering callees who speak before the greeting finishes.
//
// Returns ok=false (and no mutation) once the session is terminated.
func (s *Session) RecordUserTurn(text string, now time.Time) (TurnOutcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == PhaseTerminated {
		return TurnOutcome{}, false
	}

	s.userTurnCount++
	s.lastUserActivity = now
	s.silenceLevel = SilenceNominal

	outcome := TurnOutcome{
		FirstTurn: s.userTurnCount == 1,
		Script:    DetectScript(text),
	}

	introAlready := s.introductionDone
	if outcome.FirstTurn && !s.introductionDone {
		s.introductionDone = true
		if s.phase.canAdvanceTo(PhaseConversing) {
			s.phase = PhaseConversing
		}
	}

	outcome.NewTopics = s.appendTopics(text)
	outcome.BareGreeting = introAlready && s.userTurnCount > 1 && IsBareGreeting(text)

	return outcome, true
}

// appendTopics matches the utterance against the topic table and appends
// unseen tags. Caller holds s.mu.
func (s *Session) appendTopics(text string) []string {
	lowered := strings.ToLower(text)

	var added []string
	for _, entry := range topicTable {
		for _, trigger := range entry.triggers {
			if !strings.Contains(lowered, trigger) {
				continue
			}
			if !containsString(s.topicsSeen, entry.tag) {
				s.topicsSeen = append(s.topicsSeen, entry.tag)
				added = append(added, entry.tag)
			}
			break
		}
	}
	return added
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// IsBareGreeting reports whether the utterance consists solely of a greeting
// token, after trimming punctuation in any supported script.
func IsBareGreeting(text string) bool {
	normalized := strings.ToLower(strings.TrimSpace(text))
	normalized = strings.TrimFunc(normalized, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSymbol(r)
	})
	normalized = strings.Join(strings.Fields(normalized), " ")
	return greetingTokens[normalized]
}

// DetectScript names the dominant writing system of the utterance: latin,
// devanagari, telugu, or unknown when no letters are present.
func DetectScript(text string) string {
	counts := map[string]int{}
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Devanagari, r):
			counts["devanagari"]++
		case unicode.Is(unicode.Telugu, r):
			counts["telugu"]++
		case unicode.Is(unicode.Latin, r):
			counts["latin"]++
		}
	}

	best, bestCount := "unknown", 0
	for script, count := range counts {
		if count > bestCount {
			best, bestCount = script, count
		}
	}
	return best
}
