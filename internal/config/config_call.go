package config

import "time"

// DialerConfig controls outbound call placement.
type DialerConfig struct {
	// MaxAttempts is how many times to try placing a call.
	MaxAttempts int `yaml:"max_attempts"`

	// RetryDelay is the fixed pause between attempts.
	RetryDelay time.Duration `yaml:"retry_delay"`

	// DialTimeout bounds a single attempt, including ringing.
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// RatePerSecond caps call placement rate across the worker.
	// Zero means unlimited.
	RatePerSecond float64 `yaml:"rate_per_second"`

	// Burst is the rate limiter burst size. Defaults to 1 when rate limiting
	// is enabled.
	Burst int `yaml:"burst"`
}

// SilenceConfig tunes the silence escalation ladder.
type SilenceConfig struct {
	// PollInterval is how often the monitor inspects the session.
	PollInterval time.Duration `yaml:"poll_interval"`

	// Threshold is how long the callee may stay silent before a reminder.
	Threshold time.Duration `yaml:"threshold"`

	// Grace is the additional silence after a reminder before giving up.
	Grace time.Duration `yaml:"grace"`

	// Emergency forces teardown after this much total silence regardless of
	// session state.
	Emergency time.Duration `yaml:"emergency"`

	// GoodbyePlayoutDelay is the pause after the farewell finishes playing
	// before the room is torn down.
	GoodbyePlayoutDelay time.Duration `yaml:"goodbye_playout_delay"`
}

// CallConfig describes per-call identities and teardown behavior.
type CallConfig struct {
	// AgentIdentity is the participant identity the worker joins rooms with.
	AgentIdentity string `yaml:"agent_identity"`

	// CalleeIdentity is the identity assigned to the dialed SIP participant.
	CalleeIdentity string `yaml:"callee_identity"`

	// RoomPrefix prefixes generated room names.
	RoomPrefix string `yaml:"room_prefix"`

	// EndCallDelay is the playout allowance before teardown when the
	// conversation ends through the end_call tool.
	EndCallDelay time.Duration `yaml:"end_call_delay"`
}
