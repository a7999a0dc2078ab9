package config

import "time"

// LiveKitConfig configures access to the LiveKit server API.
type LiveKitConfig struct {
	// URL is the LiveKit server URL (https:// or wss://).
	URL string `yaml:"url"`

	// APIKey authenticates server API requests.
	APIKey string `yaml:"api_key"`

	// APISecret signs access tokens and server API requests.
	APISecret string `yaml:"api_secret"`

	// SIPTrunkID is the outbound SIP trunk used to place calls.
	SIPTrunkID string `yaml:"sip_trunk_id"`

	// RequestTimeout bounds individual server API requests.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// TokenTTL is the lifetime of minted access tokens.
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// BridgeConfig configures the media bridge connection.
//
// The bridge carries audio in and out of the room and reports
// turn and speech events back to the worker over a websocket.
type BridgeConfig struct {
	// URL is the bridge websocket endpoint.
	URL string `yaml:"url"`

	// AuthToken authenticates the worker to the bridge.
	AuthToken string `yaml:"auth_token"`

	// ReconnectDelay is the initial backoff after a dropped connection.
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`

	// ReconnectMaxDelay caps the reconnect backoff.
	ReconnectMaxDelay time.Duration `yaml:"reconnect_max_delay"`

	// SayTimeout bounds how long to wait for a speech playout to complete.
	SayTimeout time.Duration `yaml:"say_timeout"`
}
