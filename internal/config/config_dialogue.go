package config

import "time"

// DialogueConfig selects and configures the reply generators.
type DialogueConfig struct {
	// Provider is the primary generator: "openai" or "anthropic".
	Provider string `yaml:"provider"`

	// Fallbacks lists providers to try in order when the primary fails.
	Fallbacks []string `yaml:"fallbacks"`

	// RequestTimeout bounds a single generation request.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	OpenAI    ProviderConfig `yaml:"openai"`
	Anthropic ProviderConfig `yaml:"anthropic"`
}

// ProviderConfig configures a single generation provider.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`

	// MaxTokens caps the reply length. Zero uses the provider default.
	MaxTokens int `yaml:"max_tokens"`

	// Temperature controls sampling. Zero uses the provider default.
	Temperature float32 `yaml:"temperature"`
}
