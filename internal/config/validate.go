package config

import (
	"fmt"
	"regexp"
	"strings"
)

var knownProviders = map[string]bool{
	"openai":    true,
	"anthropic": true,
}

var knownLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// Validate checks cross-field constraints after defaults are applied.
func (c *Config) Validate() error {
	if !knownLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level %q is not a valid level", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format)
	}
	if c.Logging.Output != "" && c.Logging.Output != "stdout" && c.Logging.Output != "stderr" {
		return fmt.Errorf("logging.output must be stdout or stderr, got %q", c.Logging.Output)
	}
	for i, pattern := range c.Logging.RedactPatterns {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("logging.redact_patterns[%d] is not a valid regex: %w", i, err)
		}
	}

	if strings.TrimSpace(c.LiveKit.URL) == "" {
		return fmt.Errorf("livekit.url is required")
	}
	if strings.TrimSpace(c.LiveKit.APIKey) == "" {
		return fmt.Errorf("livekit.api_key is required")
	}
	if strings.TrimSpace(c.LiveKit.APISecret) == "" {
		return fmt.Errorf("livekit.api_secret is required")
	}
	if strings.TrimSpace(c.LiveKit.SIPTrunkID) == "" {
		return fmt.Errorf("livekit.sip_trunk_id is required")
	}

	if strings.TrimSpace(c.Bridge.URL) == "" {
		return fmt.Errorf("bridge.url is required")
	}

	if c.Dialer.MaxAttempts < 1 {
		return fmt.Errorf("dialer.max_attempts must be at least 1, got %d", c.Dialer.MaxAttempts)
	}
	if c.Dialer.RetryDelay < 0 {
		return fmt.Errorf("dialer.retry_delay must not be negative")
	}
	if c.Dialer.RatePerSecond < 0 {
		return fmt.Errorf("dialer.rate_per_second must not be negative")
	}

	if c.Silence.PollInterval <= 0 {
		return fmt.Errorf("silence.poll_interval must be positive")
	}
	if c.Silence.Threshold <= 0 {
		return fmt.Errorf("silence.threshold must be positive")
	}
	if c.Silence.Grace <= 0 {
		return fmt.Errorf("silence.grace must be positive")
	}
	if c.Silence.Emergency <= c.Silence.Threshold+c.Silence.Grace {
		return fmt.Errorf("silence.emergency must exceed silence.threshold plus silence.grace")
	}

	if !knownProviders[c.Dialogue.Provider] {
		return fmt.Errorf("dialogue.provider %q is not a known provider", c.Dialogue.Provider)
	}
	for _, name := range c.Dialogue.Fallbacks {
		if !knownProviders[name] {
			return fmt.Errorf("dialogue.fallbacks entry %q is not a known provider", name)
		}
	}

	return nil
}
