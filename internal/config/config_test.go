package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validBase = `
livekit:
  url: wss://example.livekit.cloud
  api_key: lk-api-key
  api_secret: lk-api-secret
  sip_trunk_id: ST_outbound
bridge:
  url: ws://127.0.0.1:8899
`

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, validBase)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected config to load, got %v", err)
	}
	if cfg.LiveKit.SIPTrunkID != "ST_outbound" {
		t.Errorf("sip_trunk_id = %q, want %q", cfg.LiveKit.SIPTrunkID, "ST_outbound")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, validBase)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Dialer.MaxAttempts != 3 {
		t.Errorf("dialer.max_attempts = %d, want 3", cfg.Dialer.MaxAttempts)
	}
	if cfg.Dialer.RetryDelay != 2*time.Second {
		t.Errorf("dialer.retry_delay = %v, want 2s", cfg.Dialer.RetryDelay)
	}
	if cfg.Silence.PollInterval != 2500*time.Millisecond {
		t.Errorf("silence.poll_interval = %v, want 2.5s", cfg.Silence.PollInterval)
	}
	if cfg.Silence.Threshold != 15*time.Second {
		t.Errorf("silence.threshold = %v, want 15s", cfg.Silence.Threshold)
	}
	if cfg.Silence.Emergency != 180*time.Second {
		t.Errorf("silence.emergency = %v, want 180s", cfg.Silence.Emergency)
	}
	if cfg.Call.EndCallDelay != 4*time.Second {
		t.Errorf("call.end_call_delay = %v, want 4s", cfg.Call.EndCallDelay)
	}
	if cfg.Dialogue.Provider != "openai" {
		t.Errorf("dialogue.provider = %q, want openai", cfg.Dialogue.Provider)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("logging.format = %q, want json", cfg.Logging.Format)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, validBase+`
dialer:
  max_attempts: 3
  extra: true
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadValidatesProvider(t *testing.T) {
	path := writeConfig(t, validBase+`
dialogue:
  provider: nope
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "provider") {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestLoadValidatesSilenceLadder(t *testing.T) {
	path := writeConfig(t, validBase+`
silence:
  threshold: 15s
  grace: 10s
  emergency: 20s
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "emergency") {
		t.Fatalf("expected emergency error, got %v", err)
	}
}

func TestLoadValidatesTrunk(t *testing.T) {
	path := writeConfig(t, `
livekit:
  url: wss://example.livekit.cloud
  api_key: lk-api-key
  api_secret: lk-api-secret
bridge:
  url: ws://127.0.0.1:8899
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "sip_trunk_id") {
		t.Fatalf("expected sip_trunk_id error, got %v", err)
	}
}

func TestLoadValidatesRedactPatterns(t *testing.T) {
	path := writeConfig(t, validBase+`
logging:
  redact_patterns:
    - "[unclosed"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "redact_patterns") {
		t.Fatalf("expected redact_patterns error, got %v", err)
	}
}

func TestLoadValidatesLogOutput(t *testing.T) {
	path := writeConfig(t, validBase+`
logging:
  output: syslog
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "logging.output") {
		t.Fatalf("expected logging.output error, got %v", err)
	}
}

func TestLoadRejectsNewerVersion(t *testing.T) {
	path := writeConfig(t, validBase+`
version: 99
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected version error")
	}
	if !strings.Contains(err.Error(), "newer than this build") {
		t.Fatalf("expected newer-version error, got %v", err)
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("OUTDIAL_TEST_SECRET", "from-env")

	path := writeConfig(t, `
livekit:
  url: wss://example.livekit.cloud
  api_key: lk-api-key
  api_secret: ${OUTDIAL_TEST_SECRET}
  sip_trunk_id: ST_outbound
bridge:
  url: ws://127.0.0.1:8899
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LiveKit.APISecret != "from-env" {
		t.Errorf("api_secret = %q, want value from environment", cfg.LiveKit.APISecret)
	}
}

func TestLoadMergesIncludes(t *testing.T) {
	dir := t.TempDir()

	basePath := filepath.Join(dir, "base.yaml")
	if err := os.WriteFile(basePath, []byte(strings.TrimSpace(`
livekit:
  url: wss://example.livekit.cloud
  api_key: lk-api-key
  api_secret: lk-api-secret
  sip_trunk_id: ST_outbound
bridge:
  url: ws://127.0.0.1:8899
dialer:
  max_attempts: 5
`)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	mainPath := filepath.Join(dir, "outdial.yaml")
	if err := os.WriteFile(mainPath, []byte(strings.TrimSpace(`
$include: base.yaml
dialer:
  max_attempts: 2
`)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(mainPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Dialer.MaxAttempts != 2 {
		t.Errorf("including file should win, max_attempts = %d, want 2", cfg.Dialer.MaxAttempts)
	}
	if cfg.LiveKit.APIKey != "lk-api-key" {
		t.Errorf("included values should merge, api_key = %q", cfg.LiveKit.APIKey)
	}
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()

	aPath := filepath.Join(dir, "a.yaml")
	bPath := filepath.Join(dir, "b.yaml")
	if err := os.WriteFile(aPath, []byte("$include: b.yaml"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := os.WriteFile(bPath, []byte("$include: a.yaml"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	_, err := Load(aPath)
	if err == nil {
		t.Fatalf("expected cycle error")
	}
	if !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected cycle error, got %v", err)
	}
}

func TestLoadJSON5(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "outdial.json5")
	contents := `{
  // comments are allowed in json5
  livekit: {
    url: "wss://example.livekit.cloud",
    api_key: "lk-api-key",
    api_secret: "lk-api-secret",
    sip_trunk_id: "ST_outbound",
  },
  bridge: { url: "ws://127.0.0.1:8899" },
}`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LiveKit.URL != "wss://example.livekit.cloud" {
		t.Errorf("livekit.url = %q", cfg.LiveKit.URL)
	}
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "outdial.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}
