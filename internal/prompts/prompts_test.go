package prompts

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/outdial/internal/config"
	"github.com/haasonsaas/outdial/internal/observability"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.LogConfig{Level: "error", Output: io.Discard})
}

func TestDefaultsLoaded(t *testing.T) {
	r, err := New(config.PromptsConfig{}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for _, name := range []string{System, Greeting, GreetingFallback, Fallback, Acknowledgment, Goodbye, GoodbyeFallback, TransferNotice, TransferApology} {
		text, ok := r.Get(name)
		if !ok {
			t.Errorf("default prompt %q missing", name)
			continue
		}
		if strings.TrimSpace(text) == "" {
			t.Errorf("default prompt %q is empty", name)
		}
	}

	if _, ok := r.Get("no-such-prompt"); ok {
		t.Error("unknown prompt reported as present")
	}
}

func TestOverridesWinOverDefaults(t *testing.T) {
	dir := t.TempDir()
	custom := "Namaste! Main Kiran bol raha hoon."
	if err := os.WriteFile(filepath.Join(dir, "greeting.md"), []byte(custom+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "extra.md"), []byte("an operator-defined prompt"), 0o644); err != nil {
		t.Fatal(err)
	}
	// Non-markdown files are ignored.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not a prompt"), 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := New(config.PromptsConfig{Dir: dir}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if text, _ := r.Get(Greeting); text != custom {
		t.Errorf("greeting = %q, want override %q", text, custom)
	}
	if text, ok := r.Get("extra"); !ok || text != "an operator-defined prompt" {
		t.Errorf("extra prompt = %q, %v", text, ok)
	}
	if _, ok := r.Get("notes"); ok {
		t.Error("non-markdown file loaded as a prompt")
	}
	// Defaults without overrides still resolve.
	if text, ok := r.Get(Goodbye); !ok || text == "" {
		t.Error("default goodbye lost after loading overrides")
	} else if strings.Contains(text, "{{") {
		t.Errorf("goodbye contains template syntax: %q", text)
	}
}

func TestMissingDirFails(t *testing.T) {
	if _, err := New(config.PromptsConfig{Dir: "/does/not/exist"}, testLogger()); err == nil {
		t.Error("expected error for missing prompts dir")
	}
}

func TestRenderSystemPrompt(t *testing.T) {
	r, err := New(config.PromptsConfig{}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	type vars struct {
		TransferTarget string
	}

	text, err := r.Render(System, vars{})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if strings.Contains(text, "reachable at") {
		t.Error("transfer line rendered without a target")
	}

	text, err = r.Render(System, vars{TransferTarget: "+18005550199"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(text, "+18005550199") {
		t.Error("transfer target not rendered into system prompt")
	}
}

func TestRenderRejectsMissingKeys(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "greeting.md"), []byte("Hello {{.CalleeName}}!"), 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := New(config.PromptsConfig{Dir: dir}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := r.Render(Greeting, map[string]any{}); err == nil {
		t.Error("expected error for missing template key")
	}
	if text, err := r.Render(Greeting, map[string]any{"CalleeName": "Priya"}); err != nil || text != "Hello Priya!" {
		t.Errorf("Render = %q, %v", text, err)
	}
}

func TestNamesSortedAndMerged(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "extra.md"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := New(config.PromptsConfig{Dir: dir}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	names := r.Names()
	if len(names) < 10 {
		t.Fatalf("names = %v, want defaults plus extra", names)
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Fatalf("names not sorted: %v", names)
		}
	}
}

func TestWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "greeting.md")
	if err := os.WriteFile(path, []byte("first version"), 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := New(config.PromptsConfig{Dir: dir, Watch: true}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.debounce = 10 * time.Millisecond
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := r.StartWatching(ctx); err != nil {
		t.Fatalf("StartWatching: %v", err)
	}

	if err := os.WriteFile(path, []byte("second version"), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if text, _ := r.Get(Greeting); text == "second version" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	text, _ := r.Get(Greeting)
	t.Fatalf("greeting = %q, watch never picked up the edit", text)
}

func TestStartWatchingDisabled(t *testing.T) {
	r, err := New(config.PromptsConfig{}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.StartWatching(context.Background()); err != nil {
		t.Errorf("StartWatching with watching disabled: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close without watcher: %v", err)
	}
}
