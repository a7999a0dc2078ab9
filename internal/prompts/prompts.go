// Package prompts manages the texts the agent speaks and the instructions it
// runs on.
//
// Built-in defaults are embedded in the binary. An operator can override any
// of them (or add new ones) by dropping .md files into the configured prompts
// directory; with watching enabled, edits take effect on live calls without
// a restart.
package prompts

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/haasonsaas/outdial/internal/config"
	"github.com/haasonsaas/outdial/internal/observability"
)

// Well-known prompt names used by the call controller. Greeting and Goodbye
// are generation instructions; their *_fallback twins are the literal lines
// spoken when generation fails.
const (
	System           = "system"
	Greeting         = "greeting"
	GreetingFallback = "greeting_fallback"
	Fallback         = "fallback"
	Acknowledgment   = "acknowledgment"
	Goodbye          = "goodbye"
	GoodbyeFallback  = "goodbye_fallback"
	TransferNotice   = "transfer_notice"
	TransferApology  = "transfer_apology"
)

// Registry serves prompt texts by name, preferring directory overrides over
// the embedded defaults.
type Registry struct {
	cfg config.PromptsConfig
	log *observability.Logger

	mu        sync.RWMutex
	defaults  map[string]string
	overrides map[string]string

	watchMu     sync.Mutex
	watcher     *fsnotify.Watcher
	watchCancel context.CancelFunc
	watchWg     sync.WaitGroup
	debounce    time.Duration
}

// New loads the embedded defaults and, when a prompts directory is
// configured, the overrides in it.
func New(cfg config.PromptsConfig, log *observability.Logger) (*Registry, error) {
	defaults, err := loadDir(DefaultsFS())
	if err != nil {
		return nil, fmt.Errorf("prompts: load defaults: %w", err)
	}

	r := &Registry{
		cfg:       cfg,
		log:       log,
		defaults:  defaults,
		overrides: make(map[string]string),
		debounce:  250 * time.Millisecond,
	}
	if err := r.Load(); err != nil {
		return nil, err
	}
	return r, nil
}

// Load re-reads the override directory. With no directory configured it
// clears any overrides.
func (r *Registry) Load() error {
	if r.cfg.Dir == "" {
		r.mu.Lock()
		r.overrides = make(map[string]string)
		r.mu.Unlock()
		return nil
	}

	overrides, err := loadDir(os.DirFS(r.cfg.Dir))
	if err != nil {
		return fmt.Errorf("prompts: read dir %s: %w", r.cfg.Dir, err)
	}

	r.mu.Lock()
	r.overrides = overrides
	r.mu.Unlock()

	r.log.Info(context.Background(), "prompts loaded", "dir", r.cfg.Dir, "overrides", len(overrides))
	return nil
}

func loadDir(fsys fs.FS) (map[string]string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		data, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			return nil, err
		}
		name := strings.TrimSuffix(entry.Name(), ".md")
		out[name] = strings.TrimSpace(string(data))
	}
	return out, nil
}

// Get returns the current text for name.
func (r *Registry) Get(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if text, ok := r.overrides[name]; ok {
		return text, true
	}
	text, ok := r.defaults[name]
	return text, ok
}

// Names returns every known prompt name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{}, len(r.defaults)+len(r.overrides))
	for name := range r.defaults {
		seen[name] = struct{}{}
	}
	for name := range r.overrides {
		seen[name] = struct{}{}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render executes the named prompt as a template against data. Missing keys
// are errors: spoken text must never contain a template artifact.
func (r *Registry) Render(name string, data any) (string, error) {
	text, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("prompts: unknown prompt %q", name)
	}

	t := template.New(name)
	t.Option("missingkey=error")
	parsed, err := t.Parse(text)
	if err != nil {
		return "", fmt.Errorf("prompts: parse template %q: %w", name, err)
	}

	var buf bytes.Buffer
	if err := parsed.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("prompts: execute template %q: %w", name, err)
	}
	return buf.String(), nil
}

// StartWatching reloads the override directory when its files change. It is
// a no-op unless watching is enabled and a directory is configured.
func (r *Registry) StartWatching(ctx context.Context) error {
	if !r.cfg.Watch || r.cfg.Dir == "" {
		return nil
	}

	r.watchMu.Lock()
	if r.watcher != nil {
		r.watchMu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		r.watchMu.Unlock()
		return err
	}
	if err := watcher.Add(r.cfg.Dir); err != nil {
		_ = watcher.Close()
		r.watchMu.Unlock()
		return fmt.Errorf("prompts: watch %s: %w", r.cfg.Dir, err)
	}
	r.watcher = watcher
	watchCtx, cancel := context.WithCancel(ctx)
	r.watchCancel = cancel
	debounce := r.debounce
	r.watchMu.Unlock()

	r.watchWg.Add(1)
	go r.watchLoop(watchCtx, watcher, debounce)
	return nil
}

// Close stops any active watcher.
func (r *Registry) Close() error {
	r.watchMu.Lock()
	if r.watchCancel != nil {
		r.watchCancel()
		r.watchCancel = nil
	}
	watcher := r.watcher
	r.watcher = nil
	r.watchMu.Unlock()

	if watcher != nil {
		_ = watcher.Close()
	}
	r.watchWg.Wait()
	return nil
}

func (r *Registry) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, debounce time.Duration) {
	defer r.watchWg.Done()

	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}

	var mu sync.Mutex
	var timer *time.Timer
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, func() {
			if err := r.Load(); err != nil {
				r.log.Warn(context.Background(), "prompt reload failed", "error", err)
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				scheduleReload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			r.log.Warn(context.Background(), "prompt watch error", "error", err)
		}
	}
}
