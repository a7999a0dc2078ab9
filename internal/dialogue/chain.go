package dialogue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/haasonsaas/outdial/internal/config"
	"github.com/haasonsaas/outdial/internal/observability"
)

// Chain tries generators in order until one produces a reply. The whole
// attempt sequence shares a single timeout so a slow primary cannot starve
// the fallbacks.
type Chain struct {
	generators []Generator
	timeout    time.Duration
	log        *observability.Logger
	metrics    *observability.Metrics
	tracer     *observability.Tracer
}

// NewChain builds the generator stack from configuration: the primary
// provider first, then each fallback in order. Duplicate names collapse to
// the first occurrence.
func NewChain(cfg config.DialogueConfig, log *observability.Logger, metrics *observability.Metrics, tracer *observability.Tracer) (*Chain, error) {
	names := make([]string, 0, len(cfg.Fallbacks)+1)
	names = append(names, cfg.Provider)
	names = append(names, cfg.Fallbacks...)

	seen := make(map[string]bool, len(names))
	var generators []Generator
	for _, name := range names {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		gen, err := newGenerator(name, cfg)
		if err != nil {
			return nil, err
		}
		generators = append(generators, gen)
	}
	if len(generators) == 0 {
		return nil, errors.New("dialogue: no providers configured")
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Chain{
		generators: generators,
		timeout:    timeout,
		log:        log,
		metrics:    metrics,
		tracer:     tracer,
	}, nil
}

func newGenerator(name string, cfg config.DialogueConfig) (Generator, error) {
	switch name {
	case "openai":
		return NewOpenAIGenerator(cfg.OpenAI)
	case "anthropic":
		return NewAnthropicGenerator(cfg.Anthropic)
	default:
		return nil, fmt.Errorf("dialogue: unknown provider %q", name)
	}
}

// Name returns "chain".
func (c *Chain) Name() string {
	return "chain"
}

// Providers returns the configured vendor names in fallback order.
func (c *Chain) Providers() []string {
	names := make([]string, len(c.generators))
	for i, gen := range c.generators {
		names[i] = gen.Name()
	}
	return names
}

// Generate tries each generator in order and returns the first reply. All
// attempts failing returns the last error.
func (c *Chain) Generate(ctx context.Context, req *Request) (*Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var lastErr error
	for _, gen := range c.generators {
		reply, err := c.generateWith(ctx, gen, req)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		c.log.Warn(ctx, "generation failed", "provider", gen.Name(), "error", err)

		if ctx.Err() != nil {
			// Out of time; a fallback attempt would fail the same way.
			break
		}
	}

	return nil, fmt.Errorf("dialogue: all providers failed: %w", lastErr)
}

func (c *Chain) generateWith(ctx context.Context, gen Generator, req *Request) (*Reply, error) {
	ctx, span := c.tracer.TraceGeneration(ctx, gen.Name(), req.Model)
	defer span.End()

	start := time.Now()
	reply, err := gen.Generate(ctx, req)
	if err != nil {
		c.tracer.RecordError(span, err)
		c.metrics.RecordGeneration(gen.Name(), "error", time.Since(start).Seconds())
		return nil, err
	}

	c.metrics.RecordGeneration(gen.Name(), "success", time.Since(start).Seconds())
	return reply, nil
}
