// handlers.go contains the RunE handler functions for all CLI commands.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/outdial/internal/config"
	"github.com/haasonsaas/outdial/internal/dial"
	"github.com/haasonsaas/outdial/internal/dialogue"
	"github.com/haasonsaas/outdial/internal/livekit"
	"github.com/haasonsaas/outdial/internal/media"
	"github.com/haasonsaas/outdial/internal/observability"
	"github.com/haasonsaas/outdial/internal/prompts"
	"github.com/haasonsaas/outdial/internal/store"
)

// stack holds every long-lived collaborator the worker runs on. Both serve
// and call bring up the same stack; call tears it down after one session.
type stack struct {
	cfg            *config.Config
	log            *observability.Logger
	metrics        *observability.Metrics
	tracer         *observability.Tracer
	shutdownTracer func(context.Context) error
	gateway        *livekit.Client
	dialer         *dial.Dialer
	gen            dialogue.Generator
	prompts        *prompts.Registry
	store          *store.Store
	bridge         *media.Bridge
}

func buildStack(configPath string, debug bool) (*stack, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if debug {
		cfg.Logging.Level = "debug"
	}

	logOut := os.Stdout
	if cfg.Logging.Output == "stderr" {
		logOut = os.Stderr
	}
	log := observability.NewLogger(observability.LogConfig{
		Level:          cfg.Logging.Level,
		Format:         cfg.Logging.Format,
		Output:         logOut,
		AddSource:      cfg.Logging.AddSource,
		RedactPatterns: cfg.Logging.RedactPatterns,
	})
	metrics := observability.NewMetrics()

	traceCfg := observability.TraceConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		SamplingRate:   cfg.Tracing.SamplingRate,
		EnableInsecure: cfg.Tracing.Insecure,
	}
	if cfg.Tracing.Enabled {
		traceCfg.Endpoint = cfg.Tracing.Endpoint
	}
	tracer, shutdownTracer := observability.NewTracer(traceCfg)

	s := &stack{
		cfg:            cfg,
		log:            log,
		metrics:        metrics,
		tracer:         tracer,
		shutdownTracer: shutdownTracer,
	}

	s.gateway, err = livekit.NewClient(cfg.LiveKit, log, metrics, tracer)
	if err != nil {
		return nil, err
	}
	s.dialer, err = dial.New(cfg.Dialer, cfg.LiveKit.SIPTrunkID, cfg.Call.CalleeIdentity, s.gateway, log, metrics, tracer)
	if err != nil {
		return nil, err
	}
	s.gen, err = dialogue.NewChain(cfg.Dialogue, log, metrics, tracer)
	if err != nil {
		return nil, err
	}
	s.prompts, err = prompts.New(cfg.Prompts, log)
	if err != nil {
		return nil, err
	}
	if cfg.Store.Path != "" {
		s.store, err = store.Open(cfg.Store)
		if err != nil {
			return nil, err
		}
	}
	s.bridge, err = media.New(cfg.Bridge, log, metrics)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *stack) close() {
	if s.prompts != nil {
		_ = s.prompts.Close()
	}
	if s.store != nil {
		_ = s.store.Close()
	}
	if s.shutdownTracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.shutdownTracer(ctx)
	}
}

// runServe implements the serve command: bring the stack up, accept jobs
// from the bridge, and run until a shutdown signal or the bridge gives up.
func runServe(ctx context.Context, configPath string, debug bool) error {
	s, err := buildStack(configPath, debug)
	if err != nil {
		return err
	}
	defer s.close()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	s.log.Info(ctx, "outdial worker starting",
		"version", version,
		"commit", commit,
		"bridge", s.cfg.Bridge.URL,
		"gateway", s.cfg.LiveKit.URL,
		"provider", s.cfg.Dialogue.Provider,
		"persistence", s.store != nil,
	)

	if s.cfg.Metrics.Enabled {
		srv := startMetricsServer(s.cfg.Metrics.Listen, s.log)
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if s.cfg.Prompts.Watch {
		if err := s.prompts.StartWatching(ctx); err != nil {
			s.log.Warn(ctx, "prompt hot reload unavailable", "error", err)
		}
	}

	w := newWorker(s, true)
	err = w.run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	s.log.Info(context.Background(), "outdial worker stopped")
	return nil
}

type callRequest struct {
	Destination string
	TransferTo  string
	Room        string
	Debug       bool
}

// runCall implements the call command: the serve stack scoped to exactly one
// session.
func runCall(ctx context.Context, configPath string, req callRequest) error {
	if err := dial.ValidateDestination(req.Destination); err != nil {
		return err
	}

	s, err := buildStack(configPath, req.Debug)
	if err != nil {
		return err
	}
	defer s.close()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	room := req.Room
	if room == "" {
		room = s.cfg.Call.RoomPrefix + uuid.NewString()
	}
	s.log.Info(ctx, "placing call", "room", room, "destination", req.Destination)

	w := newWorker(s, false)
	return w.runSingle(ctx, room, req.Destination, req.TransferTo)
}

func runConfigValidate(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	fmt.Printf("%s is valid\n", configPath)
	fmt.Printf("  gateway:    %s\n", cfg.LiveKit.URL)
	fmt.Printf("  bridge:     %s\n", cfg.Bridge.URL)
	fmt.Printf("  provider:   %s", cfg.Dialogue.Provider)
	if len(cfg.Dialogue.Fallbacks) > 0 {
		fmt.Printf(" (fallbacks: %s)", strings.Join(cfg.Dialogue.Fallbacks, ", "))
	}
	fmt.Println()
	if cfg.Store.Path != "" {
		fmt.Printf("  store:      %s\n", cfg.Store.Path)
	} else {
		fmt.Printf("  store:      disabled\n")
	}
	return nil
}

func runConfigSchema(cmd *cobra.Command) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(schema))
	return nil
}

// runRecent lists stored call summaries, newest first.
func runRecent(ctx context.Context, configPath string, limit int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Store.Path == "" {
		return fmt.Errorf("store.path is not configured; there is no call history to show")
	}

	st, err := store.Open(cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	records, err := st.ListRecent(ctx, limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("no calls recorded yet")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENDED\tROOM\tDESTINATION\tDURATION\tTURNS\tTOPICS\tREASON")
	for _, rec := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.0fs\t%d\t%s\t%s\n",
			rec.EndedAt.Local().Format("2006-01-02 15:04:05"),
			rec.Room,
			rec.Destination,
			rec.DurationSeconds,
			rec.UserTurnCount,
			strings.Join(rec.Topics, ","),
			rec.EndReason,
		)
	}
	return tw.Flush()
}

func startMetricsServer(addr string, log *observability.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info(context.Background(), "metrics server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(context.Background(), "metrics server failed", "error", err)
		}
	}()
	return srv
}
