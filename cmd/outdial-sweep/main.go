// Command outdial-sweep deletes stale call rooms from the LiveKit server.
//
// A crashed worker can leave rooms behind; each one holds a SIP leg open.
// The sweeper lists active rooms, filters them by the call room prefix and
// a minimum age, and tears the remainder down. It runs one-shot by default,
// or on a cron schedule with -schedule.
//
//	outdial-sweep -config outdial.yaml -min-age 30m
//	outdial-sweep -config outdial.yaml -schedule "*/15 * * * *" -yes
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/term"

	"github.com/haasonsaas/outdial/internal/config"
	"github.com/haasonsaas/outdial/internal/livekit"
	"github.com/haasonsaas/outdial/internal/observability"
)

// cronParser accepts standard 5-field specs, an optional leading seconds
// field, and descriptors like @hourly.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

type options struct {
	configPath    string
	prefix        string
	minAge        time.Duration
	includeActive bool
	dryRun        bool
	yes           bool
	schedule      string
	sweepTimeout  time.Duration
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "outdial.yaml", "Path to YAML configuration file")
	flag.StringVar(&opts.prefix, "prefix", "", "Room name prefix to match (defaults to call.room_prefix from config)")
	flag.DurationVar(&opts.minAge, "min-age", 30*time.Minute, "Only delete rooms older than this")
	flag.BoolVar(&opts.includeActive, "include-active", false, "Also delete rooms that still have participants")
	flag.BoolVar(&opts.dryRun, "dry-run", false, "List matching rooms without deleting them")
	flag.BoolVar(&opts.yes, "yes", false, "Skip the confirmation prompt")
	flag.StringVar(&opts.schedule, "schedule", "", "Cron spec for repeated sweeps (one-shot when empty)")
	flag.DurationVar(&opts.sweepTimeout, "timeout", 30*time.Second, "Time budget for one sweep")
	flag.Parse()

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "outdial-sweep: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.prefix == "" {
		opts.prefix = cfg.Call.RoomPrefix
	}

	// Room listing and prompts own stdout; logs go to stderr.
	log := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})
	metrics := observability.NewMetrics()
	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{ServiceName: "outdial-sweep"})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(ctx)
	}()

	gw, err := livekit.NewClient(cfg.LiveKit, log, metrics, tracer)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sw := &sweeper{gateway: gw, log: log, opts: opts}

	if opts.schedule == "" {
		return sw.sweepOnce(ctx)
	}

	if !opts.yes {
		return fmt.Errorf("scheduled mode cannot prompt; pass -yes")
	}
	sched, err := cronParser.Parse(opts.schedule)
	if err != nil {
		return fmt.Errorf("parse schedule %q: %w", opts.schedule, err)
	}
	return sw.sweepOn(ctx, sched)
}

type sweeper struct {
	gateway *livekit.Client
	log     *observability.Logger
	opts    options
}

// sweepOn runs a sweep at every tick of the schedule until the context ends.
func (s *sweeper) sweepOn(ctx context.Context, sched cron.Schedule) error {
	for {
		next := sched.Next(time.Now())
		s.log.Info(ctx, "next sweep scheduled", "at", next.Format(time.RFC3339))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		if err := s.sweepOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Error(ctx, "sweep failed", "error", err)
		}
	}
}

func (s *sweeper) sweepOnce(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.sweepTimeout)
	defer cancel()

	rooms, err := s.gateway.ListRooms(ctx)
	if err != nil {
		return fmt.Errorf("list rooms: %w", err)
	}

	stale := filterStale(rooms, s.opts.prefix, s.opts.minAge, s.opts.includeActive, time.Now())
	if len(stale) == 0 {
		fmt.Println("no stale rooms found")
		return nil
	}

	for _, room := range stale {
		age := time.Since(time.Unix(room.CreationTime, 0)).Round(time.Second)
		fmt.Printf("  %s  age=%s participants=%d\n", room.Name, age, room.NumParticipants)
	}

	if s.opts.dryRun {
		fmt.Printf("%d stale room(s), not deleting (dry run)\n", len(stale))
		return nil
	}
	if !s.opts.yes && !confirm(fmt.Sprintf("Delete %d room(s)?", len(stale))) {
		fmt.Println("aborted")
		return nil
	}

	var failed int
	for _, room := range stale {
		if err := s.gateway.DeleteRoom(ctx, room.Name); err != nil {
			failed++
			s.log.Error(ctx, "room delete failed", "room", room.Name, "error", err)
			continue
		}
		s.log.Info(ctx, "room deleted", "room", room.Name)
	}
	fmt.Printf("deleted %d room(s), %d failure(s)\n", len(stale)-failed, failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d deletions failed", failed, len(stale))
	}
	return nil
}

// filterStale keeps rooms that match the prefix, are older than minAge, and
// are empty unless includeActive is set.
func filterStale(rooms []livekit.Room, prefix string, minAge time.Duration, includeActive bool, now time.Time) []livekit.Room {
	var stale []livekit.Room
	for _, room := range rooms {
		if prefix != "" && !strings.HasPrefix(room.Name, prefix) {
			continue
		}
		created := time.Unix(room.CreationTime, 0)
		if now.Sub(created) < minAge {
			continue
		}
		if room.NumParticipants > 0 && !includeActive {
			continue
		}
		stale = append(stale, room)
	}
	return stale
}

// confirm asks on the terminal. A non-interactive stdin refuses, so cron
// jobs and pipelines must pass -yes explicitly.
func confirm(question string) bool {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintln(os.Stderr, "stdin is not a terminal; pass -yes to delete without confirmation")
		return false
	}
	fmt.Printf("%s [y/N]: ", question)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}
