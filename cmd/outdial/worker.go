// worker.go runs the bridge event loop: one websocket to the media bridge,
// one controller per active call room.
package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/haasonsaas/outdial/internal/config"
	"github.com/haasonsaas/outdial/internal/controller"
	"github.com/haasonsaas/outdial/internal/dial"
	"github.com/haasonsaas/outdial/internal/dialogue"
	"github.com/haasonsaas/outdial/internal/job"
	"github.com/haasonsaas/outdial/internal/livekit"
	"github.com/haasonsaas/outdial/internal/media"
	"github.com/haasonsaas/outdial/internal/observability"
	"github.com/haasonsaas/outdial/internal/prompts"
	"github.com/haasonsaas/outdial/internal/session"
)

type worker struct {
	call    config.CallConfig
	silence config.SilenceConfig
	bridge  *media.Bridge
	gateway *livekit.Client
	dialer  *dial.Dialer
	gen     dialogue.Generator
	prompts *prompts.Registry
	store   controller.SummaryStore
	log     *observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer

	// acceptJobs is false in single-call mode so bridge job requests for
	// other rooms are not picked up.
	acceptJobs bool

	mu    sync.Mutex
	calls map[string]*controller.Controller
	wg    sync.WaitGroup
}

func newWorker(s *stack, acceptJobs bool) *worker {
	w := &worker{
		call:       s.cfg.Call,
		silence:    s.cfg.Silence,
		bridge:     s.bridge,
		gateway:    s.gateway,
		dialer:     s.dialer,
		gen:        s.gen,
		prompts:    s.prompts,
		log:        s.log,
		metrics:    s.metrics,
		tracer:     s.tracer,
		acceptJobs: acceptJobs,
		calls:      make(map[string]*controller.Controller),
	}
	// A nil *store.Store must not become a non-nil interface.
	if s.store != nil {
		w.store = s.store
	}
	return w
}

// run consumes bridge events until the context ends or the bridge gives up,
// then waits for active calls to wind down.
func (w *worker) run(ctx context.Context) error {
	bridgeErr := make(chan error, 1)
	go func() { bridgeErr <- w.bridge.Run(ctx) }()

	// The events channel closes when bridge.Run returns.
	for ev := range w.bridge.Events() {
		w.route(ctx, ev)
	}
	err := <-bridgeErr

	w.log.Info(context.Background(), "waiting for active calls to finish", "calls", w.active())
	w.wg.Wait()
	return err
}

// runSingle places one call and routes bridge events to it until it ends.
func (w *worker) runSingle(ctx context.Context, room, destination, transferTo string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	bridgeErr := make(chan error, 1)
	go func() { bridgeErr <- w.bridge.Run(ctx) }()

	ctrl, err := w.startCall(ctx, room, destination, transferTo, "")
	if err != nil {
		cancel()
		<-bridgeErr
		return err
	}

	callErr := make(chan error, 1)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.finish(room)
		callErr <- ctrl.Run(ctx)
	}()

	events := w.bridge.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			w.route(ctx, ev)
		case err := <-callErr:
			cancel()
			<-bridgeErr
			return err
		case err := <-bridgeErr:
			// The bridge gave up; the call cannot continue without audio.
			cancel()
			if cerr := <-callErr; cerr != nil {
				return cerr
			}
			return err
		}
	}
}

func (w *worker) route(ctx context.Context, ev media.Event) {
	switch ev.Type {
	case media.EventConnected:
		w.log.Info(ctx, "bridge connected")
	case media.EventDisconnected:
		w.log.Warn(ctx, "bridge connection lost, reconnecting")
	case media.EventJobRequest:
		w.acceptJob(ctx, ev)
	default:
		w.dispatch(ev)
	}
}

// acceptJob starts one call session for a bridge job request.
func (w *worker) acceptJob(ctx context.Context, ev media.Event) {
	if !w.acceptJobs {
		w.log.Debug(ctx, "ignoring job request in single-call mode", "room", ev.Room)
		return
	}
	if ev.Room == "" {
		w.log.Warn(ctx, "job request without a room, ignoring")
		return
	}

	meta, err := job.Parse(ev.Metadata)
	if err != nil {
		// A bad metadata blob downgrades the job to a direct session
		// rather than rejecting it.
		w.log.Warn(ctx, "job metadata malformed, starting a direct session",
			"room", ev.Room, "error", err)
	}

	ctrl, err := w.startCall(ctx, ev.Room, meta.PhoneNumber, meta.TransferTo, ev.DispatchID)
	if err != nil {
		w.log.Error(ctx, "job rejected", "room", ev.Room, "error", err)
		return
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.finish(ev.Room)
		if err := ctrl.Run(ctx); err != nil {
			w.log.Error(ctx, "call failed", "room", ev.Room, "error", err)
		}
	}()
}

// startCall registers a controller for the room. The caller owns running it.
func (w *worker) startCall(ctx context.Context, room, destination, transferTo, dispatchID string) (*controller.Controller, error) {
	sess := session.New(room, destination, transferTo)
	ctrl, err := controller.New(controller.Params{
		Session:   sess,
		Call:      w.call,
		Silence:   w.silence,
		Generator: w.gen,
		Prompts:   w.prompts,
		Audio:     w.bridge,
		Gateway:   w.gateway,
		Dialer:    w.dialer,
		Store:     w.store,
		Logger:    w.log,
		Metrics:   w.metrics,
		Tracer:    w.tracer,
	})
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	if _, exists := w.calls[room]; exists {
		w.mu.Unlock()
		return nil, fmt.Errorf("a call for room %s is already in progress", room)
	}
	w.calls[room] = ctrl
	w.mu.Unlock()

	w.log.Info(ctx, "call session starting",
		"room", room,
		"direct", destination == "",
		"transfer_configured", transferTo != "",
		"dispatch_id", dispatchID,
	)
	return ctrl, nil
}

// dispatch hands a room-scoped event to the owning controller.
func (w *worker) dispatch(ev media.Event) {
	if ev.Room == "" {
		return
	}
	w.mu.Lock()
	ctrl := w.calls[ev.Room]
	w.mu.Unlock()
	if ctrl == nil {
		w.log.Debug(context.Background(), "event for unknown room",
			"room", ev.Room, "event", string(ev.Type))
		return
	}
	ctrl.HandleEvent(ev)
}

func (w *worker) finish(room string) {
	w.mu.Lock()
	delete(w.calls, room)
	w.mu.Unlock()
	w.log.Info(context.Background(), "call session finished", "room", room)
}

func (w *worker) active() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.calls)
}
