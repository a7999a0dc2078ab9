package controller

import (
	"context"
	"fmt"

	"github.com/haasonsaas/outdial/internal/session"
)

// Terminate runs the termination sequence unless another caller already owns
// it. The first caller wins; later callers return nil immediately.
func (c *Controller) Terminate(ctx context.Context, reason session.EndReason) error {
	if !c.sess.BeginHangup() {
		return nil
	}
	return c.terminateOwned(ctx, reason)
}

// terminateOwned is the only teardown path. The caller holds the hangup
// guard. A gateway failure releases the guard so the monitor's emergency
// pass can try again; everything before the gateway call is best effort.
func (c *Controller) terminateOwned(ctx context.Context, reason session.EndReason) error {
	if c.sess.Phase().IsTerminal() {
		return nil
	}
	ctx, span := c.tracer.TraceTermination(ctx, c.sess.Room(), string(reason))
	defer span.End()

	switch reason {
	case session.EndReasonDisconnect, session.EndReasonTransferred:
		// The remote leg is already gone; the session is over whether or
		// not the room delete below succeeds. The sweeper reaps leftovers.
		c.sess.Terminate(reason)
	default:
		c.sess.BeginEnding(reason)
	}

	summary := c.sess.Summarize(c.nowFunc())
	if summary.EndReason == "" {
		// A call that never connected ends from Connecting, which the
		// phase ladder does not route through Ending.
		summary.EndReason = reason
	}
	c.log.Info(ctx, "call summary",
		"room", summary.Room,
		"reason", string(reason),
		"duration_seconds", summary.Duration,
		"user_turns", summary.UserTurnCount,
		"introduction_done", summary.IntroductionDone,
		"escalation_level", summary.EscalationLevel,
		"topics", summary.Topics,
	)
	if c.store != nil && c.summarySaved.CompareAndSwap(false, true) {
		if _, err := c.store.Save(ctx, summary, c.nowFunc()); err != nil {
			c.summarySaved.Store(false)
			c.log.Warn(ctx, "summary could not be persisted", "error", err)
		}
	}

	if err := c.gateway.DeleteRoom(ctx, c.sess.Room()); err != nil {
		c.sess.ReleaseHangup()
		c.metrics.RecordTermination("error")
		c.metrics.RecordError("controller", "teardown_failed")
		c.tracer.RecordError(span, err)
		c.log.Error(ctx, "room teardown failed", "error", err)
		return fmt.Errorf("controller: tear down room %s: %w", c.sess.Room(), err)
	}

	c.sess.Terminate(reason)
	c.metrics.RecordTermination("success")
	c.log.Info(ctx, "call terminated", "reason", string(reason))
	return nil
}
