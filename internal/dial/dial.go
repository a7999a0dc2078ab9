// Package dial places outbound SIP calls through the room gateway.
//
// Destinations are validated before the first attempt, a process-wide rate
// limiter caps INVITE rate, and transient failures are retried on a fixed
// schedule. Carrier rejections that can never succeed (bad number, auth)
// fail fast.
package dial

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"golang.org/x/time/rate"

	"github.com/haasonsaas/outdial/internal/config"
	"github.com/haasonsaas/outdial/internal/livekit"
	"github.com/haasonsaas/outdial/internal/observability"
	"github.com/haasonsaas/outdial/internal/retry"
)

// destinationPattern is the accepted dial string shape: a leading plus
// followed by digits only, 10 to 16 characters in total.
var destinationPattern = regexp.MustCompile(`^\+[0-9]{9,15}$`)

// Gateway is the slice of the room API the dialer needs.
type Gateway interface {
	CreateSIPParticipant(ctx context.Context, req livekit.CreateSIPParticipantRequest) (*livekit.SIPParticipant, error)
}

// DialFailure is returned once the retry budget is spent without an answer.
type DialFailure struct {
	// Destination is the dialed number.
	Destination string
	// Room is the room the callee was being placed into.
	Room string
	// Attempts is how many placement attempts were made.
	Attempts int
	// Err is the error from the final attempt.
	Err error
}

func (e *DialFailure) Error() string {
	return fmt.Sprintf("dial: placing %s into %s failed after %d attempt(s): %v", e.Destination, e.Room, e.Attempts, e.Err)
}

func (e *DialFailure) Unwrap() error {
	return e.Err
}

// Dialer places callees into rooms over an outbound SIP trunk.
type Dialer struct {
	cfg            config.DialerConfig
	trunkID        string
	calleeIdentity string
	gateway        Gateway
	limiter        *rate.Limiter
	log            *observability.Logger
	metrics        *observability.Metrics
	tracer         *observability.Tracer
}

// New creates a Dialer. The limiter is shared by every call placed through
// this Dialer, so one instance should serve the whole process.
func New(cfg config.DialerConfig, trunkID, calleeIdentity string, gw Gateway, log *observability.Logger, metrics *observability.Metrics, tracer *observability.Tracer) (*Dialer, error) {
	if gw == nil {
		return nil, errors.New("dial: gateway is required")
	}
	if trunkID == "" {
		return nil, errors.New("dial: trunk id is required")
	}
	if calleeIdentity == "" {
		calleeIdentity = "phone_user"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	return &Dialer{
		cfg:            cfg,
		trunkID:        trunkID,
		calleeIdentity: calleeIdentity,
		gateway:        gw,
		limiter:        limiter,
		log:            log,
		metrics:        metrics,
		tracer:         tracer,
	}, nil
}

// ValidateDestination checks that destination looks like a dialable number:
// leading +, digits only after it, 10 to 16 characters in total.
func ValidateDestination(destination string) error {
	if !destinationPattern.MatchString(destination) {
		return fmt.Errorf("dial: invalid destination %q: want +<digits>, 10-16 characters", destination)
	}
	return nil
}

// PlaceCall dials destination into room and blocks until the callee answers,
// the retry budget is spent, or ctx is done. A malformed destination fails
// immediately without touching the trunk.
func (d *Dialer) PlaceCall(ctx context.Context, room, destination string) (*livekit.SIPParticipant, error) {
	if err := ValidateDestination(destination); err != nil {
		d.metrics.RecordDialAttempt("invalid")
		d.metrics.RecordError("dial", "invalid_destination")
		return nil, err
	}

	ctx, span := d.tracer.TraceDial(ctx, room)
	defer span.End()

	start := time.Now()
	var participant *livekit.SIPParticipant

	result := retry.WithAttemptNumber(ctx, retry.Linear(d.cfg.MaxAttempts, d.cfg.RetryDelay), func(attempt int) error {
		// Every attempt is a fresh INVITE toward the carrier, so each one
		// spends a limiter token.
		if err := d.limiter.Wait(ctx); err != nil {
			return retry.Permanent(err)
		}

		attemptCtx := ctx
		if d.cfg.DialTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, d.cfg.DialTimeout)
			defer cancel()
		}

		p, err := d.gateway.CreateSIPParticipant(attemptCtx, livekit.CreateSIPParticipantRequest{
			TrunkID:             d.trunkID,
			CallTo:              destination,
			RoomName:            room,
			ParticipantIdentity: d.calleeIdentity,
			WaitUntilAnswered:   true,
		})
		if err != nil {
			d.metrics.RecordDialAttempt("failed")
			args := []any{"room", room, "destination", destination, "attempt", attempt, "error", err}
			if code := sipStatusCode(err); code != "" {
				args = append(args, "sip_status", code)
			}
			d.log.Warn(ctx, "dial attempt failed", args...)
			if isPermanent(err) {
				return retry.Permanent(err)
			}
			return err
		}
		participant = p
		return nil
	})

	if result.Err != nil {
		d.tracer.RecordError(span, result.Err)
		d.metrics.RecordError("dial", "placement_failed")
		return nil, &DialFailure{
			Destination: destination,
			Room:        room,
			Attempts:    result.Attempts,
			Err:         result.Err,
		}
	}

	d.metrics.RecordDialAttempt("answered")
	d.metrics.RecordDialAnswered(time.Since(start).Seconds())
	d.log.Info(ctx, "call answered",
		"room", room,
		"destination", destination,
		"attempts", result.Attempts,
		"participant", participant.ParticipantIdentity,
		"sip_call_id", participant.SIPCallID,
		"elapsed", time.Since(start).Round(time.Millisecond).String(),
	)
	return participant, nil
}

// isPermanent reports whether err is a gateway rejection that retrying
// cannot fix, such as an unknown trunk or a number the carrier refuses.
func isPermanent(err error) bool {
	var lkErr *livekit.Error
	if errors.As(err, &lkErr) {
		return !lkErr.Temporary()
	}
	return false
}

func sipStatusCode(err error) string {
	var lkErr *livekit.Error
	if errors.As(err, &lkErr) {
		return lkErr.SIPStatusCode()
	}
	return ""
}
