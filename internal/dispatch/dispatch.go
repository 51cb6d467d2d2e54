// Package dispatch composes renderer, balancer, pacing and the chip client
// into one message send.
package dispatch

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"golang.org/x/time/rate"

	"chipsend/internal/pacing"
	"chipsend/internal/render"
	"chipsend/internal/session"
	logx "chipsend/pkg/logx"
)

// Status values reported per message. These strings are persisted and
// emitted to observers; keep them stable.
const (
	StatusSending   = "SENDING"
	StatusDelivered = "DELIVERED"
	StatusSent      = "SENT"
	StatusFailed    = "FAILED"
)

// Balancer yields the next chip for a send.
type Balancer interface {
	Next() (*session.Chip, error)
}

type Config struct {
	// ReadyWait bounds the per-send wait for the selected chip to become
	// usable (cooldown drain, reconnect catch-up).
	ReadyWait time.Duration
	// DeliveryWait bounds the wait for a delivery receipt. Expiry is a soft
	// success, not an error.
	DeliveryWait time.Duration
	// RatePerMinute caps real sends process-wide. 0 disables the ceiling.
	RatePerMinute int
}

func (c Config) withDefaults() Config {
	if c.ReadyWait <= 0 {
		c.ReadyWait = 30 * time.Second
	}
	if c.DeliveryWait <= 0 {
		c.DeliveryWait = 10 * time.Second
	}
	return c
}

// Request is one message to one contact.
type Request struct {
	Phone       string
	Template    string
	Variables   map[string]string
	Correlation session.Correlation
	Delay       pacing.Config
	DryRun      bool
}

// Outcome reports a non-error dispatch. Status is DELIVERED or SENT.
type Outcome struct {
	Status            string
	ChipID            string
	ProviderMessageID string
	Text              string
	// PostSendDelay is the cooldown handed to the chip; the orchestrator
	// mirrors it in its countdown event.
	PostSendDelay time.Duration
}

// Dispatcher owns no state beyond its collaborators; campaign state and the
// chip pool are borrowed references.
type Dispatcher struct {
	cfg      Config
	balancer Balancer
	renderer *render.Renderer
	rng      *rand.Rand
	limiter  *rate.Limiter
	log      logx.Logger
}

func New(cfg Config, bal Balancer, renderer *render.Renderer, rng *rand.Rand, log logx.Logger) *Dispatcher {
	cfg = cfg.withDefaults()
	if renderer == nil {
		renderer = render.New(rng)
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	var lim *rate.Limiter
	if cfg.RatePerMinute > 0 {
		lim = rate.NewLimiter(rate.Limit(float64(cfg.RatePerMinute)/60.0), 1)
	}
	return &Dispatcher{cfg: cfg, balancer: bal, renderer: renderer, rng: rng, limiter: lim, log: log}
}

// Dispatch sends one message.
//
// Errors that propagate: no chip available, the per-send readiness wait
// expiring, and any error from the send call itself. A missing delivery
// receipt is NOT an error: once the provider acked the send request, the
// outcome is SENT (soft success).
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Outcome, error) {
	text := d.renderer.Render(req.Template, req.Variables)

	chip, err := d.balancer.Next()
	if err != nil {
		return Outcome{}, err
	}
	log := d.log.With(
		logx.String("chip", chip.ID()),
		logx.String("campaign", req.Correlation.CampaignID),
		logx.String("contact", req.Correlation.ContactID),
		logx.String("msg", req.Correlation.MessageID),
	)

	if err := chip.WaitUntilReady(ctx, d.cfg.ReadyWait); err != nil {
		return Outcome{}, err
	}

	policy := pacing.New(req.Delay, d.rng)
	typing := policy.TypingDelay(len(text))
	post := policy.PostSendDelay()

	if req.DryRun {
		log.Info("dry-run dispatch", logx.Int("text_len", len(text)))
		return Outcome{Status: StatusSent, ChipID: chip.ID(), Text: text, PostSendDelay: post}, nil
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return Outcome{}, err
		}
	}
	if err := sleep(ctx, typing); err != nil {
		return Outcome{}, err
	}

	res, err := chip.SendMessage(ctx, req.Phone, text, req.Correlation)
	if err != nil {
		return Outcome{}, err
	}

	status := StatusSent
	if res.MessageID != "" {
		switch derr := chip.WaitForDelivery(ctx, res.MessageID, d.cfg.DeliveryWait); {
		case derr == nil:
			status = StatusDelivered
		case errors.Is(derr, session.ErrDeliveryUnsupported):
			log.Debug("driver has no delivery receipts")
		default:
			// Provider acked the send; missing receipt is a soft outcome.
			log.Warn("delivery confirmation not observed", logx.Err(derr))
		}
	}

	chip.EnterCooldown(post, "post-send pacing")

	log.Info("message dispatched",
		logx.String("status", status),
		logx.Duration("typing", typing),
		logx.Duration("cooldown", post),
	)
	return Outcome{
		Status:            status,
		ChipID:            chip.ID(),
		ProviderMessageID: res.MessageID,
		Text:              text,
		PostSendDelay:     post,
	}, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tmr.C:
		return nil
	}
}
