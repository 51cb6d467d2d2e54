package session

import (
	"context"
	"sync"
	"time"

	logx "chipsend/pkg/logx"
)

// Chip is one messaging account in the pool. It is created and destroyed
// exclusively by the Registry; at most one live entry exists per id.
type Chip struct {
	id           string
	displayOrder int
	dir          string

	reg *Registry

	mu            sync.Mutex
	status        Status
	client        Client
	cooldownUntil time.Time
	qrArmed       bool
	qrTime        time.Time
	qrTimer       *time.Timer
}

func (c *Chip) ID() string        { return c.id }
func (c *Chip) DisplayOrder() int { return c.displayOrder }
func (c *Chip) Dir() string       { return c.dir }

func (c *Chip) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// QRTimestamp returns when the last pairing code was issued (zero if none).
func (c *Chip) QRTimestamp() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.qrTime
}

// Usable reports whether the chip can carry a send right now:
// READY and not inside a cooldown window.
func (c *Chip) Usable() bool {
	st, until := c.sendState()
	return st.Usable() && !time.Now().Before(until)
}

func (c *Chip) sendState() (Status, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status, c.cooldownUntil
}

func (c *Chip) currentClient() Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}

// SendMessage forwards to the protocol client.
func (c *Chip) SendMessage(ctx context.Context, phone, text string, corr Correlation) (SendResult, error) {
	return c.currentClient().SendMessage(ctx, phone, text, corr)
}

// WaitForDelivery forwards to the protocol client.
func (c *Chip) WaitForDelivery(ctx context.Context, messageID string, timeout time.Duration) error {
	return c.currentClient().WaitForDelivery(ctx, messageID, timeout)
}

// WaitUntilReady blocks until the chip is usable (READY, cooldown elapsed)
// or timeout expires. If the client itself exposes a readiness check, that
// runs first; registry-side state is then awaited on top.
func (c *Chip) WaitUntilReady(ctx context.Context, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	if rw, ok := c.currentClient().(ReadyWaiter); ok {
		if err := rw.WaitUntilReady(ctx, timeout); err != nil {
			return err
		}
	}

	for {
		// Snapshot the notification channel before evaluating, so a change
		// between check and wait still wakes us.
		notify := c.reg.notifySnapshot()

		st, until := c.sendState()
		now := time.Now()
		if st.Usable() && !now.Before(until) {
			return nil
		}

		// Cooldown expiry is time-driven; status changes are notified.
		var coolTimer *time.Timer
		var cool <-chan time.Time
		if st.Usable() && now.Before(until) {
			coolTimer = time.NewTimer(until.Sub(now))
			cool = coolTimer.C
		}

		var err error
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-deadline.C:
			err = ErrSessionTimeout
		case <-notify:
		case <-cool:
		}
		// stop per iteration; one wait can loop many times before returning
		if coolTimer != nil {
			coolTimer.Stop()
		}
		if err != nil {
			return err
		}
	}
}

// EnterCooldown marks the chip busy for d. Forwarded to the client when it
// tracks provider-side cooldowns too.
func (c *Chip) EnterCooldown(d time.Duration, reason string) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	until := time.Now().Add(d)
	if until.After(c.cooldownUntil) {
		c.cooldownUntil = until
	}
	cl := c.client
	c.mu.Unlock()

	if ce, ok := cl.(CooldownEnterer); ok {
		ce.EnterCooldown(d, reason)
	}
	c.reg.log.Debug("chip cooldown",
		logx.String("chip", c.id),
		logx.Duration("duration", d),
		logx.String("reason", reason),
	)
}
