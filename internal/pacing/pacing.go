package pacing

import (
	"math/rand"
	"time"
)

// Defaults for the inter-message window when a campaign supplies none.
const (
	DefaultMinDelay = 20 * time.Second
	DefaultMaxDelay = 75 * time.Second
)

// Typing speed model: per-character cost clamped to a band a human typist
// on a phone keyboard would plausibly produce.
const (
	DefaultTypingPerChar = 55 * time.Millisecond
	DefaultTypingMin     = 1500 * time.Millisecond
	DefaultTypingMax     = 8 * time.Second
)

// Config is the delay configuration. Min/Max bound the post-send window;
// the Typing* fields override the typing model (mainly for tests). Zero
// values fall back to package defaults; Max below Min is lifted to Min.
type Config struct {
	Min time.Duration
	Max time.Duration

	TypingPerChar time.Duration
	TypingMin     time.Duration
	TypingMax     time.Duration
}

func (c Config) withDefaults() Config {
	if c.Min <= 0 {
		c.Min = DefaultMinDelay
	}
	if c.Max <= 0 {
		c.Max = DefaultMaxDelay
	}
	if c.Max < c.Min {
		c.Max = c.Min
	}
	if c.TypingPerChar <= 0 {
		c.TypingPerChar = DefaultTypingPerChar
	}
	if c.TypingMin <= 0 {
		c.TypingMin = DefaultTypingMin
	}
	if c.TypingMax <= 0 {
		c.TypingMax = DefaultTypingMax
	}
	if c.TypingMax < c.TypingMin {
		c.TypingMax = c.TypingMin
	}
	return c
}

// Policy computes human-like delays. It performs no I/O; the dispatcher
// owns the actual sleeping. Inject a seeded *rand.Rand for determinism.
type Policy struct {
	cfg Config
	rng *rand.Rand
}

func New(cfg Config, rng *rand.Rand) *Policy {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Policy{cfg: cfg.withDefaults(), rng: rng}
}

// Window returns the effective [min, max] post-send window.
func (p *Policy) Window() (time.Duration, time.Duration) {
	return p.cfg.Min, p.cfg.Max
}

// TypingDelay is proportional to the rendered message length, clamped to
// the configured typing band.
func (p *Policy) TypingDelay(textLen int) time.Duration {
	if textLen < 0 {
		textLen = 0
	}
	d := time.Duration(textLen) * p.cfg.TypingPerChar
	if d < p.cfg.TypingMin {
		return p.cfg.TypingMin
	}
	if d > p.cfg.TypingMax {
		return p.cfg.TypingMax
	}
	return d
}

// PostSendDelay draws uniformly from [min, max] inclusive.
func (p *Policy) PostSendDelay() time.Duration {
	span := p.cfg.Max - p.cfg.Min
	if span <= 0 {
		return p.cfg.Min
	}
	return p.cfg.Min + time.Duration(p.rng.Int63n(int64(span)+1))
}
