package pacing

import (
	"math/rand"
	"testing"
	"time"
)

func TestPostSendDelayStaysInWindow(t *testing.T) {
	min, max := 2*time.Second, 5*time.Second
	p := New(Config{Min: min, Max: max}, rand.New(rand.NewSource(1)))
	for i := 0; i < 1000; i++ {
		d := p.PostSendDelay()
		if d < min || d > max {
			t.Fatalf("delay %v outside [%v, %v]", d, min, max)
		}
	}
}

func TestPostSendDelayDegenerateWindow(t *testing.T) {
	p := New(Config{Min: 3 * time.Second, Max: 3 * time.Second}, rand.New(rand.NewSource(1)))
	for i := 0; i < 10; i++ {
		if d := p.PostSendDelay(); d != 3*time.Second {
			t.Fatalf("expected fixed 3s delay, got %v", d)
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	p := New(Config{}, rand.New(rand.NewSource(1)))
	min, max := p.Window()
	if min != DefaultMinDelay || max != DefaultMaxDelay {
		t.Fatalf("unexpected default window [%v, %v]", min, max)
	}

	p = New(Config{Min: 10 * time.Second, Max: 5 * time.Second}, rand.New(rand.NewSource(1)))
	min, max = p.Window()
	if max != min {
		t.Fatalf("inverted window not lifted: [%v, %v]", min, max)
	}
}

func TestTypingDelayBounds(t *testing.T) {
	p := New(Config{}, rand.New(rand.NewSource(1)))
	tests := []struct {
		textLen int
		want    time.Duration
	}{
		{0, DefaultTypingMin},
		{10, DefaultTypingMin}, // 550ms raw, clamped up
		{60, 3300 * time.Millisecond},
		{100000, DefaultTypingMax},
	}
	for _, tt := range tests {
		if got := p.TypingDelay(tt.textLen); got != tt.want {
			t.Fatalf("TypingDelay(%d) = %v, want %v", tt.textLen, got, tt.want)
		}
	}

	short, long := p.TypingDelay(40), p.TypingDelay(120)
	if long <= short {
		t.Fatalf("typing delay not increasing with length: %v <= %v", long, short)
	}
}
