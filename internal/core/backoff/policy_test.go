package backoff

import (
	"errors"
	"testing"
	"time"
)

func TestNewPolicy_RejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero initial", Config{InitialDelay: 0, GrowthFactor: 2, MaxDelay: time.Second}},
		{"negative initial", Config{InitialDelay: -time.Second, GrowthFactor: 2, MaxDelay: time.Second}},
		{"shrinking growth", Config{InitialDelay: time.Second, GrowthFactor: 0.5, MaxDelay: time.Minute}},
		{"max below initial", Config{InitialDelay: time.Minute, GrowthFactor: 2, MaxDelay: time.Second}},
		{"jitter above one", Config{InitialDelay: time.Second, GrowthFactor: 2, MaxDelay: time.Minute, JitterFraction: 1.5}},
		{"negative jitter", Config{InitialDelay: time.Second, GrowthFactor: 2, MaxDelay: time.Minute, JitterFraction: -0.1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPolicy(tt.cfg)
			if !errors.Is(err, ErrInvalidPolicy) {
				t.Fatalf("expected ErrInvalidPolicy, got %v", err)
			}
		})
	}
}

func TestPolicy_Base(t *testing.T) {
	p, err := NewPolicy(Config{
		InitialDelay: 5 * time.Second,
		GrowthFactor: 2,
		MaxDelay:     30 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 5 * time.Second},
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{4, 30 * time.Second},
		{50, 30 * time.Second},
		{5000, 30 * time.Second},
	}

	for _, tt := range tests {
		if got := p.Base(tt.attempt); got != tt.want {
			t.Errorf("Base(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestPolicy_DelayWithinBounds(t *testing.T) {
	cfg := Config{
		InitialDelay:   time.Second,
		GrowthFactor:   1.8,
		MaxDelay:       30 * time.Second,
		JitterFraction: 0.25,
	}

	for _, r := range []float64{0, 0.5, 0.999999} {
		p, err := NewPolicy(cfg, WithRandom(func() float64 { return r }))
		if err != nil {
			t.Fatalf("NewPolicy: %v", err)
		}
		for attempt := 1; attempt <= 20; attempt++ {
			d := p.Delay(attempt)
			if d < cfg.InitialDelay {
				t.Errorf("attempt %d: delay %v below initial %v", attempt, d, cfg.InitialDelay)
			}
			if d > p.Ceiling() {
				t.Errorf("attempt %d: delay %v above ceiling %v", attempt, d, p.Ceiling())
			}
			if d < p.Base(attempt) {
				t.Errorf("attempt %d: jitter made delay %v smaller than base %v", attempt, d, p.Base(attempt))
			}
		}
	}
}

func TestPolicy_GrowthOneIsConstant(t *testing.T) {
	p, err := NewPolicy(Config{InitialDelay: 2 * time.Second, GrowthFactor: 1, MaxDelay: 2 * time.Second})
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	for attempt := 1; attempt < 10; attempt++ {
		if got := p.Delay(attempt); got != 2*time.Second {
			t.Fatalf("Delay(%d) = %v, want 2s", attempt, got)
		}
	}
}

func TestPolicy_MonotonicBase(t *testing.T) {
	p, err := NewPolicy(Config{InitialDelay: 100 * time.Millisecond, GrowthFactor: 1.5, MaxDelay: 10 * time.Second})
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	prev := time.Duration(0)
	for attempt := 1; attempt < 30; attempt++ {
		d := p.Base(attempt)
		if d < prev {
			t.Fatalf("Base(%d)=%v decreased from %v", attempt, d, prev)
		}
		prev = d
	}
}
