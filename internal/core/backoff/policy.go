package backoff

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// ErrInvalidPolicy is returned when a policy is constructed with unusable parameters.
var ErrInvalidPolicy = errors.New("invalid backoff policy")

// Config holds the parameters of an exponential backoff policy.
type Config struct {
	InitialDelay   time.Duration `yaml:"initial_delay"`
	GrowthFactor   float64       `yaml:"growth_factor"`
	MaxDelay       time.Duration `yaml:"max_delay"`
	JitterFraction float64       `yaml:"jitter_fraction"`
}

// Validate checks the parameters without building a policy.
func (c Config) Validate() error {
	switch {
	case c.InitialDelay <= 0:
		return fmt.Errorf("%w: initial delay must be positive, got %s", ErrInvalidPolicy, c.InitialDelay)
	case c.GrowthFactor < 1 || math.IsNaN(c.GrowthFactor) || math.IsInf(c.GrowthFactor, 0):
		return fmt.Errorf("%w: growth factor must be >= 1, got %v", ErrInvalidPolicy, c.GrowthFactor)
	case c.MaxDelay < c.InitialDelay:
		return fmt.Errorf("%w: max delay %s is below initial delay %s", ErrInvalidPolicy, c.MaxDelay, c.InitialDelay)
	case c.JitterFraction < 0 || c.JitterFraction > 1 || math.IsNaN(c.JitterFraction):
		return fmt.Errorf("%w: jitter fraction must be within [0,1], got %v", ErrInvalidPolicy, c.JitterFraction)
	}
	return nil
}

// Policy computes retry delays: InitialDelay * GrowthFactor^(attempt-1), capped at
// MaxDelay, plus uniform jitter in [0, JitterFraction*delay].
type Policy struct {
	cfg    Config
	random func() float64
}

// Option configures a Policy.
type Option func(*Policy)

// WithRandom replaces the jitter source. fn must return values in [0,1).
func WithRandom(fn func() float64) Option {
	return func(p *Policy) {
		if fn != nil {
			p.random = fn
		}
	}
}

// NewPolicy validates cfg and returns a policy.
func NewPolicy(cfg Config, opts ...Option) (*Policy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Policy{cfg: cfg, random: rand.Float64}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Config returns the parameters the policy was built with.
func (p *Policy) Config() Config {
	return p.cfg
}

// Base returns the un-jittered delay for the given 1-based attempt.
func (p *Policy) Base(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.cfg.InitialDelay) * math.Pow(p.cfg.GrowthFactor, float64(attempt-1))
	if math.IsInf(delay, 0) || delay > float64(p.cfg.MaxDelay) {
		return p.cfg.MaxDelay
	}
	return time.Duration(delay)
}

// Delay returns the jittered delay for the given 1-based attempt.
func (p *Policy) Delay(attempt int) time.Duration {
	base := p.Base(attempt)
	if p.cfg.JitterFraction == 0 {
		return base
	}
	jitter := float64(base) * p.cfg.JitterFraction * p.random()
	return base + time.Duration(jitter)
}

// Ceiling is the largest value Delay can ever return.
func (p *Policy) Ceiling() time.Duration {
	return p.cfg.MaxDelay + time.Duration(float64(p.cfg.MaxDelay)*p.cfg.JitterFraction)
}
