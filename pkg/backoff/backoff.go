// Package backoff computes the delay between successive status polls of a
// running script.
package backoff

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Strategy yields the delay to wait before the given polling iteration.
type Strategy interface {
	GetBackoff(iteration int) time.Duration
}

// StrategyFunc adapts a plain function to a Strategy.
type StrategyFunc func(iteration int) time.Duration

func (f StrategyFunc) GetBackoff(iteration int) time.Duration {
	return f(iteration)
}

const (
	presetMin = 300 * time.Millisecond
	presetMax = 5 * time.Second

	localBase  = 1.15
	serverBase = 1.4
)

// Exponential grows the delay geometrically from min until it reaches max.
type Exponential struct {
	min  time.Duration
	max  time.Duration
	base float64

	jitter bool
	mu     sync.Mutex
	rand   *rand.Rand
}

type Option func(*Exponential)

// WithJitter switches to the half-plus-jitter mode where the computed delay d
// becomes d/2 + rand[0, d/2).
func WithJitter(src rand.Source) Option {
	return func(e *Exponential) {
		e.jitter = true
		if src == nil {
			src = rand.NewSource(time.Now().UnixNano())
		}
		e.rand = rand.New(src)
	}
}

// New returns an Exponential strategy. min must be positive and less than max,
// base must be greater than 1.
func New(min, max time.Duration, base float64, opts ...Option) (*Exponential, error) {
	switch {
	case min <= 0:
		return nil, errors.Errorf("minimum backoff must be positive, got %s", min)
	case max <= min:
		return nil, errors.Errorf("maximum backoff %s must be greater than minimum %s", max, min)
	case !(base > 1) || math.IsInf(base, 0):
		return nil, errors.Errorf("backoff base must be greater than 1, got %v", base)
	}
	e := &Exponential{min: min, max: max, base: base}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func mustNew(min, max time.Duration, base float64) *Exponential {
	e, err := New(min, max, base)
	if err != nil {
		panic(err)
	}
	return e
}

// Local is tuned for polling a nearby agent.
func Local() *Exponential {
	return mustNew(presetMin, presetMax, localBase)
}

// Server is tuned for polling loops with higher latency per round trip.
func Server() *Exponential {
	return mustNew(presetMin, presetMax, serverBase)
}

// GetBackoff returns min * base^iteration capped at max, rounded half to even
// on the millisecond.
func (e *Exponential) GetBackoff(iteration int) time.Duration {
	if iteration < 0 {
		iteration = 0
	}
	delay := float64(e.min) * math.Pow(e.base, float64(iteration))
	if math.IsInf(delay, 0) || math.IsNaN(delay) || delay > float64(e.max) {
		delay = float64(e.max)
	}
	if e.jitter {
		half := delay / 2
		e.mu.Lock()
		delay = half + e.rand.Float64()*half
		e.mu.Unlock()
	}
	ms := math.RoundToEven(delay / float64(time.Millisecond))
	return time.Duration(ms) * time.Millisecond
}

func (e *Exponential) Min() time.Duration { return e.min }
func (e *Exponential) Max() time.Duration { return e.max }
