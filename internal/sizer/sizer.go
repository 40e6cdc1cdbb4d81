// Package sizer picks randomized swap amounts and pacing intervals.
package sizer

import (
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInsufficientFunds is returned when the balance cannot cover the minimum.
var ErrInsufficientFunds = errors.New("sizer: insufficient funds")

// Rand is a goroutine-safe random source shared by every runner.
type Rand struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewRand returns a source seeded from seed. Use NewRandFromTime in production.
func NewRand(seed uint64) *Rand {
	return &Rand{rnd: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// NewRandFromTime seeds from the wall clock.
func NewRandFromTime() *Rand {
	return NewRand(uint64(time.Now().UnixNano()))
}

// Float64 returns a value in [0, 1).
func (r *Rand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.Float64()
}

// IntN returns a value in [0, n). n must be positive.
func (r *Rand) IntN(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.IntN(n)
}

// Between returns an integer uniformly drawn from [lo, hi].
func (r *Rand) Between(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + r.IntN(hi-lo+1)
}

// Sizer draws amounts uniformly from a bounded range.
type Sizer struct {
	rnd *Rand
}

// New creates a Sizer backed by rnd.
func New(rnd *Rand) *Sizer {
	return &Sizer{rnd: rnd}
}

// Size returns an amount in [min, min(balance, max)]. When that range is
// empty (max < min) the result is exactly min.
func (s *Sizer) Size(balance, min, max decimal.Decimal) (decimal.Decimal, error) {
	if balance.LessThan(min) {
		return decimal.Zero, ErrInsufficientFunds
	}
	upper := decimal.Min(balance, max)
	if upper.LessThanOrEqual(min) {
		return min, nil
	}
	span := upper.Sub(min)
	amount := min.Add(span.Mul(decimal.NewFromFloat(s.rnd.Float64())))
	if amount.GreaterThan(upper) {
		amount = upper
	}
	return amount, nil
}

// Range draws uniformly from [min, max] without a balance bound.
func (s *Sizer) Range(min, max decimal.Decimal) decimal.Decimal {
	if max.LessThanOrEqual(min) {
		return min
	}
	return min.Add(max.Sub(min).Mul(decimal.NewFromFloat(s.rnd.Float64())))
}

const (
	minVariation = time.Second
	maxVariation = 30 * time.Second
)

// Delay spreads the remaining actions over the remaining budget: the base
// interval is budget/actions, jittered by up to 20% (clamped to [1s, 30s]).
func (s *Sizer) Delay(remaining time.Duration, actionsLeft int) time.Duration {
	if actionsLeft <= 0 || remaining <= 0 {
		return 0
	}
	base := remaining / time.Duration(actionsLeft)
	variation := base / 5
	if variation < minVariation {
		variation = minVariation
	}
	if variation > maxVariation {
		variation = maxVariation
	}
	jitter := time.Duration((s.rnd.Float64()*2 - 1) * float64(variation))
	interval := base + jitter
	if interval < 0 {
		return base
	}
	return interval
}
