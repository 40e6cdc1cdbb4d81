package solana

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Dynamic Priority Fees: percentile of recent per-slot compute unit prices.
// normal = p75, high = 2x p75, hard ceiling.
// ---------------------------------------------------------------------------

const (
	// MaxComputeUnitPrice is the hard ceiling in micro-lamports per CU.
	MaxComputeUnitPrice = 5_000_000

	// DefaultComputeUnitPrice is the fallback when no data is available.
	DefaultComputeUnitPrice = 10_000

	// FeeRefreshInterval is how often we refresh priority fee estimates.
	FeeRefreshInterval = 15 * time.Second
)

// CongestionLevel selects how aggressively to bid.
type CongestionLevel int

const (
	CongestionNormal CongestionLevel = iota
	CongestionHigh
)

// ParseCongestion maps a config string to a level; unknown values are normal.
func ParseCongestion(s string) CongestionLevel {
	if s == "high" {
		return CongestionHigh
	}
	return CongestionNormal
}

// PriorityFeeEstimator estimates compute unit prices from recent slots.
type PriorityFeeEstimator struct {
	rpc        RPCClient
	congestion CongestionLevel

	mu        sync.RWMutex
	feeP50    uint64
	feeP75    uint64
	feeP90    uint64
	lastFetch time.Time
	samples   int

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewPriorityFeeEstimator creates a new estimator that polls recent fees.
func NewPriorityFeeEstimator(rpc RPCClient, congestion CongestionLevel) *PriorityFeeEstimator {
	return &PriorityFeeEstimator{
		rpc:        rpc,
		congestion: congestion,
		stopCh:     make(chan struct{}),
	}
}

// Start begins periodic fee estimation. Blocks until ctx ends or Stop is called.
func (e *PriorityFeeEstimator) Start(ctx context.Context) {
	e.refresh(ctx)

	ticker := time.NewTicker(FeeRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.refresh(ctx)
		}
	}
}

// Stop terminates the estimator.
func (e *PriorityFeeEstimator) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

// ComputeUnitPrice returns the recommended price at the configured congestion level.
func (e *PriorityFeeEstimator) ComputeUnitPrice() uint64 {
	return e.EstimateFee(e.congestion)
}

// EstimateFee returns the recommended compute unit price in micro-lamports.
func (e *PriorityFeeEstimator) EstimateFee(congestion CongestionLevel) uint64 {
	e.mu.RLock()
	p75 := e.feeP75
	e.mu.RUnlock()

	if p75 == 0 {
		return DefaultComputeUnitPrice
	}

	fee := p75
	if congestion == CongestionHigh {
		fee = p75 * 2
	}
	if fee > MaxComputeUnitPrice {
		fee = MaxComputeUnitPrice
	}
	return fee
}

// FeeStats returns current fee estimation stats.
type FeeStats struct {
	P50       uint64    `json:"p50"`
	P75       uint64    `json:"p75"`
	P90       uint64    `json:"p90"`
	Samples   int       `json:"samples"`
	LastFetch time.Time `json:"last_fetch"`
}

func (e *PriorityFeeEstimator) Stats() FeeStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return FeeStats{
		P50:       e.feeP50,
		P75:       e.feeP75,
		P90:       e.feeP90,
		Samples:   e.samples,
		LastFetch: e.lastFetch,
	}
}

func (e *PriorityFeeEstimator) refresh(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	values, err := e.rpc.GetRecentPrioritizationFees(fetchCtx)
	if err != nil {
		log.Debug().Err(err).Msg("priority_fees: failed to fetch recent fees")
		return
	}
	if len(values) == 0 {
		return
	}

	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	e.mu.Lock()
	e.feeP50 = percentile(values, 50)
	e.feeP75 = percentile(values, 75)
	e.feeP90 = percentile(values, 90)
	e.samples = len(values)
	e.lastFetch = time.Now()
	p50, p75, p90 := e.feeP50, e.feeP75, e.feeP90
	e.mu.Unlock()

	log.Debug().
		Uint64("p50", p50).
		Uint64("p75", p75).
		Uint64("p90", p90).
		Int("samples", len(values)).
		Msg("priority_fees: updated estimates")
}

// percentile computes the p-th percentile of sorted values.
func percentile(sorted []uint64, p int) uint64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
