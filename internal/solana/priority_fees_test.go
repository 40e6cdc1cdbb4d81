package solana

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPercentile(t *testing.T) {
	values := []uint64{100, 200, 300, 400, 500, 600, 700, 800, 900, 1000}

	assert.Equal(t, uint64(600), percentile(values, 50))
	assert.Equal(t, uint64(800), percentile(values, 75))
	assert.Equal(t, uint64(1000), percentile(values, 90))
	assert.Equal(t, uint64(0), percentile(nil, 50))
	assert.Equal(t, uint64(100), percentile([]uint64{100}, 50))
}

func TestPriorityFeeEstimator_EstimateFee(t *testing.T) {
	e := NewPriorityFeeEstimator(NewStubRPCClient(), CongestionNormal)

	// No data: default.
	assert.Equal(t, uint64(DefaultComputeUnitPrice), e.ComputeUnitPrice())

	e.mu.Lock()
	e.feeP75 = 50000
	e.mu.Unlock()

	assert.Equal(t, uint64(50000), e.EstimateFee(CongestionNormal))
	assert.Equal(t, uint64(100000), e.EstimateFee(CongestionHigh))

	e.mu.Lock()
	e.feeP75 = MaxComputeUnitPrice
	e.mu.Unlock()

	assert.Equal(t, uint64(MaxComputeUnitPrice), e.EstimateFee(CongestionHigh))
}

func TestPriorityFeeEstimator_Refresh(t *testing.T) {
	rpc := NewStubRPCClient()
	rpc.SetPrioritizationFees([]uint64{1000, 100, 400, 300, 200, 600, 500, 800, 700, 900})

	e := NewPriorityFeeEstimator(rpc, CongestionHigh)
	e.refresh(context.Background())

	stats := e.Stats()
	assert.Equal(t, uint64(600), stats.P50)
	assert.Equal(t, uint64(800), stats.P75)
	assert.Equal(t, uint64(1000), stats.P90)
	assert.Equal(t, 10, stats.Samples)
	assert.Equal(t, uint64(1600), e.ComputeUnitPrice())
}

func TestPriorityFeeEstimator_RefreshFailureKeepsEstimate(t *testing.T) {
	rpc := NewStubRPCClient()
	rpc.SetPrioritizationFees([]uint64{100, 200, 300, 400})
	e := NewPriorityFeeEstimator(rpc, CongestionNormal)
	e.refresh(context.Background())
	before := e.ComputeUnitPrice()

	rpc.SetFailNext()
	e.refresh(context.Background())
	assert.Equal(t, before, e.ComputeUnitPrice())
}

func TestParseCongestion(t *testing.T) {
	assert.Equal(t, CongestionHigh, ParseCongestion("high"))
	assert.Equal(t, CongestionNormal, ParseCongestion("normal"))
	assert.Equal(t, CongestionNormal, ParseCongestion(""))
}
