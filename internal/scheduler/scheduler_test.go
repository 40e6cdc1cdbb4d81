package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-trading/swarm/internal/account"
	"github.com/nexus-trading/swarm/internal/observability"
	"github.com/nexus-trading/swarm/internal/runner"
	"github.com/nexus-trading/swarm/internal/solana"
	"github.com/nexus-trading/swarm/internal/venue"
)

type fakeProcessor struct {
	hold    time.Duration
	panicOn string

	active atomic.Int32
	peak   atomic.Int32

	mu    sync.Mutex
	order []string
}

func (p *fakeProcessor) Venue() venue.Venue { return venue.Venue{Name: "Orca"} }

func (p *fakeProcessor) Process(ctx context.Context, acc *account.Account) runner.Outcome {
	n := p.active.Add(1)
	defer p.active.Add(-1)
	for {
		cur := p.peak.Load()
		if n <= cur || p.peak.CompareAndSwap(cur, n) {
			break
		}
	}

	p.mu.Lock()
	p.order = append(p.order, string(acc.Address))
	p.mu.Unlock()

	if string(acc.Address) == p.panicOn {
		panic("boom")
	}
	select {
	case <-time.After(p.hold):
	case <-ctx.Done():
	}
	return runner.Outcome{Account: acc.Label(), Address: string(acc.Address), Venue: "Orca", Status: runner.StateSuccess}
}

func testAccounts(n int) []*account.Account {
	out := make([]*account.Account, n)
	for i := range out {
		out[i] = &account.Account{Index: i, Address: solana.Pubkey(fmt.Sprintf("acct%02d", i))}
	}
	return out
}

func TestRunAll_ConcurrencyBound(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	proc := &fakeProcessor{hold: 20 * time.Millisecond}
	s := New(proc, Config{Concurrency: 3, AdmissionTimeout: time.Minute}, metrics)

	rep := s.RunAll(context.Background(), testAccounts(10))

	assert.LessOrEqual(t, proc.peak.Load(), int32(3))
	assert.Equal(t, 3, s.slots.maxOccupied())
	assert.Equal(t, 0, s.Occupied())
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.SlotsOccupied))
	assert.Equal(t, 10.0, testutil.ToFloat64(metrics.Admissions.WithLabelValues(observability.AdmissionAdmitted)))

	require.Len(t, rep.Outcomes, 10)
	assert.Equal(t, 10, rep.Summary.Success)
	assert.Equal(t, "Orca", rep.Venue)
	assert.NotEmpty(t, rep.RunID)
	for i, o := range rep.Outcomes {
		assert.Equal(t, fmt.Sprintf("acct%02d", i), o.Address)
	}
}

func TestRunAll_FIFOAdmission(t *testing.T) {
	proc := &fakeProcessor{hold: 5 * time.Millisecond}
	s := New(proc, Config{Concurrency: 1, AdmissionTimeout: time.Minute}, nil)

	s.RunAll(context.Background(), testAccounts(5))

	assert.Equal(t, []string{"acct00", "acct01", "acct02", "acct03", "acct04"}, proc.order)
}

func TestRunAll_AdmissionTimeoutSkips(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	proc := &fakeProcessor{hold: 300 * time.Millisecond}
	s := New(proc, Config{Concurrency: 1, AdmissionTimeout: 50 * time.Millisecond}, metrics)

	rep := s.RunAll(context.Background(), testAccounts(3))

	require.Len(t, rep.Outcomes, 3)
	assert.Equal(t, runner.StateSuccess, rep.Outcomes[0].Status)
	for _, o := range rep.Outcomes[1:] {
		assert.Equal(t, runner.StateSkipped, o.Status)
		assert.Equal(t, "admission timeout", o.Reason)
		assert.Zero(t, o.Successful)
	}
	assert.Equal(t, []string{"acct00"}, proc.order)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.Admissions.WithLabelValues(observability.AdmissionSkipped)))
	assert.Equal(t, 0, s.Occupied())
}

func TestRunAll_PanicBecomesExhausted(t *testing.T) {
	proc := &fakeProcessor{hold: time.Millisecond, panicOn: "acct01"}
	s := New(proc, Config{Concurrency: 2, AdmissionTimeout: time.Minute}, nil)

	rep := s.RunAll(context.Background(), testAccounts(3))

	require.Len(t, rep.Outcomes, 3)
	assert.Equal(t, runner.StateExhausted, rep.Outcomes[1].Status)
	assert.Contains(t, rep.Outcomes[1].Reason, "runner panic: boom")
	assert.Equal(t, runner.StateSuccess, rep.Outcomes[0].Status)
	assert.Equal(t, runner.StateSuccess, rep.Outcomes[2].Status)
	assert.Equal(t, 0, s.Occupied())
}

func TestRunAll_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	proc := &fakeProcessor{}
	s := New(proc, Config{Concurrency: 2}, nil)

	rep := s.RunAll(ctx, testAccounts(2))

	assert.Equal(t, 2, rep.Summary.Skipped)
	assert.Equal(t, "run cancelled before admission", rep.Outcomes[0].Reason)
	assert.Empty(t, proc.order)
}

func TestSlotTable(t *testing.T) {
	tbl := newSlotTable(2)
	a := tbl.claim("a")
	b := tbl.claim("b")
	assert.Equal(t, 0, a)
	assert.Equal(t, 1, b)
	assert.Equal(t, -1, tbl.claim("c"))

	tbl.release(a)
	tbl.release(a)
	assert.Equal(t, 1, tbl.occupied())
	assert.Equal(t, 0, tbl.claim("c"))
	assert.Equal(t, 2, tbl.maxOccupied())
}
