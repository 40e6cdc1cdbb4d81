// Package scheduler admits accounts into a fixed number of slots and runs
// one runner per admitted account.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"golang.org/x/sync/semaphore"

	"github.com/nexus-trading/swarm/internal/account"
	"github.com/nexus-trading/swarm/internal/observability"
	"github.com/nexus-trading/swarm/internal/report"
	"github.com/nexus-trading/swarm/internal/runner"
	"github.com/nexus-trading/swarm/internal/venue"
)

const (
	DefaultConcurrency      = 5
	DefaultAdmissionTimeout = time.Hour
)

// Processor drives one account to a terminal outcome. *runner.Runner
// implements it.
type Processor interface {
	Process(ctx context.Context, acc *account.Account) runner.Outcome
	Venue() venue.Venue
}

// Config bounds a run.
type Config struct {
	// Concurrency is the number of slots.
	Concurrency int
	// AdmissionTimeout is measured from the start of RunAll. Accounts not
	// admitted by then are skipped.
	AdmissionTimeout time.Duration
}

// Scheduler runs accounts through a Processor.
type Scheduler struct {
	proc    Processor
	cfg     Config
	metrics *observability.Metrics
	slots   *slotTable
}

// New creates a scheduler.
func New(proc Processor, cfg Config, metrics *observability.Metrics) *Scheduler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.AdmissionTimeout <= 0 {
		cfg.AdmissionTimeout = DefaultAdmissionTimeout
	}
	return &Scheduler{proc: proc, cfg: cfg, metrics: metrics, slots: newSlotTable(cfg.Concurrency)}
}

// Occupied returns the number of slots currently held.
func (s *Scheduler) Occupied() int { return s.slots.occupied() }

// RunAll admits accounts in order and returns once every account reached a
// terminal state. Outcomes are in account order. Cancelling ctx stops
// admission; admitted runners see the cancellation through their own context.
func (s *Scheduler) RunAll(ctx context.Context, accounts []*account.Account) *report.Report {
	v := s.proc.Venue()
	started := time.Now()
	rep := report.New(uuid.NewString(), v.Name, s.cfg.Concurrency, started)
	logger := log.With().Str("run_id", rep.RunID).Str("venue", v.Name).Logger()

	logger.Info().
		Int("accounts", len(accounts)).
		Int("slots", s.cfg.Concurrency).
		Dur("admission_timeout", s.cfg.AdmissionTimeout).
		Msg("scheduler: run started")

	admitCtx, cancel := context.WithDeadline(ctx, started.Add(s.cfg.AdmissionTimeout))
	defer cancel()

	sem := semaphore.NewWeighted(int64(s.cfg.Concurrency))
	outcomes := make([]runner.Outcome, len(accounts))

	var wg conc.WaitGroup
	for i, acc := range accounts {
		// Acquire queues waiters in call order, which keeps admission FIFO.
		if err := sem.Acquire(admitCtx, 1); err != nil {
			reason := "admission timeout"
			if errors.Is(err, context.Canceled) {
				reason = "run cancelled before admission"
			}
			outcomes[i] = runner.Skipped(acc, v.Name, reason)
			s.metrics.RecordAdmission(observability.AdmissionSkipped)
			s.metrics.RecordOutcome(v.Name, string(runner.StateSkipped))
			logger.Warn().Str("account", acc.Label()).Str("reason", reason).Msg("scheduler: account skipped")
			continue
		}

		slot := s.slots.claim(fmt.Sprintf("%d:%s", acc.Index, acc.Label()))
		s.metrics.RecordAdmission(observability.AdmissionAdmitted)
		s.metrics.SlotAcquired()
		logger.Debug().Str("account", acc.Label()).Int("slot", slot).Msg("scheduler: account admitted")

		i, acc := i, acc
		wg.Go(func() {
			defer func() {
				s.slots.release(slot)
				s.metrics.SlotReleased()
				sem.Release(1)
			}()
			outcomes[i] = s.process(ctx, acc, v.Name)
		})
	}
	wg.Wait()

	rep.Finish(outcomes, time.Now())
	logger.Info().
		Int("peak_slots", s.slots.maxOccupied()).
		Dur("took", rep.FinishedAt.Sub(started)).
		Msg("scheduler: run finished")
	return rep
}

// process runs one account and converts a panic into an Exhausted outcome.
func (s *Scheduler) process(ctx context.Context, acc *account.Account, venueName string) (out runner.Outcome) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("account", acc.Label()).
				Str("venue", venueName).
				Interface("panic", r).
				Msg("scheduler: runner panicked")
			out = runner.Aborted(acc, venueName, fmt.Sprintf("runner panic: %v", r), started)
			s.metrics.RecordOutcome(venueName, string(out.Status))
		}
	}()
	return s.proc.Process(ctx, acc)
}
