// Package runner drives one account through its action quota on a venue.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/nexus-trading/swarm/internal/account"
	"github.com/nexus-trading/swarm/internal/action"
	"github.com/nexus-trading/swarm/internal/adapters"
	"github.com/nexus-trading/swarm/internal/generator"
	"github.com/nexus-trading/swarm/internal/ledger"
	"github.com/nexus-trading/swarm/internal/observability"
	"github.com/nexus-trading/swarm/internal/sizer"
	"github.com/nexus-trading/swarm/internal/token"
	"github.com/nexus-trading/swarm/internal/venue"
)

// DefaultMaxRetries is the number of consecutive failures that exhausts an account.
const DefaultMaxRetries = 3

const reasonLowReserve = "low reserve balance"

// Outcome is the terminal record of one account.
type Outcome struct {
	Account    string    `json:"account"`
	Address    string    `json:"address"`
	Venue      string    `json:"venue"`
	Status     State     `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	Target     int       `json:"target"`
	Successful int       `json:"successful"`
	Attempts   int       `json:"attempts"`
	TxRefs     []string  `json:"tx_refs,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Skipped builds the outcome of an account that never got a slot.
func Skipped(acc *account.Account, venueName string, reason string) Outcome {
	m := NewMachine(acc.Label(), venueName)
	_ = m.Fire(EventAdmissionTimeout, reason)
	now := time.Now()
	return Outcome{
		Account:    acc.Label(),
		Address:    string(acc.Address),
		Venue:      venueName,
		Status:     m.State(),
		Reason:     m.Reason(),
		StartedAt:  now,
		FinishedAt: now,
	}
}

// Aborted builds the outcome of an account whose run stopped abnormally after
// it was admitted.
func Aborted(acc *account.Account, venueName string, reason string, started time.Time) Outcome {
	m := NewMachine(acc.Label(), venueName)
	_ = m.Fire(EventStart, "")
	_ = m.Fire(EventFatal, reason)
	return Outcome{
		Account:    acc.Label(),
		Address:    string(acc.Address),
		Venue:      venueName,
		Status:     m.State(),
		Reason:     m.Reason(),
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
}

// Pacer waits between actions.
type Pacer interface {
	Wait(ctx context.Context, d time.Duration) error
}

// SleepPacer waits on the wall clock.
type SleepPacer struct{}

// Wait sleeps for d or until ctx is done.
func (SleepPacer) Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Config tunes the retry loop.
type Config struct {
	MaxRetries int
	// RunTimeout bounds one account's run. Zero disables it.
	RunTimeout time.Duration
}

// Deps are the runner's collaborators. Generator or Executor may be nil when
// the venue could not be wired; every account then ends Exhausted.
type Deps struct {
	Generator generator.Generator
	Executor  adapters.Executor
	Ledger    ledger.Accessor
	Gas       token.Token
	Sizer     *sizer.Sizer
	Pacer     Pacer
	Metrics   *observability.Metrics
}

// Runner processes accounts on one venue. It holds no per-account state and
// is safe to share between goroutines.
type Runner struct {
	venue venue.Venue
	deps  Deps
	cfg   Config
}

// New creates a runner.
func New(v venue.Venue, deps Deps, cfg Config) *Runner {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if deps.Pacer == nil {
		deps.Pacer = SleepPacer{}
	}
	return &Runner{venue: v, deps: deps, cfg: cfg}
}

// Venue returns the venue this runner acts on.
func (r *Runner) Venue() venue.Venue { return r.venue }

// Target is the number of successful actions required from acc.
func (r *Runner) Target(acc *account.Account) int {
	if r.venue.ActionLimit > 0 {
		return r.venue.ActionLimit
	}
	return acc.Policy.ActionCount
}

type run struct {
	acc        *account.Account
	machine    *Machine
	logger     zerolog.Logger
	target     int
	successful int
	retries    int
	attempts   int
	lastErr    error
	refs       []string
	started    time.Time
}

// Process runs acc to a terminal state. Executor and generator failures are
// absorbed into the outcome; Process itself never fails.
func (r *Runner) Process(ctx context.Context, acc *account.Account) Outcome {
	st := &run{
		acc:     acc,
		machine: NewMachine(acc.Label(), r.venue.Name),
		logger:  log.With().Str("account", acc.Label()).Str("venue", r.venue.Name).Logger(),
		target:  r.Target(acc),
		started: time.Now(),
	}
	_ = st.machine.Fire(EventStart, "")

	st.logger.Info().Int("target", st.target).Str("policy", acc.Policy.String()).Msg("runner: started")
	r.loop(ctx, st)

	out := Outcome{
		Account:    acc.Label(),
		Address:    string(acc.Address),
		Venue:      r.venue.Name,
		Status:     st.machine.State(),
		Reason:     st.machine.Reason(),
		Target:     st.target,
		Successful: st.successful,
		Attempts:   st.attempts,
		TxRefs:     st.refs,
		StartedAt:  st.started,
		FinishedAt: time.Now(),
	}
	r.deps.Metrics.RecordOutcome(r.venue.Name, string(out.Status))

	ev := st.logger.Info()
	if out.Status != StateSuccess {
		ev = st.logger.Warn()
	}
	ev.Str("status", string(out.Status)).
		Str("reason", out.Reason).
		Int("successful", out.Successful).
		Int("target", out.Target).
		Dur("took", out.FinishedAt.Sub(out.StartedAt)).
		Msg("runner: finished")
	return out
}

func (r *Runner) loop(ctx context.Context, st *run) {
	if r.deps.Generator == nil || r.deps.Executor == nil {
		_ = st.machine.Fire(EventFatal, fmt.Sprintf("no generator or executor for venue %s", r.venue.Name))
		return
	}

	// The deadline gates iterations only; an in-flight executor call keeps ctx.
	runCtx := ctx
	if r.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.cfg.RunTimeout)
		defer cancel()
	}

	if !r.venue.ReserveCheckExempt {
		if low, bal := r.lowReserve(runCtx, st.acc); low {
			st.logger.Warn().
				Str("token", r.deps.Gas.Symbol).
				Str("balance", bal.String()).
				Str("min", st.acc.Policy.MinReserve.String()).
				Msg("runner: reserve below minimum, not starting")
			_ = st.machine.Fire(EventLowReserve, reasonLowReserve)
			return
		}
	}

	for st.successful < st.target && st.retries < r.cfg.MaxRetries {
		if err := runCtx.Err(); err != nil {
			r.deadline(st, err)
			return
		}

		delay := r.deps.Sizer.Delay(st.acc.Policy.WorkTime-time.Since(st.started), st.target-st.successful)
		if err := r.deps.Pacer.Wait(runCtx, delay); err != nil {
			r.deadline(st, err)
			return
		}

		a := r.deps.Generator.Next(runCtx, st.acc)
		switch a.Kind {
		case action.KindUnknown:
			r.deps.Metrics.RecordGenerationFailure(r.venue.Name)
			if generator.IsMisconfigured(a.Err) {
				_ = st.machine.Fire(EventFatal, a.Err.Error())
				return
			}
			st.retries++
			st.lastErr = a.Err
			st.logger.Warn().Err(a.Err).Int("retry", st.retries).Msg("runner: action generation failed")
			continue
		case action.KindExit:
			_ = st.machine.Fire(EventQuotaMet, "nothing left to do")
			return
		}
		if !a.Executable() {
			r.deps.Metrics.RecordGenerationFailure(r.venue.Name)
			st.retries++
			st.lastErr = fmt.Errorf("runner: action kind %q is not executable", a.Kind)
			st.logger.Warn().Err(st.lastErr).Int("retry", st.retries).Msg("runner: action generation failed")
			continue
		}

		st.attempts++
		start := time.Now()
		ref, err := r.deps.Executor.Execute(ctx, st.acc, a.From, a.To, a.Amount)
		r.deps.Metrics.RecordAction(r.venue.Name, string(a.Kind), err, time.Since(start))
		if err != nil {
			st.retries++
			st.lastErr = err
			st.logger.Warn().Err(err).Str("action", a.String()).Int("retry", st.retries).Msg("runner: action failed")
			continue
		}

		st.successful++
		st.retries = 0
		st.refs = append(st.refs, ref)
		st.logger.Info().
			Str("action", a.String()).
			Str("ref", ref).
			Int("done", st.successful).
			Int("target", st.target).
			Msg("runner: action executed")
	}

	if st.successful >= st.target {
		_ = st.machine.Fire(EventQuotaMet, "")
		return
	}
	_ = st.machine.Fire(EventRetriesExhausted,
		fmt.Sprintf("%d consecutive failures, last: %v", st.retries, st.lastErr))
}

func (r *Runner) deadline(st *run, err error) {
	reason := "run deadline exceeded"
	if errors.Is(err, context.Canceled) {
		reason = "run cancelled"
	}
	_ = st.machine.Fire(EventDeadline, reason)
}

// lowReserve reports whether the gas balance is under the account minimum.
// An unreadable balance counts as zero.
func (r *Runner) lowReserve(ctx context.Context, acc *account.Account) (bool, decimal.Decimal) {
	bal, err := r.deps.Ledger.Balance(ctx, acc, r.deps.Gas)
	if err != nil {
		log.Warn().Err(err).Str("account", acc.Label()).Msg("runner: reserve balance unreadable, using 0")
		bal = decimal.Zero
	}
	return bal.LessThan(acc.Policy.MinReserve), bal
}
