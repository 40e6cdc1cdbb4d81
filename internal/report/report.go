// Package report collects the outcomes of one RunAll and hands them to sinks.
package report

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nexus-trading/swarm/internal/runner"
)

// Summary counts outcomes by status.
type Summary struct {
	Total     int `json:"total"`
	Success   int `json:"success"`
	Exhausted int `json:"exhausted"`
	Timeout   int `json:"timeout"`
	Skipped   int `json:"skipped"`
	Actions   int `json:"actions"`
}

// Report is the result of one RunAll. Outcomes are in account order.
type Report struct {
	RunID       string           `json:"run_id"`
	Venue       string           `json:"venue"`
	Concurrency int              `json:"concurrency"`
	StartedAt   time.Time        `json:"started_at"`
	FinishedAt  time.Time        `json:"finished_at"`
	Outcomes    []runner.Outcome `json:"outcomes"`
	Summary     Summary          `json:"summary"`
}

// New starts a report.
func New(runID, venue string, concurrency int, started time.Time) *Report {
	return &Report{RunID: runID, Venue: venue, Concurrency: concurrency, StartedAt: started}
}

// Finish stores outcomes and computes the summary.
func (r *Report) Finish(outcomes []runner.Outcome, finished time.Time) {
	r.Outcomes = outcomes
	r.FinishedAt = finished
	r.Summary = Summarize(outcomes)
}

// Summarize counts outcomes by status.
func Summarize(outcomes []runner.Outcome) Summary {
	s := Summary{Total: len(outcomes)}
	for _, o := range outcomes {
		s.Actions += o.Successful
		switch o.Status {
		case runner.StateSuccess:
			s.Success++
		case runner.StateExhausted:
			s.Exhausted++
		case runner.StateTimeout:
			s.Timeout++
		case runner.StateSkipped:
			s.Skipped++
		}
	}
	return s
}

// Reasons groups non-successful accounts by reason, most frequent first.
func (r *Report) Reasons() []ReasonCount {
	counts := make(map[string]int)
	for _, o := range r.Outcomes {
		if o.Status == runner.StateSuccess {
			continue
		}
		counts[o.Reason]++
	}
	out := make([]ReasonCount, 0, len(counts))
	for reason, n := range counts {
		out = append(out, ReasonCount{Reason: reason, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Reason < out[j].Reason
	})
	return out
}

// ReasonCount is one row of Reasons.
type ReasonCount struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

// Sink persists a finished report.
type Sink interface {
	Save(ctx context.Context, r *Report) error
}

// Publish hands r to every sink. A failing sink is logged and does not stop
// the others; the first error is returned.
func Publish(ctx context.Context, r *Report, sinks ...Sink) error {
	var first error
	for _, s := range sinks {
		if s == nil {
			continue
		}
		if err := s.Save(ctx, r); err != nil {
			log.Error().Err(err).Str("run_id", r.RunID).Msg("report: sink failed")
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// Log writes the summary and failure reasons.
func (r *Report) Log() {
	log.Info().
		Str("run_id", r.RunID).
		Str("venue", r.Venue).
		Int("total", r.Summary.Total).
		Int("success", r.Summary.Success).
		Int("exhausted", r.Summary.Exhausted).
		Int("timeout", r.Summary.Timeout).
		Int("skipped", r.Summary.Skipped).
		Int("actions", r.Summary.Actions).
		Dur("took", r.FinishedAt.Sub(r.StartedAt)).
		Msg("report: run finished")
	for _, rc := range r.Reasons() {
		log.Warn().Str("run_id", r.RunID).Str("reason", rc.Reason).Int("accounts", rc.Count).Msg("report: failure reason")
	}
}
