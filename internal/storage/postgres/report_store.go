package postgres

import (
	"context"
	"fmt"

	"github.com/nexus-trading/swarm/internal/report"
	"github.com/nexus-trading/swarm/internal/runner"
)

// ReportStore implements report.Sink using PostgreSQL.
type ReportStore struct {
	pool *Pool
}

// NewReportStore creates a ReportStore.
func NewReportStore(pool *Pool) *ReportStore {
	return &ReportStore{pool: pool}
}

var _ report.Sink = (*ReportStore)(nil)

// Save stores the run and its outcomes atomically.
func (s *ReportStore) Save(ctx context.Context, r *report.Report) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO runs (
			run_id, venue, concurrency, started_at, finished_at,
			total, success, exhausted, timeout, skipped, actions
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		r.RunID, r.Venue, r.Concurrency, r.StartedAt, r.FinishedAt,
		r.Summary.Total, r.Summary.Success, r.Summary.Exhausted,
		r.Summary.Timeout, r.Summary.Skipped, r.Summary.Actions,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateRun
		}
		return fmt.Errorf("postgres: insert run: %w", err)
	}

	for i, o := range r.Outcomes {
		refs := o.TxRefs
		if refs == nil {
			refs = []string{}
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO run_outcomes (
				run_id, position, account, address, status, reason,
				target, successful, attempts, tx_refs, started_at, finished_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`,
			r.RunID, i, o.Account, o.Address, string(o.Status), o.Reason,
			o.Target, o.Successful, o.Attempts, refs, o.StartedAt, o.FinishedAt,
		)
		if err != nil {
			return fmt.Errorf("postgres: insert outcome %d: %w", i, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

// Get loads a stored run with its outcomes in account order.
func (s *ReportStore) Get(ctx context.Context, runID string) (*report.Report, error) {
	r := &report.Report{}
	err := s.pool.QueryRow(ctx, `
		SELECT run_id, venue, concurrency, started_at, finished_at,
		       total, success, exhausted, timeout, skipped, actions
		FROM runs WHERE run_id = $1
	`, runID).Scan(
		&r.RunID, &r.Venue, &r.Concurrency, &r.StartedAt, &r.FinishedAt,
		&r.Summary.Total, &r.Summary.Success, &r.Summary.Exhausted,
		&r.Summary.Timeout, &r.Summary.Skipped, &r.Summary.Actions,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get run: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT account, address, status, reason, target, successful, attempts,
		       tx_refs, started_at, finished_at
		FROM run_outcomes WHERE run_id = $1 ORDER BY position ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("postgres: query outcomes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		o := runner.Outcome{Venue: r.Venue}
		var status string
		if err := rows.Scan(
			&o.Account, &o.Address, &status, &o.Reason, &o.Target, &o.Successful,
			&o.Attempts, &o.TxRefs, &o.StartedAt, &o.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan outcome: %w", err)
		}
		o.Status = runner.State(status)
		r.Outcomes = append(r.Outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate outcomes: %w", err)
	}
	return r, nil
}

// Recent returns the latest run ids for a venue, newest first.
func (s *ReportStore) Recent(ctx context.Context, venue string, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT run_id FROM runs WHERE venue = $1 ORDER BY started_at DESC LIMIT $2
	`, venue, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: query runs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan run: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
