package report

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Record is one JSONL line: either an account outcome or the run summary.
type Record struct {
	Type    string          `json:"type"` // outcome | summary
	RunID   string          `json:"run_id"`
	Venue   string          `json:"venue"`
	Outcome json.RawMessage `json:"outcome,omitempty"`
	Summary *Summary        `json:"summary,omitempty"`
}

// JSONLSink writes each report to <dir>/<venue>-<run_id>.jsonl.
type JSONLSink struct {
	dir string
}

// NewJSONLSink returns nil when dir is blank, which Publish skips.
func NewJSONLSink(dir string) *JSONLSink {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil
	}
	return &JSONLSink{dir: dir}
}

// Path returns the file a report is written to.
func (s *JSONLSink) Path(r *Report) string {
	name := fmt.Sprintf("%s-%s.jsonl", strings.ToLower(r.Venue), r.RunID)
	return filepath.Join(s.dir, name)
}

// Save implements Sink.
func (s *JSONLSink) Save(_ context.Context, r *Report) error {
	if s == nil {
		return nil
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("report: create dir: %w", err)
	}
	f, err := os.OpenFile(s.Path(r), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("report: open: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, o := range r.Outcomes {
		raw, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("report: marshal outcome: %w", err)
		}
		if err := enc.Encode(Record{Type: "outcome", RunID: r.RunID, Venue: r.Venue, Outcome: raw}); err != nil {
			return fmt.Errorf("report: write: %w", err)
		}
	}
	summary := r.Summary
	if err := enc.Encode(Record{Type: "summary", RunID: r.RunID, Venue: r.Venue, Summary: &summary}); err != nil {
		return fmt.Errorf("report: write: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("report: flush: %w", err)
	}
	return f.Close()
}
