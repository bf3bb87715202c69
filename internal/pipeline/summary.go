package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Summary aggregates one run's outcomes by status. It is a pure aggregate of
// counts, independent of completion order, and is recomputed fully on each
// run rather than accumulated across runs.
type Summary struct {
	RunID            string         `json:"run_id"`
	Total            int            `json:"total"`
	Success          int            `json:"success"`
	Failed           int            `json:"failed"`
	FailureBreakdown map[string]int `json:"failure_breakdown"`
	Skipped          int            `json:"skipped"`
	StartedAt        time.Time      `json:"started_at"`
	FinishedAt       time.Time      `json:"finished_at"`
}

// NewSummary creates an empty summary for a new run.
func NewSummary() *Summary {
	return &Summary{
		RunID:            uuid.NewString(),
		FailureBreakdown: make(map[string]int),
		StartedAt:        time.Now(),
	}
}

// Add folds one outcome into the counts.
func (s *Summary) Add(out *Outcome) {
	s.Total++

	if out.Failed() {
		s.Failed++
		s.FailureBreakdown[string(out.Status)]++

		return
	}

	s.Success++

	if out.FetchSkipped {
		s.Skipped++
	}
}

// Save writes the summary JSON to path via a temporary sibling renamed into
// place.
func (s *Summary) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("write summary: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())

		return fmt.Errorf("write summary: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())

		return fmt.Errorf("write summary: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())

		return fmt.Errorf("write summary: %w", err)
	}

	return nil
}
