package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/pdf-watermarker/constants"
)

// ProgressState is a snapshot of a run's counters. Processed never exceeds Total.
type ProgressState struct {
	Processed int  `json:"processed"`
	Total     int  `json:"total"`
	Failed    int  `json:"failed"`
	Skipped   int  `json:"skipped"`
	Running   bool `json:"running"`
	Paused    bool `json:"paused"`
}

// Percent is processed/total scaled to 0..100 (truncated).
func (p ProgressState) Percent() int {
	if p.Total <= 0 {
		return 0
	}
	return p.Processed * 100 / p.Total
}

// Summary is the terminal account of a run.
type Summary struct {
	RunID      uuid.UUID          `json:"run_id"`
	State      constants.RunState `json:"state"`
	Progress   ProgressState      `json:"progress"`
	Results    []DocumentResult   `json:"results"`
	Error      string             `json:"error,omitempty"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
}

// Succeeded counts documents that produced an output.
func (s Summary) Succeeded() int {
	n := 0
	for _, r := range s.Results {
		if r.Status == constants.DocumentSucceeded {
			n++
		}
	}
	return n
}

// Failures returns the failed document results.
func (s Summary) Failures() []DocumentResult {
	var out []DocumentResult
	for _, r := range s.Results {
		if r.Status == constants.DocumentFailed {
			out = append(out, r)
		}
	}
	return out
}

// Run is a ledger row describing one batch run.
type Run struct {
	ID         uuid.UUID          `json:"id"`
	State      constants.RunState `json:"state"`
	InputRoots []string           `json:"input_roots"`
	OutputRoot string             `json:"output_root"`
	Total      int                `json:"total"`
	Processed  int                `json:"processed"`
	Failed     int                `json:"failed"`
	Skipped    int                `json:"skipped"`
	Error      string             `json:"error,omitempty"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt *time.Time         `json:"finished_at,omitempty"`
}
