package entity

import (
	"image"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/pdf-watermarker/constants"
)

// DocumentTask is one discovered PDF.
type DocumentTask struct {
	SourcePath   string `json:"source_path"`   // absolute
	Root         string `json:"root"`          // input root the file was found under
	RelativePath string `json:"relative_path"` // against the primary input root
	OutputPath   string `json:"output_path"`   // OutputRoot/RelativePath
}

// PageBuffer is one rasterized page.
type PageBuffer struct {
	Index int // zero-based within the document
	Image image.Image
}

// DocumentResult is the outcome of one document within a run.
type DocumentResult struct {
	RunID      uuid.UUID                `json:"run_id"`
	Task       DocumentTask             `json:"task"`
	Status     constants.DocumentStatus `json:"status"`
	Pages      int                      `json:"pages"`
	ErrorCode  string                   `json:"error_code,omitempty"`
	Error      string                   `json:"error,omitempty"`
	StartedAt  time.Time                `json:"started_at"`
	FinishedAt time.Time                `json:"finished_at"`
}

// Duration is how long the document took end to end.
func (r DocumentResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
