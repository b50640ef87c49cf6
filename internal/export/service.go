package export

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/pdf-watermarker/constants"
	"github.com/joseph-ayodele/pdf-watermarker/internal/entity"
)

const (
	SummarySheet = "Summary"
	ResultsSheet = "Results"
)

// RunStore is the slice of the run ledger the report needs.
type RunStore interface {
	GetRun(ctx context.Context, id uuid.UUID) (entity.Run, error)
	ListResults(ctx context.Context, runID uuid.UUID) ([]entity.DocumentResult, error)
}

// Service produces XLSX run reports.
type Service struct {
	runs   RunStore
	logger *slog.Logger
}

// NewService builds a report service. runs may be nil when only SummaryXLSX is used.
func NewService(runs RunStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{runs: runs, logger: logger}
}

// RunReportXLSX returns the report of a recorded run.
func (s *Service) RunReportXLSX(ctx context.Context, runID uuid.UUID) ([]byte, error) {
	if s.runs == nil {
		return nil, fmt.Errorf("report for run %s: no run ledger configured", runID)
	}
	run, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load run: %w", err)
	}
	results, err := s.runs.ListResults(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load results: %w", err)
	}
	return s.render(run, results)
}

// SummaryXLSX returns the report of a run that just finished in this process.
func (s *Service) SummaryXLSX(job entity.Job, sum entity.Summary) ([]byte, error) {
	finished := sum.FinishedAt
	run := entity.Run{
		ID:         sum.RunID,
		State:      sum.State,
		InputRoots: job.InputRoots,
		OutputRoot: job.OutputRoot,
		Total:      sum.Progress.Total,
		Processed:  sum.Progress.Processed,
		Failed:     sum.Progress.Failed,
		Skipped:    sum.Progress.Skipped,
		Error:      sum.Error,
		StartedAt:  sum.StartedAt,
		FinishedAt: &finished,
	}
	return s.render(run, sum.Results)
}

func (s *Service) render(run entity.Run, results []entity.DocumentResult) ([]byte, error) {
	start := time.Now()

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(ResultsSheet); err != nil {
		return nil, err
	}
	index, _ := f.GetSheetIndex(SummarySheet)
	f.SetActiveSheet(index)

	finished := ""
	if run.FinishedAt != nil {
		finished = run.FinishedAt.Format(time.RFC3339)
	}
	succeeded := 0
	for _, r := range results {
		if r.Status == constants.DocumentSucceeded {
			succeeded++
		}
	}
	summary := [][2]any{
		{"Run ID", run.ID.String()},
		{"State", string(run.State)},
		{"Input Roots", strings.Join(run.InputRoots, "\n")},
		{"Output Root", run.OutputRoot},
		{"Documents", run.Total},
		{"Processed", run.Processed},
		{"Succeeded", succeeded},
		{"Failed", run.Failed},
		{"Skipped", run.Skipped},
		{"Started", run.StartedAt.Format(time.RFC3339)},
		{"Finished", finished},
		{"Error", run.Error},
	}
	for i, kv := range summary {
		_ = f.SetCellValue(SummarySheet, fmt.Sprintf("A%d", i+1), kv[0])
		_ = f.SetCellValue(SummarySheet, fmt.Sprintf("B%d", i+1), kv[1])
	}
	_ = f.SetColWidth(SummarySheet, "A", "A", 14)
	_ = f.SetColWidth(SummarySheet, "B", "B", 60)

	headers := []string{
		"Source Path",
		"Relative Path",
		"Output Path",
		"Status",
		"Pages",
		"Duration (ms)",
		"Error Code",
		"Error",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(ResultsSheet, cell, h)
	}

	for i, r := range results {
		row := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(ResultsSheet, cell, v)
		}
		write(1, r.Task.SourcePath)
		write(2, r.Task.RelativePath)
		write(3, r.Task.OutputPath)
		write(4, string(r.Status))
		write(5, r.Pages)
		write(6, r.Duration().Milliseconds())
		write(7, r.ErrorCode)
		write(8, truncate(r.Error, 300))
	}

	_ = f.SetColWidth(ResultsSheet, "A", "C", 48) // paths
	_ = f.SetColWidth(ResultsSheet, "D", "F", 12)
	_ = f.SetColWidth(ResultsSheet, "G", "G", 20)
	_ = f.SetColWidth(ResultsSheet, "H", "H", 80)
	if len(results) > 0 {
		_ = f.AutoFilter(ResultsSheet, fmt.Sprintf("A1:H%d", len(results)+1), nil)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("run report written",
		"run_id", run.ID.String(),
		"rows", len(results),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
