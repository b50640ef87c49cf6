package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/pdf-watermarker/constants"
	"github.com/joseph-ayodele/pdf-watermarker/internal/common"
	"github.com/joseph-ayodele/pdf-watermarker/internal/entity"
)

const (
	runsTable      = "watermark_runs"
	documentsTable = "watermark_documents"
)

var runColumns = []string{
	"id", "state", "input_roots", "output_root",
	"total", "processed", "failed", "skipped", "error",
	"started_at", "finished_at",
}

var documentColumns = []string{
	"run_id", "source_path", "root", "relative_path", "output_path",
	"status", "pages", "error_code", "error", "started_at", "finished_at",
}

// RunStarted inserts (or resets) the row of a run.
func (l *Ledger) RunStarted(ctx context.Context, run entity.Run) error {
	roots, err := json.Marshal(run.InputRoots)
	if err != nil {
		return fmt.Errorf("encode input roots: %w", err)
	}
	query, args := entsql.Dialect(l.dialect).
		Insert(runsTable).
		Columns(runColumns...).
		Values(run.ID.String(), string(run.State), string(roots), run.OutputRoot,
			run.Total, run.Processed, run.Failed, run.Skipped, run.Error,
			run.StartedAt.UnixMilli(), nil).
		OnConflict(entsql.ConflictColumns("id"), entsql.ResolveWithNewValues()).
		Query()
	if err := l.drv.Exec(ctx, query, args, nil); err != nil {
		l.logger.Error("ledger run start failed", "run_id", run.ID, "error", err)
		return fmt.Errorf("record run start: %w", err)
	}
	l.logger.Debug("ledger run started", "run_id", run.ID)
	return nil
}

// DocumentFinished stores one document outcome and bumps the run's counters.
func (l *Ledger) DocumentFinished(ctx context.Context, res entity.DocumentResult) error {
	b := entsql.Dialect(l.dialect)
	query, args := b.Insert(documentsTable).
		Columns(documentColumns...).
		Values(res.RunID.String(), res.Task.SourcePath, res.Task.Root, res.Task.RelativePath, res.Task.OutputPath,
			string(res.Status), res.Pages, res.ErrorCode, res.Error,
			res.StartedAt.UnixMilli(), res.FinishedAt.UnixMilli()).
		OnConflict(entsql.ConflictColumns("run_id", "source_path"), entsql.ResolveWithNewValues()).
		Query()
	if err := l.drv.Exec(ctx, query, args, nil); err != nil {
		l.logger.Error("ledger document insert failed", "run_id", res.RunID, "source_path", res.Task.SourcePath, "error", err)
		return fmt.Errorf("record document: %w", err)
	}

	if res.Status == constants.DocumentStopped {
		return nil
	}
	upd := b.Update(runsTable).Add("processed", 1)
	switch res.Status {
	case constants.DocumentFailed:
		upd.Add("failed", 1)
	case constants.DocumentSkipped:
		upd.Add("skipped", 1)
	}
	query, args = upd.Where(entsql.EQ("id", res.RunID.String())).Query()
	if err := l.drv.Exec(ctx, query, args, nil); err != nil {
		return fmt.Errorf("update run counters: %w", err)
	}
	return nil
}

// RunFinished writes the terminal state and final counters of a run.
func (l *Ledger) RunFinished(ctx context.Context, s entity.Summary) error {
	query, args := entsql.Dialect(l.dialect).
		Update(runsTable).
		Set("state", string(s.State)).
		Set("total", s.Progress.Total).
		Set("processed", s.Progress.Processed).
		Set("failed", s.Progress.Failed).
		Set("skipped", s.Progress.Skipped).
		Set("error", s.Error).
		Set("finished_at", s.FinishedAt.UnixMilli()).
		Where(entsql.EQ("id", s.RunID.String())).
		Query()
	var res sql.Result
	if err := l.drv.Exec(ctx, query, args, &res); err != nil {
		l.logger.Error("ledger run finish failed", "run_id", s.RunID, "error", err)
		return fmt.Errorf("record run finish: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("record run finish %s: %w", s.RunID, common.ErrNotFound)
	}
	l.logger.Info("ledger run finished", "run_id", s.RunID, "state", s.State)
	return nil
}

// ListRuns returns the most recent runs first. limit <= 0 means 50.
func (l *Ledger) ListRuns(ctx context.Context, limit int) ([]entity.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	b := entsql.Dialect(l.dialect)
	t := b.Table(runsTable)
	query, args := b.Select(runColumns...).
		From(t).
		OrderBy(entsql.Desc(t.C("started_at"))).
		Limit(limit).
		Query()
	return l.queryRuns(ctx, query, args)
}

// GetRun returns one run or an error wrapping common.ErrNotFound.
func (l *Ledger) GetRun(ctx context.Context, id uuid.UUID) (entity.Run, error) {
	b := entsql.Dialect(l.dialect)
	query, args := b.Select(runColumns...).
		From(b.Table(runsTable)).
		Where(entsql.EQ("id", id.String())).
		Query()
	runs, err := l.queryRuns(ctx, query, args)
	if err != nil {
		return entity.Run{}, err
	}
	if len(runs) == 0 {
		return entity.Run{}, fmt.Errorf("run %s: %w", id, common.ErrNotFound)
	}
	return runs[0], nil
}

// ListResults returns the document outcomes of a run in completion order.
func (l *Ledger) ListResults(ctx context.Context, runID uuid.UUID) ([]entity.DocumentResult, error) {
	b := entsql.Dialect(l.dialect)
	t := b.Table(documentsTable)
	query, args := b.Select(documentColumns...).
		From(t).
		Where(entsql.EQ("run_id", runID.String())).
		OrderBy(t.C("finished_at"), t.C("source_path")).
		Query()

	var rows entsql.Rows
	if err := l.drv.Query(ctx, query, args, &rows); err != nil {
		return nil, fmt.Errorf("list results: %w: %w", common.ErrDatabase, err)
	}
	defer rows.Close()

	var out []entity.DocumentResult
	for rows.Next() {
		var (
			id, status       string
			started, finished int64
			r                 entity.DocumentResult
		)
		if err := rows.Scan(&id, &r.Task.SourcePath, &r.Task.Root, &r.Task.RelativePath, &r.Task.OutputPath,
			&status, &r.Pages, &r.ErrorCode, &r.Error, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.RunID, _ = uuid.Parse(id)
		r.Status = constants.DocumentStatus(status)
		r.StartedAt = time.UnixMilli(started).UTC()
		r.FinishedAt = time.UnixMilli(finished).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func (l *Ledger) queryRuns(ctx context.Context, query string, args []any) ([]entity.Run, error) {
	var rows entsql.Rows
	if err := l.drv.Query(ctx, query, args, &rows); err != nil {
		return nil, fmt.Errorf("list runs: %w: %w", common.ErrDatabase, err)
	}
	defer rows.Close()

	var out []entity.Run
	for rows.Next() {
		var (
			id, state, roots string
			started          int64
			finished         sql.NullInt64
			r                entity.Run
		)
		if err := rows.Scan(&id, &state, &roots, &r.OutputRoot,
			&r.Total, &r.Processed, &r.Failed, &r.Skipped, &r.Error,
			&started, &finished); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.ID, _ = uuid.Parse(id)
		r.State = constants.RunState(state)
		if err := json.Unmarshal([]byte(roots), &r.InputRoots); err != nil {
			l.logger.Warn("ledger run has malformed input roots", "run_id", id, "error", err)
		}
		r.StartedAt = time.UnixMilli(started).UTC()
		if finished.Valid {
			at := time.UnixMilli(finished.Int64).UTC()
			r.FinishedAt = &at
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
