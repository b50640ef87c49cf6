package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joseph-ayodele/pdf-watermarker/internal/common"
	"github.com/joseph-ayodele/pdf-watermarker/internal/entity"
)

type Discoverer struct {
	logger *slog.Logger
}

func NewDiscoverer(logger *slog.Logger) *Discoverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discoverer{logger: logger}
}

// Discover returns the job's documents. With an explicit include list those
// files are used as given; otherwise every root is walked in lexical order.
// An unreadable root is logged and skipped; Discover only fails when no root
// could be read.
func (d *Discoverer) Discover(ctx context.Context, job entity.Job) ([]entity.DocumentTask, error) {
	tasks, stats, err := d.discover(ctx, job)
	d.logger.Info("discovery finished",
		"roots", len(job.InputRoots),
		"scanned", stats.Scanned,
		"matched", stats.Matched,
		"skipped", stats.Skipped,
		"failed", stats.Failed,
		"collisions", stats.Collisions,
	)
	return tasks, err
}

func (d *Discoverer) discover(ctx context.Context, job entity.Job) ([]entity.DocumentTask, DirStats, error) {
	var stats DirStats
	if len(job.InputRoots) == 0 {
		return nil, stats, common.DiscoveryError("", errors.New("no input roots"))
	}
	b := &taskBuilder{job: job, logger: d.logger, seen: map[string]string{}, stats: &stats}

	if len(job.Include) > 0 {
		for _, path := range job.Include {
			if err := ctx.Err(); err != nil {
				return nil, stats, err
			}
			stats.Scanned++
			st, err := os.Stat(path)
			if err != nil || !st.Mode().IsRegular() || !Candidate(filepath.Base(path)) {
				d.logger.Warn("skipping included path", "path", path, "error", err)
				stats.Skipped++
				continue
			}
			b.add(b.rootOf(path), path)
		}
		return b.tasks, stats, nil
	}

	var lastErr error
	readable := 0
	for _, root := range job.InputRoots {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}
		if err := d.walk(ctx, root, b); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, stats, err
			}
			lastErr = err
			stats.Failed++
			d.logger.Error("input root unreadable, skipping", "root", root, "error", err)
			continue
		}
		readable++
	}
	if readable == 0 {
		return nil, stats, lastErr
	}
	return b.tasks, stats, nil
}

func (d *Discoverer) walk(ctx context.Context, root string, b *taskBuilder) error {
	st, err := os.Stat(root)
	if err != nil {
		return common.DiscoveryError(root, err)
	}
	if !st.IsDir() {
		return common.DiscoveryError(root, fmt.Errorf("not a directory"))
	}

	err = filepath.WalkDir(root, func(path string, de fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			if path == root {
				return common.DiscoveryError(root, walkErr)
			}
			b.stats.Failed++
			d.logger.Warn("unreadable entry, skipping", "path", path, "error", walkErr)
			return nil
		}
		b.stats.Scanned++
		if path == root {
			return nil
		}
		if de.IsDir() {
			if path == b.job.OutputRoot {
				b.stats.Skipped++
				return filepath.SkipDir
			}
			return nil
		}
		if !Candidate(de.Name()) {
			return nil
		}
		if !regular(path, de) {
			b.stats.Skipped++
			return nil
		}
		b.add(root, path)
		return nil
	})
	return err
}

// regular accepts regular files and symlinks that resolve to one.
func regular(path string, de fs.DirEntry) bool {
	if de.Type().IsRegular() {
		return true
	}
	if de.Type()&fs.ModeSymlink == 0 {
		return false
	}
	st, err := os.Stat(path)
	return err == nil && st.Mode().IsRegular()
}

type taskBuilder struct {
	job    entity.Job
	logger *slog.Logger
	seen   map[string]string // output path -> source path
	tasks  []entity.DocumentTask
	stats  *DirStats
}

func (b *taskBuilder) rootOf(path string) string {
	for _, r := range b.job.InputRoots {
		if within(r, path) {
			return r
		}
	}
	return b.job.InputRoots[0]
}

// add derives the output path of a source found under root. Paths are made
// relative to the primary root; a file that would land outside the output tree
// falls back to its path relative to its own root.
func (b *taskBuilder) add(root, path string) {
	primary := b.job.InputRoots[0]
	rel, err := filepath.Rel(primary, path)
	if err != nil || escapes(rel) {
		own, ownErr := filepath.Rel(root, path)
		if ownErr != nil {
			b.logger.Warn("cannot derive relative path, skipping", "path", path, "root", root, "error", ownErr)
			b.stats.Skipped++
			return
		}
		b.logger.Warn("file outside primary root, using path relative to its own root",
			"path", path, "root", root, "primary_root", primary, "relative_path", own)
		rel = own
	}

	out := filepath.Join(b.job.OutputRoot, rel)
	if prev, ok := b.seen[out]; ok {
		b.stats.Collisions++
		b.logger.Warn("output path collision", "output_path", out, "source_path", path, "previous_source", prev)
	} else {
		b.seen[out] = path
	}
	b.stats.Matched++
	b.tasks = append(b.tasks, entity.DocumentTask{
		SourcePath:   path,
		Root:         root,
		RelativePath: rel,
		OutputPath:   out,
	})
}
