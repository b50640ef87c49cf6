package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/joseph-ayodele/pdf-watermarker/internal/core"
	"github.com/joseph-ayodele/pdf-watermarker/internal/entity"
	"github.com/joseph-ayodele/pdf-watermarker/internal/ingest"
)

// SubmitFunc hands a freshly built run to whoever executes it.
type SubmitFunc func(ctx context.Context, c *core.Controller) error

// WatchInbox turns every settled batch of PDFs arriving in inbox into a run
// of template restricted to those files. It blocks until ctx is done.
func (s *Service) WatchInbox(ctx context.Context, inbox string, template entity.JobConfig, debounce time.Duration, submit SubmitFunc) error {
	var ignore []string
	if template.OutputRoot != "" {
		ignore = append(ignore, template.OutputRoot)
	}
	batches, errs, err := ingest.StartWatcher(ctx, ingest.WatchConfig{
		Roots:       []string{inbox},
		Ignore:      ignore,
		InitialScan: true,
		Debounce:    debounce,
	}, s.logger)
	if err != nil {
		return fmt.Errorf("watch %s: %w", inbox, err)
	}
	s.logger.Info("watching inbox", "inbox", inbox, "output_root", template.OutputRoot)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.logger.Warn("inbox watcher error", "inbox", inbox, "error", err)
		case files, ok := <-batches:
			if !ok {
				return nil
			}
			jc := template
			jc.InputRoots = []string{inbox}
			jc.Include = files
			c, err := s.NewRun(jc)
			if err != nil {
				s.logger.Error("inbox batch rejected", "inbox", inbox, "files", len(files), "error", err)
				continue
			}
			if err := submit(ctx, c); err != nil {
				s.logger.Error("inbox batch not queued", "run_id", c.ID(), "error", err)
				c.Stop()
				continue
			}
			s.logger.Info("inbox batch queued", "run_id", c.ID(), "files", len(files))
		}
	}
}
