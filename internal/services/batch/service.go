// Package batch assembles runnable batch controllers from validated jobs and
// the process configuration.
package batch

import (
	"fmt"
	"log/slog"

	"github.com/joseph-ayodele/pdf-watermarker/internal/common"
	"github.com/joseph-ayodele/pdf-watermarker/internal/core"
	"github.com/joseph-ayodele/pdf-watermarker/internal/core/compress"
	"github.com/joseph-ayodele/pdf-watermarker/internal/core/ocr"
	"github.com/joseph-ayodele/pdf-watermarker/internal/core/pipeline"
	"github.com/joseph-ayodele/pdf-watermarker/internal/core/render"
	"github.com/joseph-ayodele/pdf-watermarker/internal/core/runner"
	"github.com/joseph-ayodele/pdf-watermarker/internal/core/watermark"
	"github.com/joseph-ayodele/pdf-watermarker/internal/entity"
	"github.com/joseph-ayodele/pdf-watermarker/internal/ingest"
)

// Service handles run construction. The rasterizer, OCR and compression
// stages are shared across runs; compositors are built per job.
type Service struct {
	cfg        *common.Config
	recorder   core.Recorder
	discover   core.DiscoverFunc
	rasterizer render.Rasterizer
	runner     runner.Runner
	ocr        *ocr.Stage
	compressor *compress.Stage
	logger     *slog.Logger
}

type Option func(*Service)

// WithRecorder persists every run built by the service.
func WithRecorder(r core.Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithRasterizer replaces the engine selected by RENDER_ENGINE.
func WithRasterizer(r render.Rasterizer) Option {
	return func(s *Service) { s.rasterizer = r }
}

// WithRunner replaces the subprocess runner of the OCR stage.
func WithRunner(r runner.Runner) Option {
	return func(s *Service) { s.runner = r }
}

// WithDiscover replaces document discovery.
func WithDiscover(fn core.DiscoverFunc) Option {
	return func(s *Service) { s.discover = fn }
}

// NewService creates a new batch service.
func NewService(cfg *common.Config, logger *slog.Logger, opts ...Option) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{cfg: cfg, logger: logger, runner: runner.Exec{}}
	for _, o := range opts {
		o(s)
	}
	if s.rasterizer == nil {
		r, err := render.New(render.Config{
			Engine:   cfg.Render.Engine,
			Pdftoppm: cfg.Render.Pdftoppm,
			TmpDir:   cfg.Render.TmpDir,
		}, logger)
		if err != nil {
			return nil, err
		}
		s.rasterizer = r
	}
	if s.discover == nil {
		s.discover = ingest.NewDiscoverer(logger).Discover
	}
	s.ocr = ocr.New(ocr.Config{
		Ocrmypdf:  cfg.OCR.Ocrmypdf,
		ExtraArgs: cfg.OCR.ExtraArgs,
		Timeout:   cfg.OCR.Timeout,
	}, s.runner, logger)
	s.compressor = compress.New(logger)
	return s, nil
}

// NewRun validates jc and returns an idle controller for it.
func (s *Service) NewRun(jc entity.JobConfig) (*core.Controller, error) {
	job, err := entity.NewJob(jc)
	if err != nil {
		return nil, err
	}
	return s.NewRunForJob(job)
}

// NewRunForJob returns an idle controller for an already validated job.
func (s *Service) NewRunForJob(job entity.Job) (*core.Controller, error) {
	logger := s.logger.With("run_id", job.ID.String())

	stages := pipeline.Stages{
		Rasterizer:  s.rasterizer,
		JPEGQuality: s.cfg.Render.JPEGQuality,
	}
	if job.Watermark.Enabled() {
		comp, err := watermark.New(job.Watermark, s.cfg.Watermark.FontPath, logger)
		if err != nil {
			return nil, err
		}
		stages.Compositor = comp
	}
	if job.OCR.Enabled {
		stages.OCR = s.ocr
	}
	if job.Compress {
		stages.Compressor = s.compressor
	}

	proc, err := pipeline.NewProcessor(logger, job, stages)
	if err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}

	opts := []core.Option{core.WithLogger(s.logger)}
	if s.recorder != nil {
		opts = append(opts, core.WithRecorder(s.recorder))
	}
	c := core.NewController(job, s.discover, proc, opts...)
	s.logger.Info("run created", "run_id", job.ID, "input_roots", job.InputRoots, "output_root", job.OutputRoot)
	return c, nil
}
