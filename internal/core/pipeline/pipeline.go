// Package pipeline turns one source PDF into its watermarked output.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joseph-ayodele/pdf-watermarker/constants"
	"github.com/joseph-ayodele/pdf-watermarker/internal/common"
	"github.com/joseph-ayodele/pdf-watermarker/internal/core/assemble"
	"github.com/joseph-ayodele/pdf-watermarker/internal/core/ocr"
	"github.com/joseph-ayodele/pdf-watermarker/internal/core/render"
	"github.com/joseph-ayodele/pdf-watermarker/internal/entity"
	"github.com/joseph-ayodele/pdf-watermarker/internal/utils"
)

// Compositor applies the job's watermark to a page.
type Compositor interface {
	Apply(page image.Image) *image.RGBA
}

type OCR interface {
	Run(ctx context.Context, in, out, lang string) (ocr.Result, error)
}

type Compressor interface {
	InPlace(ctx context.Context, path string) error
}

// Checkpoint is called at every page boundary. It blocks while the run is
// paused and returns an error once the run is stopped or ctx is done.
type Checkpoint func(ctx context.Context) error

// Stages are the collaborators of a Processor. Compositor, OCR and Compressor
// are only consulted when the job enables them.
type Stages struct {
	Rasterizer  render.Rasterizer
	Compositor  Compositor
	OCR         OCR
	Compressor  Compressor
	JPEGQuality int
}

type Processor struct {
	logger *slog.Logger
	job    entity.Job
	stages Stages
}

func NewProcessor(logger *slog.Logger, job entity.Job, stages Stages) (*Processor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if stages.Rasterizer == nil {
		return nil, errors.New("pipeline: rasterizer is required")
	}
	if job.Watermark.Enabled() && stages.Compositor == nil {
		return nil, errors.New("pipeline: watermark configured without a compositor")
	}
	if job.OCR.Enabled && stages.OCR == nil {
		return nil, errors.New("pipeline: ocr enabled without an ocr stage")
	}
	if job.Compress && stages.Compressor == nil {
		return nil, errors.New("pipeline: compression enabled without a compressor")
	}
	return &Processor{logger: logger, job: job, stages: stages}, nil
}

// Process renders, watermarks and reassembles task.SourcePath into
// task.OutputPath, then runs the optional OCR and compression passes. It
// returns the number of pages written. Every temporary it created is removed
// on failure. Errors before publication leave no output; a failed compression
// leaves the published, uncompressed output in place.
func (p *Processor) Process(ctx context.Context, task entity.DocumentTask, check Checkpoint) (int, error) {
	logger := common.LoggerFromContext(ctx, p.logger).With("run_id", common.RunIDFromContext(ctx), "source_path", task.SourcePath)
	start := time.Now()

	if err := os.MkdirAll(filepath.Dir(task.OutputPath), 0o755); err != nil {
		return 0, common.IOError("create output dir for", task.OutputPath, err)
	}

	tmp := constants.SiblingPath(task.OutputPath, constants.TempSuffix)
	pages, err := p.assemble(ctx, task, tmp, check)
	if err != nil {
		utils.RemoveQuietly(logger, tmp)
		return 0, err
	}
	// last boundary before the result becomes visible
	if err := check(ctx); err != nil {
		utils.RemoveQuietly(logger, tmp)
		return 0, err
	}

	if p.job.OCR.Enabled {
		ocrOut := constants.SiblingPath(task.OutputPath, constants.OCRSuffix)
		if _, err := p.stages.OCR.Run(ctx, tmp, ocrOut, p.job.OCR.Language); err != nil {
			utils.RemoveQuietly(logger, tmp, ocrOut)
			return 0, err
		}
		if err := utils.MoveFile(ocrOut, task.OutputPath); err != nil {
			utils.RemoveQuietly(logger, tmp, ocrOut)
			return 0, common.IOError("publish", task.OutputPath, err)
		}
		utils.RemoveQuietly(logger, tmp)
	} else if err := utils.MoveFile(tmp, task.OutputPath); err != nil {
		utils.RemoveQuietly(logger, tmp)
		return 0, common.IOError("publish", task.OutputPath, err)
	}

	if p.job.Compress {
		if err := p.stages.Compressor.InPlace(ctx, task.OutputPath); err != nil {
			utils.RemoveQuietly(logger, constants.SiblingPath(task.OutputPath, constants.CompressedSuffix))
			logger.Warn("compression failed, keeping uncompressed output", "output_path", task.OutputPath, "error", err)
			return pages, err
		}
	}

	logger.Info("document written",
		"output_path", task.OutputPath,
		"pages", pages,
		"ocr", p.job.OCR.Enabled,
		"compressed", p.job.Compress,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return pages, nil
}

// assemble streams every page of the source through the compositor into out.
func (p *Processor) assemble(ctx context.Context, task entity.DocumentTask, out string, check Checkpoint) (int, error) {
	src, err := p.stages.Rasterizer.Open(ctx, task.SourcePath, p.job.DPI)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			p.logger.Warn("failed to release rasterizer", "source_path", task.SourcePath, "error", cerr)
		}
	}()

	f, err := os.Create(out)
	if err != nil {
		return 0, common.IOError("create", out, err)
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	w, err := assemble.New(f, assemble.Options{DPI: p.job.DPI, Quality: p.stages.JPEGQuality})
	if err != nil {
		return 0, common.IOError("write", out, err)
	}

	for {
		if err := check(ctx); err != nil {
			return 0, err
		}
		page, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, err
		}
		img := page.Image
		if p.job.Watermark.Enabled() {
			img = p.stages.Compositor.Apply(img)
		}
		if err := w.AddPage(img); err != nil {
			return 0, common.IOError("write", out, fmt.Errorf("page %d: %w", page.Index+1, err))
		}
	}

	if err := w.Close(); err != nil {
		return 0, common.IOError("write", out, err)
	}
	if err := f.Close(); err != nil {
		return 0, common.IOError("close", out, err)
	}
	return w.Pages(), nil
}
