// Package ocr adds a searchable text layer to assembled PDFs by running ocrmypdf.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joseph-ayodele/pdf-watermarker/internal/common"
	"github.com/joseph-ayodele/pdf-watermarker/internal/core/runner"
	"github.com/joseph-ayodele/pdf-watermarker/internal/utils"
)

type Config struct {
	Ocrmypdf  string        // binary name or absolute path; if empty -> "ocrmypdf"
	ExtraArgs []string      // appended after the language flag, e.g. --rotate-pages
	Timeout   time.Duration // per document; zero means no limit beyond ctx
}

// Result is what the stage learned about the OCR output.
type Result struct {
	Pages     int
	TextChars int // characters of normalized extracted text
}

type Stage struct {
	cfg    Config
	runner runner.Runner
	logger *slog.Logger
}

func New(cfg Config, r runner.Runner, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = slog.Default()
	}
	if r == nil {
		r = runner.Exec{}
	}
	if cfg.Ocrmypdf == "" {
		cfg.Ocrmypdf = "ocrmypdf"
	}
	return &Stage{cfg: cfg, runner: r, logger: logger}
}

// Run OCRs in into out. It succeeds only if the tool exits cleanly and out
// opens as a PDF with as many pages as in. It does not remove out on failure;
// the caller owns that path.
func (s *Stage) Run(ctx context.Context, in, out, lang string) (Result, error) {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	want, err := PageCount(in)
	if err != nil {
		return Result{}, common.OCRError(in, "", fmt.Errorf("read input: %w", err))
	}

	args := []string{"-l", lang}
	args = append(args, s.cfg.ExtraArgs...)
	args = append(args, in, out)

	start := time.Now()
	stdout, stderr, err := s.runner.Run(ctx, s.cfg.Ocrmypdf, s.logger, args...)
	if err != nil {
		diag := strings.TrimSpace(string(stderr))
		if diag == "" {
			diag = strings.TrimSpace(string(stdout))
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", s.cfg.Timeout, err)
		}
		return Result{}, common.OCRError(in, runner.Truncate(diag, 2<<10), err)
	}

	if !utils.FileExists(out) {
		return Result{}, common.OCRError(in, "", errors.New("ocrmypdf reported success but wrote no output"))
	}
	got, err := PageCount(out)
	if err != nil {
		return Result{}, common.OCRError(in, "", fmt.Errorf("output is not a readable pdf: %w", err))
	}
	if got != want {
		return Result{}, common.OCRError(in, "", fmt.Errorf("output has %d pages, input has %d", got, want))
	}

	chars := TextChars(out, s.logger)
	s.logger.Info("ocr complete",
		"input", in,
		"language", lang,
		"pages", got,
		"text_chars", chars,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return Result{Pages: got, TextChars: chars}, nil
}
