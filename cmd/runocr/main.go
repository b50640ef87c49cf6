package main

import (
	"context"
	"os"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/joseph-ayodele/pdf-watermarker/internal/common"
	"github.com/joseph-ayodele/pdf-watermarker/internal/core/ocr"
	"github.com/joseph-ayodele/pdf-watermarker/internal/core/runner"
)

// runocr adds a text layer to a single PDF with the same stage the batch
// pipeline uses, which makes it handy for checking an ocrmypdf install.
func main() {
	cfg := common.LoadConfig()
	logger := cfg.NewLogger()

	if len(os.Args) < 3 || len(os.Args) > 4 {
		logger.Error("usage", "cmd", "runocr <in.pdf> <out.pdf> [lang]")
		os.Exit(2)
	}
	in, out := os.Args[1], os.Args[2]
	lang := "eng"
	if len(os.Args) == 4 {
		lang = os.Args[3]
	}

	api.DisableConfigDir()
	pages, err := api.PageCountFile(in)
	if err != nil {
		logger.Error("input is not a readable PDF", "path", in, "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute+cfg.OCR.Timeout)
	defer cancel()

	stage := ocr.New(ocr.Config{
		Ocrmypdf:  cfg.OCR.Ocrmypdf,
		ExtraArgs: cfg.OCR.ExtraArgs,
		Timeout:   cfg.OCR.Timeout,
	}, runner.Exec{}, logger)

	start := time.Now()
	res, err := stage.Run(ctx, in, out, lang)
	dur := time.Since(start)
	if err != nil {
		logger.Error("ocr failed",
			"path", in, "code", common.CodeOf(err), "error", err, "duration_ms", dur.Milliseconds())
		os.Exit(1)
	}

	logger.Info("ocr OK",
		"in", in,
		"out", out,
		"lang", lang,
		"pages_in", pages,
		"pages_out", res.Pages,
		"text_chars", res.TextChars,
		"duration_ms", dur.Milliseconds(),
	)
}
