// Package compress recompresses finished PDFs in place with pdfcpu.
package compress

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/joseph-ayodele/pdf-watermarker/constants"
	"github.com/joseph-ayodele/pdf-watermarker/internal/common"
	"github.com/joseph-ayodele/pdf-watermarker/internal/utils"
)

var disableConfigDir sync.Once

type Stage struct {
	conf   *model.Configuration
	logger *slog.Logger
}

func New(logger *slog.Logger) *Stage {
	if logger == nil {
		logger = slog.Default()
	}
	// keep pdfcpu from creating a config dir under $HOME
	disableConfigDir.Do(api.DisableConfigDir)

	conf := model.NewDefaultConfiguration()
	conf.WriteObjectStream = true
	conf.WriteXRefStream = true
	conf.ValidationMode = model.ValidationRelaxed
	return &Stage{conf: conf, logger: logger}
}

// InPlace optimizes path through a _compressed.pdf sibling and renames the
// result over it. On failure path is left untouched and the sibling removed.
func (s *Stage) InPlace(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tmp := constants.SiblingPath(path, constants.CompressedSuffix)
	start := time.Now()

	before, _ := os.Stat(path)
	if err := api.OptimizeFile(path, tmp, s.conf); err != nil {
		utils.RemoveQuietly(s.logger, tmp)
		return common.CompressionError(path, err)
	}
	if err := utils.MoveFile(tmp, path); err != nil {
		utils.RemoveQuietly(s.logger, tmp)
		return common.CompressionError(path, err)
	}

	attrs := []any{"path", path, "duration_ms", time.Since(start).Milliseconds()}
	if after, err := os.Stat(path); err == nil && before != nil {
		attrs = append(attrs, "bytes_before", before.Size(), "bytes_after", after.Size())
	}
	s.logger.Info("compressed document", attrs...)
	return nil
}
