package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/joseph-ayodele/pdf-watermarker/constants"
	"github.com/joseph-ayodele/pdf-watermarker/internal/common"
	"github.com/joseph-ayodele/pdf-watermarker/internal/core/ocr"
	"github.com/joseph-ayodele/pdf-watermarker/internal/core/render"
	"github.com/joseph-ayodele/pdf-watermarker/internal/core/watermark"
	"github.com/joseph-ayodele/pdf-watermarker/internal/entity"
	"github.com/joseph-ayodele/pdf-watermarker/internal/utils"
)

// fakeRasterizer yields pages of a fixed size, shaded by index.
type fakeRasterizer struct {
	pages  int
	w, h   int
	err    error
	closed int
}

func (f *fakeRasterizer) Open(_ context.Context, _ string, _ int) (render.PageSource, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &fakePages{r: f}, nil
}

type fakePages struct {
	r    *fakeRasterizer
	next int
}

func (s *fakePages) Len() int { return s.r.pages }

func (s *fakePages) Next() (entity.PageBuffer, error) {
	if s.next >= s.r.pages {
		return entity.PageBuffer{}, io.EOF
	}
	img := image.NewRGBA(image.Rect(0, 0, s.r.w, s.r.h))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	img.SetRGBA(s.next, s.next, color.RGBA{A: 0xff})
	s.next++
	return entity.PageBuffer{Index: s.next - 1, Image: img}, nil
}

func (s *fakePages) Close() error {
	s.r.closed++
	return nil
}

// copyOCR "OCRs" by copying its input, as a searchable copy would keep the page count.
type copyOCR struct {
	calls int
	err   error
}

func (c *copyOCR) Run(_ context.Context, in, out, _ string) (ocr.Result, error) {
	c.calls++
	if c.err != nil {
		_ = os.WriteFile(out, []byte("partial"), 0o644)
		return ocr.Result{}, c.err
	}
	b, err := os.ReadFile(in)
	if err != nil {
		return ocr.Result{}, err
	}
	return ocr.Result{}, os.WriteFile(out, append(b, []byte("%ocr\n")...), 0o644)
}

type fakeCompressor struct {
	err          error
	leaveSibling bool // simulate a stage that died before cleaning up
}

func (f fakeCompressor) InPlace(_ context.Context, path string) error {
	if f.leaveSibling {
		_ = os.WriteFile(constants.SiblingPath(path, constants.CompressedSuffix), []byte("partial"), 0o644)
	}
	return f.err
}

// copyRunner plays ocrmypdf: it copies the input argument onto the output one.
type copyRunner struct{ calls int }

func (r *copyRunner) Run(_ context.Context, _ string, _ *slog.Logger, args ...string) ([]byte, []byte, error) {
	r.calls++
	in, out := args[len(args)-2], args[len(args)-1]
	b, err := os.ReadFile(in)
	if err != nil {
		return nil, []byte(err.Error()), err
	}
	return nil, nil, os.WriteFile(out, b, 0o644)
}

func allow(context.Context) error { return nil }

func testJob(t *testing.T, mutate func(*entity.JobConfig)) (entity.Job, entity.DocumentTask) {
	t.Helper()
	in := t.TempDir()
	cfg := entity.DefaultJobConfig()
	cfg.InputRoots = []string{in}
	cfg.OutputRoot = filepath.Join(t.TempDir(), "out")
	if mutate != nil {
		mutate(&cfg)
	}
	job, err := entity.NewJob(cfg)
	if err != nil {
		t.Fatalf("NewJob: %v", err)
	}
	task := entity.DocumentTask{
		SourcePath:   filepath.Join(in, "sub", "a.pdf"),
		Root:         in,
		RelativePath: filepath.Join("sub", "a.pdf"),
		OutputPath:   filepath.Join(job.OutputRoot, "sub", "a.pdf"),
	}
	return job, task
}

func newProcessor(t *testing.T, job entity.Job, stages Stages) *Processor {
	t.Helper()
	if job.Watermark.Enabled() && stages.Compositor == nil {
		c, err := watermark.New(job.Watermark, "", nil)
		if err != nil {
			t.Fatalf("watermark.New: %v", err)
		}
		stages.Compositor = c
	}
	p, err := NewProcessor(nil, job, stages)
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	return p
}

func assertNoTemporaries(t *testing.T, output string) {
	t.Helper()
	for _, suffix := range []string{constants.TempSuffix, constants.OCRSuffix, constants.CompressedSuffix} {
		if utils.FileExists(constants.SiblingPath(output, suffix)) {
			t.Errorf("temporary %s left behind", suffix)
		}
	}
}

func TestProcess_NoWatermark(t *testing.T) {
	job, task := testJob(t, nil)
	raster := &fakeRasterizer{pages: 3, w: 124, h: 175}
	p := newProcessor(t, job, Stages{Rasterizer: raster})

	pages, err := p.Process(context.Background(), task, allow)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if pages != 3 {
		t.Fatalf("pages = %d, want 3", pages)
	}
	n, err := ocr.PageCount(task.OutputPath)
	if err != nil || n != 3 {
		t.Fatalf("output pages = %d, %v; want 3", n, err)
	}
	if raster.closed != 1 {
		t.Fatalf("page source closed %d times", raster.closed)
	}
	assertNoTemporaries(t, task.OutputPath)
}

func TestProcess_WatermarkDeterministic(t *testing.T) {
	var outputs [][]byte
	for run := 0; run < 2; run++ {
		job, task := testJob(t, func(c *entity.JobConfig) {
			c.Text = "CONFIDENTIAL"
			c.Position = string(constants.PositionCenter)
			c.Transparency = 50
			c.Color = "#FF0000"
			c.DPI = 150
		})
		p := newProcessor(t, job, Stages{Rasterizer: &fakeRasterizer{pages: 3, w: 1240, h: 1754}})
		if _, err := p.Process(context.Background(), task, allow); err != nil {
			t.Fatalf("Process: %v", err)
		}
		b, err := os.ReadFile(task.OutputPath)
		if err != nil {
			t.Fatal(err)
		}
		if n, err := ocr.PageCount(task.OutputPath); err != nil || n != 3 {
			t.Fatalf("output pages = %d, %v; want 3", n, err)
		}
		outputs = append(outputs, b)
	}
	if !bytes.Equal(outputs[0], outputs[1]) {
		t.Fatal("identical runs produced different bytes")
	}
}

func TestProcess_OCR(t *testing.T) {
	job, task := testJob(t, func(c *entity.JobConfig) {
		c.OCREnabled = true
		c.OCRLanguage = "eng"
	})
	o := &copyOCR{}
	p := newProcessor(t, job, Stages{Rasterizer: &fakeRasterizer{pages: 2, w: 50, h: 50}, OCR: o})

	if _, err := p.Process(context.Background(), task, allow); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if o.calls != 1 {
		t.Fatalf("ocr calls = %d", o.calls)
	}
	b, _ := os.ReadFile(task.OutputPath)
	if !bytes.HasSuffix(b, []byte("%ocr\n")) {
		t.Fatal("output is not the OCR tool's result")
	}
	assertNoTemporaries(t, task.OutputPath)
}

func TestProcess_OCRStageOnAssembledOutput(t *testing.T) {
	job, task := testJob(t, func(c *entity.JobConfig) {
		c.Text = "CONFIDENTIAL"
		c.OCREnabled = true
		c.OCRLanguage = "eng"
	})
	r := &copyRunner{}
	stage := ocr.New(ocr.Config{}, r, nil)
	p := newProcessor(t, job, Stages{Rasterizer: &fakeRasterizer{pages: 3, w: 124, h: 175}, OCR: stage})

	pages, err := p.Process(context.Background(), task, allow)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if pages != 3 || r.calls != 1 {
		t.Fatalf("pages = %d, ocr calls = %d", pages, r.calls)
	}
	if n, err := ocr.PageCount(task.OutputPath); err != nil || n != 3 {
		t.Fatalf("output pages = %d, %v; want 3", n, err)
	}
	assertNoTemporaries(t, task.OutputPath)
}

func TestProcess_Failures(t *testing.T) {
	renderErr := common.RenderError("a.pdf", errors.New("bad xref"))
	ocrErr := common.OCRError("a.pdf", "tesseract missing", errors.New("exit status 2"))
	compressErr := common.CompressionError("a.pdf", errors.New("corrupt"))

	tests := []struct {
		name       string
		mutate     func(*entity.JobConfig)
		stages     Stages
		code       string
		keepOutput bool
	}{
		{"render", nil, Stages{Rasterizer: &fakeRasterizer{err: renderErr}}, common.CodeRender, false},
		{"ocr", func(c *entity.JobConfig) { c.OCREnabled = true },
			Stages{Rasterizer: &fakeRasterizer{pages: 1, w: 10, h: 10}, OCR: &copyOCR{err: ocrErr}}, common.CodeOCR, false},
		// the uncompressed output is already published when compression runs
		{"compress", func(c *entity.JobConfig) { c.Compress = true },
			Stages{Rasterizer: &fakeRasterizer{pages: 1, w: 10, h: 10}, Compressor: fakeCompressor{err: compressErr, leaveSibling: true}}, common.CodeCompression, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, task := testJob(t, tt.mutate)
			p := newProcessor(t, job, tt.stages)
			_, err := p.Process(context.Background(), task, allow)
			if common.CodeOf(err) != tt.code {
				t.Fatalf("code = %q (%v), want %q", common.CodeOf(err), err, tt.code)
			}
			if got := utils.FileExists(task.OutputPath); got != tt.keepOutput {
				t.Fatalf("output exists = %v, want %v", got, tt.keepOutput)
			}
			if tt.keepOutput {
				if n, err := ocr.PageCount(task.OutputPath); err != nil || n != 1 {
					t.Fatalf("kept output pages = %d, %v; want 1", n, err)
				}
			}
			assertNoTemporaries(t, task.OutputPath)
		})
	}
}

func TestProcess_StopMidDocument(t *testing.T) {
	job, task := testJob(t, nil)
	p := newProcessor(t, job, Stages{Rasterizer: &fakeRasterizer{pages: 5, w: 20, h: 20}})

	calls := 0
	stopAfterTwoPages := func(context.Context) error {
		calls++
		if calls > 2 {
			return common.ErrStopped
		}
		return nil
	}
	_, err := p.Process(context.Background(), task, stopAfterTwoPages)
	if !errors.Is(err, common.ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
	if utils.FileExists(task.OutputPath) {
		t.Fatal("stopped document produced output")
	}
	assertNoTemporaries(t, task.OutputPath)
}

func TestNewProcessor_MissingStages(t *testing.T) {
	job, _ := testJob(t, func(c *entity.JobConfig) { c.Text = "x" })
	if _, err := NewProcessor(nil, job, Stages{Rasterizer: &fakeRasterizer{}}); err == nil {
		t.Error("expected error for watermark without compositor")
	}
	job, _ = testJob(t, func(c *entity.JobConfig) { c.OCREnabled = true })
	if _, err := NewProcessor(nil, job, Stages{Rasterizer: &fakeRasterizer{}}); err == nil {
		t.Error("expected error for ocr without stage")
	}
	if _, err := NewProcessor(nil, job, Stages{}); err == nil {
		t.Error("expected error without rasterizer")
	}
}
