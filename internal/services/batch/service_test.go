package batch

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/joseph-ayodele/pdf-watermarker/constants"
	"github.com/joseph-ayodele/pdf-watermarker/internal/common"
	"github.com/joseph-ayodele/pdf-watermarker/internal/core/render"
	"github.com/joseph-ayodele/pdf-watermarker/internal/entity"
)

type grayPages struct{ n, next int }

func (p *grayPages) Len() int { return p.n }
func (p *grayPages) Next() (entity.PageBuffer, error) {
	if p.next >= p.n {
		return entity.PageBuffer{}, io.EOF
	}
	img := image.NewRGBA(image.Rect(0, 0, 60, 80))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.Gray{Y: 200}}, image.Point{}, draw.Src)
	p.next++
	return entity.PageBuffer{Index: p.next - 1, Image: img}, nil
}
func (p *grayPages) Close() error { return nil }

type twoPageRasterizer struct{}

func (twoPageRasterizer) Open(context.Context, string, int) (render.PageSource, error) {
	return &grayPages{n: 2}, nil
}

type memRecorder struct {
	mu       sync.Mutex
	started  int
	docs     []entity.DocumentResult
	finished []entity.Summary
}

func (m *memRecorder) RunStarted(context.Context, entity.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started++
	return nil
}

func (m *memRecorder) DocumentFinished(_ context.Context, r entity.DocumentResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs = append(m.docs, r)
	return nil
}

func (m *memRecorder) RunFinished(_ context.Context, s entity.Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = append(m.finished, s)
	return nil
}

func testConfig() *common.Config {
	return &common.Config{
		Render: common.RenderConfig{Engine: "pdftoppm", JPEGQuality: 85},
	}
}

func TestNewRunProcessesDiscoveredDocuments(t *testing.T) {
	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "out")
	for _, name := range []string{"a.pdf", filepath.Join("sub", "b.PDF"), "notes.txt"} {
		p := filepath.Join(in, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("%PDF-1.4\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	rec := &memRecorder{}
	svc, err := NewService(testConfig(), nil, WithRasterizer(twoPageRasterizer{}), WithRecorder(rec))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	cfg := entity.DefaultJobConfig()
	cfg.InputRoots = []string{in}
	cfg.OutputRoot = out
	cfg.Text = "DRAFT"
	c, err := svc.NewRun(cfg)
	if err != nil {
		t.Fatalf("NewRun: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sum, err := c.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}

	if sum.State != constants.RunStateCompleted || sum.Progress.Processed != 2 || sum.Progress.Total != 2 {
		t.Fatalf("summary = %+v", sum)
	}
	for _, rel := range []string{"a.pdf", filepath.Join("sub", "b.PDF")} {
		if _, err := os.Stat(filepath.Join(out, rel)); err != nil {
			t.Fatalf("output %s: %v", rel, err)
		}
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.started != 1 || len(rec.docs) != 2 || len(rec.finished) != 1 {
		t.Fatalf("recorder saw started=%d docs=%d finished=%d", rec.started, len(rec.docs), len(rec.finished))
	}
}

func TestNewRunRejectsInvalidJob(t *testing.T) {
	svc, err := NewService(testConfig(), nil, WithRasterizer(twoPageRasterizer{}))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	cfg := entity.DefaultJobConfig()
	cfg.InputRoots = []string{filepath.Join(t.TempDir(), "missing")}
	cfg.OutputRoot = t.TempDir()
	if _, err := svc.NewRun(cfg); common.CodeOf(err) != common.CodeValidation {
		t.Fatalf("err = %v", err)
	}
}

func TestNewRunRejectsUnreadableWatermarkImage(t *testing.T) {
	svc, err := NewService(testConfig(), nil, WithRasterizer(twoPageRasterizer{}))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	bogus := filepath.Join(t.TempDir(), "logo.png")
	if err := os.WriteFile(bogus, []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := entity.DefaultJobConfig()
	cfg.InputRoots = []string{t.TempDir()}
	cfg.OutputRoot = filepath.Join(t.TempDir(), "out")
	cfg.ImagePath = bogus
	if _, err := svc.NewRun(cfg); common.CodeOf(err) != common.CodeConfig {
		t.Fatalf("err = %v", err)
	}
}

func TestNewServiceRejectsUnknownEngine(t *testing.T) {
	cfg := testConfig()
	cfg.Render.Engine = "ghostscript"
	if _, err := NewService(cfg, nil); common.CodeOf(err) != common.CodeConfig {
		t.Fatalf("err = %v", err)
	}
}
