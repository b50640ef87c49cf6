package entity

import (
	"errors"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/joseph-ayodele/pdf-watermarker/constants"
	"github.com/joseph-ayodele/pdf-watermarker/internal/common"
)

func validConfig(t *testing.T) JobConfig {
	t.Helper()
	cfg := DefaultJobConfig()
	cfg.InputRoots = []string{t.TempDir()}
	cfg.OutputRoot = filepath.Join(t.TempDir(), "out")
	cfg.Text = "CONFIDENTIAL"
	return cfg
}

func TestNewJob_Valid(t *testing.T) {
	cfg := validConfig(t)
	cfg.Color = "#FF0000"

	job, err := NewJob(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.ID.String() == "" {
		t.Fatalf("expected a run id")
	}
	if !filepath.IsAbs(job.InputRoots[0]) || !filepath.IsAbs(job.OutputRoot) {
		t.Fatalf("expected absolute paths, got %v %s", job.InputRoots, job.OutputRoot)
	}
	if job.Watermark.Color != (color.NRGBA{R: 0xff, A: 0xff}) {
		t.Fatalf("unexpected color %+v", job.Watermark.Color)
	}
	if job.FailurePolicy != constants.FailureContinue {
		t.Fatalf("expected continue policy, got %s", job.FailurePolicy)
	}
	if !job.Watermark.Enabled() {
		t.Fatalf("expected watermark enabled")
	}
}

func TestNewJob_Rejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*JobConfig)
	}{
		{"no roots", func(c *JobConfig) { c.InputRoots = nil }},
		{"missing root", func(c *JobConfig) { c.InputRoots = []string{"/does/not/exist"} }},
		{"no output", func(c *JobConfig) { c.OutputRoot = "" }},
		{"output equals input", func(c *JobConfig) { c.OutputRoot = c.InputRoots[0] }},
		{"transparency high", func(c *JobConfig) { c.Transparency = 101 }},
		{"transparency low", func(c *JobConfig) { c.Transparency = -1 }},
		{"position", func(c *JobConfig) { c.Position = "middle" }},
		{"color", func(c *JobConfig) { c.Color = "red" }},
		{"dpi", func(c *JobConfig) { c.DPI = 5 }},
		{"policy", func(c *JobConfig) { c.FailurePolicy = "retry" }},
		{"ocr language", func(c *JobConfig) { c.OCREnabled = true; c.OCRLanguage = "" }},
		{"ocr language format", func(c *JobConfig) { c.OCREnabled = true; c.OCRLanguage = "en-US" }},
		{"missing image", func(c *JobConfig) { c.ImagePath = "/does/not/exist.png" }},
		{"include outside", func(c *JobConfig) { c.Include = []string{"/elsewhere/a.pdf"} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig(t)
			tc.mutate(&cfg)
			_, err := NewJob(cfg)
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if common.CodeOf(err) != common.CodeValidation || !errors.Is(err, common.ErrValidation) {
				t.Fatalf("expected VALIDATION_ERROR, got %v", err)
			}
		})
	}
}

func TestNewJob_IncludeUnderRoot(t *testing.T) {
	cfg := validConfig(t)
	p := filepath.Join(cfg.InputRoots[0], "a.pdf")
	if err := os.WriteFile(p, []byte("%PDF-1.4"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.Include = []string{p}
	job, err := NewJob(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(job.Include) != 1 || job.Include[0] != p {
		t.Fatalf("unexpected include %v", job.Include)
	}
}

func TestAlpha(t *testing.T) {
	for tr := 0; tr <= 100; tr++ {
		w := WatermarkSpec{Transparency: tr}
		want := uint8(math.Round(255 * float64(tr) / 100))
		if got := w.Alpha(); got != want {
			t.Fatalf("transparency %d: expected alpha %d, got %d", tr, want, got)
		}
	}
	if (WatermarkSpec{Transparency: 0}).Alpha() != 0 || (WatermarkSpec{Transparency: 100}).Alpha() != 255 {
		t.Fatalf("expected exact endpoints")
	}
}

func TestParseHexColor(t *testing.T) {
	cases := map[string]color.NRGBA{
		"#FF0000": {R: 255, A: 255},
		"00ff00":  {G: 255, A: 255},
		"#00F":    {B: 255, A: 255},
		"#123456": {R: 0x12, G: 0x34, B: 0x56, A: 255},
	}
	for in, want := range cases {
		got, err := ParseHexColor(in)
		if err != nil || got != want {
			t.Fatalf("%s: expected %+v, got %+v (%v)", in, want, got, err)
		}
	}
	if _, err := ParseHexColor("#12345"); err == nil {
		t.Fatalf("expected error for malformed color")
	}
}

func TestProgressPercent(t *testing.T) {
	if (ProgressState{Processed: 1, Total: 3}).Percent() != 33 {
		t.Fatalf("expected truncation to 33")
	}
	if (ProgressState{}).Percent() != 0 {
		t.Fatalf("expected 0 for empty batch")
	}
}
