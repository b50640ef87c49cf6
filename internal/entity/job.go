package entity

import (
	"fmt"
	"image/color"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/pdf-watermarker/constants"
	"github.com/joseph-ayodele/pdf-watermarker/internal/common"
)

// JobConfig is the raw, unvalidated shape of a batch job as it arrives from a
// configuration surface (CLI flags, JSON job file, HTTP request).
type JobConfig struct {
	InputRoots    []string `json:"input_roots"`
	OutputRoot    string   `json:"output_root"`
	Include       []string `json:"include,omitempty"`
	Text          string   `json:"watermark_text,omitempty"`
	ImagePath     string   `json:"watermark_image,omitempty"`
	Transparency  int      `json:"transparency"`
	Position      string   `json:"position"`
	Color         string   `json:"font_color"`
	OCREnabled    bool     `json:"ocr_enabled"`
	OCRLanguage   string   `json:"ocr_language,omitempty"`
	Compress      bool     `json:"compress_enabled"`
	DPI           int      `json:"dpi"`
	FailurePolicy string   `json:"failure_policy,omitempty"`
}

// DefaultJobConfig mirrors the defaults of the original configuration surface.
func DefaultJobConfig() JobConfig {
	return JobConfig{
		Transparency:  50,
		Position:      string(constants.PositionCenter),
		Color:         "#FFFFFF",
		OCRLanguage:   "eng",
		DPI:           150,
		FailurePolicy: string(constants.FailureContinue),
	}
}

// WatermarkSpec describes what is composited onto every page.
type WatermarkSpec struct {
	Text         string
	ImagePath    string
	Transparency int // percent, 0..100
	Position     constants.Position
	Color        color.NRGBA // opaque; alpha is derived from Transparency
}

// Enabled reports whether there is anything to composite.
func (w WatermarkSpec) Enabled() bool {
	return w.Text != "" || w.ImagePath != ""
}

// Alpha is round(255 * transparency / 100), shared by the text and image layers.
func (w WatermarkSpec) Alpha() uint8 {
	return uint8((255*w.Transparency + 50) / 100)
}

// OCRSettings toggles the OCR post-pass.
type OCRSettings struct {
	Enabled  bool
	Language string
}

// Job is one validated batch run. Build it with NewJob; treat it as read-only afterwards.
type Job struct {
	ID            uuid.UUID
	InputRoots    []string // absolute, cleaned; InputRoots[0] is the primary root
	OutputRoot    string   // absolute, cleaned
	Include       []string // optional explicit source files (absolute)
	Watermark     WatermarkSpec
	OCR           OCRSettings
	Compress      bool
	DPI           int
	FailurePolicy constants.FailurePolicy
}

var ocrLanguageRegex = regexp.MustCompile(`^[a-z][a-z_]*(\+[a-z][a-z_]*)*$`)

// NewJob validates cfg eagerly and returns an immutable Job with a fresh run ID.
func NewJob(cfg JobConfig) (Job, error) {
	if cfg.FailurePolicy == "" {
		cfg.FailurePolicy = string(constants.FailureContinue)
	}
	if cfg.Position == "" {
		cfg.Position = string(constants.PositionCenter)
	}
	if cfg.Color == "" {
		cfg.Color = "#FFFFFF"
	}

	v := common.NewValidator()
	v.Field("input_roots", cfg.InputRoots, common.Required, common.ExistingDir).
		Field("output_root", cfg.OutputRoot, common.Required).
		Field("watermark_image", cfg.ImagePath, common.ExistingFile).
		Field("transparency", cfg.Transparency, common.IntRange(0, 100)).
		Field("position", cfg.Position, common.OneOf(constants.PositionsAsStringSlice()...)).
		Field("font_color", cfg.Color, common.HexColor).
		Field("dpi", cfg.DPI, common.IntRange(constants.MinDPI, constants.MaxDPI)).
		Field("failure_policy", cfg.FailurePolicy, common.OneOf(string(constants.FailureContinue), string(constants.FailureAbort)))
	if cfg.OCREnabled {
		v.Field("ocr_language", cfg.OCRLanguage, common.Required,
			common.Matches(ocrLanguageRegex, "must be a tesseract language code like eng or eng+deu"))
	}

	roots := make([]string, 0, len(cfg.InputRoots))
	for _, r := range cfg.InputRoots {
		abs, err := filepath.Abs(r)
		if err != nil {
			v.Check(false, "input_roots", r, err.Error())
			continue
		}
		roots = append(roots, abs)
	}
	var out string
	if cfg.OutputRoot != "" {
		abs, err := filepath.Abs(cfg.OutputRoot)
		if err != nil {
			v.Check(false, "output_root", cfg.OutputRoot, err.Error())
		}
		out = abs
	}
	for _, r := range roots {
		v.Check(out == "" || out != r, "output_root", cfg.OutputRoot, "must differ from every input root")
	}
	include := make([]string, 0, len(cfg.Include))
	for _, p := range cfg.Include {
		abs, err := filepath.Abs(p)
		if err == nil {
			v.Check(underAny(abs, roots), "include", p, "must live under an input root")
		}
		include = append(include, abs)
	}

	if err := v.Error(); err != nil {
		return Job{}, err
	}

	col, _ := ParseHexColor(cfg.Color)
	return Job{
		ID:         uuid.New(),
		InputRoots: roots,
		OutputRoot: out,
		Include:    include,
		Watermark: WatermarkSpec{
			Text:         cfg.Text,
			ImagePath:    cfg.ImagePath,
			Transparency: cfg.Transparency,
			Position:     constants.Position(cfg.Position),
			Color:        col,
		},
		OCR:           OCRSettings{Enabled: cfg.OCREnabled, Language: cfg.OCRLanguage},
		Compress:      cfg.Compress,
		DPI:           cfg.DPI,
		FailurePolicy: constants.FailurePolicy(cfg.FailurePolicy),
	}, nil
}

// ParseHexColor parses "#RGB" or "#RRGGBB" into an opaque color.
func ParseHexColor(s string) (color.NRGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return color.NRGBA{}, fmt.Errorf("invalid hex color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid hex color %q: %w", s, err)
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}

func underAny(path string, roots []string) bool {
	for _, r := range roots {
		rel, err := filepath.Rel(r, path)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
