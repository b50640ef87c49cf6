package ocr

import (
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

var (
	reCRLF       = regexp.MustCompile(`\r\n?`)
	reTabs       = regexp.MustCompile(`\t+`)
	reMultiSpace = regexp.MustCompile(` {2,}`)
	reMultiBlank = regexp.MustCompile(`\n{3,}`)
)

// Normalize collapses noisy whitespace in extracted text.
// Line breaks are kept; runs of blank lines become a single blank line.
func Normalize(s string) string {
	if s == "" {
		return s
	}
	s = reCRLF.ReplaceAllString(s, "\n")
	s = reTabs.ReplaceAllString(s, " ")
	s = reMultiSpace.ReplaceAllString(s, " ")
	s = reMultiBlank.ReplaceAllString(s, "\n\n")
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// PageCount opens path as a PDF and returns its page count.
func PageCount(path string) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()
	f, r, err := pdf.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()
	return r.NumPage(), nil
}

// TextChars is the length in runes of the normalized text layer of path.
// Extraction problems are logged and count as zero; they never fail the stage.
func TextChars(path string, logger *slog.Logger) (n int) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("text extraction panicked", "path", path, "panic", r)
			n = 0
		}
	}()
	f, r, err := pdf.Open(path)
	if err != nil {
		logger.Warn("open for text extraction failed", "path", path, "error", err)
		return 0
	}
	defer func() { _ = f.Close() }()

	rd, err := r.GetPlainText()
	if err != nil {
		logger.Warn("text extraction failed", "path", path, "error", err)
		return 0
	}
	b, err := io.ReadAll(rd)
	if err != nil {
		logger.Warn("text extraction failed", "path", path, "error", err)
		return 0
	}
	return utf8.RuneCountInString(Normalize(string(b)))
}
