package constants

import "strings"

// PDFExt is the extension discovered under input roots (compared case-insensitively).
const PDFExt = "pdf"

// Suffixes of the sibling temporaries written next to an output file. Each stage
// writes to its own temporary and renames over the final path only on success.
const (
	TempSuffix       = "_temp.pdf"
	OCRSuffix        = "_ocr.pdf"
	CompressedSuffix = "_compressed.pdf"
)

// AllowedDPI holds the resolutions offered by the configuration surfaces.
var AllowedDPI = []int{75, 100, 150, 200, 250, 300}

// Render resolution bounds accepted by the core.
const (
	MinDPI = 10
	MaxDPI = 600
)

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// IsPDF reports whether name carries the PDF extension.
func IsPDF(name string) bool {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return false
	}
	return NormalizeExt(name[i:]) == PDFExt
}

// SiblingPath replaces the extension of path with suffix (e.g. "a/b.pdf" -> "a/b_temp.pdf").
func SiblingPath(path, suffix string) string {
	i := strings.LastIndexByte(path, '.')
	if i < 0 || strings.ContainsAny(path[i:], `/\`) {
		return path + suffix
	}
	return path[:i] + suffix
}
