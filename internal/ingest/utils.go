package ingest

import (
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/pdf-watermarker/constants"
)

// Candidate reports whether a file name should become a document task.
func Candidate(name string) bool {
	return constants.IsPDF(name)
}

// within reports whether path is root or lies below it.
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && !escapes(rel)
}

func escapes(rel string) bool {
	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
