// Package ingest finds the PDFs a batch run will process, either by walking
// the input roots or by watching a hot folder for new arrivals.
package ingest

// DirStats summarizes one discovery pass.
type DirStats struct {
	Scanned    uint32 // entries visited
	Matched    uint32 // PDFs turned into tasks
	Skipped    uint32 // hidden, temporary or non-regular entries
	Failed     uint32 // unreadable roots or subdirectories
	Collisions uint32 // tasks sharing an output path with an earlier one
}
