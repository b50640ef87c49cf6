package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/joseph-ayodele/pdf-watermarker/constants"
	"github.com/joseph-ayodele/pdf-watermarker/internal/entity"
)

func TestParseArgsFlagsOnly(t *testing.T) {
	opts, err := parseArgs([]string{
		"--in", "/a", "--in", "/b", "--out", "/out",
		"--text", "CONFIDENTIAL", "--position", "diagonal", "--color", "#FF0000",
		"--ocr", "--lang", "deu", "--dpi", "300", "--report", "/tmp/r.xlsx",
	}, "ledger.db")
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	j := opts.job
	if len(j.InputRoots) != 2 || j.InputRoots[1] != "/b" || j.OutputRoot != "/out" {
		t.Fatalf("roots = %v %s", j.InputRoots, j.OutputRoot)
	}
	if j.Text != "CONFIDENTIAL" || j.Position != "diagonal" || j.Color != "#FF0000" || !j.OCREnabled || j.OCRLanguage != "deu" || j.DPI != 300 {
		t.Fatalf("job = %+v", j)
	}
	if j.Transparency != 50 || j.FailurePolicy != string(constants.FailureContinue) {
		t.Fatalf("defaults lost: %+v", j)
	}
	if opts.report != "/tmp/r.xlsx" || opts.ledgerDSN != "ledger.db" {
		t.Fatalf("opts = %+v", opts)
	}
}

func TestParseArgsFlagsOverrideJobFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "job.json")
	doc := `{"input_roots":["in"],"output_root":"out","watermark_text":"DRAFT","dpi":200,"compress_enabled":true}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	opts, err := parseArgs([]string{"--job", path, "--text", "FINAL", "--ledger", ""}, "ledger.db")
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	j := opts.job
	if j.Text != "FINAL" || j.DPI != 200 || !j.Compress || j.InputRoots[0] != filepath.Join(dir, "in") {
		t.Fatalf("job = %+v", j)
	}
	if opts.ledgerDSN != "" {
		t.Fatalf("ledger = %q", opts.ledgerDSN)
	}
}

func TestParseArgsErrors(t *testing.T) {
	for name, args := range map[string][]string{
		"missing out": {"--in", "/a"},
		"missing in":  {"--out", "/b"},
		"bad dpi":     {"--in", "/a", "--out", "/b", "--dpi", "123"},
		"bad flag":    {"--nope"},
	} {
		if _, err := parseArgs(args, ""); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestExitCode(t *testing.T) {
	cases := []struct {
		sum  entity.Summary
		want int
	}{
		{entity.Summary{State: constants.RunStateCompleted}, 0},
		{entity.Summary{State: constants.RunStateCompleted, Progress: entity.ProgressState{Failed: 1}}, 1},
		{entity.Summary{State: constants.RunStateFailed}, 1},
		{entity.Summary{State: constants.RunStateAborted}, 130},
	}
	for _, tc := range cases {
		if got := exitCode(tc.sum); got != tc.want {
			t.Errorf("exitCode(%s) = %d, want %d", tc.sum.State, got, tc.want)
		}
	}
}
