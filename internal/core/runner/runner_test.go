package runner

import (
	"context"
	"os/exec"
	"strings"
	"testing"
)

func TestExecRunCapturesOutput(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	out, errb, err := Exec{}.Run(context.Background(), "sh", nil, "-c", "echo hello; echo oops 1>&2; exit 3")
	if err == nil {
		t.Fatalf("expected non-zero exit error")
	}
	if strings.TrimSpace(string(out)) != "hello" {
		t.Fatalf("unexpected stdout %q", out)
	}
	if strings.TrimSpace(string(errb)) != "oops" {
		t.Fatalf("unexpected stderr %q", errb)
	}
}

func TestTruncate(t *testing.T) {
	if Truncate("abc", 5) != "abc" {
		t.Fatalf("short strings must be untouched")
	}
	if got := Truncate("abcdef", 3); got != "abc...(truncated)" {
		t.Fatalf("unexpected truncation %q", got)
	}
}
