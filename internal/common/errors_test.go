package common

import (
	"errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
)

func TestAppError_WrapsCause(t *testing.T) {
	cause := errors.New("exit status 2")
	err := fmt.Errorf("document: %w", OCRError("/in/a.pdf", "tesseract missing", cause))

	if got := CodeOf(err); got != CodeOCR {
		t.Fatalf("CodeOf = %q, want %q", got, CodeOCR)
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to be reachable through the chain")
	}
	want := "document: OCR_ERROR: ocr /in/a.pdf: tesseract missing: exit status 2"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
	if CodeOf(cause) != "" {
		t.Fatal("plain errors carry no code")
	}
}

func TestGRPCCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want codes.Code
	}{
		{"nil", nil, codes.OK},
		{"status", NotFoundError("run"), codes.NotFound},
		{"not found", fmt.Errorf("run x: %w", ErrNotFound), codes.NotFound},
		{"stopped", ErrStopped, codes.Canceled},
		{"state", fmt.Errorf("pause: %w", ErrInvalidState), codes.FailedPrecondition},
		{"database", fmt.Errorf("list runs: %w", ErrDatabase), codes.Unavailable},
		{"validation", NewValidator().Check(false, "dpi", 0, "bad").Error(), codes.InvalidArgument},
		{"config", NewAppError(CodeConfig, "bad engine", ErrInvalidInput), codes.InvalidArgument},
		{"render", RenderError("/a.pdf", errors.New("boom")), codes.Aborted},
		{"compress", CompressionError("/a.pdf", errors.New("boom")), codes.Aborted},
		{"io", IOError("rename", "/a.pdf", errors.New("boom")), codes.Unavailable},
		{"discovery", DiscoveryError("/in", errors.New("boom")), codes.Unavailable},
		{"other", errors.New("boom"), codes.Internal},
	}
	for _, tc := range cases {
		if got := GRPCCode(tc.err); got != tc.want {
			t.Errorf("%s: GRPCCode = %v, want %v", tc.name, got, tc.want)
		}
	}
}
