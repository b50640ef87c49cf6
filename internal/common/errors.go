package common

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Error codes carried by AppError. They classify which pipeline operation failed.
const (
	CodeDiscovery   = "DISCOVERY_ERROR"
	CodeRender      = "RENDER_ERROR"
	CodeOCR         = "OCR_ERROR"
	CodeCompression = "COMPRESSION_ERROR"
	CodeIO          = "IO_ERROR"
	CodeConfig      = "CONFIG_ERROR"
	CodeValidation  = "VALIDATION_ERROR"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrDatabase     = errors.New("database error")
	ErrValidation   = errors.New("validation failed")

	// ErrStopped is returned from a checkpoint once Stop() has been requested.
	ErrStopped = errors.New("processing stopped")
	// ErrInvalidState is returned when a control call does not fit the run's current state.
	ErrInvalidState = errors.New("invalid state transition")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func RenderError(path string, cause error) error {
	return NewAppError(CodeRender, "render "+path, cause)
}

func OCRError(path string, diagnostic string, cause error) error {
	msg := "ocr " + path
	if diagnostic != "" {
		msg += ": " + diagnostic
	}
	return NewAppError(CodeOCR, msg, cause)
}

func CompressionError(path string, cause error) error {
	return NewAppError(CodeCompression, "compress "+path, cause)
}

func IOError(op, path string, cause error) error {
	return NewAppError(CodeIO, op+" "+path, cause)
}

func DiscoveryError(root string, cause error) error {
	return NewAppError(CodeDiscovery, "discover "+root, cause)
}

// CodeOf returns the Code of the outermost AppError in err's chain, or "" when there is none.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// gRPC error helpers
func InvalidArgumentError(message string) error {
	return status.Error(codes.InvalidArgument, message)
}

func NotFoundError(message string) error {
	return status.Error(codes.NotFound, message)
}

func InvalidArgumentErrorf(format string, args ...interface{}) error {
	return InvalidArgumentError(fmt.Sprintf(format, args...))
}

// GRPCCode maps an application error onto the closest gRPC status code.
func GRPCCode(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	if s, ok := status.FromError(err); ok && s.Code() != codes.Unknown {
		return s.Code()
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return codes.NotFound
	case errors.Is(err, ErrStopped):
		return codes.Canceled
	case errors.Is(err, ErrInvalidState):
		return codes.FailedPrecondition
	case errors.Is(err, ErrDatabase):
		return codes.Unavailable
	}
	switch CodeOf(err) {
	case CodeValidation, CodeConfig:
		return codes.InvalidArgument
	case CodeRender, CodeOCR, CodeCompression:
		return codes.Aborted
	case CodeIO, CodeDiscovery:
		return codes.Unavailable
	}
	return codes.Internal
}
