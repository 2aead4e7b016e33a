package apperr

import (
	"context"
	"errors"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/status"
)

// Domain is the ErrorInfo domain reported on gRPC statuses.
const Domain = "tenantgov.org"

// Error is the kernel error type with structured metadata.
type Error struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Sentinels for errors.Is checks; matching is by code only.
var (
	ErrUnauthenticated    = &Error{Code: CodeUnauthenticated, Message: "unauthenticated"}
	ErrUnauthorized       = &Error{Code: CodeUnauthorized, Message: "unauthorized"}
	ErrLicenseViolation   = &Error{Code: CodeLicenseViolation, Message: "license violation"}
	ErrQuotaExhausted     = &Error{Code: CodeQuotaExhausted, Message: "quota exhausted"}
	ErrInvalidArgument    = &Error{Code: CodeInvalidArgument, Message: "invalid argument"}
	ErrUnavailable        = &Error{Code: CodeUnavailable, Message: "infrastructure unavailable"}
	ErrConflict           = &Error{Code: CodeConflict, Message: "conflict"}
	ErrNotFound           = &Error{Code: CodeNotFound, Message: "not found"}
	ErrIntegrityViolation = &Error{Code: CodeIntegrityViolation, Message: "integrity violation"}
)

func (e *Error) Error() string {
	if e.Cause != nil && e.Code == CodeUnavailable {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates an error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithMetadata creates an error carrying structured metadata for the boundary.
func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{Code: code, Message: message, Metadata: metadata}
}

// Wrap creates an error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// InvalidArgument is a shorthand for validation failures.
func InvalidArgument(message string) *Error {
	return New(CodeInvalidArgument, message)
}

// Unavailable marks a port failure as retryable infrastructure trouble.
// Already classified errors pass through untouched.
func Unavailable(op string, cause error) error {
	if cause == nil {
		return nil
	}
	var e *Error
	if errors.As(cause, &e) {
		return cause
	}
	return Wrap(CodeUnavailable, op, cause)
}

// CodeOf extracts the code of err, falling back to CodeUnknown.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return CodeUnavailable
	}
	return CodeUnknown
}

// MetadataOf returns the metadata of the outermost kernel error in err's chain.
func MetadataOf(err error) map[string]string {
	var e *Error
	if errors.As(err, &e) {
		return e.Metadata
	}
	return nil
}

// IsRetryable reports whether err is worth retrying with backoff.
func IsRetryable(err error) bool {
	return CodeOf(err).Retryable()
}

// ToGRPCStatus converts the error to a gRPC status with an ErrorInfo detail.
func (e *Error) ToGRPCStatus() *status.Status {
	st := status.New(e.Code.GRPCCode(), e.Message)
	detailed, err := st.WithDetails(&errdetails.ErrorInfo{
		Reason:   string(e.Code),
		Domain:   Domain,
		Metadata: e.Metadata,
	})
	if err != nil {
		return st
	}
	return detailed
}

// ToGRPC converts any error into a gRPC status error.
func ToGRPC(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e.ToGRPCStatus().Err()
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	if CodeOf(err) == CodeUnavailable {
		return Wrap(CodeUnavailable, "deadline exceeded", err).ToGRPCStatus().Err()
	}
	return status.New(CodeUnknown.GRPCCode(), "internal error").Err()
}
