package apperr

import (
	"net/http"

	"google.golang.org/grpc/codes"
)

// Code is a machine-readable error code shared by every kernel boundary.
type Code string

const (
	CodeUnknown            Code = "UNKNOWN"
	CodeUnauthenticated    Code = "UNAUTHENTICATED"
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeLicenseViolation   Code = "LICENSE_VIOLATION"
	CodeQuotaExhausted     Code = "QUOTA_EXHAUSTED"
	CodeInvalidArgument    Code = "INVALID_ARGUMENT"
	CodeUnavailable        Code = "UNAVAILABLE"
	CodeConflict           Code = "CONFLICT"
	CodeNotFound           Code = "NOT_FOUND"
	CodeIntegrityViolation Code = "INTEGRITY_VIOLATION"
)

// GRPCCode maps the code onto the closest gRPC status code.
func (c Code) GRPCCode() codes.Code {
	switch c {
	case CodeUnauthenticated:
		return codes.Unauthenticated
	case CodeUnauthorized:
		return codes.PermissionDenied
	case CodeLicenseViolation:
		return codes.FailedPrecondition
	case CodeQuotaExhausted:
		return codes.ResourceExhausted
	case CodeInvalidArgument:
		return codes.InvalidArgument
	case CodeUnavailable:
		return codes.Unavailable
	case CodeConflict:
		return codes.Aborted
	case CodeNotFound:
		return codes.NotFound
	case CodeIntegrityViolation:
		return codes.DataLoss
	default:
		return codes.Internal
	}
}

// HTTPStatus maps the code onto an HTTP status.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeUnauthorized:
		return http.StatusForbidden
	case CodeLicenseViolation:
		return http.StatusPaymentRequired
	case CodeQuotaExhausted:
		return http.StatusTooManyRequests
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	case CodeConflict:
		return http.StatusConflict
	case CodeNotFound:
		return http.StatusNotFound
	case CodeIntegrityViolation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether a caller may retry the failed operation as is.
func (c Code) Retryable() bool {
	return c == CodeUnavailable || c == CodeConflict
}
