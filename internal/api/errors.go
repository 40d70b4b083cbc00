package api

import (
	"errors"
	"net/http"

	"kostbook/internal/domain"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var errRateLimited = errors.New("rate limit exceeded")

type errorMapping struct {
	target   error
	httpCode int
	grpcCode codes.Code
}

// Order matters: the first match wins.
var errorMappings = []errorMapping{
	{domain.ErrValidation, http.StatusBadRequest, codes.InvalidArgument},
	{domain.ErrForbidden, http.StatusForbidden, codes.PermissionDenied},
	{domain.ErrInvalidCode, http.StatusNotFound, codes.NotFound},
	{domain.ErrNotFound, http.StatusNotFound, codes.NotFound},
	{domain.ErrRoomUnavailable, http.StatusConflict, codes.Aborted},
	{domain.ErrInvalidTransition, http.StatusConflict, codes.FailedPrecondition},
	{domain.ErrConcurrencyConflict, http.StatusConflict, codes.Aborted},
	{domain.ErrTooEarly, http.StatusUnprocessableEntity, codes.FailedPrecondition},
	{domain.ErrTooLate, http.StatusUnprocessableEntity, codes.FailedPrecondition},
	{errRateLimited, http.StatusTooManyRequests, codes.ResourceExhausted},
}

func httpStatusFor(err error) int {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.httpCode
		}
	}
	return http.StatusInternalServerError
}

// grpcError converts an engine error into a status error. Unknown errors are
// reported as Internal without leaking their text.
func grpcError(err error) error {
	if err == nil {
		return nil
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return status.Error(m.grpcCode, err.Error())
		}
	}
	return status.Error(codes.Internal, "internal error")
}

// publicMessage hides internal failures from HTTP clients.
func publicMessage(err error, code int) string {
	if code == http.StatusInternalServerError {
		return "internal error"
	}
	return err.Error()
}
