package api

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/saze24/backtester/internal/domain"
)

// Code maps an error to its gRPC status code.
func Code(err error) codes.Code {
	switch {
	case err == nil:
		return codes.OK
	case errors.Is(err, domain.ErrDuplicateTestName):
		return codes.AlreadyExists
	case errors.Is(err, domain.ErrInvalidRange), errors.Is(err, domain.ErrInvalidTestName):
		return codes.InvalidArgument
	case errors.Is(err, domain.ErrSeriesIntegrity):
		return codes.FailedPrecondition
	case errors.Is(err, domain.ErrNotFound):
		return codes.NotFound
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}

// toStatus converts err to a gRPC status error. Internal errors keep their
// detail out of the response.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	c := Code(err)
	if c == codes.Internal {
		return status.Error(c, "internal error")
	}
	return status.Error(c, err.Error())
}
