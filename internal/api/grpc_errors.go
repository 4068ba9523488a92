package api

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/solar-placement/internal/layoutfile"
	"github.com/signalsfoundry/solar-placement/internal/placement"
)

var (
	// ErrNoPublishedPoses is returned when nothing has been published yet.
	ErrNoPublishedPoses = errors.New("no published pose set")
	// ErrInvalidRequest is used when a request envelope cannot be decoded.
	ErrInvalidRequest = errors.New("invalid request")
)

// ToStatusError maps placement errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, ErrNoPublishedPoses):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, layoutfile.ErrInvalidDocument),
		errors.Is(err, placement.ErrInvalidLayout):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, placement.ErrEmptyLayout):
		return status.Error(codes.FailedPrecondition, err.Error())

	case errors.Is(err, placement.ErrSuperseded):
		return status.Error(codes.Aborted, err.Error())

	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())

	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}
