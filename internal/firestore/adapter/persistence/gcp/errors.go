package gcp

import (
	"errors"

	apperrors "rxfirestore/internal/shared/errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// translateError maps a gRPC status from the SDK onto the application error
// types. Application errors pass through.
func translateError(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}

	message := "firestore " + op
	switch status.Code(err) {
	case codes.NotFound:
		return apperrors.NewNotFoundError(op).WithCause(err).WithComponent(component)
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return apperrors.NewValidationError(message + ": " + status.Convert(err).Message()).WithCause(err).WithComponent(component)
	case codes.Unauthenticated, codes.PermissionDenied:
		return apperrors.NewAuthenticationError(message + " denied").WithCause(err).WithComponent(component)
	case codes.AlreadyExists, codes.Aborted:
		return apperrors.NewConflictError(message + " conflicted").WithCause(err).WithComponent(component)
	case codes.DeadlineExceeded:
		return apperrors.NewTimeoutError(message + " timed out").WithComponent(component)
	default:
		return apperrors.NewBackendError(message + " failed").WithCause(err).WithComponent(component)
	}
}
