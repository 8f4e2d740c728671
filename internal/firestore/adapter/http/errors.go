package http

import (
	"errors"

	"rxfirestore/internal/firestore/domain/model"
	apperrors "rxfirestore/internal/shared/errors"
	"rxfirestore/internal/shared/logger"

	"github.com/gofiber/fiber/v2"
)

// ErrorResponse is the body of every failed gateway request.
type ErrorResponse struct {
	Error model.ErrorPayload `json:"error"`
}

// NewErrorPayload describes err for the wire. Application errors keep
// their type and code so that clients can rebuild them.
func NewErrorPayload(err error) model.ErrorPayload {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return model.ErrorPayload{
			Type:    string(appErr.Type),
			Code:    appErr.Code,
			Message: appErr.Message,
			Status:  apperrors.HTTPStatus(appErr),
		}
	}
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return model.ErrorPayload{Message: fiberErr.Message, Status: fiberErr.Code}
	}
	return model.ErrorPayload{
		Type:    string(apperrors.ErrorTypeInternal),
		Message: err.Error(),
		Status:  fiber.StatusInternalServerError,
	}
}

// ErrorHandler renders handler errors as an ErrorResponse with the status
// the error carries.
func ErrorHandler(log logger.Logger) fiber.ErrorHandler {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return func(c *fiber.Ctx, err error) error {
		payload := NewErrorPayload(err)
		if payload.Status >= fiber.StatusInternalServerError {
			log.WithContext(c.UserContext()).WithFields(map[string]interface{}{
				"method": c.Method(),
				"path":   c.Path(),
				"status": payload.Status,
			}).Errorf("Request failed: %v", err)
		}
		return c.Status(payload.Status).JSON(ErrorResponse{Error: payload})
	}
}
