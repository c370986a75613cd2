// Package handlers contains HTTP request handlers and presentation layer logic for the API endpoints
package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/astro-dispatch/app/dto"
	businessflow "github.com/amirphl/astro-dispatch/business_flow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"
)

const defaultRequestTimeout = 30 * time.Second

// responder holds the response helpers shared by every handler
type responder struct {
	validator *validator.Validate
	logger    zerolog.Logger
}

func newResponder(logger zerolog.Logger) responder {
	return responder{
		validator: validator.New(),
		logger:    logger.With().Str("component", "http").Logger(),
	}
}

func (h responder) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h responder) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// validate runs struct validation and writes a 400 with per-field messages on failure
func (h responder) validate(c fiber.Ctx, req any) (bool, error) {
	err := h.validator.Struct(req)
	if err == nil {
		return true, nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		details := make(map[string]string, len(fieldErrs))
		for _, fe := range fieldErrs {
			details[fe.Namespace()] = getValidationErrorMessage(fe)
		}
		return false, h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", details)
	}
	return false, h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", err.Error())
}

// flowError maps a business flow error to its HTTP status
func (h responder) flowError(c fiber.Ctx, err error, fallbackMessage, fallbackCode string) error {
	code, message := fallbackCode, fallbackMessage
	var be *businessflow.BusinessError
	if errors.As(err, &be) {
		code, message = be.Code, be.Message
	}

	switch {
	case businessflow.IsValidationError(err):
		return h.ErrorResponse(c, fiber.StatusBadRequest, message, code, nil)
	case businessflow.IsBroadcastNotFound(err):
		return h.ErrorResponse(c, fiber.StatusNotFound, "Broadcast job not found", "BROADCAST_NOT_FOUND", nil)
	case businessflow.IsBroadcastInvalidTransition(err):
		return h.ErrorResponse(c, fiber.StatusConflict, message, "INVALID_STATUS_TRANSITION", nil)
	case businessflow.IsDispatchNotConfigured(err):
		return h.ErrorResponse(c, fiber.StatusServiceUnavailable, "Broadcast dispatch is not configured", "DISPATCH_NOT_CONFIGURED", nil)
	}

	h.logger.Error().Err(err).Str("path", c.Path()).Str("code", code).Msg("request failed")
	return h.ErrorResponse(c, fiber.StatusInternalServerError, fallbackMessage, fallbackCode, nil)
}

// requestContext derives a bounded context from the request
func (h responder) requestContext(c fiber.Ctx, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return context.WithTimeout(c.Context(), timeout)
}

func getValidationErrorMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return err.Field() + " is required"
	case "min":
		return err.Field() + " must be at least " + err.Param()
	case "max":
		return err.Field() + " must be at most " + err.Param()
	case "len":
		return err.Field() + " must be exactly " + err.Param() + " characters"
	case "oneof":
		return err.Field() + " must be one of: " + err.Param()
	case "url":
		return err.Field() + " must be a valid URL"
	case "uuid":
		return err.Field() + " must be a valid UUID"
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", err.Field(), err.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", err.Field(), err.Param())
	default:
		return err.Field() + " is invalid"
	}
}
