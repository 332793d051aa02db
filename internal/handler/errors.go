package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/musicgen/internal/client"
	"github.com/makeasinger/musicgen/internal/logger"
	"github.com/makeasinger/musicgen/internal/model"
	"github.com/makeasinger/musicgen/internal/service"
	"github.com/makeasinger/musicgen/pkg/response"
)

// serviceError maps orchestrator errors onto HTTP responses. jobID is
// echoed when the job was created before the failure.
func serviceError(c *fiber.Ctx, err error, jobID string) error {
	var perr *client.ProviderError
	switch {
	case errors.Is(err, service.ErrValidation):
		return response.JobError(c, fiber.StatusBadRequest, response.CodeValidationError, err.Error(), jobID, nil)

	case errors.Is(err, model.ErrJobNotFound):
		return response.NotFound(c, "Job not found")

	case errors.As(err, &perr):
		status, code := providerStatus(perr.Kind)
		return response.JobError(c, status, code, perr.Message, jobID, nil)

	default:
		logger.WithFields(logger.Fields{"job_id": jobID, "path": c.Path()}).Errorf("[HTTP] internal error: %v", err)
		return response.JobError(c, fiber.StatusInternalServerError, response.CodeServiceError, "Internal error", jobID, nil)
	}
}

func providerStatus(kind client.ErrorKind) (int, string) {
	switch kind {
	case client.KindAuth:
		return fiber.StatusBadGateway, response.CodeProviderAuth
	case client.KindNoCredits:
		return fiber.StatusPaymentRequired, response.CodeNoCredits
	case client.KindRateLimited:
		return fiber.StatusTooManyRequests, response.CodeRateLimited
	case client.KindUnavailable:
		return fiber.StatusServiceUnavailable, response.CodeProviderUnavailable
	default:
		return fiber.StatusBadGateway, response.CodeUnexpectedResponse
	}
}

// formatValidationErrors formats validator errors for response
func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}
