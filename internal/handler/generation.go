package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/musicgen/internal/middleware"
	"github.com/makeasinger/musicgen/internal/model"
	"github.com/makeasinger/musicgen/internal/service"
	"github.com/makeasinger/musicgen/pkg/response"
)

type GenerationHandler struct {
	service   *service.GenerationService
	validator *validator.Validate
}

func NewGenerationHandler(svc *service.GenerationService, v *validator.Validate) *GenerationHandler {
	return &GenerationHandler{
		service:   svc,
		validator: v,
	}
}

// Create handles POST /api/generations
// @Summary      Submit generation
// @Description  Submit a music generation and wait a bounded time for the result.
// @Description  Responds 200 once the job is terminal, 202 while it is still running.
// @Tags         Generations
// @Accept       json
// @Produce      json
// @Param        request body model.GenerationRequest true "Generation request"
// @Success      200 {object} model.SubmitResult
// @Success      202 {object} model.SubmitResult
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      402 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      502 {object} response.ErrorResponse
// @Failure      503 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/generations [post]
func (h *GenerationHandler) Create(c *fiber.Ctx) error {
	var req model.GenerationRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Submit(c.UserContext(), service.SubmitInputFromRequest(&req, middleware.GetUserID(c)))
	if err != nil {
		jobID := ""
		if result != nil {
			jobID = result.JobID
		}
		return serviceError(c, err, jobID)
	}

	if result.Stage.IsTerminal() {
		return response.OK(c, result)
	}
	return response.Accepted(c, result)
}

// Get handles GET /api/generations/:jobId
// @Summary      Get generation
// @Description  Get the current state of a generation job
// @Tags         Generations
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.JobStatusResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/generations/{jobId} [get]
func (h *GenerationHandler) Get(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	job, err := h.service.GetJob(c.UserContext(), jobID)
	if err != nil {
		return serviceError(c, err, "")
	}

	// other users' jobs look missing
	if userID := middleware.GetUserID(c); userID != "" && job.UserID != userID {
		return response.NotFound(c, "Job not found")
	}

	return response.OK(c, model.NewJobStatusResponse(job))
}

// Credits handles GET /api/provider/credits
// @Summary      Provider credits
// @Description  Remaining credit balance at the generation provider
// @Tags         Provider
// @Produce      json
// @Success      200 {object} model.CreditsResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      502 {object} response.ErrorResponse
// @Failure      503 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/provider/credits [get]
func (h *GenerationHandler) Credits(c *fiber.Ctx) error {
	credits, err := h.service.GetCredits(c.UserContext())
	if err != nil {
		return serviceError(c, err, "")
	}
	return response.OK(c, model.CreditsResponse{Credits: credits})
}
