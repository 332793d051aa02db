package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/musicgen/internal/service"
	"github.com/makeasinger/musicgen/pkg/response"
)

type WebhookHandler struct {
	service *service.GenerationService
}

func NewWebhookHandler(svc *service.GenerationService) *WebhookHandler {
	return &WebhookHandler{service: svc}
}

// Suno handles POST /webhooks/suno
// @Summary      Provider callback
// @Description  Receives generation callbacks. Always answers 200 so the provider never retries.
// @Tags         Webhooks
// @Accept       json
// @Produce      json
// @Success      200 {object} model.CallbackAck
// @Router       /webhooks/suno [post]
func (h *WebhookHandler) Suno(c *fiber.Ctx) error {
	ack := h.service.HandleCallback(c.UserContext(), c.Body())
	return response.OK(c, ack)
}
