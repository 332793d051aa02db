package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/musicgen/internal/model"
	"github.com/makeasinger/musicgen/pkg/response"
)

// HealthHandler reports configuration and orchestrator load
type HealthHandler struct {
	services fiber.Map
	stats    func() model.OrchestratorStats
}

func NewHealthHandler(services fiber.Map, stats func() model.OrchestratorStats) *HealthHandler {
	return &HealthHandler{
		services: services,
		stats:    stats,
	}
}

// Root handles GET /
func (h *HealthHandler) Root(c *fiber.Ctx) error {
	return response.OK(c, fiber.Map{
		"timestamp": time.Now().Unix(),
	})
}

// Health handles GET /health
// @Summary      Health check
// @Tags         Health
// @Produce      json
// @Success      200 {object} map[string]interface{}
// @Router       /health [get]
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	body := fiber.Map{
		"status":   "ok",
		"services": h.services,
	}
	if h.stats != nil {
		body["orchestrator"] = h.stats()
	}
	return response.OK(c, body)
}
