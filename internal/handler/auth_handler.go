package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/musicgen/internal/auth"
	"github.com/makeasinger/musicgen/internal/middleware"
)

// AuthHandler handles ForwardAuth verification for the API gateway
type AuthHandler struct {
	verifier auth.Verifier
}

// NewAuthHandler creates a new auth handler for ForwardAuth verification
func NewAuthHandler(verifier auth.Verifier) *AuthHandler {
	return &AuthHandler{
		verifier: verifier,
	}
}

// Verify handles GET /auth/verify, called by Traefik ForwardAuth.
// Returns 200 with X-User-* headers on success, 401 on failure.
func (h *AuthHandler) Verify(c *fiber.Ctx) error {
	tokenString, ok := middleware.BearerToken(c)
	if !ok || h.verifier == nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	claims, err := h.verifier.Verify(tokenString)
	if err != nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	c.Set(auth.HeaderUserID, claims.UserID)
	c.Set(auth.HeaderUserEmail, claims.Email)
	return c.SendStatus(fiber.StatusOK)
}
