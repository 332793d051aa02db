package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/musicgen/internal/auth"
	"github.com/makeasinger/musicgen/pkg/response"
)

// GatewayAuthMiddleware trusts the identity headers written by the gateway
// after it called /auth/verify. Only use it when the service is unreachable
// except through that gateway.
func GatewayAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Get(auth.HeaderUserID)
		if userID == "" {
			return response.Unauthorized(c, "Missing user identity headers")
		}
		setIdentity(c, userID, c.Get(auth.HeaderUserEmail))
		return c.Next()
	}
}

func setIdentity(c *fiber.Ctx, userID, email string) {
	c.Locals(localUserID, userID)
	c.Locals(localEmail, email)
}
