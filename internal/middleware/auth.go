package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/musicgen/internal/auth"
	"github.com/makeasinger/musicgen/pkg/response"
)

const (
	localUserID = "userId"
	localEmail  = "email"
	localClaims = "claims"
)

// AuthMiddleware handles JWT authentication
type AuthMiddleware struct {
	verifier auth.Verifier
}

// NewAuthMiddleware creates auth middleware. A nil verifier rejects every
// request.
func NewAuthMiddleware(verifier auth.Verifier) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
	}
}

// Authenticate validates JWT token from Authorization header
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if m.verifier == nil {
			return response.Unauthorized(c, "Authentication not configured")
		}

		tokenString, ok := BearerToken(c)
		if !ok {
			return response.Unauthorized(c, "Missing or invalid authorization header")
		}

		claims, err := m.verifier.Verify(tokenString)
		if err != nil {
			return response.Unauthorized(c, "Invalid or expired token")
		}

		setIdentity(c, claims.UserID, claims.Email)
		c.Locals(localClaims, claims)
		return c.Next()
	}
}

// BearerToken extracts the token from "Authorization: Bearer <token>".
func BearerToken(c *fiber.Ctx) (string, bool) {
	parts := strings.SplitN(c.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// GetUserID extracts user ID from context
func GetUserID(c *fiber.Ctx) string {
	if userID, ok := c.Locals(localUserID).(string); ok {
		return userID
	}
	return ""
}

// GetUserEmail extracts user email from context
func GetUserEmail(c *fiber.Ctx) string {
	if email, ok := c.Locals(localEmail).(string); ok {
		return email
	}
	return ""
}
