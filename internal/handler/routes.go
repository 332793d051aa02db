package handler

import (
	"errors"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	ws "github.com/makeasinger/musicgen/internal/websocket"
	"github.com/makeasinger/musicgen/pkg/response"
)

// Routes wires the handlers onto an app. Hub and SubmitLimit are optional.
type Routes struct {
	Generation  *GenerationHandler
	Webhook     *WebhookHandler
	Health      *HealthHandler
	Auth        *AuthHandler
	Hub         *ws.Hub
	APIAuth     fiber.Handler
	SubmitLimit fiber.Handler
}

// Register mounts every route
func (r *Routes) Register(app *fiber.App) {
	app.Get("/", r.Health.Root)
	app.Get("/health", r.Health.Health)

	// ForwardAuth verification endpoint (internal, called by Traefik)
	if r.Auth != nil {
		app.Get("/auth/verify", r.Auth.Verify)
	}

	// Provider callbacks carry no user identity
	app.Post("/webhooks/suno", r.Webhook.Suno)

	api := app.Group("/api", r.APIAuth)

	submit := []fiber.Handler{r.Generation.Create}
	if r.SubmitLimit != nil {
		submit = append([]fiber.Handler{r.SubmitLimit}, submit...)
	}
	api.Post("/generations", submit...)
	api.Get("/generations/:jobId", r.Generation.Get)
	api.Get("/provider/credits", r.Generation.Credits)

	if r.Hub == nil {
		return
	}

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		r.Hub.HandleConnection(c, c.Params("jobId"))
	}))
}

// ErrorHandler renders fiber errors in the API error envelope
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}

	return response.Error(c, code, response.CodeServiceError, message, nil)
}
