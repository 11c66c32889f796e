package gateway

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/soniclane/transcript-pipeline/internal/logger"
	"github.com/soniclane/transcript-pipeline/internal/store"
	"github.com/soniclane/transcript-pipeline/internal/types"
)

// Handler owns the HTTP framing around Service.
type Handler struct {
	service  *Service
	store    *store.Store
	bus      *EventBus
	deadline time.Duration
	log      logger.Logger
}

// NewHandler wires the HTTP layer.
func NewHandler(service *Service, st *store.Store, bus *EventBus, deadline time.Duration, log logger.Logger) *Handler {
	if deadline <= 0 {
		deadline = 45 * time.Second
	}
	return &Handler{
		service:  service,
		store:    st,
		bus:      bus,
		deadline: deadline,
		log:      log,
	}
}

// Register mounts all routes on the app.
func (h *Handler) Register(app *fiber.App) {
	app.Get("/health", h.Health)
	app.Get("/webhook", h.Challenge)
	app.Post("/webhook", h.Webhook)
	app.Get("/jobs", h.ListJobs)
	app.Get("/jobs/:id", h.GetJob)
	app.Get("/ws/events", websocket.New(h.Events))
}

func (h *Handler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "healthy"})
}

// Challenge echoes the verification token storage providers send when a
// webhook endpoint is registered.
func (h *Handler) Challenge(c *fiber.Ctx) error {
	challenge := c.Query("challenge")
	if challenge == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing challenge"})
	}
	c.Set("Content-Type", "text/plain")
	return c.SendString(challenge)
}

// Webhook handles one change notification. The signature is checked
// against the raw body before anything else runs.
func (h *Handler) Webhook(c *fiber.Ctx) error {
	body := c.Body()
	if err := h.service.VerifySignature(body, c.Get(SignatureHeader)); err != nil {
		h.log.Warn("webhook rejected: bad signature from %s", c.IP())
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "invalid signature"})
	}

	ctx, cancel := context.WithTimeout(c.Context(), h.deadline)
	defer cancel()

	accepted, err := h.service.ProcessNotification(ctx)
	if err != nil {
		h.log.Error("webhook processing failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"accepted": accepted})
}

func (h *Handler) ListJobs(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	jobs, err := h.store.ListJobs(limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(jobs)
}

func (h *Handler) GetJob(c *fiber.Ctx) error {
	job, err := h.store.GetJob(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "job not found"})
	}
	return c.JSON(job)
}

// Events streams job state transitions over a websocket until the
// client goes away.
func (h *Handler) Events(conn *websocket.Conn) {
	defer conn.Close()

	events, cancel := h.bus.Subscribe()
	defer cancel()

	for event := range events {
		if err := conn.WriteJSON(event); err != nil {
			return
		}
	}
}

// PublishTransition adapts the bus to the orchestrator's transition
// hook.
func (h *Handler) PublishTransition(job *types.TranscriptionJob) {
	h.bus.Publish(JobEvent{
		JobID: job.ID,
		File:  job.File.Path,
		State: job.State,
		Error: job.Error,
		At:    time.Now().UTC(),
	})
}
