package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/helpdesk-labs/support-chat/internal/api/dto"
	"github.com/helpdesk-labs/support-chat/internal/service"
)

// PresenceHandler exposes the online snapshot to agents.
type PresenceHandler struct {
	tracker *service.PresenceTracker
}

// NewPresenceHandler constructs handler.
func NewPresenceHandler(tracker *service.PresenceTracker) *PresenceHandler {
	return &PresenceHandler{tracker: tracker}
}

// List GET /api/presence.
func (h *PresenceHandler) List(c *fiber.Ctx) error {
	records := h.tracker.ListOnline()
	items := make([]dto.PresenceResponse, 0, len(records))
	for _, record := range records {
		items = append(items, dto.NewPresenceResponse(record))
	}
	return c.JSON(fiber.Map{"data": items})
}
