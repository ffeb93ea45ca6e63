package handlers

import (
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/helpdesk-labs/support-chat/internal/api/dto"
	"github.com/helpdesk-labs/support-chat/internal/auth"
	"github.com/helpdesk-labs/support-chat/internal/domain"
	"github.com/helpdesk-labs/support-chat/internal/service"
	apperrors "github.com/helpdesk-labs/support-chat/pkg/util/errorutil"
)

// ConversationHandler exposes the conversation lifecycle over HTTP.
type ConversationHandler struct {
	router *service.ConversationRouter
}

// NewConversationHandler constructs handler.
func NewConversationHandler(router *service.ConversationRouter) *ConversationHandler {
	return &ConversationHandler{router: router}
}

// Create POST /api/conversations.
func (h *ConversationHandler) Create(c *fiber.Ctx) error {
	principal, err := principalOf(c)
	if err != nil {
		return err
	}
	var req dto.CreateConversationRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	conv, err := h.router.Create(c.UserContext(), principal, req.DepartmentID)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewConversationResponse(conv)})
}

// AssignDepartment POST /api/conversations/:id/department.
func (h *ConversationHandler) AssignDepartment(c *fiber.Ctx) error {
	principal, err := principalOf(c)
	if err != nil {
		return err
	}
	id, err := conversationID(c)
	if err != nil {
		return err
	}
	var req dto.DepartmentRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	conv, err := h.router.AssignDepartment(c.UserContext(), principal, id, req.DepartmentID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewConversationResponse(conv)})
}

// Accept POST /api/conversations/:id/accept.
func (h *ConversationHandler) Accept(c *fiber.Ctx) error {
	principal, err := principalOf(c)
	if err != nil {
		return err
	}
	id, err := conversationID(c)
	if err != nil {
		return err
	}
	conv, err := h.router.Accept(c.UserContext(), principal, id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewConversationResponse(conv)})
}

// Transfer POST /api/conversations/:id/transfer.
func (h *ConversationHandler) Transfer(c *fiber.Ctx) error {
	principal, err := principalOf(c)
	if err != nil {
		return err
	}
	id, err := conversationID(c)
	if err != nil {
		return err
	}
	var req dto.DepartmentRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	conv, err := h.router.Transfer(c.UserContext(), principal, id, req.DepartmentID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewConversationResponse(conv)})
}

// Close POST /api/conversations/:id/close.
func (h *ConversationHandler) Close(c *fiber.Ctx) error {
	principal, err := principalOf(c)
	if err != nil {
		return err
	}
	id, err := conversationID(c)
	if err != nil {
		return err
	}
	conv, err := h.router.Close(c.UserContext(), principal, id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewConversationResponse(conv)})
}

// Queue GET /api/queue.
func (h *ConversationHandler) Queue(c *fiber.Ctx) error {
	principal, err := principalOf(c)
	if err != nil {
		return err
	}
	queue, err := h.router.Queue(c.UserContext(), principal)
	if err != nil {
		return err
	}
	items := make([]dto.ConversationResponse, 0, len(queue))
	for i := range queue {
		items = append(items, dto.NewConversationResponse(&queue[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

func principalOf(c *fiber.Ctx) (*domain.Principal, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return nil, apperrors.NewAuthenticationError("authentication required")
	}
	return principal, nil
}

func conversationID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.NewValidationError("invalid conversation id", map[string]any{"id": c.Params("id")})
	}
	return id, nil
}
