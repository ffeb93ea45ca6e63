package service

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/helpdesk-labs/support-chat/internal/config"
	"github.com/helpdesk-labs/support-chat/internal/domain"
	"github.com/helpdesk-labs/support-chat/internal/ratelimit"
	apperrors "github.com/helpdesk-labs/support-chat/pkg/util/errorutil"
)

// CodeSpamDetected marks a validation failure raised by the repeat heuristic.
const CodeSpamDetected = "SPAM_DETECTED"

// SendRequest is an inbound message before authorization. Exactly one sender id is set.
type SendRequest struct {
	ConversationID int64  `json:"conversation_id"`
	Body           string `json:"body"`
	ClientID       *int64 `json:"client_id,omitempty"`
	AgentID        *int64 `json:"agent_id,omitempty"`
}

// AuthorizedMessage is a sanitised message ready to persist.
type AuthorizedMessage struct {
	Conversation *domain.Conversation
	Message      domain.Message
}

// MessageAuthorizer validates, sanitises, authorises and rate limits outgoing messages.
type MessageAuthorizer struct {
	rooms   *RoomAuthorizer
	limiter *ratelimit.SlidingWindow
	repeats *ratelimit.RepeatDetector
	cfg     config.MessagingConfig
	logger  *zap.Logger
}

// NewMessageAuthorizer builds the authorizer with its own limiter state.
func NewMessageAuthorizer(rooms *RoomAuthorizer, cfg config.MessagingConfig, logger *zap.Logger) *MessageAuthorizer {
	return &MessageAuthorizer{
		rooms:   rooms,
		limiter: ratelimit.NewSlidingWindow(cfg.Window),
		repeats: ratelimit.NewRepeatDetector(cfg.SpamWindow),
		cfg:     cfg,
		logger:  logger.Named("message-authorizer"),
	}
}

// Limiter exposes the send limiter for purging and tests.
func (m *MessageAuthorizer) Limiter() *ratelimit.SlidingWindow { return m.limiter }

// Repeats exposes the repeat detector for purging and tests.
func (m *MessageAuthorizer) Repeats() *ratelimit.RepeatDetector { return m.repeats }

// PurgeIdle drops limiter state for identities that have gone quiet.
func (m *MessageAuthorizer) PurgeIdle() int {
	return m.limiter.PurgeIdle(m.cfg.IdlePurgeAfter) + m.repeats.PurgeIdle()
}

// AuthorizeSend runs every check a message must pass before it is stored.
func (m *MessageAuthorizer) AuthorizeSend(ctx context.Context, principal *domain.Principal, req SendRequest) (*AuthorizedMessage, error) {
	if err := m.validate(principal, req); err != nil {
		return nil, err
	}
	body := SanitizeBody(req.Body)
	if body == "" {
		return nil, apperrors.NewValidationError("message body is empty after sanitization", map[string]any{"field": "body"})
	}

	if !principal.Permissions.CanSend {
		return nil, apperrors.NewForbiddenWithDetails("sending messages is not permitted", map[string]any{"reason": ReasonMissingPermission})
	}
	conv, err := m.rooms.RequireSend(ctx, principal, req.ConversationID)
	if err != nil {
		return nil, err
	}

	key := identityKey(principal.Kind, principal.ID)
	if limit := m.cfg.SpamRepeatLimit; limit > 0 && m.repeats.Seen(key, body) >= limit-1 {
		m.logger.Warn("repeated message rejected",
			zap.String("identity", key),
			zap.Int64("conversation_id", conv.ID))
		return nil, apperrors.NewValidationError("the same message was sent too many times", map[string]any{"reason": CodeSpamDetected})
	}

	if ok, retryAfter := m.limiter.Allow(key, principal.Permissions.MessagesPerMinute); !ok {
		return nil, apperrors.NewRateLimited("message rate limit exceeded", retryAfter)
	}
	m.repeats.Record(key, body)

	if m.shouting(body) {
		m.logger.Info("message is mostly capitals",
			zap.String("identity", key),
			zap.Int64("conversation_id", conv.ID))
	}

	msg := domain.Message{ConversationID: conv.ID, Body: body}
	if principal.IsAgent() {
		id := principal.ID
		msg.AgentID = &id
	} else {
		id := principal.ID
		msg.ClientID = &id
	}
	return &AuthorizedMessage{Conversation: conv, Message: msg}, nil
}

func (m *MessageAuthorizer) validate(principal *domain.Principal, req SendRequest) error {
	if principal == nil {
		return apperrors.NewAuthenticationError("authentication required")
	}
	if req.ConversationID <= 0 {
		return apperrors.NewValidationError("conversation id must be positive", map[string]any{"field": "conversation_id"})
	}
	trimmed := strings.TrimSpace(req.Body)
	if trimmed == "" {
		return apperrors.NewValidationError("message body is required", map[string]any{"field": "body"})
	}
	maxLen := m.cfg.MaxBodyLength
	if maxLen <= 0 {
		maxLen = 5000
	}
	if n := utf8.RuneCountInString(trimmed); n > maxLen {
		return apperrors.NewValidationError(fmt.Sprintf("message body exceeds %d characters", maxLen), map[string]any{
			"field":  "body",
			"length": n,
			"max":    maxLen,
		})
	}

	if (req.AgentID == nil) == (req.ClientID == nil) {
		return apperrors.NewValidationError("exactly one of agent_id or client_id is required", map[string]any{"field": "sender"})
	}
	switch principal.Kind {
	case domain.IdentityAgent:
		if req.ClientID != nil {
			return apperrors.NewValidationError("an agent cannot send as a client", map[string]any{"field": "client_id"})
		}
		if *req.AgentID != principal.ID {
			return apperrors.NewValidationError("agent_id does not match the connection", map[string]any{"field": "agent_id"})
		}
	case domain.IdentityClient:
		if req.AgentID != nil {
			return apperrors.NewValidationError("a client cannot send as an agent", map[string]any{"field": "agent_id"})
		}
		if *req.ClientID != principal.ID {
			return apperrors.NewValidationError("client_id does not match the connection", map[string]any{"field": "client_id"})
		}
	default:
		return apperrors.NewValidationError("unknown sender kind", map[string]any{"field": "sender"})
	}
	return nil
}

func (m *MessageAuthorizer) shouting(body string) bool {
	letters, upper := 0, 0
	for _, r := range body {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters < m.cfg.CapsMinimumLetter || letters == 0 {
		return false
	}
	return float64(upper)/float64(letters) > m.cfg.CapsRatioWarn
}

func identityKey(kind domain.IdentityKind, id int64) string {
	return fmt.Sprintf("%s:%d", kind, id)
}
