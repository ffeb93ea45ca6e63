package auth

import (
	"github.com/helpdesk-labs/support-chat/internal/config"
	"github.com/helpdesk-labs/support-chat/internal/domain"
)

// PermissionsFor derives the capability set for a role. Unknown roles get nothing.
func PermissionsFor(role domain.Role, cfg config.MessagingConfig) domain.Permissions {
	switch role {
	case domain.RoleAdmin, domain.RoleSupervisor:
		limit := ceiling(cfg.SupervisorPerMin, 60)
		if role == domain.RoleAdmin {
			limit = ceiling(cfg.AdminPerMinute, 120)
		}
		return domain.Permissions{
			CanView:           true,
			CanSend:           true,
			CanAccept:         true,
			CanTransfer:       true,
			CanClose:          true,
			AllDepartments:    true,
			MessagesPerMinute: limit,
		}
	case domain.RoleAgent:
		return domain.Permissions{
			CanView:           true,
			CanSend:           true,
			CanAccept:         true,
			CanTransfer:       true,
			CanClose:          true,
			MessagesPerMinute: ceiling(cfg.AgentPerMinute, 30),
		}
	case domain.RoleClient:
		return domain.Permissions{
			CanView:           true,
			CanSend:           true,
			CanClose:          true,
			MessagesPerMinute: ceiling(cfg.ClientPerMinute, 30),
		}
	default:
		return domain.Permissions{}
	}
}

func ceiling(configured, fallback int) int {
	if configured > 0 {
		return configured
	}
	return fallback
}
