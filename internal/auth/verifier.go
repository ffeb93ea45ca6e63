package auth

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/helpdesk-labs/support-chat/internal/config"
	"github.com/helpdesk-labs/support-chat/internal/domain"
	"github.com/helpdesk-labs/support-chat/internal/repository"
	apperrors "github.com/helpdesk-labs/support-chat/pkg/util/errorutil"
)

// Verifier turns a raw credential into an authenticated principal.
type Verifier interface {
	Verify(ctx context.Context, token string) (*domain.Principal, error)
}

// JWTVerifier checks the token signature, then loads the identity from the store so that a
// deactivated account is refused even while its token is still valid.
type JWTVerifier struct {
	tokens      *TokenManager
	profiles    repository.ProfileRepository
	departments repository.DepartmentRepository
	messaging   config.MessagingConfig
	logger      *zap.Logger
}

// NewJWTVerifier constructs the verifier.
func NewJWTVerifier(tokens *TokenManager, profiles repository.ProfileRepository, departments repository.DepartmentRepository, messaging config.MessagingConfig, logger *zap.Logger) *JWTVerifier {
	return &JWTVerifier{
		tokens:      tokens,
		profiles:    profiles,
		departments: departments,
		messaging:   messaging,
		logger:      logger.Named("auth"),
	}
}

func (v *JWTVerifier) Verify(ctx context.Context, token string) (*domain.Principal, error) {
	if token == "" {
		return nil, apperrors.NewAuthenticationError("missing credential")
	}
	claims, err := v.tokens.ParseToken(token)
	if err != nil {
		v.logger.Debug("token rejected", zap.Error(err))
		return nil, apperrors.NewAuthenticationError("invalid credential")
	}
	id, err := claims.IdentityID()
	if err != nil {
		return nil, apperrors.NewAuthenticationError("invalid credential")
	}

	switch claims.Kind {
	case domain.IdentityAgent:
		return v.agentPrincipal(ctx, id)
	case domain.IdentityClient:
		return v.clientPrincipal(ctx, id)
	default:
		return nil, apperrors.NewAuthenticationError("unknown identity kind")
	}
}

func (v *JWTVerifier) agentPrincipal(ctx context.Context, id int64) (*domain.Principal, error) {
	agent, err := v.profiles.GetAgent(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewAuthenticationError("agent not found")
		}
		return nil, apperrors.MapError(err)
	}
	if !agent.Active {
		return nil, apperrors.NewAuthenticationError("agent is inactive")
	}
	role := agent.Role
	if role == "" || role == domain.RoleClient {
		role = domain.RoleAgent
	}
	depts, err := v.departments.ListForAgent(ctx, id)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return &domain.Principal{
		ID:          agent.ID,
		Kind:        domain.IdentityAgent,
		Role:        role,
		DisplayName: agent.Name,
		AvatarURL:   agent.AvatarURL,
		Departments: depts,
		Active:      true,
		Permissions: PermissionsFor(role, v.messaging),
	}, nil
}

func (v *JWTVerifier) clientPrincipal(ctx context.Context, id int64) (*domain.Principal, error) {
	client, err := v.profiles.GetClient(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewAuthenticationError("client not found")
		}
		return nil, apperrors.MapError(err)
	}
	if !client.Active {
		return nil, apperrors.NewAuthenticationError("client is inactive")
	}
	return &domain.Principal{
		ID:          client.ID,
		Kind:        domain.IdentityClient,
		Role:        domain.RoleClient,
		DisplayName: client.Name,
		AvatarURL:   client.AvatarURL,
		Active:      true,
		Permissions: PermissionsFor(domain.RoleClient, v.messaging),
	}, nil
}
