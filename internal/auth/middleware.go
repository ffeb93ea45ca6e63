package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/helpdesk-labs/support-chat/internal/domain"
	apperrors "github.com/helpdesk-labs/support-chat/pkg/util/errorutil"
)

const principalKey = "auth_principal"

// AuthMiddleware validates bearer tokens and loads principals.
type AuthMiddleware struct {
	verifier Verifier
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(verifier Verifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier}
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	token, err := ExtractToken(c)
	if err != nil {
		return err
	}
	principal, err := m.verifier.Verify(c.UserContext(), token)
	if err != nil {
		return err
	}
	c.Locals(principalKey, principal)
	return c.Next()
}

// ExtractToken reads the credential from the Authorization header, falling back to the
// "token" query parameter that browser websocket clients use.
func ExtractToken(c *fiber.Ctx) (string, error) {
	if header := c.Get(fiber.HeaderAuthorization); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			return "", apperrors.NewAuthenticationError("invalid authorization header")
		}
		return strings.TrimSpace(parts[1]), nil
	}
	if token := c.Query("token"); token != "" {
		return token, nil
	}
	return "", apperrors.NewAuthenticationError("missing credential")
}

// PrincipalFromContext retrieves the authenticated entity.
func PrincipalFromContext(c *fiber.Ctx) (*domain.Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*domain.Principal)
	return principal, ok
}

// RequireAgent ensures the caller is an agent.
func RequireAgent() fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewAuthenticationError("authentication required")
		}
		if !principal.IsAgent() {
			return apperrors.NewForbidden("agent required")
		}
		return c.Next()
	}
}

// RequireClient ensures the caller is a client.
func RequireClient() fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewAuthenticationError("authentication required")
		}
		if !principal.IsClient() {
			return apperrors.NewForbidden("client required")
		}
		return c.Next()
	}
}

// RequireAnyRole ensures caller is authenticated.
func RequireAnyRole() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, ok := PrincipalFromContext(c); !ok {
			return apperrors.NewAuthenticationError("authentication required")
		}
		return c.Next()
	}
}
