package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/helpdesk-labs/support-chat/internal/api/http/handlers"
	"github.com/helpdesk-labs/support-chat/internal/auth"
	"github.com/helpdesk-labs/support-chat/internal/cache"
	"github.com/helpdesk-labs/support-chat/internal/config"
	"github.com/helpdesk-labs/support-chat/internal/domain"
	"github.com/helpdesk-labs/support-chat/internal/events"
	"github.com/helpdesk-labs/support-chat/internal/observability"
	"github.com/helpdesk-labs/support-chat/internal/realtime"
	"github.com/helpdesk-labs/support-chat/internal/repository"
	"github.com/helpdesk-labs/support-chat/internal/service"
)

type apiFixture struct {
	app    *fiber.App
	tokens *auth.TokenManager
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	logger := zap.NewNop()
	store := repository.NewMemoryStore()
	store.PutDepartment(domain.Department{ID: 1, Name: "Billing", Active: true})
	store.PutAgent(domain.AgentProfile{ID: 101, Name: "Alex", Role: domain.RoleAgent, Active: true}, 1)
	store.PutAgent(domain.AgentProfile{ID: 102, Name: "Blair", Role: domain.RoleAgent, Active: true}, 1)
	store.PutClient(domain.ClientProfile{ID: 7, Name: "Ann", Active: true})

	messaging := config.MessagingConfig{MaxBodyLength: 5000, Window: time.Minute}
	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher(logger)
	tokens := auth.NewTokenManager("secret", 10)
	verifier := auth.NewJWTVerifier(tokens, store.Profiles(), store.Departments(), messaging, logger)
	rooms := service.NewRoomAuthorizer(store.Conversations(), cache.NewMemoryConversationCache(time.Minute), logger)
	messages := service.NewMessageService(service.MessageDependencies{
		Authorizer:  service.NewMessageAuthorizer(rooms, messaging, logger),
		Rooms:       rooms,
		MessageRepo: store.Messages(),
		Dispatcher:  dispatcher,
		Logger:      logger,
	})
	router := service.NewConversationRouter(service.RouterDependencies{
		ConversationRepo: store.Conversations(),
		DepartmentRepo:   store.Departments(),
		Rooms:            rooms,
		Dispatcher:       dispatcher,
		Logger:           logger,
	})
	presence := service.NewPresenceTracker(store.Profiles(), dispatcher, config.PresenceConfig{StaleAfter: time.Minute}, logger)
	hub := realtime.NewHub(true, metrics, logger)
	sessions := realtime.NewSessionManager(realtime.SessionDependencies{
		Verifier: verifier,
		Hub:      hub,
		Presence: presence,
		Router:   router,
		Messages: messages,
		Rooms:    rooms,
		Metrics:  metrics,
		Logger:   logger,
	})

	app := fiber.New()
	RegisterMiddlewares(app, config.AppConfig{Env: "test"}, logger, metrics)
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler("support-chat", "test", nil, nil, hub.Count),
		WS:             handlers.NewWSHandler(context.Background(), sessions, config.RealtimeConfig{}),
		Conversations:  handlers.NewConversationHandler(router),
		Presence:       handlers.NewPresenceHandler(presence),
		AuthMiddleware: auth.NewAuthMiddleware(verifier),
	})
	return &apiFixture{app: app, tokens: tokens}
}

func (f *apiFixture) token(t *testing.T, id int64, kind domain.IdentityKind) string {
	t.Helper()
	token, _, err := f.tokens.GenerateToken(id, kind, "")
	require.NoError(t, err)
	return token
}

func (f *apiFixture) do(t *testing.T, method, target, token string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := f.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded), string(raw))
	}
	return resp.StatusCode, decoded
}

func errorCode(body map[string]any) any {
	errBody, _ := body["error"].(map[string]any)
	return errBody["code"]
}

func TestHealthRoutes(t *testing.T) {
	f := newAPIFixture(t)

	status, body := f.do(t, nethttp.MethodGet, "/health/live", "", nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "alive", body["status"])
	assert.Equal(t, float64(0), body["connections"])

	status, body = f.do(t, nethttp.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, fiber.StatusOK, status)
	deps := body["dependencies"].(map[string]any)
	assert.Equal(t, "in-memory", deps["postgres"])
	assert.Equal(t, "disabled", deps["redis"])
}

func TestWebsocketUpgradeRequiresCredential(t *testing.T) {
	f := newAPIFixture(t)

	status, _ := f.do(t, nethttp.MethodGet, "/ws", "", nil)
	assert.Equal(t, fiber.StatusUpgradeRequired, status)

	req := httptest.NewRequest(nethttp.MethodGet, "/ws?token=bogus", nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	resp, err := f.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestConversationRoutes(t *testing.T) {
	f := newAPIFixture(t)
	client := f.token(t, 7, domain.IdentityClient)
	alex := f.token(t, 101, domain.IdentityAgent)
	blair := f.token(t, 102, domain.IdentityAgent)

	status, body := f.do(t, nethttp.MethodPost, "/api/conversations", "", map[string]any{"department_id": 1})
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, "AUTHENTICATION_FAILED", errorCode(body))

	status, _ = f.do(t, nethttp.MethodPost, "/api/conversations", alex, map[string]any{"department_id": 1})
	assert.Equal(t, fiber.StatusForbidden, status)

	status, body = f.do(t, nethttp.MethodPost, "/api/conversations", client, map[string]any{"department_id": 1})
	require.Equal(t, fiber.StatusCreated, status)
	created := body["data"].(map[string]any)
	assert.Equal(t, "queued", created["status"])
	id := int64(created["id"].(float64))

	status, body = f.do(t, nethttp.MethodGet, "/api/queue", alex, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["data"], 1)

	status, _ = f.do(t, nethttp.MethodGet, "/api/queue", client, nil)
	assert.Equal(t, fiber.StatusForbidden, status)

	status, body = f.do(t, nethttp.MethodPost, "/api/conversations/abc/accept", alex, nil)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(body))

	status, body = f.do(t, nethttp.MethodPost, fmt.Sprintf("/api/conversations/%d/accept", id), alex, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "active", body["data"].(map[string]any)["status"])

	status, body = f.do(t, nethttp.MethodPost, fmt.Sprintf("/api/conversations/%d/accept", id), blair, nil)
	assert.Equal(t, fiber.StatusConflict, status)
	details := body["error"].(map[string]any)["details"].(map[string]any)
	assert.Equal(t, service.ReasonAlreadyAssigned, details["reason"])

	status, _ = f.do(t, nethttp.MethodPost, fmt.Sprintf("/api/conversations/%d/transfer", id), blair, map[string]any{"department_id": 1})
	assert.Equal(t, fiber.StatusForbidden, status)

	status, body = f.do(t, nethttp.MethodPost, fmt.Sprintf("/api/conversations/%d/close", id), client, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "ended", body["data"].(map[string]any)["status"])

	status, _ = f.do(t, nethttp.MethodPost, fmt.Sprintf("/api/conversations/%d/close", id), client, nil)
	assert.Equal(t, fiber.StatusConflict, status)

	status, body = f.do(t, nethttp.MethodGet, "/api/presence", alex, nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Empty(t, body["data"])

	status, body = f.do(t, nethttp.MethodGet, "/api/nowhere", alex, nil)
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", errorCode(body))
}
