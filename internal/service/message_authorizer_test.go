package service

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helpdesk-labs/support-chat/internal/domain"
	"github.com/helpdesk-labs/support-chat/internal/events"
	apperrors "github.com/helpdesk-labs/support-chat/pkg/util/errorutil"
)

// activeConversation returns a conversation in deptD accepted by the returned agent.
func activeConversation(t *testing.T, f *fixture) (*domain.Conversation, *domain.Principal, *domain.Principal) {
	t.Helper()
	client := f.client(1)
	agent := f.agent(101, deptD)
	conv, err := f.router.Create(f.ctx, client, int64Ptr(deptD))
	require.NoError(t, err)
	conv, err = f.router.Accept(f.ctx, agent, conv.ID)
	require.NoError(t, err)
	return conv, client, agent
}

func TestMessageAuthorizer_BodyLength(t *testing.T) {
	f := newFixture(t)
	conv, client, _ := activeConversation(t, f)

	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{name: "exactly 5000", body: strings.Repeat("a", 5000)},
		{name: "5001 rejected", body: strings.Repeat("b", 5001), wantErr: true},
		{name: "5000 multibyte runes", body: strings.Repeat("é", 5000)},
		{name: "surrounding whitespace is trimmed first", body: "  " + strings.Repeat("c", 5000) + "\n"},
		{name: "blank", body: "   \n\t", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.authorizer.AuthorizeSend(f.ctx, client, SendRequest{
				ConversationID: conv.ID,
				Body:           tt.body,
				ClientID:       int64Ptr(client.ID),
			})
			if tt.wantErr {
				assert.ErrorIs(t, err, apperrors.ErrValidation)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestMessageAuthorizer_SenderFields(t *testing.T) {
	f := newFixture(t)
	conv, client, agent := activeConversation(t, f)

	tests := []struct {
		name      string
		principal *domain.Principal
		req       SendRequest
	}{
		{
			name:      "agent carrying client id",
			principal: agent,
			req:       SendRequest{ConversationID: conv.ID, Body: "hi", ClientID: int64Ptr(client.ID)},
		},
		{
			name:      "agent carrying both ids",
			principal: agent,
			req:       SendRequest{ConversationID: conv.ID, Body: "hi", AgentID: int64Ptr(agent.ID), ClientID: int64Ptr(client.ID)},
		},
		{
			name:      "client carrying agent id",
			principal: client,
			req:       SendRequest{ConversationID: conv.ID, Body: "hi", AgentID: int64Ptr(agent.ID)},
		},
		{
			name:      "client impersonating another client",
			principal: client,
			req:       SendRequest{ConversationID: conv.ID, Body: "hi", ClientID: int64Ptr(client.ID + 1)},
		},
		{
			name:      "no sender",
			principal: client,
			req:       SendRequest{ConversationID: conv.ID, Body: "hi"},
		},
		{
			name:      "missing conversation id",
			principal: client,
			req:       SendRequest{Body: "hi", ClientID: int64Ptr(client.ID)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.authorizer.AuthorizeSend(f.ctx, tt.principal, tt.req)
			assert.ErrorIs(t, err, apperrors.ErrValidation)
		})
	}

	authorized, err := f.authorizer.AuthorizeSend(f.ctx, agent, SendRequest{ConversationID: conv.ID, Body: "hello", AgentID: int64Ptr(agent.ID)})
	require.NoError(t, err)
	assert.Equal(t, domain.SenderAgent, authorized.Message.SenderKind())
}

func TestMessageAuthorizer_RateLimit(t *testing.T) {
	f := newFixture(t)
	conv, client, _ := activeConversation(t, f)
	client.Permissions.MessagesPerMinute = 10

	var ok, limited int
	var lastErr error
	for i := 0; i < 11; i++ {
		_, err := f.authorizer.AuthorizeSend(f.ctx, client, SendRequest{
			ConversationID: conv.ID,
			Body:           fmt.Sprintf("message number %d", i),
			ClientID:       int64Ptr(client.ID),
		})
		if err == nil {
			ok++
			continue
		}
		require.ErrorIs(t, err, apperrors.ErrRateLimited)
		limited++
		lastErr = err
		f.clock.Advance(time.Second)
	}
	assert.Equal(t, 10, ok)
	assert.Equal(t, 1, limited)

	domainErr := apperrors.ToDomainError(lastErr)
	assert.GreaterOrEqual(t, domainErr.RetryAfter, time.Second)

	f.clock.Advance(time.Minute)
	_, err := f.authorizer.AuthorizeSend(f.ctx, client, SendRequest{ConversationID: conv.ID, Body: "after the window", ClientID: int64Ptr(client.ID)})
	assert.NoError(t, err)
}

func TestMessageAuthorizer_RepeatedBodyIsSpam(t *testing.T) {
	f := newFixture(t)
	conv, client, _ := activeConversation(t, f)
	req := SendRequest{ConversationID: conv.ID, Body: "Is anyone there?", ClientID: int64Ptr(client.ID)}

	_, err := f.authorizer.AuthorizeSend(f.ctx, client, req)
	require.NoError(t, err)
	req.Body = "  Is anyone there?\n"
	_, err = f.authorizer.AuthorizeSend(f.ctx, client, req)
	require.NoError(t, err)

	variant := req
	variant.Body = "is anyone THERE?"
	_, err = f.authorizer.AuthorizeSend(f.ctx, client, variant)
	require.NoError(t, err, "a body that differs in case is not a repeat")

	_, err = f.authorizer.AuthorizeSend(f.ctx, client, req)
	require.ErrorIs(t, err, apperrors.ErrValidation)
	assert.Equal(t, CodeSpamDetected, reasonOf(t, err))

	f.clock.Advance(5*time.Minute + time.Second)
	_, err = f.authorizer.AuthorizeSend(f.ctx, client, req)
	assert.NoError(t, err)
}

func TestMessageAuthorizer_SanitizesBody(t *testing.T) {
	f := newFixture(t)
	conv, client, _ := activeConversation(t, f)

	authorized, err := f.authorizer.AuthorizeSend(f.ctx, client, SendRequest{
		ConversationID: conv.ID,
		Body:           "hello<script>alert(1)</script> <b>world</b>",
		ClientID:       int64Ptr(client.ID),
	})
	require.NoError(t, err)
	assert.Equal(t, "hello world", authorized.Message.Body)

	_, err = f.authorizer.AuthorizeSend(f.ctx, client, SendRequest{
		ConversationID: conv.ID,
		Body:           "<script>alert(1)</script>",
		ClientID:       int64Ptr(client.ID),
	})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestMessageAuthorizer_RoomRules(t *testing.T) {
	f := newFixture(t)
	conv, _, _ := activeConversation(t, f)
	stranger := f.client(2)
	outsider := f.agent(201, deptD2)
	colleague := f.agent(202, deptD)

	_, err := f.authorizer.AuthorizeSend(f.ctx, stranger, SendRequest{ConversationID: conv.ID, Body: "hi", ClientID: int64Ptr(stranger.ID)})
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	_, err = f.authorizer.AuthorizeSend(f.ctx, outsider, SendRequest{ConversationID: conv.ID, Body: "hi", AgentID: int64Ptr(outsider.ID)})
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	_, err = f.authorizer.AuthorizeSend(f.ctx, colleague, SendRequest{ConversationID: conv.ID, Body: "hi", AgentID: int64Ptr(colleague.ID)})
	assert.NoError(t, err)

	_, err = f.authorizer.AuthorizeSend(f.ctx, colleague, SendRequest{ConversationID: 424242, Body: "hi", AgentID: int64Ptr(colleague.ID)})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestMessageService_SendPublishesEnrichedEvent(t *testing.T) {
	f := newFixture(t)
	conv, client, _ := activeConversation(t, f)
	client.AvatarURL = "https://cdn.example/avatar.png"

	msg, err := f.messages.Send(f.ctx, client, SendRequest{ConversationID: conv.ID, Body: "my order is late", ClientID: int64Ptr(client.ID)})
	require.NoError(t, err)
	assert.NotZero(t, msg.ID)
	assert.Equal(t, f.clock.Now(), msg.CreatedAt)

	created := f.recorder.ofType(events.EventMessageCreated)
	require.Len(t, created, 1)
	payload := created[0].Payload.(events.MessageCreatedPayload)
	assert.Equal(t, domain.SenderClient, payload.SenderKind)
	assert.Equal(t, "customer", payload.SenderName)
	assert.Equal(t, client.AvatarURL, payload.SenderAvatar)
	assert.Equal(t, deptD, *payload.ConversationDept)
	assert.Equal(t, client.ID, payload.ConversationOwner)

	history, err := f.messages.History(f.ctx, client, conv.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "my order is late", history[0].Body)

	_, err = f.messages.History(f.ctx, f.client(9), conv.ID, 10)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
}

func TestMessageAuthorizer_PurgeIdle(t *testing.T) {
	f := newFixture(t)
	conv, client, _ := activeConversation(t, f)
	_, err := f.authorizer.AuthorizeSend(f.ctx, client, SendRequest{ConversationID: conv.ID, Body: "ping", ClientID: int64Ptr(client.ID)})
	require.NoError(t, err)
	require.Equal(t, 1, f.authorizer.Limiter().Len())

	f.clock.Advance(4 * time.Minute)
	f.authorizer.PurgeIdle()
	assert.Equal(t, 1, f.authorizer.Limiter().Len())

	f.clock.Advance(2 * time.Minute)
	f.authorizer.PurgeIdle()
	assert.Equal(t, 0, f.authorizer.Limiter().Len())
}
