package service

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/helpdesk-labs/support-chat/internal/domain"
	"github.com/helpdesk-labs/support-chat/internal/events"
	apperrors "github.com/helpdesk-labs/support-chat/pkg/util/errorutil"
)

func reasonOf(t *testing.T, err error) any {
	t.Helper()
	var domainErr *apperrors.DomainError
	require.True(t, errors.As(err, &domainErr), "expected DomainError, got %T", err)
	return domainErr.Details["reason"]
}

func TestConversationRouter_AcceptTransferScenario(t *testing.T) {
	f := newFixture(t)
	client := f.client(1)
	a1 := f.agent(101, deptD)
	a2 := f.agent(102, deptD)
	a3 := f.agent(103, deptD2)

	conv, err := f.router.Create(f.ctx, client, int64Ptr(deptD))
	require.NoError(t, err)
	assert.Equal(t, domain.ConversationQueued, conv.Status)

	accepted, err := f.router.Accept(f.ctx, a1, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ConversationActive, accepted.Status)
	require.NotNil(t, accepted.AgentID)
	assert.Equal(t, a1.ID, *accepted.AgentID)

	_, err = f.router.Accept(f.ctx, a2, conv.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.Equal(t, ReasonAlreadyAssigned, reasonOf(t, err))

	transferred, err := f.router.Transfer(f.ctx, a1, conv.ID, deptD2)
	require.NoError(t, err)
	assert.Equal(t, domain.ConversationTransferred, transferred.Status)
	assert.Nil(t, transferred.AgentID)
	require.NotNil(t, transferred.DepartmentID)
	assert.Equal(t, deptD2, *transferred.DepartmentID)
	require.NoError(t, transferred.Validate())

	// A1 is no longer assigned and is not in D2.
	_, err = f.messages.Send(f.ctx, a1, SendRequest{ConversationID: conv.ID, Body: "still there?", AgentID: int64Ptr(a1.ID)})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	// A2 belongs to D only, so the transferred conversation is out of reach.
	_, err = f.router.Accept(f.ctx, a2, conv.ID)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	reaccepted, err := f.router.Accept(f.ctx, a3, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ConversationActive, reaccepted.Status)
	assert.Equal(t, a3.ID, *reaccepted.AgentID)

	transfers := f.recorder.ofType(events.EventConversationTransferred)
	require.Len(t, transfers, 1)
	payload := transfers[0].Payload.(events.ConversationPayload)
	require.NotNil(t, payload.PreviousAgentID)
	assert.Equal(t, a1.ID, *payload.PreviousAgentID)
	assert.Equal(t, deptD, *payload.PreviousDepartmentID)
	assert.Len(t, f.recorder.ofType(events.EventConversationAccepted), 2)
}

func TestConversationRouter_ConcurrentAcceptHasOneWinner(t *testing.T) {
	for round := 0; round < 20; round++ {
		f := newFixture(t)
		client := f.client(1)
		agents := []*domain.Principal{f.agent(101, deptD), f.agent(102, deptD)}
		conv, err := f.router.Create(f.ctx, client, int64Ptr(deptD))
		require.NoError(t, err)

		var (
			wg    sync.WaitGroup
			start = make(chan struct{})
			errs  = make([]error, len(agents))
		)
		for i, agent := range agents {
			wg.Add(1)
			go func(i int, agent *domain.Principal) {
				defer wg.Done()
				<-start
				_, errs[i] = f.router.Accept(f.ctx, agent, conv.ID)
			}(i, agent)
		}
		close(start)
		wg.Wait()

		successes, conflicts := 0, 0
		for _, err := range errs {
			switch {
			case err == nil:
				successes++
			case errors.Is(err, apperrors.ErrConflict):
				conflicts++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, successes)
		assert.Equal(t, 1, conflicts)

		stored, err := f.store.Conversations().GetByID(f.ctx, conv.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.ConversationActive, stored.Status)
		assert.Len(t, f.recorder.ofType(events.EventConversationAccepted), 1)
	}
}

func TestConversationRouter_CreateRules(t *testing.T) {
	f := newFixture(t)
	agent := f.agent(101, deptD)

	_, err := f.router.Create(f.ctx, agent, nil)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	_, err = f.router.Create(f.ctx, f.client(1), int64Ptr(999))
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	f.store.PutDepartment(domain.Department{ID: 30, Name: "Closed", Active: false})
	_, err = f.router.Create(f.ctx, f.client(1), int64Ptr(30))
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	conv, err := f.router.Create(f.ctx, f.client(1), nil)
	require.NoError(t, err)
	assert.Nil(t, conv.DepartmentID)
	assert.Len(t, f.recorder.ofType(events.EventConversationCreated), 1)
}

func TestConversationRouter_AssignDepartment(t *testing.T) {
	f := newFixture(t)
	owner := f.client(1)
	stranger := f.client(2)
	conv, err := f.router.Create(f.ctx, owner, nil)
	require.NoError(t, err)

	_, err = f.router.AssignDepartment(f.ctx, stranger, conv.ID, deptD)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	_, err = f.router.AssignDepartment(f.ctx, f.agent(101, deptD), conv.ID, deptD)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	routed, err := f.router.AssignDepartment(f.ctx, owner, conv.ID, deptD)
	require.NoError(t, err)
	require.NotNil(t, routed.DepartmentID)
	assert.Equal(t, deptD, *routed.DepartmentID)
	assert.Equal(t, domain.ConversationQueued, routed.Status)

	_, err = f.router.Accept(f.ctx, f.agent(102, deptD), conv.ID)
	require.NoError(t, err)
	_, err = f.router.AssignDepartment(f.ctx, f.supervisor(500), conv.ID, deptD2)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestConversationRouter_AcceptRequiresDepartment(t *testing.T) {
	f := newFixture(t)
	conv, err := f.router.Create(f.ctx, f.client(1), nil)
	require.NoError(t, err)

	_, err = f.router.Accept(f.ctx, f.agent(101, deptD), conv.ID)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	accepted, err := f.router.Accept(f.ctx, f.supervisor(500), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(500), *accepted.AgentID)

	_, err = f.router.Accept(f.ctx, f.client(1), conv.ID)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	_, err = f.router.Accept(f.ctx, f.supervisor(501), 9999)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestConversationRouter_TransferOnlyByAssignedAgent(t *testing.T) {
	f := newFixture(t)
	a1 := f.agent(101, deptD)
	a2 := f.agent(102, deptD)
	conv, err := f.router.Create(f.ctx, f.client(1), int64Ptr(deptD))
	require.NoError(t, err)

	_, err = f.router.Transfer(f.ctx, a1, conv.ID, deptD2)
	assert.ErrorIs(t, err, apperrors.ErrForbidden, "queued conversation has no assignee")

	_, err = f.router.Accept(f.ctx, a1, conv.ID)
	require.NoError(t, err)

	_, err = f.router.Transfer(f.ctx, a2, conv.ID, deptD2)
	require.Error(t, err)
	assert.Equal(t, ReasonNotAssigned, reasonOf(t, err))

	_, err = f.router.Transfer(f.ctx, a1, conv.ID, 999)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	stored, err := f.store.Conversations().GetByID(f.ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ConversationActive, stored.Status)
}

func TestConversationRouter_CloseIsTerminal(t *testing.T) {
	f := newFixture(t)
	owner := f.client(1)
	a1 := f.agent(101, deptD)
	conv, err := f.router.Create(f.ctx, owner, int64Ptr(deptD))
	require.NoError(t, err)
	_, err = f.router.Accept(f.ctx, a1, conv.ID)
	require.NoError(t, err)

	_, err = f.router.Close(f.ctx, f.client(2), conv.ID)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
	_, err = f.router.Close(f.ctx, f.agent(102, deptD), conv.ID)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	closed, err := f.router.Close(f.ctx, owner, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ConversationEnded, closed.Status)

	_, err = f.router.Close(f.ctx, a1, conv.ID)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	_, err = f.router.Accept(f.ctx, f.supervisor(500), conv.ID)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	_, err = f.messages.Send(f.ctx, owner, SendRequest{ConversationID: conv.ID, Body: "hello?", ClientID: int64Ptr(owner.ID)})
	require.Error(t, err)
	assert.Equal(t, ReasonConversationEnded, reasonOf(t, err))
}

func TestConversationRouter_QueueIsFIFOPerDepartment(t *testing.T) {
	f := newFixture(t)
	first, err := f.router.Create(f.ctx, f.client(1), int64Ptr(deptD))
	require.NoError(t, err)
	f.clock.Advance(1)
	_, err = f.router.Create(f.ctx, f.client(2), int64Ptr(deptD2))
	require.NoError(t, err)
	f.clock.Advance(1)
	third, err := f.router.Create(f.ctx, f.client(3), int64Ptr(deptD))
	require.NoError(t, err)

	queue, err := f.router.Queue(f.ctx, f.agent(101, deptD))
	require.NoError(t, err)
	require.Len(t, queue, 2)
	assert.Equal(t, first.ID, queue[0].ID)
	assert.Equal(t, third.ID, queue[1].ID)

	all, err := f.router.Queue(f.ctx, f.supervisor(500))
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := f.router.Queue(f.ctx, f.agent(102))
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = f.router.Queue(f.ctx, f.client(1))
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
}

func TestConversationRouter_AcceptFailsWhenDepartmentMovesUnderneath(t *testing.T) {
	f := newFixture(t)
	conv, err := f.router.Create(f.ctx, f.client(1), int64Ptr(deptD))
	require.NoError(t, err)

	hooked := &hookedConversations{ConversationRepository: f.store.Conversations()}
	router := NewConversationRouter(RouterDependencies{
		ConversationRepo: hooked,
		DepartmentRepo:   f.store.Departments(),
		Rooms:            f.rooms,
		Dispatcher:       events.NewInMemoryDispatcher(zap.NewNop()),
		Logger:           zap.NewNop(),
	})
	hooked.afterGet = func() {
		_, err := f.store.Conversations().SetDepartment(f.ctx, conv.ID, deptD2, domain.ConversationQueued)
		require.NoError(t, err)
	}

	_, err = router.Accept(f.ctx, f.agent(101, deptD), conv.ID)
	require.ErrorIs(t, err, apperrors.ErrForbidden)
	assert.Equal(t, ReasonOutsideDepartment, reasonOf(t, err))

	stored, err := f.store.Conversations().GetByID(f.ctx, conv.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.AgentID)
	assert.True(t, stored.InDepartment(deptD2))
}
