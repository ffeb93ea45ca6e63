package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/helpdesk-labs/support-chat/internal/auth"
	"github.com/helpdesk-labs/support-chat/internal/cache"
	"github.com/helpdesk-labs/support-chat/internal/config"
	"github.com/helpdesk-labs/support-chat/internal/domain"
	"github.com/helpdesk-labs/support-chat/internal/events"
	"github.com/helpdesk-labs/support-chat/internal/repository"
)

const (
	deptD  int64 = 10
	deptD2 int64 = 20
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) handle(_ context.Context, event events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *eventRecorder) ofType(t events.EventType) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (r *eventRecorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type fixture struct {
	ctx        context.Context
	clock      *fakeClock
	store      *repository.MemoryStore
	recorder   *eventRecorder
	rooms      *RoomAuthorizer
	authorizer *MessageAuthorizer
	messages   *MessageService
	router     *ConversationRouter
	presence   *PresenceTracker
	messaging  config.MessagingConfig
}

func testMessagingConfig() config.MessagingConfig {
	return config.MessagingConfig{
		MaxBodyLength:     5000,
		Window:            time.Minute,
		ClientPerMinute:   30,
		AgentPerMinute:    30,
		SupervisorPerMin:  60,
		AdminPerMinute:    120,
		IdlePurgeAfter:    5 * time.Minute,
		PurgeInterval:     time.Minute,
		SpamWindow:        5 * time.Minute,
		SpamRepeatLimit:   3,
		CapsRatioWarn:     0.7,
		CapsMinimumLetter: 10,
	}
}

func testPresenceConfig() config.PresenceConfig {
	return config.PresenceConfig{
		SweepInterval:   10 * time.Second,
		StaleAfter:      45 * time.Second,
		UpdatesPerMin:   10,
		MaxDisplayName:  100,
		MaxKindLength:   16,
		RateLimitWindow: time.Minute,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop()
	clock := newFakeClock()
	store := repository.NewMemoryStore().WithClock(clock.Now)
	store.PutDepartment(domain.Department{ID: deptD, Name: "Billing", Active: true})
	store.PutDepartment(domain.Department{ID: deptD2, Name: "Technical", Active: true})

	dispatcher := events.NewInMemoryDispatcher(logger)
	recorder := &eventRecorder{}
	events.SubscribeAll(dispatcher, recorder.handle)

	messaging := testMessagingConfig()
	convCache := cache.NewMemoryConversationCache(3 * time.Minute).WithClock(clock.Now)
	rooms := NewRoomAuthorizer(store.Conversations(), convCache, logger)
	authorizer := NewMessageAuthorizer(rooms, messaging, logger)
	authorizer.Limiter().WithClock(clock.Now)
	authorizer.Repeats().WithClock(clock.Now)

	return &fixture{
		ctx:        context.Background(),
		clock:      clock,
		store:      store,
		recorder:   recorder,
		rooms:      rooms,
		authorizer: authorizer,
		messages: NewMessageService(MessageDependencies{
			Authorizer:  authorizer,
			Rooms:       rooms,
			MessageRepo: store.Messages(),
			Dispatcher:  dispatcher,
			Logger:      logger,
		}),
		router: NewConversationRouter(RouterDependencies{
			ConversationRepo: store.Conversations(),
			DepartmentRepo:   store.Departments(),
			Rooms:            rooms,
			Dispatcher:       dispatcher,
			Logger:           logger,
		}),
		presence:  NewPresenceTracker(store.Profiles(), dispatcher, testPresenceConfig(), logger).WithClock(clock.Now),
		messaging: messaging,
	}
}

func (f *fixture) agent(id int64, departments ...int64) *domain.Principal {
	f.store.PutAgent(domain.AgentProfile{ID: id, Name: "agent", Role: domain.RoleAgent, Active: true}, departments...)
	return &domain.Principal{
		ID:          id,
		Kind:        domain.IdentityAgent,
		Role:        domain.RoleAgent,
		DisplayName: "agent",
		Departments: departments,
		Active:      true,
		Permissions: auth.PermissionsFor(domain.RoleAgent, f.messaging),
	}
}

func (f *fixture) supervisor(id int64) *domain.Principal {
	f.store.PutAgent(domain.AgentProfile{ID: id, Name: "supervisor", Role: domain.RoleSupervisor, Active: true})
	return &domain.Principal{
		ID:          id,
		Kind:        domain.IdentityAgent,
		Role:        domain.RoleSupervisor,
		DisplayName: "supervisor",
		Active:      true,
		Permissions: auth.PermissionsFor(domain.RoleSupervisor, f.messaging),
	}
}

func (f *fixture) client(id int64) *domain.Principal {
	f.store.PutClient(domain.ClientProfile{ID: id, Name: "customer", Active: true})
	return &domain.Principal{
		ID:          id,
		Kind:        domain.IdentityClient,
		Role:        domain.RoleClient,
		DisplayName: "customer",
		Active:      true,
		Permissions: auth.PermissionsFor(domain.RoleClient, f.messaging),
	}
}

func int64Ptr(v int64) *int64 { return &v }

// hookedConversations runs afterGet once, right after the first GetByID returns, so a test can
// commit a competing change between a read and the write that depends on it.
type hookedConversations struct {
	repository.ConversationRepository
	afterGet func()
}

func (h *hookedConversations) GetByID(ctx context.Context, id int64) (*domain.Conversation, error) {
	conv, err := h.ConversationRepository.GetByID(ctx, id)
	if hook := h.afterGet; hook != nil {
		h.afterGet = nil
		hook()
	}
	return conv, err
}
