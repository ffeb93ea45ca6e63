package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/helpdesk-labs/support-chat/internal/domain"
)

// MemoryStore is an in-process implementation of every repository in this package. It backs
// development runs without POSTGRES_DSN and the test suites. Missing rows surface as
// pgx.ErrNoRows, exactly like the pgx implementations.
type MemoryStore struct {
	mu            sync.Mutex
	now           func() time.Time
	nextConvID    int64
	nextMessageID int64
	conversations map[int64]*domain.Conversation
	messages      map[int64][]domain.Message
	departments   map[int64]*domain.Department
	memberships   map[int64][]int64
	agents        map[int64]*domain.AgentProfile
	clients       map[int64]*domain.ClientProfile
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:           time.Now,
		conversations: make(map[int64]*domain.Conversation),
		messages:      make(map[int64][]domain.Message),
		departments:   make(map[int64]*domain.Department),
		memberships:   make(map[int64][]int64),
		agents:        make(map[int64]*domain.AgentProfile),
		clients:       make(map[int64]*domain.ClientProfile),
	}
}

// WithClock overrides the time source used for created/updated stamps.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

// Conversations returns the conversation repository view.
func (s *MemoryStore) Conversations() ConversationRepository { return memoryConversations{s} }

// Messages returns the message repository view.
func (s *MemoryStore) Messages() MessageRepository { return memoryMessages{s} }

// Departments returns the department repository view.
func (s *MemoryStore) Departments() DepartmentRepository { return memoryDepartments{s} }

// Profiles returns the profile repository view.
func (s *MemoryStore) Profiles() ProfileRepository { return memoryProfiles{s} }

// PutDepartment seeds a department.
func (s *MemoryStore) PutDepartment(dept domain.Department) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := dept
	s.departments[dept.ID] = &d
}

// PutAgent seeds an agent and its department memberships.
func (s *MemoryStore) PutAgent(agent domain.AgentProfile, departmentIDs ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := agent
	s.agents[agent.ID] = &a
	s.memberships[agent.ID] = append([]int64(nil), departmentIDs...)
}

// PutClient seeds a client.
func (s *MemoryStore) PutClient(client domain.ClientProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := client
	s.clients[client.ID] = &c
}

// PutConversation seeds or overwrites a conversation.
func (s *MemoryStore) PutConversation(conv domain.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conv.ID] = conv.Clone()
	if conv.ID > s.nextConvID {
		s.nextConvID = conv.ID
	}
}

// LastSeen returns the durable last-seen time written for an identity.
func (s *MemoryStore) LastSeen(kind domain.IdentityKind, id int64) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch kind {
	case domain.IdentityAgent:
		if a, ok := s.agents[id]; ok && a.LastSeen != nil {
			return *a.LastSeen, true
		}
	case domain.IdentityClient:
		if c, ok := s.clients[id]; ok && c.LastSeen != nil {
			return *c.LastSeen, true
		}
	}
	return time.Time{}, false
}

type memoryConversations struct{ s *MemoryStore }

func (m memoryConversations) GetByID(_ context.Context, id int64) (*domain.Conversation, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	conv, ok := m.s.conversations[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return conv.Clone(), nil
}

func (m memoryConversations) Create(_ context.Context, clientID int64, departmentID *int64) (*domain.Conversation, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.nextConvID++
	now := m.s.now()
	conv := &domain.Conversation{
		ID:        m.s.nextConvID,
		ClientID:  clientID,
		Status:    domain.ConversationQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if departmentID != nil {
		dept := *departmentID
		conv.DepartmentID = &dept
	}
	m.s.conversations[conv.ID] = conv
	return conv.Clone(), nil
}

func (m memoryConversations) SetAgent(_ context.Context, id int64, agentID *int64, status domain.ConversationStatus, expectedPriorAgent, expectedDepartment *int64) (*domain.Conversation, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	conv, ok := m.s.conversations[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	if conv.Status == domain.ConversationEnded || !sameID(conv.AgentID, expectedPriorAgent) || !sameID(conv.DepartmentID, expectedDepartment) {
		return nil, ErrPreconditionFailed
	}
	if agentID != nil {
		agent := *agentID
		conv.AgentID = &agent
	} else {
		conv.AgentID = nil
	}
	conv.Status = status
	conv.UpdatedAt = m.s.now()
	return conv.Clone(), nil
}

func (m memoryConversations) SetDepartment(_ context.Context, id, departmentID int64, status domain.ConversationStatus) (*domain.Conversation, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	conv, ok := m.s.conversations[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	if conv.AgentID != nil || conv.Status == domain.ConversationEnded {
		return nil, ErrPreconditionFailed
	}
	conv.DepartmentID = &departmentID
	conv.Status = status
	conv.UpdatedAt = m.s.now()
	return conv.Clone(), nil
}

func (m memoryConversations) Transfer(_ context.Context, id, expectedAgent, departmentID int64) (*domain.Conversation, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	conv, ok := m.s.conversations[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	if conv.Status != domain.ConversationActive || !conv.AssignedTo(expectedAgent) {
		return nil, ErrPreconditionFailed
	}
	conv.AgentID = nil
	conv.DepartmentID = &departmentID
	conv.Status = domain.ConversationTransferred
	conv.UpdatedAt = m.s.now()
	return conv.Clone(), nil
}

func (m memoryConversations) Close(_ context.Context, id int64) (*domain.Conversation, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	conv, ok := m.s.conversations[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	if conv.Status == domain.ConversationEnded {
		return nil, ErrPreconditionFailed
	}
	conv.Status = domain.ConversationEnded
	conv.UpdatedAt = m.s.now()
	return conv.Clone(), nil
}

func (m memoryConversations) ListQueue(_ context.Context, departmentIDs []int64, limit int) ([]domain.Conversation, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	var wanted map[int64]struct{}
	if departmentIDs != nil {
		wanted = make(map[int64]struct{}, len(departmentIDs))
		for _, id := range departmentIDs {
			wanted[id] = struct{}{}
		}
	}
	var result []domain.Conversation
	for _, conv := range m.s.conversations {
		if conv.AgentID != nil || !conv.Status.Awaiting() {
			continue
		}
		if wanted != nil {
			if conv.DepartmentID == nil {
				continue
			}
			if _, ok := wanted[*conv.DepartmentID]; !ok {
				continue
			}
		}
		result = append(result, *conv.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

type memoryMessages struct{ s *MemoryStore }

func (m memoryMessages) Insert(_ context.Context, msg *domain.Message) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.nextMessageID++
	msg.ID = m.s.nextMessageID
	msg.CreatedAt = m.s.now()
	m.s.messages[msg.ConversationID] = append(m.s.messages[msg.ConversationID], *msg)
	return nil
}

func (m memoryMessages) ListByConversation(_ context.Context, conversationID int64, limit int) ([]domain.Message, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	msgs := m.s.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]domain.Message(nil), msgs...), nil
}

type memoryDepartments struct{ s *MemoryStore }

func (m memoryDepartments) GetByID(_ context.Context, id int64) (*domain.Department, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	dept, ok := m.s.departments[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	d := *dept
	return &d, nil
}

func (m memoryDepartments) ListForAgent(_ context.Context, agentID int64) ([]int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var result []int64
	for _, id := range m.s.memberships[agentID] {
		if dept, ok := m.s.departments[id]; ok && !dept.Active {
			continue
		}
		result = append(result, id)
	}
	return result, nil
}

type memoryProfiles struct{ s *MemoryStore }

func (m memoryProfiles) GetAgent(_ context.Context, id int64) (*domain.AgentProfile, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	agent, ok := m.s.agents[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	a := *agent
	return &a, nil
}

func (m memoryProfiles) GetClient(_ context.Context, id int64) (*domain.ClientProfile, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	client, ok := m.s.clients[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	c := *client
	return &c, nil
}

func (m memoryProfiles) WriteLastSeen(_ context.Context, kind domain.IdentityKind, id int64, at time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	ts := at
	switch kind {
	case domain.IdentityAgent:
		if agent, ok := m.s.agents[id]; ok {
			agent.LastSeen = &ts
			return nil
		}
	case domain.IdentityClient:
		if client, ok := m.s.clients[id]; ok {
			client.LastSeen = &ts
			return nil
		}
	}
	return pgx.ErrNoRows
}

func sameID(current, expected *int64) bool {
	if current == nil || expected == nil {
		return current == nil && expected == nil
	}
	return *current == *expected
}
