package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/helpdesk-labs/support-chat/internal/domain"
)

// ConversationRepository encapsulates chat group persistence.
//
// Every mutating method is a single conditional UPDATE so concurrent callers race on the row,
// not on an application-side read.
type ConversationRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Conversation, error)
	Create(ctx context.Context, clientID int64, departmentID *int64) (*domain.Conversation, error)
	SetAgent(ctx context.Context, id int64, agentID *int64, status domain.ConversationStatus, expectedPriorAgent, expectedDepartment *int64) (*domain.Conversation, error)
	SetDepartment(ctx context.Context, id, departmentID int64, status domain.ConversationStatus) (*domain.Conversation, error)
	Transfer(ctx context.Context, id, expectedAgent, departmentID int64) (*domain.Conversation, error)
	Close(ctx context.Context, id int64) (*domain.Conversation, error)
	ListQueue(ctx context.Context, departmentIDs []int64, limit int) ([]domain.Conversation, error)
}

const conversationColumns = `id, client_id, department_id, agent_id, status, created_at, updated_at`

type conversationRepository struct {
	pool *pgxpool.Pool
}

// NewConversationRepository instantiates repository.
func NewConversationRepository(pool *pgxpool.Pool) ConversationRepository {
	return &conversationRepository{pool: pool}
}

func (r *conversationRepository) GetByID(ctx context.Context, id int64) (*domain.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM chat_groups WHERE id=$1`
	return scanConversation(r.pool.QueryRow(ctx, query, id))
}

func (r *conversationRepository) Create(ctx context.Context, clientID int64, departmentID *int64) (*domain.Conversation, error) {
	query := `
        INSERT INTO chat_groups (client_id, department_id, status)
        VALUES ($1,$2,$3)
        RETURNING ` + conversationColumns
	return scanConversation(r.pool.QueryRow(ctx, query, clientID, departmentID, domain.ConversationQueued))
}

func (r *conversationRepository) SetAgent(ctx context.Context, id int64, agentID *int64, status domain.ConversationStatus, expectedPriorAgent, expectedDepartment *int64) (*domain.Conversation, error) {
	query := `
        UPDATE chat_groups SET agent_id=$2, status=$3, updated_at=NOW()
        WHERE id=$1 AND agent_id IS NOT DISTINCT FROM $4::bigint
          AND department_id IS NOT DISTINCT FROM $5::bigint
          AND status <> 'ended'
        RETURNING ` + conversationColumns
	conv, err := scanConversation(r.pool.QueryRow(ctx, query, id, agentID, status, expectedPriorAgent, expectedDepartment))
	return r.resolveMiss(ctx, id, conv, err)
}

func (r *conversationRepository) SetDepartment(ctx context.Context, id, departmentID int64, status domain.ConversationStatus) (*domain.Conversation, error) {
	query := `
        UPDATE chat_groups SET department_id=$2, status=$3, updated_at=NOW()
        WHERE id=$1 AND agent_id IS NULL AND status <> 'ended'
        RETURNING ` + conversationColumns
	conv, err := scanConversation(r.pool.QueryRow(ctx, query, id, departmentID, status))
	return r.resolveMiss(ctx, id, conv, err)
}

func (r *conversationRepository) Transfer(ctx context.Context, id, expectedAgent, departmentID int64) (*domain.Conversation, error) {
	query := `
        UPDATE chat_groups SET agent_id=NULL, department_id=$3, status='transferred', updated_at=NOW()
        WHERE id=$1 AND agent_id=$2 AND status='active'
        RETURNING ` + conversationColumns
	conv, err := scanConversation(r.pool.QueryRow(ctx, query, id, expectedAgent, departmentID))
	return r.resolveMiss(ctx, id, conv, err)
}

func (r *conversationRepository) Close(ctx context.Context, id int64) (*domain.Conversation, error) {
	query := `
        UPDATE chat_groups SET status='ended', updated_at=NOW()
        WHERE id=$1 AND status <> 'ended'
        RETURNING ` + conversationColumns
	conv, err := scanConversation(r.pool.QueryRow(ctx, query, id))
	return r.resolveMiss(ctx, id, conv, err)
}

func (r *conversationRepository) ListQueue(ctx context.Context, departmentIDs []int64, limit int) ([]domain.Conversation, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + conversationColumns + `
        FROM chat_groups
        WHERE agent_id IS NULL AND status IN ('queued','transferred')`
	args := []any{}
	if departmentIDs != nil {
		args = append(args, departmentIDs)
		query += fmt.Sprintf(" AND department_id = ANY($%d)", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at ASC, id ASC LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *conv)
	}
	return result, rows.Err()
}

// resolveMiss separates "row missing" from "row present but the condition failed".
func (r *conversationRepository) resolveMiss(ctx context.Context, id int64, conv *domain.Conversation, err error) (*domain.Conversation, error) {
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if _, getErr := r.GetByID(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, ErrPreconditionFailed
}

func scanConversation(row pgx.Row) (*domain.Conversation, error) {
	var conv domain.Conversation
	if err := row.Scan(
		&conv.ID,
		&conv.ClientID,
		&conv.DepartmentID,
		&conv.AgentID,
		&conv.Status,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &conv, nil
}
