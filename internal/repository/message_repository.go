package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/helpdesk-labs/support-chat/internal/domain"
)

// MessageRepository manages conversation messages.
type MessageRepository interface {
	Insert(ctx context.Context, msg *domain.Message) error
	ListByConversation(ctx context.Context, conversationID int64, limit int) ([]domain.Message, error)
}

type messageRepository struct {
	pool *pgxpool.Pool
}

// NewMessageRepository builds repository.
func NewMessageRepository(pool *pgxpool.Pool) MessageRepository {
	return &messageRepository{pool: pool}
}

func (r *messageRepository) Insert(ctx context.Context, msg *domain.Message) error {
	const query = `
        INSERT INTO messages (chat_group_id, body, client_id, agent_id)
        VALUES ($1,$2,$3,$4)
        RETURNING id, created_at`
	return r.pool.QueryRow(ctx, query,
		msg.ConversationID,
		msg.Body,
		msg.ClientID,
		msg.AgentID,
	).Scan(&msg.ID, &msg.CreatedAt)
}

// ListByConversation returns the latest messages in chronological order.
func (r *messageRepository) ListByConversation(ctx context.Context, conversationID int64, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
        SELECT id, chat_group_id, body, client_id, agent_id, created_at FROM (
            SELECT id, chat_group_id, body, client_id, agent_id, created_at
            FROM messages WHERE chat_group_id=$1
            ORDER BY created_at DESC, id DESC LIMIT $2
        ) latest ORDER BY created_at ASC, id ASC`
	rows, err := r.pool.Query(ctx, query, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Message
	for rows.Next() {
		var msg domain.Message
		if err := rows.Scan(
			&msg.ID,
			&msg.ConversationID,
			&msg.Body,
			&msg.ClientID,
			&msg.AgentID,
			&msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, msg)
	}
	return result, rows.Err()
}
