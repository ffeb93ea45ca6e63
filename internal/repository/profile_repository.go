package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/helpdesk-labs/support-chat/internal/domain"
)

// ProfileRepository reads agent and client profiles and records durable last-seen times.
type ProfileRepository interface {
	GetAgent(ctx context.Context, id int64) (*domain.AgentProfile, error)
	GetClient(ctx context.Context, id int64) (*domain.ClientProfile, error)
	WriteLastSeen(ctx context.Context, kind domain.IdentityKind, id int64, at time.Time) error
}

type profileRepository struct {
	pool *pgxpool.Pool
}

// NewProfileRepository instantiates the repository.
func NewProfileRepository(pool *pgxpool.Pool) ProfileRepository {
	return &profileRepository{pool: pool}
}

func (r *profileRepository) GetAgent(ctx context.Context, id int64) (*domain.AgentProfile, error) {
	const query = `
        SELECT id, name, COALESCE(avatar_url, ''), role, active_flag, last_seen
        FROM agents WHERE id=$1`
	var agent domain.AgentProfile
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&agent.ID,
		&agent.Name,
		&agent.AvatarURL,
		&agent.Role,
		&agent.Active,
		&agent.LastSeen,
	); err != nil {
		return nil, err
	}
	return &agent, nil
}

func (r *profileRepository) GetClient(ctx context.Context, id int64) (*domain.ClientProfile, error) {
	const query = `
        SELECT id, name, COALESCE(avatar_url, ''), active_flag, last_seen
        FROM clients WHERE id=$1`
	var client domain.ClientProfile
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&client.ID,
		&client.Name,
		&client.AvatarURL,
		&client.Active,
		&client.LastSeen,
	); err != nil {
		return nil, err
	}
	return &client, nil
}

func (r *profileRepository) WriteLastSeen(ctx context.Context, kind domain.IdentityKind, id int64, at time.Time) error {
	var table string
	switch kind {
	case domain.IdentityAgent:
		table = "agents"
	case domain.IdentityClient:
		table = "clients"
	default:
		return fmt.Errorf("unknown identity kind %q", kind)
	}
	cmd, err := r.pool.Exec(ctx, `UPDATE `+table+` SET last_seen=$1 WHERE id=$2`, at, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
