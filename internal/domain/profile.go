package domain

import "time"

// AgentProfile is the durable agent record owned by the admin layer.
type AgentProfile struct {
	ID        int64
	Name      string
	AvatarURL string
	Role      Role
	Active    bool
	LastSeen  *time.Time
}

// ClientProfile is the durable customer record.
type ClientProfile struct {
	ID        int64
	Name      string
	AvatarURL string
	Active    bool
	LastSeen  *time.Time
}
