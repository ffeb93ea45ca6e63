package domain

import "time"

// Department groups agents and routes conversations to them.
type Department struct {
	ID        int64
	Name      string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
