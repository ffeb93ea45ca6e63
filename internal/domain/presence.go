package domain

import "time"

// PresenceStatus is the live state broadcast to connected parties.
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceOffline PresenceStatus = "offline"
)

// PresenceRecord tracks one connected identity.
type PresenceRecord struct {
	IdentityID   int64        `json:"identity_id"`
	ConnectionID string       `json:"connection_id"`
	Kind         IdentityKind `json:"kind"`
	DisplayName  string       `json:"display_name"`
	LastSeen     time.Time    `json:"last_seen"`
}
