package storage

import (
	"time"

	"github.com/google/uuid"
)

// AuthEvent is one row of the authentication audit log.
type AuthEvent struct {
	ID        uuid.UUID `json:"id"`
	EventType string    `json:"event_type"`
	Username  string    `json:"username"`
	IPAddress string    `json:"ip_address"`
	UserAgent string    `json:"user_agent"`
	Success   bool      `json:"success"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
