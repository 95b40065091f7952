package domain

import "time"

// Status is a user's advisory presence state.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusAway    Status = "away"
	StatusBusy    Status = "busy"
)

// Valid reports whether s is one of the known presence states.
func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusOffline, StatusAway, StatusBusy:
		return true
	}
	return false
}

// PresenceRecord is the shared, last-write-wins presence state for a user.
// A user with no record is reported offline with a zero LastSeen.
type PresenceRecord struct {
	UserID   string    `json:"userId"`
	Status   Status    `json:"status"`
	LastSeen time.Time `json:"lastSeen"`
}

// Identity is the authenticated principal bound to a connection for its
// whole lifetime. Re-authentication requires a new connection.
type Identity struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}
