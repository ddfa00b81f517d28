package domain

import (
	"time"

	"github.com/google/uuid"
)

// Toast is a transient notification surfaced to a signed-in session when
// new community alerts appear for the user's location. Toasts are also kept
// as notification history so a client that was offline can catch up.
type Toast struct {
	ID          uuid.UUID  `json:"id"`
	SessionID   uuid.UUID  `json:"session_id"`
	Email       string     `json:"email"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	Count       int        `json:"count"`
	TotalUnseen int        `json:"total_unseen"`
	LastSeenID  int64      `json:"last_seen_id"`
	IsRead      bool       `json:"is_read"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ToastFilter holds query parameters for listing toast history.
type ToastFilter struct {
	Email  string
	IsRead *bool
	Limit  int
	Offset int
}

// CreateToastInput is what a poller hands to its notifier. Count is the
// delta reported by the poll that produced it; TotalUnseen is the
// accumulated counter after applying that delta.
type CreateToastInput struct {
	SessionID   uuid.UUID
	Email       string
	Title       string
	Body        string
	Count       int
	TotalUnseen int
	LastSeenID  int64
}

// Session is the signed-in identity a poller is bound to.
type Session struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Locale    string    `json:"locale"`
	CreatedAt time.Time `json:"created_at"`
}
