package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines the port for session and toast persistence.
// Implementations live in infrastructure/postgres.
type Repository interface {
	SessionRepository
	ToastRepository
}

// SessionRepository stores signed-in sessions so they survive restarts.
type SessionRepository interface {
	// SaveSession stores a new session and returns it with ID and CreatedAt set.
	SaveSession(ctx context.Context, email, locale string) (*Session, error)

	// GetSession fetches a session by ID. Returns ErrNotFound if missing.
	GetSession(ctx context.Context, id uuid.UUID) (*Session, error)

	// DeleteSession removes a session (explicit sign-out).
	DeleteSession(ctx context.Context, id uuid.UUID) error

	// ListSessions returns every stored session, oldest first.
	ListSessions(ctx context.Context) ([]*Session, error)

	// DeleteSessionsBefore removes sessions created before cutoff and returns
	// their IDs.
	DeleteSessionsBefore(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)
}

// ToastRepository keeps the toast history.
type ToastRepository interface {
	// CreateToast stores a toast and returns the saved entity.
	CreateToast(ctx context.Context, input CreateToastInput) (*Toast, error)

	// ListToasts fetches toasts matching the given filter, newest first.
	ListToasts(ctx context.Context, filter ToastFilter) ([]*Toast, error)

	// MarkRead marks a single toast as read.
	MarkRead(ctx context.Context, id uuid.UUID, email string) error

	// MarkAllRead marks all unread toasts for an email as read.
	MarkAllRead(ctx context.Context, email string) (int64, error)

	// CountUnread returns the number of unread toasts for an email.
	CountUnread(ctx context.Context, email string) (int64, error)

	// PurgeOlderThan deletes toasts older than the given number of days.
	PurgeOlderThan(ctx context.Context, days int) (int64, error)
}
