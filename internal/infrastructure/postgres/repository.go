package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"vn.io.arda/cropalert/internal/domain"
)

// Repository is the PostgreSQL implementation of domain.Repository.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new postgres Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Migrate creates the tables the service needs if they do not exist.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// ─── Sessions ────────────────────────────────────────────────────────────────

// SaveSession inserts a new signed-in session.
func (r *Repository) SaveSession(ctx context.Context, email, locale string) (*domain.Session, error) {
	var s domain.Session
	err := r.pool.QueryRow(ctx, `
		INSERT INTO sessions (user_email, locale)
		VALUES ($1, $2)
		RETURNING id, user_email, locale, created_at
	`, email, locale).Scan(&s.ID, &s.Email, &s.Locale, &s.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return &s, nil
}

// GetSession fetches a single session.
func (r *Repository) GetSession(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	var s domain.Session
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_email, locale, created_at FROM sessions WHERE id = $1
	`, id).Scan(&s.ID, &s.Email, &s.Locale, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &s, nil
}

// DeleteSession removes a session on sign-out.
func (r *Repository) DeleteSession(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListSessions returns all stored sessions, oldest first.
func (r *Repository) ListSessions(ctx context.Context) ([]*domain.Session, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_email, locale, created_at FROM sessions ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var results []*domain.Session
	for rows.Next() {
		var s domain.Session
		if err := rows.Scan(&s.ID, &s.Email, &s.Locale, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		results = append(results, &s)
	}
	return results, rows.Err()
}

// DeleteSessionsBefore removes expired sessions and returns their ids.
func (r *Repository) DeleteSessionsBefore(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `DELETE FROM sessions WHERE created_at < $1 RETURNING id`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("expire sessions: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expired session: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ─── Toasts ──────────────────────────────────────────────────────────────────

// CreateToast inserts a new toast record.
func (r *Repository) CreateToast(ctx context.Context, input domain.CreateToastInput) (*domain.Toast, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO toasts (session_id, user_email, title, body, alert_count, total_unseen, last_seen_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+toastColumns,
		input.SessionID, input.Email, input.Title, input.Body, input.Count, input.TotalUnseen, input.LastSeenID)

	t, err := scanToast(row)
	if err != nil {
		return nil, fmt.Errorf("insert toast: %w", err)
	}
	return t, nil
}

// ListToasts fetches paginated toasts for a user.
func (r *Repository) ListToasts(ctx context.Context, f domain.ToastFilter) ([]*domain.Toast, error) {
	query := `SELECT ` + toastColumns + ` FROM toasts WHERE user_email = $1`
	args := []any{f.Email}
	paramIdx := 2

	if f.IsRead != nil {
		query += fmt.Sprintf(" AND is_read = $%d", paramIdx)
		args = append(args, *f.IsRead)
		paramIdx++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", paramIdx, paramIdx+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list toasts: %w", err)
	}
	defer rows.Close()

	var results []*domain.Toast
	for rows.Next() {
		t, err := scanToast(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, t)
	}
	return results, rows.Err()
}

// MarkRead marks a single toast as read.
func (r *Repository) MarkRead(ctx context.Context, id uuid.UUID, email string) error {
	now := time.Now()
	tag, err := r.pool.Exec(ctx, `
		UPDATE toasts SET is_read = TRUE, read_at = $1
		WHERE id = $2 AND user_email = $3 AND is_read = FALSE
	`, now, id, email)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("toast not found or already read: %w", domain.ErrNotFound)
	}
	return nil
}

// MarkAllRead marks all unread toasts for a user as read.
func (r *Repository) MarkAllRead(ctx context.Context, email string) (int64, error) {
	now := time.Now()
	tag, err := r.pool.Exec(ctx, `
		UPDATE toasts SET is_read = TRUE, read_at = $1
		WHERE user_email = $2 AND is_read = FALSE
	`, now, email)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountUnread returns the count of unread toasts for a user.
func (r *Repository) CountUnread(ctx context.Context, email string) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM toasts WHERE user_email = $1 AND is_read = FALSE`,
		email,
	).Scan(&count)
	return count, err
}

// PurgeOlderThan deletes toasts older than the given number of days.
func (r *Repository) PurgeOlderThan(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM toasts WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge toasts: %w", err)
	}
	return tag.RowsAffected(), nil
}

const toastColumns = `id, session_id, user_email, title, body, alert_count, total_unseen, last_seen_id, is_read, read_at, created_at`

// scannable is satisfied by pgx.Row and pgx.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func scanToast(row scannable) (*domain.Toast, error) {
	var t domain.Toast
	err := row.Scan(
		&t.ID, &t.SessionID, &t.Email, &t.Title, &t.Body,
		&t.Count, &t.TotalUnseen, &t.LastSeenID, &t.IsRead, &t.ReadAt, &t.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan toast: %w", err)
	}
	return &t, nil
}
