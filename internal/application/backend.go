package application

import (
	"context"

	"vn.io.arda/cropalert/internal/poller"
)

// Backend is the agri backend as seen by the service: the poller's read
// endpoints plus the preference write path.
// The default implementation is infrastructure/agriapi.Client.
type Backend interface {
	poller.AlertAPI

	// UpdateNotificationPreference writes the user's preference.
	UpdateNotificationPreference(ctx context.Context, email string, enabled bool) error

	// Invalidate forgets any cached preference for email.
	Invalidate(email string)
}
