package poller

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// DefaultInterval is how often an armed poller asks for new alerts.
	DefaultInterval = 30 * time.Second
	// DefaultPageSize is the number of alerts fetched to seed the watermark.
	DefaultPageSize = 1
)

// Option configures a Poller.
type Option func(*Poller)

// WithInterval overrides the poll period. Non-positive values are ignored.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithPageSize overrides how many alerts are fetched during initialization.
func WithPageSize(n int) Option {
	return func(p *Poller) {
		if n > 0 {
			p.pageSize = n
		}
	}
}

// WithClock injects the ticker source.
func WithClock(c Clock) Option {
	return func(p *Poller) {
		if c != nil {
			p.clock = c
		}
	}
}

// WithLogger sets the logger used for poll and lifecycle events.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Poller) { p.log = l }
}

// WithLocale selects the toast language.
func WithLocale(locale string) Option {
	return func(p *Poller) { p.locale = locale }
}

// WithSessionID tags every toast with the owning session.
func WithSessionID(id uuid.UUID) Option {
	return func(p *Poller) { p.sessionID = id }
}
