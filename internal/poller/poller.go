// Package poller watches the agri backend for community alerts newer than a
// per-session watermark and raises a toast when some appear.
//
// A Poller is built once per signed-in session and closed on sign-out. The
// watermark is seeded from the newest alert for the user's location; an armed
// poller then asks, on a fixed period, how many alerts are newer than it and
// accumulates that count until the user acknowledges it.
package poller

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"vn.io.arda/cropalert/internal/domain"
	"vn.io.arda/cropalert/internal/messages"
)

// AlertAPI is the backend port. The default implementation lives in
// infrastructure/agriapi.
type AlertAPI interface {
	NotificationPreference(ctx context.Context, email string) (bool, error)
	AlertsByLocation(ctx context.Context, email string, limit int) ([]domain.Alert, error)
	NewAlertsCount(ctx context.Context, email string, lastSeenID int64) (int, error)
}

// Notifier receives one toast per successful poll that found new alerts.
type Notifier interface {
	Notify(ctx context.Context, input domain.CreateToastInput)
}

// IdentityProvider reports the signed-in email, if any.
type IdentityProvider interface {
	Email() (string, bool)
}

// StaticIdentity is an IdentityProvider for a fixed email.
type StaticIdentity string

func (s StaticIdentity) Email() (string, bool) {
	e := strings.TrimSpace(string(s))
	return e, e != ""
}

// Snapshot is a read-only view of the poller state.
type Snapshot struct {
	Email          string `json:"email"`
	State          State  `json:"state"`
	Enabled        bool   `json:"enabled"`
	Armed          bool   `json:"armed"`
	LastSeenID     int64  `json:"lastSeenId"`
	NewAlertsCount int    `json:"newAlertsCount"`
}

// Poller owns the watermark and unseen counter for one session.
// It is safe for concurrent use.
type Poller struct {
	api       AlertAPI
	notifier  Notifier
	identity  IdentityProvider
	clock     Clock
	interval  time.Duration
	pageSize  int
	locale    string
	sessionID uuid.UUID
	log       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	state      State
	enabled    bool
	lastSeenID int64
	newAlerts  int
	// generation moves on every initialization, identity loss and Close.
	// Fetch results captured under an older generation are discarded.
	generation uint64
	stopTick   chan struct{}
	closed     bool
}

// New creates an idle Poller. Call Initialize to seed the watermark and arm it.
func New(api AlertAPI, notifier Notifier, identity IdentityProvider, opts ...Option) *Poller {
	p := &Poller{
		api:      api,
		notifier: notifier,
		identity: identity,
		clock:    realClock{},
		interval: DefaultInterval,
		pageSize: DefaultPageSize,
		locale:   messages.LocaleEN,
		log:      log.With().Str("component", "poller").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	return p
}

// Initialize reads the notification preference and seeds the watermark from
// the newest alert for the user's location. Failures are logged and leave the
// poller inactive; there is no retry.
func (p *Poller) Initialize(ctx context.Context) {
	p.initialize(ctx)
}

// initialize reports whether the backend answered and the result was applied.
func (p *Poller) initialize(ctx context.Context) bool {
	email, ok := p.identity.Email()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	p.generation++
	if !ok {
		p.disarmLocked()
		p.state = StateIdle
		p.mu.Unlock()
		return false
	}
	gen := p.generation
	p.state = StateInitializing
	p.mu.Unlock()

	l := p.log.With().Str("email", email).Logger()

	enabled, err := p.api.NotificationPreference(ctx, email)
	if err != nil {
		l.Error().Err(err).Msg("failed to read notification preference")
		p.finishInit(gen, nil, 0)
		return false
	}
	if !enabled {
		l.Info().Msg("notifications disabled for user")
		return p.finishInit(gen, &enabled, 0)
	}

	alerts, err := p.api.AlertsByLocation(ctx, email, p.pageSize)
	if err != nil {
		l.Error().Err(err).Msg("failed to initialize notification state")
		p.finishInit(gen, &enabled, 0)
		return false
	}

	var maxID int64
	for _, a := range alerts {
		if a.ID > maxID {
			maxID = a.ID
		}
	}
	return p.finishInit(gen, &enabled, maxID)
}

// finishInit applies an initialization result unless a newer one started.
func (p *Poller) finishInit(gen uint64, enabled *bool, maxID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if gen != p.generation {
		p.log.Debug().Uint64("generation", gen).Msg("dropping superseded initialization")
		return false
	}
	if enabled != nil {
		p.enabled = *enabled
	}
	if maxID > p.lastSeenID {
		p.lastSeenID = maxID
	}
	p.reconcileLocked()
	return true
}

// reconcileLocked arms or disarms the ticker to match the poll precondition.
func (p *Poller) reconcileLocked() {
	_, ok := p.identity.Email()
	if !p.closed && ok && p.enabled && p.lastSeenID > 0 {
		p.armLocked()
		p.state = StateArmed
		return
	}
	p.disarmLocked()
	p.state = StateIdle
}

// Poll asks the backend for alerts newer than the watermark. The ticker calls
// it every interval; callers may also call it directly to check immediately.
// A failed poll changes nothing and the next tick tries again.
func (p *Poller) Poll(ctx context.Context) {
	email, ok := p.identity.Email()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	if !ok {
		if p.stopTick != nil {
			p.log.Info().Msg("identity gone, alert polling disarmed")
		}
		p.generation++
		p.disarmLocked()
		p.state = StateIdle
		p.mu.Unlock()
		return
	}
	if !p.enabled || p.lastSeenID <= 0 || p.state != StateArmed {
		p.mu.Unlock()
		return
	}
	gen := p.generation
	since := p.lastSeenID
	p.state = StatePolling
	p.mu.Unlock()

	count, err := p.api.NewAlertsCount(ctx, email, since)

	p.mu.Lock()
	if gen != p.generation {
		p.mu.Unlock()
		p.log.Debug().Str("email", email).Msg("dropping stale poll result")
		return
	}
	p.state = StateArmed
	if err != nil {
		p.mu.Unlock()
		p.log.Warn().Err(err).Str("email", email).Int64("last_seen_id", since).Msg("alert poll failed")
		return
	}
	if count <= 0 {
		p.mu.Unlock()
		return
	}
	p.newAlerts += count
	input := domain.CreateToastInput{
		SessionID:   p.sessionID,
		Email:       email,
		Count:       count,
		TotalUnseen: p.newAlerts,
		LastSeenID:  since,
	}
	p.mu.Unlock()

	input.Title, input.Body = messages.NewAlerts(p.locale, count)
	p.notifier.Notify(ctx, input)

	p.log.Info().
		Str("email", email).
		Int("count", count).
		Int("total_unseen", input.TotalUnseen).
		Msg("new community alerts")
}

// ResetNewAlertsCount clears the unseen counter. The watermark is untouched.
func (p *Poller) ResetNewAlertsCount() {
	p.mu.Lock()
	p.newAlerts = 0
	p.mu.Unlock()
}

// Refresh re-runs initialization so the watermark catches up with what the
// user has just seen, then clears the counter. Any poll in flight when
// Refresh starts is discarded. If initialization does not complete the
// counter is kept, since the watermark did not move.
func (p *Poller) Refresh(ctx context.Context) {
	if p.initialize(ctx) {
		p.ResetNewAlertsCount()
	}
}

// Snapshot returns the current state.
func (p *Poller) Snapshot() Snapshot {
	email, _ := p.identity.Email()

	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{
		Email:          email,
		State:          p.state,
		Enabled:        p.enabled,
		Armed:          p.stopTick != nil,
		LastSeenID:     p.lastSeenID,
		NewAlertsCount: p.newAlerts,
	}
}

// Close stops the ticker, cancels in-flight requests and discards any result
// that still arrives. It blocks until the ticker goroutine has exited.
func (p *Poller) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.generation++
	p.disarmLocked()
	p.state = StateIdle
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}

func (p *Poller) armLocked() {
	if p.stopTick != nil {
		return
	}
	stop := make(chan struct{})
	p.stopTick = stop
	t := p.clock.NewTicker(p.interval)

	p.wg.Add(1)
	go p.run(t, stop)

	p.log.Debug().Dur("interval", p.interval).Msg("alert polling armed")
}

func (p *Poller) disarmLocked() {
	if p.stopTick == nil {
		return
	}
	close(p.stopTick)
	p.stopTick = nil
}

func (p *Poller) run(t Ticker, stop <-chan struct{}) {
	defer p.wg.Done()
	defer t.Stop()

	for {
		select {
		case <-stop:
			return
		case <-p.ctx.Done():
			return
		case <-t.C():
			p.Poll(p.ctx)
		}
	}
}
