package application

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"vn.io.arda/cropalert/internal/domain"
	"vn.io.arda/cropalert/internal/messages"
	"vn.io.arda/cropalert/internal/poller"
)

var (
	// ErrSessionNotFound is returned when a session is unknown, signed out or expired.
	ErrSessionNotFound = errors.New("session not found")
	// ErrServiceClosed is returned for new work after Shutdown.
	ErrServiceClosed = errors.New("service is shutting down")
)

// ToastHub is the interface for pushing toasts to connected SSE clients.
// Implementation lives in transport/http/sse_hub.go.
type ToastHub interface {
	Broadcast(sessionID uuid.UUID, toast *domain.Toast)
	// Disconnect closes every stream of a session that has ended.
	Disconnect(sessionID uuid.UUID)
}

// Service owns one alert poller per signed-in session and holds the
// notification use-cases around it.
type Service struct {
	repo       domain.Repository
	hub        ToastHub
	backend    Backend
	sessionTTL time.Duration
	pollerOpts []poller.Option

	// ctx outlives individual requests; background initialization,
	// refreshes and event-driven polls run under it.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	sessions map[uuid.UUID]*activeSession
	closed   bool
}

type activeSession struct {
	session  *domain.Session
	identity *sessionIdentity
	poller   *poller.Poller
}

// sessionIdentity lets sign-out revoke identity from a poller that may be
// mid-flight.
type sessionIdentity struct {
	mu    sync.RWMutex
	email string
}

func (i *sessionIdentity) Email() (string, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.email, i.email != ""
}

func (i *sessionIdentity) clear() {
	i.mu.Lock()
	i.email = ""
	i.mu.Unlock()
}

// NewService creates a new application Service. Sessions older than
// sessionTTL are expired (zero keeps them forever). pollerOpts are applied to
// every poller the service builds (interval, page size, clock, logger).
func NewService(repo domain.Repository, hub ToastHub, backend Backend, sessionTTL time.Duration, pollerOpts ...poller.Option) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		repo:       repo,
		hub:        hub,
		backend:    backend,
		sessionTTL: sessionTTL,
		pollerOpts: pollerOpts,
		ctx:        ctx,
		cancel:     cancel,
		sessions:   make(map[uuid.UUID]*activeSession),
	}
}

// ─── Sessions ────────────────────────────────────────────────────────────────

// SignIn persists a session for email and starts its poller. Initialization
// runs in the background; the returned session is usable immediately.
func (s *Service) SignIn(ctx context.Context, email, locale string) (*domain.Session, error) {
	if s.isClosed() {
		return nil, ErrServiceClosed
	}

	email = strings.ToLower(strings.TrimSpace(email))
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, domain.ErrInvalidEmail
	}

	sess, err := s.repo.SaveSession(ctx, email, messages.NormalizeLocale(locale))
	if err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	if !s.start(sess) {
		return nil, ErrServiceClosed
	}

	log.Info().
		Str("session", sess.ID.String()).
		Str("email", sess.Email).
		Msg("session signed in")

	return sess, nil
}

// SignOut stops the session's poller and forgets the session.
func (s *Service) SignOut(ctx context.Context, sessionID uuid.UUID) error {
	s.mu.Lock()
	as, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	if ok {
		s.stop(as)
	}

	if err := s.repo.DeleteSession(ctx, sessionID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			if !ok {
				return ErrSessionNotFound
			}
			return nil
		}
		return fmt.Errorf("delete session: %w", err)
	}

	log.Info().Str("session", sessionID.String()).Msg("session signed out")
	return nil
}

// ExpireSessions deletes sessions older than the session TTL and closes
// their pollers. Called by the cron scheduler and by Restore.
func (s *Service) ExpireSessions(ctx context.Context) (int, error) {
	if s.sessionTTL <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-s.sessionTTL)

	ids, err := s.repo.DeleteSessionsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire sessions: %w", err)
	}

	s.mu.Lock()
	var stale []*activeSession
	for _, id := range ids {
		if as, ok := s.sessions[id]; ok {
			stale = append(stale, as)
			delete(s.sessions, id)
		}
	}
	for id, as := range s.sessions {
		if as.session.CreatedAt.Before(cutoff) {
			stale = append(stale, as)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, as := range stale {
		s.stop(as)
	}

	log.Info().
		Int("deleted", len(ids)).
		Int("pollers_closed", len(stale)).
		Dur("ttl", s.sessionTTL).
		Msg("session expiry completed")
	return len(ids), nil
}

// Restore expires old sessions, then starts pollers for every remaining
// stored session that is not already active. Called once at startup so
// sessions survive restarts.
func (s *Service) Restore(ctx context.Context) (int, error) {
	if _, err := s.ExpireSessions(ctx); err != nil {
		log.Error().Err(err).Msg("session expiry before restore failed")
	}

	stored, err := s.repo.ListSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}

	restored := 0
	for _, sess := range stored {
		if s.expired(sess) {
			continue
		}
		if s.start(sess) {
			restored++
		}
	}
	log.Info().Int("restored", restored).Msg("sessions restored")
	return restored, nil
}

// start builds and initializes a poller for sess. It reports false when the
// session already has one or the service is closed.
func (s *Service) start(sess *domain.Session) bool {
	identity := &sessionIdentity{email: sess.Email}
	opts := append([]poller.Option{
		poller.WithSessionID(sess.ID),
		poller.WithLocale(sess.Locale),
		poller.WithLogger(log.With().
			Str("component", "poller").
			Str("session", sess.ID.String()).
			Logger()),
	}, s.pollerOpts...)
	p := poller.New(s.backend, s, identity, opts...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sess.ID]; exists || s.closed {
		p.Close()
		return false
	}
	s.sessions[sess.ID] = &activeSession{session: sess, identity: identity, poller: p}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		p.Initialize(s.ctx)
	}()
	return true
}

// stop tears down a session that was already removed from the map.
func (s *Service) stop(as *activeSession) {
	as.identity.clear()
	as.poller.Close()
	s.hub.Disconnect(as.session.ID)
}

func (s *Service) expired(sess *domain.Session) bool {
	return s.sessionTTL > 0 && sess.CreatedAt.Before(time.Now().Add(-s.sessionTTL))
}

// lookup returns the active session, resuming it from the store when this
// instance has not started it yet (another replica signed it in, or it was
// stored after Restore ran).
func (s *Service) lookup(ctx context.Context, sessionID uuid.UUID) (*activeSession, error) {
	s.mu.RLock()
	as, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if ok {
		return as, nil
	}

	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	if s.expired(sess) {
		return nil, ErrSessionNotFound
	}

	if s.start(sess) {
		log.Info().Str("session", sess.ID.String()).Msg("session resumed from store")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if as, ok := s.sessions[sessionID]; ok {
		return as, nil
	}
	if s.closed {
		return nil, ErrServiceClosed
	}
	return nil, ErrSessionNotFound
}

// byEmail returns the pollers of every active session for email; all
// sessions when email is empty.
func (s *Service) byEmail(email string) []*poller.Poller {
	email = strings.ToLower(strings.TrimSpace(email))

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*poller.Poller, 0, len(s.sessions))
	for _, as := range s.sessions {
		if email == "" || as.session.Email == email {
			out = append(out, as.poller)
		}
	}
	return out
}

// background runs fn under the service context. It refuses once Shutdown
// has started so Shutdown's wait covers everything it launched.
func (s *Service) background(fn func(context.Context)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
	return true
}

func (s *Service) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// ─── Alert badge ─────────────────────────────────────────────────────────────

// Snapshot returns the session's watermark, unseen counter and poller state.
func (s *Service) Snapshot(ctx context.Context, sessionID uuid.UUID) (SessionState, error) {
	as, err := s.lookup(ctx, sessionID)
	if err != nil {
		return SessionState{}, err
	}
	return as.poller.Snapshot(), nil
}

// ResetNewAlertsCount acknowledges the unseen counter (user opened the feed).
func (s *Service) ResetNewAlertsCount(ctx context.Context, sessionID uuid.UUID) error {
	as, err := s.lookup(ctx, sessionID)
	if err != nil {
		return err
	}
	as.poller.ResetNewAlertsCount()
	return nil
}

// Refresh moves the session's watermark to the backend's latest alert and
// clears the counter. The refresh runs under the service context, so a
// caller that gives up early does not abort it; Refresh still waits for it
// while ctx is live.
func (s *Service) Refresh(ctx context.Context, sessionID uuid.UUID) error {
	as, err := s.lookup(ctx, sessionID)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	if !s.background(func(bg context.Context) {
		defer close(done)
		as.poller.Refresh(bg)
	}) {
		return ErrServiceClosed
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetNotificationPreference writes the preference to the backend and
// re-initializes the session's poller so it arms or disarms accordingly.
func (s *Service) SetNotificationPreference(ctx context.Context, sessionID uuid.UUID, enabled bool) error {
	as, err := s.lookup(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := s.backend.UpdateNotificationPreference(ctx, as.session.Email, enabled); err != nil {
		return fmt.Errorf("update preference: %w", err)
	}
	for _, p := range s.byEmail(as.session.Email) {
		p.Initialize(ctx)
	}
	return nil
}

// ─── Events ──────────────────────────────────────────────────────────────────

// HandleEvent reacts to backend events delivered over Kafka.
func (s *Service) HandleEvent(ctx context.Context, ev domain.AlertEvent) error {
	var (
		targets []*poller.Poller
		action  func(*poller.Poller) func(context.Context)
	)

	switch ev.Kind {
	case domain.EventAlertSubmitted:
		targets = s.byEmail("")
		action = func(p *poller.Poller) func(context.Context) { return p.Poll }

	case domain.EventPollRequested:
		if ev.Email == "" {
			return fmt.Errorf("%s event without email", ev.Kind)
		}
		targets = s.byEmail(ev.Email)
		action = func(p *poller.Poller) func(context.Context) { return p.Poll }

	case domain.EventPreferenceChanged:
		if ev.Email == "" {
			return fmt.Errorf("%s event without email", ev.Kind)
		}
		s.backend.Invalidate(strings.ToLower(strings.TrimSpace(ev.Email)))
		targets = s.byEmail(ev.Email)
		action = func(p *poller.Poller) func(context.Context) { return p.Initialize }

	case domain.EventRefreshRequested:
		if ev.Email == "" {
			return fmt.Errorf("%s event without email", ev.Kind)
		}
		targets = s.byEmail(ev.Email)
		action = func(p *poller.Poller) func(context.Context) { return p.Refresh }

	default:
		return fmt.Errorf("unknown event kind: %q", ev.Kind)
	}

	for _, p := range targets {
		if !s.background(action(p)) {
			return ErrServiceClosed
		}
	}

	log.Debug().
		Str("kind", string(ev.Kind)).
		Str("email", ev.Email).
		Str("source_event_id", ev.SourceEventID).
		Int("sessions", len(targets)).
		Msg("alert event dispatched")

	return nil
}

// ─── Toasts ──────────────────────────────────────────────────────────────────

// Notify persists a toast and pushes it to the session's SSE clients.
// It satisfies poller.Notifier. A storage failure does not stop delivery.
func (s *Service) Notify(ctx context.Context, input domain.CreateToastInput) {
	t, err := s.repo.CreateToast(ctx, input)
	if err != nil {
		log.Error().Err(err).Str("email", input.Email).Msg("failed to persist toast")
		t = &domain.Toast{
			ID:          uuid.New(),
			SessionID:   input.SessionID,
			Email:       input.Email,
			Title:       input.Title,
			Body:        input.Body,
			Count:       input.Count,
			TotalUnseen: input.TotalUnseen,
			LastSeenID:  input.LastSeenID,
			CreatedAt:   time.Now(),
		}
	}

	// Non-blocking SSE broadcast
	go s.hub.Broadcast(t.SessionID, t)

	log.Info().
		Str("id", t.ID.String()).
		Str("session", t.SessionID.String()).
		Str("email", t.Email).
		Int("count", t.Count).
		Msg("toast created and broadcast")
}

// ListToasts returns paginated toast history for a user.
func (s *Service) ListToasts(ctx context.Context, filter domain.ToastFilter) ([]*domain.Toast, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 20
	}
	return s.repo.ListToasts(ctx, filter)
}

// CountUnread returns the unread toast count for a user.
func (s *Service) CountUnread(ctx context.Context, email string) (int64, error) {
	return s.repo.CountUnread(ctx, email)
}

// MarkRead marks a single toast as read.
func (s *Service) MarkRead(ctx context.Context, idStr, email string) error {
	id, err := uuid.Parse(idStr)
	if err != nil {
		return fmt.Errorf("invalid toast id: %w", err)
	}
	return s.repo.MarkRead(ctx, id, email)
}

// MarkAllRead marks all toasts for a user as read.
func (s *Service) MarkAllRead(ctx context.Context, email string) (int64, error) {
	return s.repo.MarkAllRead(ctx, email)
}

// PurgeTTL deletes old toasts. Called by the cron scheduler.
func (s *Service) PurgeTTL(ctx context.Context, days int) {
	count, err := s.repo.PurgeOlderThan(ctx, days)
	if err != nil {
		log.Error().Err(err).Msg("toast TTL purge failed")
		return
	}
	log.Info().Int64("deleted", count).Int("older_than_days", days).Msg("toast TTL purge completed")
}

// ActiveSessions returns the number of sessions with a running poller.
func (s *Service) ActiveSessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Shutdown closes every poller and waits for background work. Sessions stay
// stored so Restore can pick them up on the next start. New work is refused
// from here on.
func (s *Service) Shutdown() {
	s.mu.Lock()
	s.closed = true
	active := make([]*activeSession, 0, len(s.sessions))
	for id, as := range s.sessions {
		active = append(active, as)
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	s.cancel()
	for _, as := range active {
		as.poller.Close()
	}
	s.wg.Wait()
}
