package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"vn.io.arda/cropalert/internal/application"
	"vn.io.arda/cropalert/internal/domain"
	"vn.io.arda/cropalert/internal/transport/mw"
)

// Handler holds all HTTP handler methods.
type Handler struct {
	svc      *application.Service
	hub      *Hub
	secret   string
	tokenTTL time.Duration
}

// NewHandler creates a new Handler. secret and tokenTTL are used to sign
// session tokens.
func NewHandler(svc *application.Service, hub *Hub, secret string, tokenTTL time.Duration) *Handler {
	return &Handler{svc: svc, hub: hub, secret: secret, tokenTTL: tokenTTL}
}

// --- Sessions ---

// CreateSession POST /sessions
func (h *Handler) CreateSession(c echo.Context) error {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	locale, _ := c.Get(mw.KeyLocale).(string)
	sess, err := h.svc.SignIn(c.Request().Context(), req.Email, locale)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidEmail) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		if errors.Is(err, application.ErrServiceClosed) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
		}
		log.Error().Err(err).Msg("sign-in failed")
		return echo.ErrInternalServerError
	}

	token, err := mw.IssueToken(h.secret, sess, h.tokenTTL)
	if err != nil {
		return echo.ErrInternalServerError
	}

	return c.JSON(http.StatusCreated, map[string]any{
		"token":   token,
		"session": sess,
	})
}

// DeleteSession DELETE /sessions
func (h *Handler) DeleteSession(c echo.Context) error {
	sessionID, _ := mustClaims(c)

	if err := h.svc.SignOut(c.Request().Context(), sessionID); err != nil {
		return sessionError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// --- Alert badge ---

// AlertState GET /alerts/state
func (h *Handler) AlertState(c echo.Context) error {
	sessionID, _ := mustClaims(c)

	state, err := h.svc.Snapshot(c.Request().Context(), sessionID)
	if err != nil {
		return sessionError(err)
	}
	return c.JSON(http.StatusOK, state)
}

// Acknowledge POST /alerts/acknowledge
func (h *Handler) Acknowledge(c echo.Context) error {
	sessionID, _ := mustClaims(c)

	if err := h.svc.ResetNewAlertsCount(c.Request().Context(), sessionID); err != nil {
		return sessionError(err)
	}
	return h.AlertState(c)
}

// Refresh POST /alerts/refresh
func (h *Handler) Refresh(c echo.Context) error {
	sessionID, _ := mustClaims(c)

	if err := h.svc.Refresh(c.Request().Context(), sessionID); err != nil {
		return sessionError(err)
	}
	return h.AlertState(c)
}

// UpdatePreference PUT /preferences/notifications
func (h *Handler) UpdatePreference(c echo.Context) error {
	sessionID, _ := mustClaims(c)

	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := c.Bind(&req); err != nil || req.Enabled == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "enabled is required")
	}

	if err := h.svc.SetNotificationPreference(c.Request().Context(), sessionID, *req.Enabled); err != nil {
		if errors.Is(err, application.ErrSessionNotFound) || errors.Is(err, application.ErrServiceClosed) {
			return sessionError(err)
		}
		log.Warn().Err(err).Str("session", sessionID.String()).Msg("preference update failed")
		return echo.NewHTTPError(http.StatusBadGateway, "backend rejected preference update")
	}
	return h.AlertState(c)
}

// --- Toast history ---

// ListToasts GET /toasts
func (h *Handler) ListToasts(c echo.Context) error {
	_, email := mustClaims(c)

	filter := domain.ToastFilter{
		Email:  email,
		Limit:  parseIntQuery(c, "limit", 20),
		Offset: parseIntQuery(c, "offset", 0),
	}
	if r := c.QueryParam("is_read"); r != "" {
		isRead := r == "true"
		filter.IsRead = &isRead
	}

	toasts, err := h.svc.ListToasts(c.Request().Context(), filter)
	if err != nil {
		return echo.ErrInternalServerError
	}

	return c.JSON(http.StatusOK, map[string]any{
		"data":   toasts,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// GetUnreadCount GET /toasts/unread-count
func (h *Handler) GetUnreadCount(c echo.Context) error {
	_, email := mustClaims(c)

	count, err := h.svc.CountUnread(c.Request().Context(), email)
	if err != nil {
		return echo.ErrInternalServerError
	}
	return c.JSON(http.StatusOK, map[string]int64{"count": count})
}

// MarkRead PATCH /toasts/:id/read
func (h *Handler) MarkRead(c echo.Context) error {
	_, email := mustClaims(c)

	if err := h.svc.MarkRead(c.Request().Context(), c.Param("id"), email); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// MarkAllRead POST /toasts/read-all
func (h *Handler) MarkAllRead(c echo.Context) error {
	_, email := mustClaims(c)

	count, err := h.svc.MarkAllRead(c.Request().Context(), email)
	if err != nil {
		return echo.ErrInternalServerError
	}
	return c.JSON(http.StatusOK, map[string]int64{"marked": count})
}

// --- SSE Handler ---

// Stream GET /toasts/stream (SSE)
func (h *Handler) Stream(c echo.Context) error {
	sessionID, _ := mustClaims(c)

	state, err := h.svc.Snapshot(c.Request().Context(), sessionID)
	if err != nil {
		return sessionError(err)
	}

	// SSE headers
	w := c.Response()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable Nginx/APISIX buffering

	// Register client
	sendCh := make(chan []byte, 32)
	client := h.hub.Register(sessionID, sendCh)
	defer h.hub.Unregister(client)

	// The first frame carries the current badge so the client can render it
	// without a separate request.
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, string(buildSSEMessage("connected", state)))
	w.Flush()

	log.Info().Str("session", sessionID.String()).Msg("SSE stream opened")

	ctx := c.Request().Context()
	for {
		select {
		case msg, ok := <-sendCh:
			if !ok {
				return nil
			}
			if _, err := w.Write(msg); err != nil {
				return nil
			}
			w.Flush()

		case <-ctx.Done():
			log.Info().Str("session", sessionID.String()).Msg("SSE stream closed by client")
			return nil
		}
	}
}

// --- Healthcheck ---

// Health GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":          "ok",
		"sse_clients":     h.hub.ConnectedCount(),
		"active_sessions": h.svc.ActiveSessions(),
	})
}

// --- Helpers ---

func mustClaims(c echo.Context) (sessionID uuid.UUID, email string) {
	sessionID = c.Get(mw.KeySessionID).(uuid.UUID)
	email = c.Get(mw.KeyEmail).(string)
	return
}

func sessionError(err error) error {
	switch {
	case errors.Is(err, application.ErrSessionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, application.ErrServiceClosed):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	log.Error().Err(err).Msg("session operation failed")
	return echo.ErrInternalServerError
}

func parseIntQuery(c echo.Context, key string, def int) int {
	v, err := strconv.Atoi(c.QueryParam(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}
