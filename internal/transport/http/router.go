package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"vn.io.arda/cropalert/internal/transport/mw"
)

// NewRouter sets up all Echo routes and middleware.
func NewRouter(h *Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{"Authorization", "Content-Type", "Accept-Language"},
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
	}))

	// Health (no auth required)
	e.GET("/health", h.Health)

	// Sign-in issues the session token
	e.POST("/sessions", h.CreateSession, mw.LocaleResolver())

	// API, requires a session token
	v1 := e.Group("")
	v1.Use(mw.SessionAuth(h.secret))

	v1.DELETE("/sessions", h.DeleteSession)

	v1.GET("/alerts/state", h.AlertState)
	v1.POST("/alerts/acknowledge", h.Acknowledge)
	v1.POST("/alerts/refresh", h.Refresh)
	v1.PUT("/preferences/notifications", h.UpdatePreference)

	v1.GET("/toasts", h.ListToasts)
	v1.GET("/toasts/unread-count", h.GetUnreadCount)
	v1.PATCH("/toasts/:id/read", h.MarkRead)
	v1.POST("/toasts/read-all", h.MarkAllRead)

	// SSE endpoint
	v1.GET("/toasts/stream", h.Stream)

	return e
}
