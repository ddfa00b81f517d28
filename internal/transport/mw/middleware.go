package mw

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"vn.io.arda/cropalert/internal/domain"
	"vn.io.arda/cropalert/internal/messages"
)

// Context keys set by the middleware below.
const (
	KeySessionID = "sessionID"
	KeyEmail     = "email"
	KeyLocale    = "locale"
)

const issuer = "cropalert"

// SessionClaims is the payload of a session token. Subject carries the
// session id.
type SessionClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 session token for sess.
func IssueToken(secret string, sess *domain.Session, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		Email: sess.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   sess.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// ParseToken verifies a session token and returns its session id and email.
func ParseToken(secret, tokenStr string) (uuid.UUID, string, error) {
	var claims SessionClaims
	_, err := jwt.ParseWithClaims(tokenStr, &claims, func(token *jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return uuid.Nil, "", err
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("invalid subject: %w", err)
	}
	if claims.Email == "" {
		return uuid.Nil, "", errors.New("token has no email")
	}
	return id, claims.Email, nil
}

// SessionAuth validates the Bearer session token. Browsers cannot set headers
// on an EventSource, so a "token" query parameter is accepted as well.
// The session id and email are stored in echo.Context for downstream use.
func SessionAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenStr := ""
			if authHeader := c.Request().Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
				tokenStr = strings.TrimPrefix(authHeader, "Bearer ")
			} else {
				tokenStr = c.QueryParam("token")
			}
			if tokenStr == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}

			sessionID, email, err := ParseToken(secret, tokenStr)
			if err != nil {
				log.Warn().Err(err).Msg("session token rejected")
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid session token")
			}

			c.Set(KeySessionID, sessionID)
			c.Set(KeyEmail, email)

			return next(c)
		}
	}
}

// LocaleResolver picks the toast language from Accept-Language.
func LocaleResolver() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(KeyLocale, messages.NormalizeLocale(c.Request().Header.Get("Accept-Language")))
			return next(c)
		}
	}
}
