package middleware

import (
	"github.com/CQNKZX/otree-core/internal/errs"
	"github.com/CQNKZX/otree-core/internal/server"
	"github.com/CQNKZX/otree-core/internal/session"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

const (
	// SessionTokenHeader carries the participant's session token,
	// handed out by the initialize endpoint.
	SessionTokenHeader = "X-Session-Token"

	// SessionKey is the Echo context key the resolved session is
	// stored under.
	SessionKey = "participant_session"

	// SessionTokenKey is the Echo context key for the raw token, so
	// handlers can update or delete the session.
	SessionTokenKey = "participant_session_token"
)

// SessionMiddleware resolves the participant session token on play
// routes. An absent or expired token yields a 401 with code
// SESSION_NOT_FOUND; the participant re-enters through their start
// URL.
type SessionMiddleware struct {
	server *server.Server
}

func NewSessionMiddleware(s *server.Server) *SessionMiddleware {
	return &SessionMiddleware{
		server: s,
	}
}

// RequireSession loads the session for the X-Session-Token header and
// stores it in Echo context.
func (sm *SessionMiddleware) RequireSession(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := c.Request().Header.Get(SessionTokenHeader)
		if token == "" {
			return sessionNotFound()
		}

		sess, err := sm.server.Sessions.Get(c.Request().Context(), token)
		if err != nil {
			if errors.Is(err, session.ErrNotFound) {
				return sessionNotFound()
			}
			return err
		}

		c.Set(SessionKey, sess)
		c.Set(SessionTokenKey, token)

		return next(c)
	}
}

func sessionNotFound() error {
	code := "SESSION_NOT_FOUND"
	err := errs.NewUnauthorizedError("No live session; enter through your start URL", true)
	err.Code = code
	return err
}

// GetSession retrieves the participant session from Echo context, or
// nil when RequireSession did not run.
func GetSession(c echo.Context) *session.Session {
	if sess, ok := c.Get(SessionKey).(*session.Session); ok {
		return sess
	}
	return nil
}

// GetSessionToken retrieves the raw session token from Echo context.
func GetSessionToken(c echo.Context) string {
	if token, ok := c.Get(SessionTokenKey).(string); ok {
		return token
	}
	return ""
}
