package middleware

import (
	"net/http"

	"github.com/gorilla/sessions"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
)

const (
	// UserContextKey holds the caller's user id on the echo context.
	UserContextKey = "user_id"

	sessionUserKey = "user_id"
)

// IdentityConfig configures Identity.
type IdentityConfig struct {
	// SessionName is the cookie session that carries the user id.
	SessionName string
	// DemoUserID is used when the session has no user. Empty disables the fallback.
	DemoUserID string
}

// Identity resolves the caller from the session, falling back to the demo
// user, and rejects the request with 401 when neither is available.
// It must run after session.Middleware.
func Identity(cfg IdentityConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := SessionUserID(c, cfg.SessionName)
			if userID == "" {
				userID = cfg.DemoUserID
			}
			if userID == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"code":    "unauthorized",
					"message": "sign in required",
				})
			}
			c.Set(UserContextKey, userID)
			return next(c)
		}
	}
}

// UserID returns the identity resolved by Identity, or "".
func UserID(c echo.Context) string {
	id, _ := c.Get(UserContextKey).(string)
	return id
}

// SessionUserID returns the user id stored in the named session, or "".
func SessionUserID(c echo.Context, sessionName string) string {
	sess, err := session.Get(sessionName, c)
	if err != nil {
		return ""
	}
	id, _ := sess.Values[sessionUserKey].(string)
	return id
}

// Login stores userID in the named session.
func Login(c echo.Context, sessionName, userID string) error {
	sess, err := session.Get(sessionName, c)
	if err != nil {
		return err
	}
	sess.Values[sessionUserKey] = userID
	return sess.Save(c.Request(), c.Response())
}

// Logout expires the named session.
func Logout(c echo.Context, sessionName string) error {
	sess, err := session.Get(sessionName, c)
	if err != nil {
		return err
	}
	delete(sess.Values, sessionUserKey)
	sess.Options = &sessions.Options{Path: "/", MaxAge: -1, HttpOnly: true}
	return sess.Save(c.Request(), c.Response())
}

// NewSessionStore creates the cookie store used by session.Middleware.
func NewSessionStore(secret string) *sessions.CookieStore {
	store := sessions.NewCookieStore([]byte(secret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7, // 7 days
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	return store
}
