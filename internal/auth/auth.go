// Package auth manages the anonymous browser session cookie. Each browser
// gets its own orchestrator session keyed by the cookie value.
package auth

import (
	"errors"
	"net/http"
	"time"

	"vidlense/internal/config"

	"github.com/google/uuid"
)

var ErrNoSession = errors.New("no session cookie")

// NewSessionID returns a fresh random session id.
func NewSessionID() string {
	return uuid.NewString()
}

// SessionIDFromRequest returns the session id carried by the request cookie.
// Values that are not UUIDs are rejected.
func SessionIDFromRequest(r *http.Request, cfg *config.Config) (string, error) {
	cookie, err := r.Cookie(cfg.Session.CookieName)
	if err != nil {
		if errors.Is(err, http.ErrNoCookie) {
			return "", ErrNoSession
		}
		return "", errors.New("error reading session cookie")
	}
	if _, err := uuid.Parse(cookie.Value); err != nil {
		return "", ErrNoSession
	}
	return cookie.Value, nil
}

// SetSessionCookie sets the session cookie in the HTTP response. Secure is
// set only when the server runs with TLS.
func SetSessionCookie(w http.ResponseWriter, cfg *config.Config, sessionID string, expiry time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.Session.CookieName,
		Value:    sessionID,
		Expires:  expiry,
		Path:     "/",
		HttpOnly: true,
		Secure:   cfg.Server.TLS.Enabled,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie removes the session cookie
func ClearSessionCookie(w http.ResponseWriter, cfg *config.Config) {
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.Session.CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   cfg.Server.TLS.Enabled,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}
