package handlers

import (
	"context"
	"log"
	"net/http"
	"time"

	"vidlense/internal/auth"
	"vidlense/internal/config"
	"vidlense/internal/orchestrator"
)

// Context key type for the orchestrator session
type contextKey string

const sessionContextKey = contextKey("session")

// SessionMiddleware attaches the caller's orchestrator session to the request
// context, creating one and setting the cookie when needed.
func SessionMiddleware(store *SessionStore, cfg *config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := time.Now()
			id, _ := auth.SessionIDFromRequest(r, cfg)
			newID, sess := store.Acquire(id, now)
			if newID != id {
				log.Printf("SessionMiddleware: new session for %s", r.RemoteAddr)
			}
			// Refresh on every request so the cookie outlives active use.
			auth.SetSessionCookie(w, cfg, newID, now.Add(cfg.Session.MaxAge))

			ctx := context.WithValue(r.Context(), sessionContextKey, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// sessionFrom returns the session placed by SessionMiddleware.
func sessionFrom(r *http.Request) *orchestrator.Session {
	sess, _ := r.Context().Value(sessionContextKey).(*orchestrator.Session)
	return sess
}

// LoggingMiddleware logs requests
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		// State polling is too chatty to log on success.
		if r.URL.Path == "/api/state" && rw.statusCode == http.StatusOK {
			return
		}
		log.Printf("%s %s %s %d %s", r.RemoteAddr, r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}

// NoDeadline lifts the server's read and write timeouts for long transfers
// such as video uploads and media streaming.
func NoDeadline(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := http.NewResponseController(w)
		// Unsupported writers (tests, some proxies) keep their deadlines.
		_ = rc.SetReadDeadline(time.Time{})
		_ = rc.SetWriteDeadline(time.Time{})
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying connection.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
