package handlers

import (
	"net/http"

	"vidlense/internal/router"
)

// RegisterRoutes mounts the JSON API on mux. Every route except the session
// reset runs behind sessionMW.
func (h *APIHandlers) RegisterRoutes(mux *router.SimpleRouter, sessionMW func(http.Handler) http.Handler) {
	handle := func(method, pattern string, fn http.HandlerFunc) {
		mux.Handle(method, pattern, sessionMW(fn))
	}

	handle("GET", "/api/state", h.HandleState)
	mux.HandleFunc("DELETE", "/api/session", h.HandleResetSession)
	handle("GET", "/api/modes", h.HandleListModes)

	mux.Handle("POST", "/api/upload", NoDeadline(sessionMW(http.HandlerFunc(h.HandleUpload))))
	handle("POST", "/api/upload/cancel", h.HandleCancelUpload)

	handle("POST", "/api/generate", h.HandleGenerate)
	handle("POST", "/api/generate/stop", h.HandleStopGeneration)
	handle("POST", "/api/shorten", h.HandleShorten)
	handle("POST", "/api/translate", h.HandleTranslate)
	handle("PUT", "/api/language", h.HandleSetLanguage)

	handle("POST", "/api/notes", h.HandleAddNote)
	handle("DELETE", "/api/notes/{id}", h.HandleDeleteNote)
	handle("POST", "/api/notes/{id}/actions", h.HandleNoteAction)

	handle("POST", "/api/playback/time", h.HandlePlaybackTime)
	handle("POST", "/api/playback/seek", h.HandleSeek)
	handle("POST", "/api/progress", h.HandleProgress)
	handle("POST", "/api/quiz", h.HandleSubmitQuiz)
	handle("POST", "/api/flashcards/flip", h.HandleFlipCard)

	handle("POST", "/api/login", h.HandleLogin)
	handle("POST", "/api/logout", h.HandleLogout)
	handle("POST", "/api/notice/dismiss", h.HandleDismissNotice)

	handle("GET", "/api/history", h.HandleGetHistory)
	handle("DELETE", "/api/history", h.HandleClearHistory)
	handle("GET", "/api/theme", h.HandleGetTheme)
	handle("PUT", "/api/theme", h.HandleSetTheme)
	handle("GET", "/api/videos", h.HandleListVideos)
	handle("GET", "/api/videos/{id}", h.HandleGetVideo)
	handle("DELETE", "/api/videos/{id}", h.HandleDeleteVideo)
	handle("GET", "/api/export", h.HandleExport)
}
