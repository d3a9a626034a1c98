package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"vidlense/internal/auth"
	"vidlense/internal/config"
	"vidlense/internal/database"
	"vidlense/internal/history"
	"vidlense/internal/models"
	"vidlense/internal/modes"
	"vidlense/internal/orchestrator"
	"vidlense/internal/render"
	"vidlense/internal/router"
	"vidlense/internal/timecode"

	"github.com/google/uuid"
)

type APIHandlers struct {
	DB       *database.DB
	Cfg      *config.Config
	History  *history.Aggregator
	Sessions *SessionStore
	Renderer *render.Renderer

	ctx  context.Context // Parent of background jobs; cancelled on shutdown
	jobs sync.WaitGroup
}

func NewAPIHandlers(ctx context.Context, db *database.DB, cfg *config.Config, hist *history.Aggregator, sessions *SessionStore, renderer *render.Renderer) *APIHandlers {
	return &APIHandlers{DB: db, Cfg: cfg, History: hist, Sessions: sessions, Renderer: renderer, ctx: ctx}
}

// Helper to write JSON responses
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Printf("Error encoding JSON response: %v", err)
		}
	}
}

// Helper to write JSON error responses
func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

// statusFor maps session errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrNoteNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrUnknownMode), errors.Is(err, orchestrator.ErrInvalidNoteAction):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrNoFile), errors.Is(err, orchestrator.ErrNoQuiz),
		errors.Is(err, orchestrator.ErrNoteBusy), errors.Is(err, orchestrator.ErrBusy),
		errors.Is(err, orchestrator.ErrNothingToShorten):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Wait blocks until every background job has returned.
func (h *APIHandlers) Wait() {
	h.jobs.Wait()
}

// runJob runs fn in the background the way uploads and generations do:
// the request returns 202 and the browser polls /api/state for the outcome.
func (h *APIHandlers) runJob(name string, fn func(ctx context.Context) error) {
	h.jobs.Add(1)
	go func() {
		defer h.jobs.Done()
		parent := h.ctx
		if parent == nil {
			parent = context.Background()
		}
		ctx, cancel := context.WithTimeout(parent, h.Cfg.Gemini.RequestTimeout)
		defer cancel()
		if err := fn(ctx); err != nil && !errors.Is(err, orchestrator.ErrCancelled) {
			log.Printf("API %s: %v", name, err)
		}
	}()
}

func accepted(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusAccepted, map[string]string{"message": message})
}

// --- Session state ---

// HandleState returns the caller's session snapshot.
func (h *APIHandlers) HandleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionFrom(r).Snapshot())
}

func (h *APIHandlers) HandleListModes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, modes.All())
}

// --- Upload ---

// cancelAwareReader stops a transfer once the upload it feeds is cancelled.
type cancelAwareReader struct {
	r  io.Reader
	up *orchestrator.PendingUpload
}

func (c cancelAwareReader) Read(p []byte) (int, error) {
	if c.up.Cancelled() {
		return 0, orchestrator.ErrCancelled
	}
	return c.r.Read(p)
}

// videoPart returns the multipart part carrying the video file.
func videoPart(r *http.Request) (*multipart.Part, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, err
	}
	for {
		part, err := mr.NextPart()
		if err != nil {
			return nil, err
		}
		if part.FormName() == "video" && part.FileName() != "" {
			return part, nil
		}
		part.Close()
	}
}

// HandleUpload stores the posted video under the upload directory, where the
// player can stream it from /media/, and hands it to the AI service in the
// background. The session enters the uploading state as soon as the file
// part starts, so a cancel during the transfer stops it.
func (h *APIHandlers) HandleUpload(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	maxBytes := h.Cfg.Storage.MaxUploadMB << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	part, err := videoPart(r)
	if err != nil {
		log.Printf("API Upload: Error reading multipart form: %v", err)
		writeJSONError(w, http.StatusBadRequest, "Missing 'video' file in form data")
		return
	}
	defer part.Close()

	mimeType := part.Header.Get("Content-Type")
	if !strings.HasPrefix(mimeType, "video/") {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Unsupported file type %q, expected a video", mimeType))
		return
	}
	displayName := filepath.Base(part.FileName())

	if err := os.MkdirAll(h.Cfg.Storage.UploadDir, 0755); err != nil {
		log.Printf("API Upload: Failed to create upload dir %s: %v", h.Cfg.Storage.UploadDir, err)
		writeJSONError(w, http.StatusInternalServerError, "Failed to store upload")
		return
	}
	storedName := uuid.NewString() + strings.ToLower(filepath.Ext(displayName))
	storedPath := filepath.Join(h.Cfg.Storage.UploadDir, storedName)
	videoURL := "/media/" + storedName

	dst, err := os.Create(storedPath)
	if err != nil {
		log.Printf("API Upload: Failed to create %s: %v", storedPath, err)
		writeJSONError(w, http.StatusInternalServerError, "Failed to store upload")
		return
	}

	up := sess.BeginUpload(displayName, mimeType, videoURL)
	n, err := io.Copy(dst, cancelAwareReader{r: part, up: up})
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err == nil && up.Cancelled() {
		err = orchestrator.ErrCancelled
	}
	if err != nil {
		os.Remove(storedPath)
		if errors.Is(up.Fail(err), orchestrator.ErrCancelled) {
			log.Printf("API Upload: %s cancelled after %d bytes", displayName, n)
			writeJSON(w, http.StatusOK, map[string]string{"message": "Upload cancelled"})
			return
		}
		log.Printf("API Upload: Failed to save %s: %v", storedPath, err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "Video is too large")
			return
		}
		writeJSONError(w, http.StatusBadRequest, "Failed to receive upload")
		return
	}
	log.Printf("API Upload: stored %s as %s (%d bytes)", displayName, storedPath, n)

	h.runJob("Upload", func(ctx context.Context) error {
		f, err := os.Open(storedPath)
		if err != nil {
			return up.Fail(fmt.Errorf("failed to reopen %s: %w", storedPath, err))
		}
		defer f.Close()
		return up.Run(ctx, f)
	})

	writeJSON(w, http.StatusAccepted, map[string]string{
		"message":  "Upload accepted, processing started",
		"videoUrl": videoURL,
	})
}

func (h *APIHandlers) HandleCancelUpload(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	sess.CancelUpload()
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

// --- Generation ---

func (h *APIHandlers) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Mode  string `json:"mode"`
		Input string `json:"input"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	mode, ok := modes.Lookup(body.Mode)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Unknown mode %q", body.Mode))
		return
	}
	if mode.Custom && strings.TrimSpace(body.Input) == "" {
		writeJSONError(w, http.StatusBadRequest, "Custom mode requires input")
		return
	}

	sess := sessionFrom(r)
	gen, err := sess.BeginMode(mode.Name, body.Input)
	if err != nil {
		msg := sess.Snapshot().Notice
		if msg == "" {
			msg = err.Error()
		}
		writeJSONError(w, statusFor(err), msg)
		return
	}

	h.runJob("Generate", gen.Run)
	accepted(w, "Generation started")
}

func (h *APIHandlers) HandleStopGeneration(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	sess.StopGeneration()
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (h *APIHandlers) HandleShorten(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	h.runJob("Shorten", sess.ToggleShorten)
	accepted(w, "Shortening started")
}

func (h *APIHandlers) HandleTranslate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Language string `json:"language"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	sess := sessionFrom(r)
	h.runJob("Translate", func(ctx context.Context) error {
		return sess.Translate(ctx, body.Language)
	})
	accepted(w, "Translation started")
}

func (h *APIHandlers) HandleSetLanguage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Language string `json:"language"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Language) == "" {
		writeJSONError(w, http.StatusBadRequest, "Language is required")
		return
	}
	sess := sessionFrom(r)
	sess.SetTargetLanguage(body.Language)
	writeJSON(w, http.StatusOK, map[string]string{"targetLanguage": sess.Snapshot().TargetLanguage})
}

// --- Notes ---

func noteIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(router.Param(r.Context(), "id"), 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid note ID")
		return 0, false
	}
	return id, true
}

func (h *APIHandlers) HandleAddNote(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	note, err := sessionFrom(r).AddNote(body.Text)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

func (h *APIHandlers) HandleDeleteNote(w http.ResponseWriter, r *http.Request) {
	id, ok := noteIDParam(w, r)
	if !ok {
		return
	}
	if err := sessionFrom(r).DeleteNote(id); err != nil {
		writeJSONError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleNoteAction asks the AI service to explain, summarize or translate a note.
func (h *APIHandlers) HandleNoteAction(w http.ResponseWriter, r *http.Request) {
	id, ok := noteIDParam(w, r)
	if !ok {
		return
	}
	var body struct {
		Action   string `json:"action"`
		Language string `json:"language"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	action := models.NoteAction(body.Action)
	if !action.Valid() {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Unknown note action %q", body.Action))
		return
	}

	sess := sessionFrom(r)
	found := false
	for _, n := range sess.Snapshot().Notes {
		if n.ID != id {
			continue
		}
		if n.IsLoadingResponse {
			writeJSONError(w, http.StatusConflict, orchestrator.ErrNoteBusy.Error())
			return
		}
		found = true
	}
	if !found {
		writeJSONError(w, http.StatusNotFound, orchestrator.ErrNoteNotFound.Error())
		return
	}

	h.runJob("NoteAction", func(ctx context.Context) error {
		return sess.ActOnNote(ctx, id, action, body.Language)
	})
	accepted(w, "Note action started")
}

// --- Playback and learning signals ---

func (h *APIHandlers) HandlePlaybackTime(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Time float64 `json:"time"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	sessionFrom(r).UpdatePlaybackTime(body.Time)
	w.WriteHeader(http.StatusNoContent)
}

// HandleSeek accepts either seconds or a timecode such as "1:05".
func (h *APIHandlers) HandleSeek(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Time     *float64 `json:"time"`
		Timecode string   `json:"timecode"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	var seconds float64
	switch {
	case body.Timecode != "":
		t, err := timecode.ParseStrict(body.Timecode)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		seconds = t
	case body.Time != nil && *body.Time >= 0:
		seconds = *body.Time
	default:
		writeJSONError(w, http.StatusBadRequest, "Seek needs a non-negative time or a timecode")
		return
	}
	seq := sessionFrom(r).Seek(seconds)
	writeJSON(w, http.StatusOK, map[string]interface{}{"seekSeq": seq, "time": seconds})
}

func (h *APIHandlers) HandleProgress(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Watched float64               `json:"watched"`
		Total   float64               `json:"total"`
		Ranges  []models.WatchedRange `json:"ranges"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if err := sessionFrom(r).ReportWatchProgress(body.Watched, body.Total, body.Ranges); err != nil {
		log.Printf("API Progress: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "Failed to record progress")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandlers) HandleSubmitQuiz(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Answers []string `json:"answers"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	score, err := sessionFrom(r).SubmitQuiz(body.Answers)
	if errors.Is(err, orchestrator.ErrNoQuiz) {
		writeJSONError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		// The score stands even if recording it failed.
		log.Printf("API Quiz: %v", err)
	}
	writeJSON(w, http.StatusOK, score)
}

func (h *APIHandlers) HandleFlipCard(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Term string `json:"term"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if err := sessionFrom(r).FlipCard(body.Term); err != nil {
		log.Printf("API Flip: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "Failed to record flashcard flip")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Login toggle and notices ---

func (h *APIHandlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	sess.SetLoggedIn(true)
	writeJSON(w, http.StatusOK, map[string]bool{"loggedIn": true})
}

func (h *APIHandlers) HandleLogout(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	sess.SetLoggedIn(false)
	writeJSON(w, http.StatusOK, map[string]bool{"loggedIn": false})
}

func (h *APIHandlers) HandleDismissNotice(w http.ResponseWriter, r *http.Request) {
	sessionFrom(r).DismissNotice()
	w.WriteHeader(http.StatusNoContent)
}

// --- Learning history ---

type historyEntry struct {
	models.LearningHistoryRecord
	Recommendations []string `json:"recommendations"`
}

// HandleGetHistory lists every recorded video with its recommendations.
// History is only shown to logged-in users.
func (h *APIHandlers) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	if !sessionFrom(r).Snapshot().LoggedIn {
		writeJSONError(w, http.StatusUnauthorized, "Log in to see your learning history")
		return
	}
	records := h.History.All()
	out := make([]historyEntry, 0, len(records))
	for _, rec := range records {
		recs := history.Recommendations(rec)
		if recs == nil {
			recs = []string{}
		}
		out = append(out, historyEntry{LearningHistoryRecord: rec, Recommendations: recs})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *APIHandlers) HandleClearHistory(w http.ResponseWriter, r *http.Request) {
	if !sessionFrom(r).Snapshot().LoggedIn {
		writeJSONError(w, http.StatusUnauthorized, "Log in to manage your learning history")
		return
	}
	if err := h.History.Clear(); err != nil {
		log.Printf("API Clear History: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "Failed to clear history")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Theme ---

func (h *APIHandlers) HandleGetTheme(w http.ResponseWriter, r *http.Request) {
	theme, err := h.DB.GetTheme()
	if err != nil {
		log.Printf("API Get Theme: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "Failed to load theme")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"theme": theme})
}

func (h *APIHandlers) HandleSetTheme(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Theme string `json:"theme"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if err := h.DB.SetTheme(body.Theme); err != nil {
		if errors.Is(err, database.ErrInvalidTheme) {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("API Set Theme: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "Failed to save theme")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"theme": body.Theme})
}

// --- Upload log ---

// HandleListVideos lists recorded uploads, newest first.
func (h *APIHandlers) HandleListVideos(w http.ResponseWriter, r *http.Request) {
	limit := 50
	offset := 0
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 200 {
		limit = l
	}
	if o, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && o >= 0 {
		offset = o
	}

	videos, err := h.DB.ListVideos(limit, offset)
	if err != nil {
		log.Printf("API List Videos: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "Failed to retrieve videos")
		return
	}
	if videos == nil {
		videos = []models.VideoRecord{}
	}
	writeJSON(w, http.StatusOK, videos)
}

func (h *APIHandlers) HandleGetVideo(w http.ResponseWriter, r *http.Request) {
	id := router.Param(r.Context(), "id")
	video, err := h.DB.GetVideo(id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "Video not found")
			return
		}
		log.Printf("API Get Video: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "Failed to retrieve video")
		return
	}
	writeJSON(w, http.StatusOK, video)
}

// HandleDeleteVideo drops a row from the upload log. The stored file stays.
func (h *APIHandlers) HandleDeleteVideo(w http.ResponseWriter, r *http.Request) {
	id := router.Param(r.Context(), "id")
	if err := h.DB.DeleteVideo(id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "Video not found")
			return
		}
		log.Printf("API Delete Video: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "Failed to delete video")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Session reset ---

// HandleResetSession ends the caller's session and clears its cookie. The
// next request starts from a fresh session.
func (h *APIHandlers) HandleResetSession(w http.ResponseWriter, r *http.Request) {
	if id, err := auth.SessionIDFromRequest(r, h.Cfg); err == nil {
		if h.Sessions.Remove(id) {
			log.Printf("API Reset Session: closed session %s", id)
		}
	}
	auth.ClearSessionCookie(w, h.Cfg)
	w.WriteHeader(http.StatusNoContent)
}

// --- Export ---

// HandleExport renders the session's content as Markdown or HTML.
func (h *APIHandlers) HandleExport(w http.ResponseWriter, r *http.Request) {
	snap := sessionFrom(r).Snapshot()
	doc := render.Document{
		Title:      snap.VideoID,
		Mode:       snap.ActiveMode,
		Timecodes:  snap.Timecodes,
		Quiz:       snap.Quiz,
		Flashcards: snap.Flashcards,
		Notes:      snap.Notes,
	}

	switch format := r.URL.Query().Get("format"); format {
	case "", "md", "markdown":
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="vidlense-notes.md"`)
		w.Write(render.Markdown(doc))
	case "html":
		out, err := h.Renderer.HTML(doc)
		if err != nil {
			log.Printf("API Export: %v", err)
			writeJSONError(w, http.StatusInternalServerError, "Failed to render export")
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(out)
	default:
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Unknown export format %q", format))
	}
}
