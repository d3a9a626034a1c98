// Package orchestrator drives one learner's session: uploading a video,
// generating content for a mode, and applying the results to the content stores.
//
// Every mutation happens under the session mutex. Calls to the AI service are
// made with the mutex released; their completions re-acquire it and apply
// results only if the operation's cancellation token is still unset.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"vidlense/internal/functions"
	"vidlense/internal/gateway"
	"vidlense/internal/models"
	"vidlense/internal/modes"
	"vidlense/internal/playback"
)

type State string

const (
	StateIdle       State = "idle"
	StateUploading  State = "uploading"
	StateReady      State = "ready"
	StateGenerating State = "generating"
	StateCancelled  State = "cancelled"
	StateFailed     State = "failed"
)

var (
	ErrNoFile            = errors.New("no video uploaded")
	ErrUnknownMode       = errors.New("unknown mode")
	ErrNoteNotFound      = errors.New("note not found")
	ErrNoteBusy          = errors.New("note action already running")
	ErrInvalidNoteAction = errors.New("invalid note action")
	ErrNoQuiz            = errors.New("no quiz loaded")
	ErrNothingToShorten  = errors.New("no text to shorten")
	ErrBusy              = errors.New("operation already running")
	ErrStale             = errors.New("content changed while the request was running")

	// ErrCancelled is returned when an operation's result was discarded because it was cancelled.
	ErrCancelled = gateway.ErrCancelled
)

// User-facing notices.
const (
	noticeNoFile          = "Please upload a video to start."
	noticeStopped         = "Content generation stopped."
	noticeNothingToShort  = "There is no text to shorten."
	noticeGenerationError = "An error occurred while generating content."
	noticeShortenError    = "An error occurred while shortening the text."
	noticeAutoTranslate   = "Could not automatically translate the script."
	noticeUploadError     = "The video could not be processed. Please try another file."
)

const defaultTargetLanguage = "Spanish"

// Gateway is the AI service as seen by a session.
type Gateway interface {
	Upload(ctx context.Context, r io.Reader, displayName, mimeType string, tok *gateway.CancelToken) (*models.UploadedFile, error)
	Generate(ctx context.Context, req gateway.GenerateRequest) (*gateway.Result, error)
	TranslateBatch(ctx context.Context, texts []string, targetLanguage string) ([]string, error)
	ShortenText(ctx context.Context, text string) (string, error)
	ExplainNote(ctx context.Context, action models.NoteAction, note models.Note, file *models.UploadedFile, language string) (string, error)
}

// HistoryRecorder receives learning signals.
type HistoryRecorder interface {
	RecordWatchProgress(videoID string, watchedSeconds, totalSeconds float64) error
	RecordWatchedRanges(videoID string, ranges []models.WatchedRange) error
	RecordQuizScore(videoID string, score, total int) error
	RecordCardFlip(videoID, term string) error
}

// UploadLog keeps a durable record of uploads.
type UploadLog interface {
	CreateVideoRecord(v *models.VideoRecord) error
	UpdateVideoStatus(videoID string, state models.VideoState, file *models.UploadedFile, errMsg *string) error
}

type shortenSnapshot struct {
	timecodes []models.TimecodeItem
	mode      string
}

type Session struct {
	mu      sync.Mutex
	gw      Gateway
	history HistoryRecorder // may be nil
	uploads UploadLog       // may be nil

	state      State
	videoID    string // Display name of the video; keys the learning history
	videoURL   string
	videoError bool
	file       *models.UploadedFile
	uploadTok  *gateway.CancelToken
	uploadRec  string

	activeMode  string
	customInput string
	timecodes   []models.TimecodeItem
	quiz        []models.QuizQuestion
	cards       []models.FlashcardItem
	loading     bool
	genTok      *gateway.CancelToken
	epoch       uint64 // Bumped whenever the content stores are replaced

	original    *shortenSnapshot // Non-nil while the shortened view is shown
	shortening  bool
	translating bool
	targetLang  string

	notes      []models.Note
	nextNoteID int64

	cursor   playback.Cursor
	loggedIn bool
	notice   string
}

func NewSession(gw Gateway, history HistoryRecorder, uploads UploadLog) *Session {
	return &Session{
		gw:         gw,
		history:    history,
		uploads:    uploads,
		state:      StateIdle,
		targetLang: defaultTargetLanguage,
	}
}

// clearContent empties the content stores and drops any shorten snapshot.
// Callers hold s.mu.
func (s *Session) clearContent() {
	s.timecodes = nil
	s.quiz = nil
	s.cards = nil
	s.original = nil
	s.epoch++
}

// PendingUpload is an upload whose session state has been entered but whose
// bytes have not reached the service yet.
type PendingUpload struct {
	s           *Session
	tok         *gateway.CancelToken
	recID       string
	displayName string
	mimeType    string
}

// BeginUpload resets the session for a new video and enters the uploading
// state, cancelling any previous upload or generation. The caller finishes
// it with Run, or with Fail when the bytes never arrive.
func (s *Session) BeginUpload(displayName, mimeType, videoURL string) *PendingUpload {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploadTok.Cancel()
	s.genTok.Cancel()
	tok := gateway.NewCancelToken()
	s.uploadTok = tok

	s.clearContent()
	s.notes = nil
	s.activeMode = ""
	s.loading = false
	s.videoError = false
	s.file = nil
	s.videoID = displayName
	s.videoURL = videoURL
	s.cursor.Reset()
	s.state = StateUploading
	recID := s.logUploadStart(displayName, mimeType)
	s.uploadRec = recID
	return &PendingUpload{s: s, tok: tok, recID: recID, displayName: displayName, mimeType: mimeType}
}

// Cancelled reports whether CancelUpload or a newer upload superseded u.
func (u *PendingUpload) Cancelled() bool {
	return u.tok.Cancelled()
}

// Run sends r to the service and binds the resulting file to the session.
// It blocks until the service finishes processing. If the upload is
// cancelled meanwhile the result is discarded and ErrCancelled is returned.
func (u *PendingUpload) Run(ctx context.Context, r io.Reader) error {
	if u.tok.Cancelled() {
		return u.finish(nil, ErrCancelled)
	}
	file, err := u.s.gw.Upload(ctx, r, u.displayName, u.mimeType, u.tok)
	return u.finish(file, err)
}

// Fail ends the upload with err, for when the video could not be received.
func (u *PendingUpload) Fail(err error) error {
	return u.finish(nil, err)
}

func (u *PendingUpload) finish(file *models.UploadedFile, err error) error {
	s := u.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.tok.Cancelled() || errors.Is(err, gateway.ErrCancelled) {
		log.Printf("Orchestrator Upload: discarding result for cancelled upload of %s", u.displayName)
		s.logUploadEnd(u.recID, models.VideoCancelled, nil, nil)
		return ErrCancelled
	}
	if err != nil {
		log.Printf("Orchestrator Upload: upload of %s failed: %v", u.displayName, err)
		s.state = StateFailed
		s.videoError = true
		s.notice = noticeUploadError
		msg := err.Error()
		s.logUploadEnd(u.recID, models.VideoFailed, nil, &msg)
		return err
	}

	s.file = file
	s.state = StateReady
	s.logUploadEnd(u.recID, models.VideoReady, file, nil)
	return nil
}

// StartUpload is BeginUpload followed by Run.
func (s *Session) StartUpload(ctx context.Context, r io.Reader, displayName, mimeType, videoURL string) error {
	return s.BeginUpload(displayName, mimeType, videoURL).Run(ctx, r)
}

// CancelUpload abandons the running upload and clears the video.
func (s *Session) CancelUpload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateUploading {
		return
	}
	s.uploadTok.Cancel()
	s.videoURL = ""
	s.videoID = ""
	s.videoError = false
	s.file = nil
	s.state = StateCancelled
}

func (s *Session) logUploadStart(displayName, mimeType string) string {
	if s.uploads == nil {
		return ""
	}
	rec := &models.VideoRecord{DisplayName: displayName, MIMEType: mimeType, State: models.VideoUploading}
	if err := s.uploads.CreateVideoRecord(rec); err != nil {
		log.Printf("Orchestrator: failed to log upload of %s: %v", displayName, err)
		return ""
	}
	return rec.ID
}

func (s *Session) logUploadEnd(recID string, state models.VideoState, file *models.UploadedFile, errMsg *string) {
	if s.uploads == nil || recID == "" {
		return
	}
	if err := s.uploads.UpdateVideoStatus(recID, state, file, errMsg); err != nil {
		log.Printf("Orchestrator: failed to update upload record %s: %v", recID, err)
	}
}

// Generation is a mode generation whose session state has been entered but
// whose request has not been sent yet.
type Generation struct {
	s    *Session
	mode modes.Mode
	tok  *gateway.CancelToken
	req  gateway.GenerateRequest
}

// BeginMode clears the content stores and enters the generating state for
// the named mode, cancelling any generation still running. input is the
// user's text for custom modes. The caller sends the request with Run.
func (s *Session) BeginMode(name, input string) (*Generation, error) {
	mode, ok := modes.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		s.notice = noticeNoFile
		return nil, ErrNoFile
	}
	if mode.Custom {
		s.customInput = input
	} else {
		s.customInput = ""
	}
	s.genTok.Cancel()
	tok := gateway.NewCancelToken()
	s.genTok = tok
	s.clearContent()
	s.activeMode = mode.Name
	s.loading = true
	s.state = StateGenerating
	req := gateway.GenerateRequest{Prompt: mode.Prompt(s.customInput), File: s.file}
	return &Generation{s: s, mode: mode, tok: tok, req: req}, nil
}

// Run asks the service for the content and applies it. It blocks until the
// service answers. If StopGeneration or a newer BeginMode came first, nothing
// is applied and ErrCancelled is returned.
func (g *Generation) Run(ctx context.Context) error {
	s, mode, tok := g.s, g.mode, g.tok
	if tok.Cancelled() {
		return ErrCancelled
	}

	res, err := s.gw.Generate(ctx, g.req)

	s.mu.Lock()
	if tok.Cancelled() {
		s.mu.Unlock()
		log.Printf("Orchestrator SelectMode: discarding cancelled %s generation", mode.Name)
		return ErrCancelled
	}
	s.loading = false
	s.state = StateReady
	if err != nil {
		log.Printf("Orchestrator SelectMode: %s generation failed: %v", mode.Name, err)
		s.notice = noticeGenerationError
		s.mu.Unlock()
		return err
	}
	s.applyResult(res)
	autoTranslate := mode.AutoTranslate && needsTranslation(s.timecodes)
	s.mu.Unlock()

	if autoTranslate {
		err := s.translate(ctx, "")
		if err != nil && !errors.Is(err, ErrStale) && !errors.Is(err, ErrBusy) {
			s.mu.Lock()
			s.notice = noticeAutoTranslate
			s.mu.Unlock()
		}
	}
	return nil
}

// SelectMode is BeginMode followed by Run.
func (s *Session) SelectMode(ctx context.Context, name, input string) error {
	g, err := s.BeginMode(name, input)
	if err != nil {
		return err
	}
	return g.Run(ctx)
}

// applyResult dispatches the decoded calls into the content stores. Callers hold s.mu.
func (s *Session) applyResult(res *gateway.Result) {
	appendTimecodes := func(items []models.TimecodeItem) {
		s.timecodes = append(s.timecodes, items...)
	}
	h := functions.Handlers{
		SetQuiz:                     func(q []models.QuizQuestion) { s.quiz = append(s.quiz, q...) },
		SetFlashcards:               func(c []models.FlashcardItem) { s.cards = append(s.cards, c...) },
		SetTimecodes:                appendTimecodes,
		SetTimecodesWithTranslation: appendTimecodes,
		SetTimecodesWithObjects:     appendTimecodes,
	}
	for _, call := range res.Calls {
		if err := h.Dispatch(call); err != nil {
			log.Printf("Orchestrator: %v", err)
		}
	}
	if len(res.Calls) == 0 && res.Text != "" {
		s.timecodes = []models.TimecodeItem{{Time: "0:00", Text: res.Text}}
	}
}

// needsTranslation reports whether items exist and none carries a translation yet.
func needsTranslation(items []models.TimecodeItem) bool {
	if len(items) == 0 {
		return false
	}
	for _, it := range items {
		if it.TranslatedText != nil {
			return false
		}
	}
	return true
}

// StopGeneration cancels the running generation. The request itself keeps
// running but its result will be dropped.
func (s *Session) StopGeneration() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateGenerating {
		return
	}
	s.genTok.Cancel()
	s.loading = false
	s.state = StateReady
	s.notice = noticeStopped
}

func (s *Session) SetLoggedIn(v bool) {
	s.mu.Lock()
	s.loggedIn = v
	s.mu.Unlock()
}

func (s *Session) DismissNotice() {
	s.mu.Lock()
	s.notice = ""
	s.mu.Unlock()
}

// Close cancels whatever is still running. The session must not be used afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploadTok.Cancel()
	s.genTok.Cancel()
}

// Snapshot is a copy of the session for rendering.
type Snapshot struct {
	State          State                  `json:"state"`
	VideoID        string                 `json:"videoId,omitempty"`
	VideoURL       string                 `json:"videoUrl,omitempty"`
	VideoError     bool                   `json:"videoError"`
	UploadID       string                 `json:"uploadId,omitempty"` // Upload log record of the current video
	File           *models.UploadedFile   `json:"file,omitempty"`
	ActiveMode     string                 `json:"activeMode,omitempty"`
	CustomInput    string                 `json:"customInput,omitempty"`
	Timecodes      []models.TimecodeItem  `json:"timecodes"`
	Quiz           []models.QuizQuestion  `json:"quiz"`
	Flashcards     []models.FlashcardItem `json:"flashcards"`
	Notes          []models.Note          `json:"notes"`
	IsLoading      bool                   `json:"isLoading"`
	IsShortening   bool                   `json:"isShortening"`
	IsShortened    bool                   `json:"isShortened"`
	IsTranslating  bool                   `json:"isTranslating"`
	TargetLanguage string                 `json:"targetLanguage"`
	Playback       playback.Cursor        `json:"playback"`
	ActiveIndex    int                    `json:"activeIndex"` // -1 when nothing is highlighted
	Caption        string                 `json:"caption,omitempty"`
	LoggedIn       bool                   `json:"loggedIn"`
	Notice         string                 `json:"notice,omitempty"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		State:          s.state,
		VideoID:        s.videoID,
		VideoURL:       s.videoURL,
		VideoError:     s.videoError,
		UploadID:       s.uploadRec,
		ActiveMode:     s.activeMode,
		CustomInput:    s.customInput,
		Timecodes:      copyTimecodes(s.timecodes),
		Quiz:           copyQuiz(s.quiz),
		Flashcards:     append([]models.FlashcardItem(nil), s.cards...),
		Notes:          copyNotes(s.notes),
		IsLoading:      s.loading,
		IsShortening:   s.shortening,
		IsShortened:    s.original != nil,
		IsTranslating:  s.translating,
		TargetLanguage: s.targetLang,
		Playback:       s.cursor,
		ActiveIndex:    -1,
		LoggedIn:       s.loggedIn,
		Notice:         s.notice,
	}
	if s.file != nil {
		f := *s.file
		snap.File = &f
	}
	if t := s.cursor.SeekTarget; t != nil {
		v := *t
		snap.Playback.SeekTarget = &v
	}
	if mode, ok := modes.Lookup(s.activeMode); ok && mode.List && s.cursor.Time > 0 {
		snap.ActiveIndex = playback.ActiveIndex(s.timecodes, s.cursor.Time)
	}
	snap.Caption = playback.Caption(s.timecodes, s.cursor.Time)
	return snap
}

func copyTimecodes(in []models.TimecodeItem) []models.TimecodeItem {
	if in == nil {
		return nil
	}
	out := make([]models.TimecodeItem, len(in))
	for i, it := range in {
		if it.Objects != nil {
			it.Objects = append([]string(nil), it.Objects...)
		}
		if it.Value != nil {
			v := *it.Value
			it.Value = &v
		}
		if it.TranslatedText != nil {
			v := *it.TranslatedText
			it.TranslatedText = &v
		}
		out[i] = it
	}
	return out
}

func copyQuiz(in []models.QuizQuestion) []models.QuizQuestion {
	if in == nil {
		return nil
	}
	out := make([]models.QuizQuestion, len(in))
	for i, q := range in {
		q.Options = append([]string(nil), q.Options...)
		out[i] = q
	}
	return out
}

func copyNotes(in []models.Note) []models.Note {
	if in == nil {
		return nil
	}
	out := make([]models.Note, len(in))
	for i, n := range in {
		if n.Response != nil {
			r := *n.Response
			n.Response = &r
		}
		out[i] = n
	}
	return out
}
