package models

import "time"

// ProcessingState is the lifecycle state of a file handed to the generation service.
type ProcessingState string

const (
	StateProcessing ProcessingState = "PROCESSING"
	StateReady      ProcessingState = "READY"
	StateFailed     ProcessingState = "FAILED"
)

// UploadedFile is the handle the generation service returns for an uploaded video.
type UploadedFile struct {
	Name            string          `json:"name"` // Service-side resource name, e.g. "files/abc123"
	MIMEType        string          `json:"mimeType"`
	URI             string          `json:"uri"`
	ProcessingState ProcessingState `json:"processingState"`
}

// TimecodeItem is one unit of generated content anchored to a video timestamp.
type TimecodeItem struct {
	Time           string   `json:"time"`
	Text           string   `json:"text,omitempty"`
	Objects        []string `json:"objects,omitempty"`
	Value          *float64 `json:"value,omitempty"`
	TranslatedText *string  `json:"translatedText,omitempty"` // nil until a translation has been applied
}

type QuizQuestion struct {
	Time     string   `json:"time"`
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Answer   string   `json:"answer"`
}

type FlashcardItem struct {
	Word       string `json:"word"`
	Definition string `json:"definition"`
	Lang       string `json:"lang"` // BCP-47, e.g. "en-US", "ja-JP"
	Furigana   string `json:"furigana,omitempty"`
}

// NoteAction is an AI action a user can run against a single note.
type NoteAction string

const (
	NoteExplain   NoteAction = "explain"
	NoteSummarize NoteAction = "summarize"
	NoteTranslate NoteAction = "translate"
)

// Valid reports whether a is one of the supported note actions.
func (a NoteAction) Valid() bool {
	switch a {
	case NoteExplain, NoteSummarize, NoteTranslate:
		return true
	}
	return false
}

type Note struct {
	ID                int64   `json:"id"`
	Time              float64 `json:"time"` // Playback position in seconds
	Text              string  `json:"text"`
	Response          *string `json:"response"`
	IsLoadingResponse bool    `json:"isLoadingResponse"`
}

type QuizScore struct {
	Score int `json:"score"`
	Total int `json:"total"`
}

// WatchedRange is a [start, end] span of the video, in seconds, that has been played.
type WatchedRange [2]float64

// LearningHistoryRecord aggregates independent progress signals for one video.
// Every signal is optional and updated on its own.
type LearningHistoryRecord struct {
	FileName         string         `json:"fileName"`
	WatchProgress    *float64       `json:"watchProgress,omitempty"`
	WatchedRanges    []WatchedRange `json:"watchedRanges,omitempty"`
	QuizScore        *QuizScore     `json:"quizScore,omitempty"`
	FlashcardMastery map[string]int `json:"flashcardMastery,omitempty"`
}

// VideoRecord is a row of the upload log.
type VideoRecord struct {
	ID           string     `json:"id"`
	DisplayName  string     `json:"displayName"`
	MIMEType     string     `json:"mimeType"`
	FileName     *string    `json:"fileName,omitempty"` // Set once the service accepted the upload
	URI          *string    `json:"uri,omitempty"`
	State        VideoState `json:"state"`
	ErrorMessage *string    `json:"errorMessage,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

type VideoState string

const (
	VideoUploading VideoState = "uploading"
	VideoReady     VideoState = "ready"
	VideoFailed    VideoState = "failed"
	VideoCancelled VideoState = "cancelled"
)
