// Package history aggregates per-video learning signals and derives study
// recommendations from them.
package history

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"vidlense/internal/models"
)

// Store persists the whole history document.
type Store interface {
	LoadLearningHistory() (map[string]models.LearningHistoryRecord, error)
	SaveLearningHistory(map[string]models.LearningHistoryRecord) error
}

// Thresholds for recommendations.
const (
	minWatchProgress = 0.9
	minQuizRatio     = 0.6
	maxCardFlips     = 2
)

// Aggregator is the process-wide learning history. It is loaded once from its
// store and every change is written through.
type Aggregator struct {
	mu      sync.Mutex
	store   Store
	records map[string]models.LearningHistoryRecord
}

func New(store Store) (*Aggregator, error) {
	records, err := store.LoadLearningHistory()
	if err != nil {
		return nil, fmt.Errorf("failed to load learning history: %w", err)
	}
	if records == nil {
		records = make(map[string]models.LearningHistoryRecord)
	}
	return &Aggregator{store: store, records: records}, nil
}

// update applies fn to the record of videoID, creating it when absent, and saves.
func (a *Aggregator) update(videoID string, fn func(*models.LearningHistoryRecord)) error {
	if videoID == "" {
		return fmt.Errorf("learning history requires a video id")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	rec, ok := a.records[videoID]
	if !ok {
		rec = models.LearningHistoryRecord{FileName: videoID}
	}
	rec = clone(rec)
	fn(&rec)
	a.records[videoID] = rec

	if err := a.store.SaveLearningHistory(a.records); err != nil {
		// The in-memory record stays updated; the next successful save catches up.
		log.Printf("History: failed to persist update for %s: %v", videoID, err)
		return err
	}
	return nil
}

// RecordWatchProgress stores watched/total, clamped to [0,1], as the watch
// progress. It is 0 when total is 0.
func (a *Aggregator) RecordWatchProgress(videoID string, watchedSeconds, totalSeconds float64) error {
	progress := 0.0
	if totalSeconds > 0 {
		progress = min(max(watchedSeconds/totalSeconds, 0), 1)
	}
	return a.update(videoID, func(r *models.LearningHistoryRecord) {
		r.WatchProgress = &progress
	})
}

// RecordWatchedRanges replaces the played ranges of a video.
func (a *Aggregator) RecordWatchedRanges(videoID string, ranges []models.WatchedRange) error {
	return a.update(videoID, func(r *models.LearningHistoryRecord) {
		r.WatchedRanges = append([]models.WatchedRange(nil), ranges...)
	})
}

// RecordQuizScore overwrites any earlier score.
func (a *Aggregator) RecordQuizScore(videoID string, score, total int) error {
	return a.update(videoID, func(r *models.LearningHistoryRecord) {
		r.QuizScore = &models.QuizScore{Score: score, Total: total}
	})
}

// RecordCardFlip increments the flip counter of term.
func (a *Aggregator) RecordCardFlip(videoID, term string) error {
	return a.update(videoID, func(r *models.LearningHistoryRecord) {
		if r.FlashcardMastery == nil {
			r.FlashcardMastery = make(map[string]int)
		}
		r.FlashcardMastery[term]++
	})
}

func (a *Aggregator) Get(videoID string) (models.LearningHistoryRecord, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.records[videoID]
	if !ok {
		return models.LearningHistoryRecord{}, false
	}
	return clone(rec), true
}

// All returns every record sorted by file name.
func (a *Aggregator) All() []models.LearningHistoryRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]models.LearningHistoryRecord, 0, len(a.records))
	for _, rec := range a.records {
		out = append(out, clone(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FileName < out[j].FileName })
	return out
}

func (a *Aggregator) Clear() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = make(map[string]models.LearningHistoryRecord)
	return a.store.SaveLearningHistory(a.records)
}

// Recommendations derives study advice from a single record.
func Recommendations(rec models.LearningHistoryRecord) []string {
	var out []string
	if rec.WatchProgress != nil && *rec.WatchProgress < minWatchProgress {
		out = append(out, "Finish watching the video to not miss anything.")
	}
	if q := rec.QuizScore; q != nil && q.Total > 0 && float64(q.Score)/float64(q.Total) < minQuizRatio {
		out = append(out, fmt.Sprintf("Your quiz score was low (%d/%d). Try reviewing the key moments.", q.Score, q.Total))
	}
	var difficult []string
	for term, flips := range rec.FlashcardMastery {
		if flips > maxCardFlips {
			difficult = append(difficult, term)
		}
	}
	if len(difficult) > 0 {
		sort.Strings(difficult)
		out = append(out, fmt.Sprintf("Review these flashcards: %s.", strings.Join(difficult, ", ")))
	}
	return out
}

func clone(rec models.LearningHistoryRecord) models.LearningHistoryRecord {
	if rec.WatchProgress != nil {
		p := *rec.WatchProgress
		rec.WatchProgress = &p
	}
	if rec.QuizScore != nil {
		q := *rec.QuizScore
		rec.QuizScore = &q
	}
	if rec.WatchedRanges != nil {
		rec.WatchedRanges = append([]models.WatchedRange(nil), rec.WatchedRanges...)
	}
	if rec.FlashcardMastery != nil {
		m := make(map[string]int, len(rec.FlashcardMastery))
		for k, v := range rec.FlashcardMastery {
			m[k] = v
		}
		rec.FlashcardMastery = m
	}
	return rec
}
