package orchestrator

import (
	"log"

	"vidlense/internal/models"
	"vidlense/internal/playback"
)

// UpdatePlaybackTime records a time report from the player.
func (s *Session) UpdatePlaybackTime(seconds float64) {
	s.mu.Lock()
	s.cursor.Update(seconds)
	s.mu.Unlock()
}

// Seek asks the player to jump to seconds and returns the request's sequence number.
func (s *Session) Seek(seconds float64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor.Seek(seconds)
}

// historyTarget returns the recorder and video to attribute a learning signal
// to, or a nil recorder when signals are not being recorded.
func (s *Session) historyTarget() (HistoryRecorder, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.history == nil || !s.loggedIn || s.videoID == "" {
		return nil, ""
	}
	return s.history, s.videoID
}

// ReportWatchProgress records how much of the video has been played. When
// watchedSeconds is not positive it is derived from ranges.
func (s *Session) ReportWatchProgress(watchedSeconds, totalSeconds float64, ranges []models.WatchedRange) error {
	rec, videoID := s.historyTarget()
	if rec == nil {
		return nil
	}
	merged := playback.MergeRanges(ranges)
	if watchedSeconds <= 0 && len(merged) > 0 {
		watchedSeconds = playback.WatchedSeconds(merged)
	}
	if err := rec.RecordWatchProgress(videoID, watchedSeconds, totalSeconds); err != nil {
		return err
	}
	if len(merged) > 0 {
		return rec.RecordWatchedRanges(videoID, merged)
	}
	return nil
}

// SubmitQuiz scores answers, indexed like the quiz questions, and records the score.
// Unanswered questions count as wrong.
func (s *Session) SubmitQuiz(answers []string) (models.QuizScore, error) {
	s.mu.Lock()
	if len(s.quiz) == 0 {
		s.mu.Unlock()
		return models.QuizScore{}, ErrNoQuiz
	}
	score := models.QuizScore{Total: len(s.quiz)}
	for i, q := range s.quiz {
		if i < len(answers) && answers[i] == q.Answer {
			score.Score++
		}
	}
	s.mu.Unlock()

	if rec, videoID := s.historyTarget(); rec != nil {
		if err := rec.RecordQuizScore(videoID, score.Score, score.Total); err != nil {
			log.Printf("Orchestrator SubmitQuiz: %v", err)
			return score, err
		}
	}
	return score, nil
}

// FlipCard counts a flip of the flashcard for term.
func (s *Session) FlipCard(term string) error {
	rec, videoID := s.historyTarget()
	if rec == nil || term == "" {
		return nil
	}
	return rec.RecordCardFlip(videoID, term)
}
