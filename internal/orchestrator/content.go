package orchestrator

import (
	"context"
	"log"
	"strings"

	"vidlense/internal/models"
	"vidlense/internal/modes"
)

// ToggleShorten replaces the current content with a three sentence summary,
// or, when the summary is already shown, restores the content and mode that
// were there before.
func (s *Session) ToggleShorten(ctx context.Context) error {
	s.mu.Lock()
	if s.shortening {
		s.mu.Unlock()
		return ErrBusy
	}
	if s.original != nil {
		s.timecodes = s.original.timecodes
		s.activeMode = s.original.mode
		s.original = nil
		s.epoch++
		s.mu.Unlock()
		return nil
	}
	if s.timecodes == nil {
		s.mu.Unlock()
		return nil
	}

	texts := make([]string, len(s.timecodes))
	for i, it := range s.timecodes {
		texts[i] = it.Text
	}
	full := strings.Join(texts, "\n")
	if strings.TrimSpace(full) == "" {
		s.notice = noticeNothingToShort
		s.mu.Unlock()
		return ErrNothingToShorten
	}
	snap := &shortenSnapshot{timecodes: copyTimecodes(s.timecodes), mode: s.activeMode}
	epoch := s.epoch
	s.shortening = true
	s.mu.Unlock()

	summary, err := s.gw.ShortenText(ctx, full)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.shortening = false
	if s.epoch != epoch {
		return ErrStale
	}
	if err != nil {
		log.Printf("Orchestrator ToggleShorten: %v", err)
		s.notice = noticeShortenError
		return err
	}
	s.original = snap
	s.timecodes = []models.TimecodeItem{{Time: "0:00", Text: summary}}
	s.activeMode = modes.Summary
	s.epoch++
	return nil
}

// SetTargetLanguage changes the language used by later translations.
func (s *Session) SetTargetLanguage(lang string) {
	lang = strings.TrimSpace(lang)
	if lang == "" {
		return
	}
	s.mu.Lock()
	s.targetLang = lang
	s.mu.Unlock()
}

// Translate translates the text of every timecode item into lang, or into the
// current target language when lang is empty. Results are merged by position.
// They are dropped with ErrStale if the content was replaced in the meantime.
func (s *Session) Translate(ctx context.Context, lang string) error {
	return s.translate(ctx, strings.TrimSpace(lang))
}

func (s *Session) translate(ctx context.Context, lang string) error {
	s.mu.Lock()
	if lang != "" {
		s.targetLang = lang
	}
	if len(s.timecodes) == 0 {
		s.mu.Unlock()
		return nil
	}
	if s.translating {
		s.mu.Unlock()
		return ErrBusy
	}
	texts := make([]string, len(s.timecodes))
	for i, it := range s.timecodes {
		texts[i] = it.Text
	}
	epoch := s.epoch
	target := s.targetLang
	s.translating = true
	s.mu.Unlock()

	translated, err := s.gw.TranslateBatch(ctx, texts, target)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.translating = false
	if err != nil {
		log.Printf("Orchestrator Translate: %v", err)
		return err
	}
	if s.epoch != epoch {
		log.Printf("Orchestrator Translate: content changed, dropping %d translations", len(translated))
		return ErrStale
	}

	updated := copyTimecodes(s.timecodes)
	for i := range updated {
		var t string
		if i < len(translated) {
			t = translated[i]
		}
		updated[i].TranslatedText = &t
	}
	s.timecodes = updated
	s.epoch++
	return nil
}
