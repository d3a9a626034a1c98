package orchestrator

import (
	"context"
	"fmt"
	"log"
	"strings"

	"vidlense/internal/models"
)

// AddNote attaches a note to the current playback position.
func (s *Session) AddNote(text string) (models.Note, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Note{}, fmt.Errorf("note text is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextNoteID++
	note := models.Note{ID: s.nextNoteID, Time: s.cursor.Time, Text: text}
	s.notes = append(s.notes, note)
	return note, nil
}

// DeleteNote removes a note. An action still running for it finds nothing to update.
func (s *Session) DeleteNote(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.noteIndex(id)
	if i < 0 {
		return ErrNoteNotFound
	}
	s.notes = append(s.notes[:i:i], s.notes[i+1:]...)
	return nil
}

// noteIndex returns the position of note id, or -1. Callers hold s.mu.
func (s *Session) noteIndex(id int64) int {
	for i := range s.notes {
		if s.notes[i].ID == id {
			return i
		}
	}
	return -1
}

// ActOnNote runs action against note id and stores the answer on the note.
// Actions on different notes run independently; a note accepts one action at
// a time. On failure the note's response becomes an error placeholder. The
// loading flag is cleared whatever the outcome.
func (s *Session) ActOnNote(ctx context.Context, id int64, action models.NoteAction, language string) error {
	if !action.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidNoteAction, action)
	}

	s.mu.Lock()
	i := s.noteIndex(id)
	if i < 0 {
		s.mu.Unlock()
		return ErrNoteNotFound
	}
	if s.file == nil {
		s.mu.Unlock()
		return ErrNoFile
	}
	if s.notes[i].IsLoadingResponse {
		s.mu.Unlock()
		return ErrNoteBusy
	}
	s.notes[i].IsLoadingResponse = true
	s.notes[i].Response = nil
	note := s.notes[i]
	file := *s.file
	s.mu.Unlock()

	answer, err := s.gw.ExplainNote(ctx, action, note, &file, language)

	s.mu.Lock()
	defer s.mu.Unlock()
	i = s.noteIndex(id)
	if i < 0 {
		log.Printf("Orchestrator ActOnNote: note %d was removed before %s finished", id, action)
		return err
	}
	if err != nil {
		log.Printf("Orchestrator ActOnNote: %s note %d: %v", action, id, err)
		answer = fmt.Sprintf("Error: Could not %s note.", action)
	}
	s.notes[i].Response = &answer
	s.notes[i].IsLoadingResponse = false
	return err
}
