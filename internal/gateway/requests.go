package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"strings"

	"google.golang.org/genai"

	"vidlense/internal/models"
	"vidlense/internal/timecode"
)

// TranslationFailed replaces every item when the service answer cannot be parsed.
const TranslationFailed = "Translation failed."

const translationInstruction = `For each object in the input array, translate the 'text' property into %s. The source language of the text should be auto-detected.
Return a single JSON object containing a "translations" property. This property should be an array of objects, where each object has the original 'id' and the 'translatedText'.
It is crucial that the output array in the "translations" property contains an entry for every object in the input, preserving all original IDs. If a text cannot be translated, return an empty string for 'translatedText' but keep the 'id'.`

var translationSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"translations": {
			Type:        genai.TypeArray,
			Description: "An array of translation objects.",
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"id":             {Type: genai.TypeInteger, Description: "The original index of the text."},
					"translatedText": {Type: genai.TypeString, Description: "The translated text."},
				},
				Required: []string{"id", "translatedText"},
			},
		},
	},
	Required: []string{"translations"},
}

type translationInput struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

// TranslateBatch translates all non-blank texts in one request. The result has
// the same length and order as texts; entries the service left out are empty.
// A malformed answer never fails the call: every entry becomes TranslationFailed.
func (s *Service) TranslateBatch(ctx context.Context, texts []string, targetLanguage string) ([]string, error) {
	var inputs []translationInput
	for i, t := range texts {
		if strings.TrimSpace(t) != "" {
			inputs = append(inputs, translationInput{ID: i, Text: t})
		}
	}
	if len(inputs) == 0 {
		return make([]string, len(texts)), nil
	}

	payload, err := json.Marshal(inputs)
	if err != nil {
		return nil, fmt.Errorf("%w: encode input: %w", ErrTranslation, err)
	}
	prompt := fmt.Sprintf(translationInstruction, targetLanguage) + "\n\nInput:\n" + string(payload)

	resp, err := s.gen.GenerateContent(ctx, s.cfg.ModelName,
		[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)},
		&genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   translationSchema,
			Temperature:      float32Ptr(0.1),
		})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTranslation, err)
	}

	var body string
	if resp != nil {
		body = resp.Text()
	}
	return mergeTranslations(len(texts), body), nil
}

func mergeTranslations(n int, body string) []string {
	var parsed struct {
		Translations json.RawMessage `json:"translations"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(body)), &parsed); err != nil {
		log.Printf("Gateway TranslateBatch: failed to parse translation response: %v", err)
		return failedTranslations(n)
	}

	var entries []map[string]any
	if len(parsed.Translations) == 0 || json.Unmarshal(parsed.Translations, &entries) != nil || entries == nil {
		log.Printf("Gateway TranslateBatch: invalid format, \"translations\" array not found: %s", body)
		return failedTranslations(n)
	}

	byID := make(map[int]string, len(entries))
	for _, e := range entries {
		id, okID := e["id"].(float64)
		text, okText := e["translatedText"].(string)
		if !okID || !okText || id != math.Trunc(id) {
			continue
		}
		byID[int(id)] = text
	}

	out := make([]string, n)
	for i := range out {
		out[i] = byID[i]
	}
	return out
}

func failedTranslations(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = TranslationFailed
	}
	return out
}

// extractJSONObject trims anything around the outermost {...}, such as a
// markdown code fence, and returns text unchanged when no object is found.
func extractJSONObject(text string) string {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start == -1 || end == -1 || end < start {
		return strings.TrimSpace(text)
	}
	return text[start : end+1]
}

// ShortenText asks for an exactly three sentence summary of text.
func (s *Service) ShortenText(ctx context.Context, text string) (string, error) {
	prompt := "Summarize the following text in exactly 3 sentences. Provide only the summary, without any introductory text.\n\nText to summarize:\n" + text

	resp, err := s.gen.GenerateContent(ctx, s.cfg.ModelName,
		[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)},
		&genai.GenerateContentConfig{Temperature: float32Ptr(0.2)})
	if err != nil {
		return "", fmt.Errorf("%w: shorten: %w", ErrGeneration, err)
	}
	if resp == nil {
		return "", fmt.Errorf("%w: shorten: empty response", ErrGeneration)
	}
	return resp.Text(), nil
}

func noteInstruction(action models.NoteAction, language string) string {
	switch action {
	case models.NoteExplain:
		return "Explain in detail what is happening or being discussed."
	case models.NoteSummarize:
		return "Briefly summarize what is happening or being discussed."
	case models.NoteTranslate:
		if language == "" {
			language = "Spanish"
		}
		return fmt.Sprintf("Translate the spoken words into %s.", language)
	}
	return ""
}

// ExplainNote runs a note-scoped action against the moment of the video the note points at.
func (s *Service) ExplainNote(ctx context.Context, action models.NoteAction, note models.Note, file *models.UploadedFile, language string) (string, error) {
	if !action.Valid() {
		return "", fmt.Errorf("%w: unsupported action %q", ErrNoteAction, action)
	}
	if file == nil {
		return "", fmt.Errorf("%w: no file attached", ErrNoteAction)
	}

	prompt := fmt.Sprintf(`At the timestamp %s in the video, the user left a note: "%s". Based on the video content around this specific moment, please perform the following action: %s. Provide a direct response to the user.`,
		timecode.Format(note.Time), note.Text, noteInstruction(action, language))

	parts := []*genai.Part{
		genai.NewPartFromText(prompt),
		genai.NewPartFromURI(file.URI, file.MIMEType),
	}
	resp, err := s.gen.GenerateContent(ctx, s.cfg.ModelName,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)},
		&genai.GenerateContentConfig{Temperature: float32Ptr(0.3)})
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrNoteAction, action, err)
	}
	if resp == nil {
		return "", fmt.Errorf("%w: %s: empty response", ErrNoteAction, action)
	}
	return resp.Text(), nil
}
