// Package functions declares the structured outputs the generation service may
// produce and turns raw function calls into typed values.
package functions

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"google.golang.org/genai"

	"vidlense/internal/models"
	"vidlense/internal/timecode"
)

var (
	ErrUnknownFunction = errors.New("unknown function")
	ErrNoHandler       = errors.New("no handler bound")
)

// Kind identifies one declared output function.
type Kind int

const (
	SetQuiz Kind = iota + 1
	SetFlashcards
	SetTimecodes
	SetTimecodesWithTranslation
	SetTimecodesWithObjects
)

var kindNames = map[Kind]string{
	SetQuiz:                     "set_quiz",
	SetFlashcards:               "set_flashcards",
	SetTimecodes:                "set_timecodes",
	SetTimecodesWithTranslation: "set_timecodes_with_translation",
	SetTimecodesWithObjects:     "set_timecodes_with_objects",
}

// Name is the function name on the wire.
func (k Kind) Name() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (k Kind) String() string { return k.Name() }

// KindFromName resolves a wire name.
func KindFromName(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name {
			return k, true
		}
	}
	return 0, false
}

// AllKinds returns every declared kind in declaration order.
func AllKinds() []Kind {
	return []Kind{SetQuiz, SetFlashcards, SetTimecodes, SetTimecodesWithTranslation, SetTimecodesWithObjects}
}

// Call is a decoded function call. Only the slice matching Kind is populated.
type Call struct {
	Kind      Kind
	Questions []models.QuizQuestion
	Cards     []models.FlashcardItem
	Timecodes []models.TimecodeItem
}

// Handlers binds each kind to a typed callback.
type Handlers struct {
	SetQuiz                     func([]models.QuizQuestion)
	SetFlashcards               func([]models.FlashcardItem)
	SetTimecodes                func([]models.TimecodeItem)
	SetTimecodesWithTranslation func([]models.TimecodeItem)
	SetTimecodesWithObjects     func([]models.TimecodeItem)
}

// Dispatch routes c to the callback bound for its kind.
func (h Handlers) Dispatch(c Call) error {
	switch c.Kind {
	case SetQuiz:
		if h.SetQuiz != nil {
			h.SetQuiz(c.Questions)
			return nil
		}
	case SetFlashcards:
		if h.SetFlashcards != nil {
			h.SetFlashcards(c.Cards)
			return nil
		}
	case SetTimecodes:
		if h.SetTimecodes != nil {
			h.SetTimecodes(c.Timecodes)
			return nil
		}
	case SetTimecodesWithTranslation:
		if h.SetTimecodesWithTranslation != nil {
			h.SetTimecodesWithTranslation(c.Timecodes)
			return nil
		}
	case SetTimecodesWithObjects:
		if h.SetTimecodesWithObjects != nil {
			h.SetTimecodesWithObjects(c.Timecodes)
			return nil
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownFunction, c.Kind)
	}
	return fmt.Errorf("%w: %s", ErrNoHandler, c.Kind)
}

type quizArgs struct {
	Questions []models.QuizQuestion `json:"questions"`
}

type flashcardArgs struct {
	Cards []models.FlashcardItem `json:"cards"`
}

type timecodeArgs struct {
	Timecodes []struct {
		Time           string   `json:"time"`
		Text           string   `json:"text"`
		TranslatedText *string  `json:"translatedText"`
		Objects        []string `json:"objects"`
	} `json:"timecodes"`
}

// Decode converts a raw call into a typed Call. Entries that break the data
// invariants (unparseable timecode, answer missing from options) are dropped.
func Decode(name string, args map[string]any) (Call, error) {
	kind, ok := KindFromName(name)
	if !ok {
		return Call{}, fmt.Errorf("%w: %q", ErrUnknownFunction, name)
	}

	raw, err := json.Marshal(args)
	if err != nil {
		return Call{}, fmt.Errorf("encode %s args: %w", name, err)
	}

	call := Call{Kind: kind}
	switch kind {
	case SetQuiz:
		var a quizArgs
		if err := json.Unmarshal(raw, &a); err != nil {
			return Call{}, fmt.Errorf("decode %s args: %w", name, err)
		}
		for _, q := range a.Questions {
			if !containsString(q.Options, q.Answer) {
				log.Printf("Functions Decode: dropping quiz question %q, answer not among options", q.Question)
				continue
			}
			call.Questions = append(call.Questions, q)
		}
	case SetFlashcards:
		var a flashcardArgs
		if err := json.Unmarshal(raw, &a); err != nil {
			return Call{}, fmt.Errorf("decode %s args: %w", name, err)
		}
		for _, c := range a.Cards {
			if !usesFurigana(c.Lang) {
				c.Furigana = ""
			}
			call.Cards = append(call.Cards, c)
		}
	default:
		var a timecodeArgs
		if err := json.Unmarshal(raw, &a); err != nil {
			return Call{}, fmt.Errorf("decode %s args: %w", name, err)
		}
		for _, t := range a.Timecodes {
			if _, err := timecode.ParseStrict(t.Time); err != nil || t.Time == "" {
				log.Printf("Functions Decode: dropping %s entry with time %q", name, t.Time)
				continue
			}
			item := models.TimecodeItem{Time: t.Time, Text: unescape(t.Text)}
			switch kind {
			case SetTimecodesWithTranslation:
				item.TranslatedText = t.TranslatedText
			case SetTimecodesWithObjects:
				item.Objects = t.Objects
			}
			call.Timecodes = append(call.Timecodes, item)
		}
	}
	return call, nil
}

// The model sometimes returns JSON-escaped apostrophes inside strings.
func unescape(s string) string {
	return strings.ReplaceAll(s, `\'`, `'`)
}

func usesFurigana(lang string) bool {
	lang = strings.ToLower(lang)
	return lang == "ja" || strings.HasPrefix(lang, "ja-")
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Declarations returns the genai schemas for the given kinds, or for every kind when none are given.
func Declarations(kinds ...Kind) []*genai.FunctionDeclaration {
	if len(kinds) == 0 {
		kinds = AllKinds()
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(kinds))
	for _, k := range kinds {
		if d := declaration(k); d != nil {
			decls = append(decls, d)
		}
	}
	return decls
}

func str(desc string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeString, Description: desc}
}

func object(props map[string]*genai.Schema, required ...string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeObject, Properties: props, Required: required}
}

func array(desc string, items *genai.Schema) *genai.Schema {
	return &genai.Schema{Type: genai.TypeArray, Description: desc, Items: items}
}

func declaration(k Kind) *genai.FunctionDeclaration {
	switch k {
	case SetQuiz:
		return &genai.FunctionDeclaration{
			Name:        k.Name(),
			Description: "Set a multiple choice quiz for the video.",
			Parameters: object(map[string]*genai.Schema{
				"questions": array("", object(map[string]*genai.Schema{
					"time":     str("The timecode in the video relevant to the question."),
					"question": str("The quiz question."),
					"options":  array("A list of 4 possible answers.", str("")),
					"answer":   str("The correct answer from the options list."),
				}, "time", "question", "options", "answer")),
			}, "questions"),
		}
	case SetFlashcards:
		return &genai.FunctionDeclaration{
			Name:        k.Name(),
			Description: "Set flashcards based on the video content.",
			Parameters: object(map[string]*genai.Schema{
				"cards": array("", object(map[string]*genai.Schema{
					"word":       str(""),
					"definition": str(""),
					"lang":       str("The BCP-47 language code for the word (e.g., en-US, ja-JP)."),
					"furigana":   str("Optional furigana for the word."),
				}, "word", "definition", "lang")),
			}, "cards"),
		}
	case SetTimecodes:
		return &genai.FunctionDeclaration{
			Name:        k.Name(),
			Description: "Set the timecodes for the video with associated text",
			Parameters: object(map[string]*genai.Schema{
				"timecodes": array("", object(map[string]*genai.Schema{
					"time": str(""),
					"text": str(""),
				}, "time", "text")),
			}, "timecodes"),
		}
	case SetTimecodesWithTranslation:
		return &genai.FunctionDeclaration{
			Name:        k.Name(),
			Description: "Set the timecodes for the video with associated text and its translation.",
			Parameters: object(map[string]*genai.Schema{
				"timecodes": array("", object(map[string]*genai.Schema{
					"time":           str(""),
					"text":           str("The original text from the video script."),
					"translatedText": str("The translated text."),
				}, "time", "text", "translatedText")),
			}, "timecodes"),
		}
	case SetTimecodesWithObjects:
		return &genai.FunctionDeclaration{
			Name:        k.Name(),
			Description: "Set the timecodes for the video with associated text and object list",
			Parameters: object(map[string]*genai.Schema{
				"timecodes": array("", object(map[string]*genai.Schema{
					"time":    str(""),
					"text":    str(""),
					"objects": array("", str("")),
				}, "time", "text", "objects")),
			}, "timecodes"),
		}
	}
	return nil
}
