// Package render exports generated content as Markdown or HTML.
package render

import (
	"bytes"
	"fmt"
	"strings"

	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"

	"vidlense/internal/models"
	"vidlense/internal/modes"
	"vidlense/internal/timecode"
)

// Document is the content of one session worth exporting.
type Document struct {
	Title      string
	Mode       string
	Timecodes  []models.TimecodeItem
	Quiz       []models.QuizQuestion
	Flashcards []models.FlashcardItem
	Notes      []models.Note
}

// Renderer converts exported Markdown to HTML.
type Renderer struct {
	md goldmark.Markdown
}

func NewRenderer() *Renderer {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM, // Tables for flashcards, task lists for quiz answers
			highlighting.NewHighlighting(
				highlighting.WithStyle("github"),
				highlighting.WithFormatOptions(
					chromahtml.WithClasses(true),
				),
			),
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
			html.WithXHTML(),
			// Raw HTML from model output stays escaped.
		),
	)
	return &Renderer{md: md}
}

// Render converts Markdown to HTML.
func (r *Renderer) Render(source []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := r.md.Convert(source, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// HTML renders doc as an HTML fragment.
func (r *Renderer) HTML(doc Document) ([]byte, error) {
	return r.Render(Markdown(doc))
}

// Markdown lays out doc as a Markdown document. List modes keep their
// timecodes; other modes are written as plain paragraphs.
func Markdown(doc Document) []byte {
	var b strings.Builder

	title := doc.Title
	if title == "" {
		title = "Video notes"
	}
	fmt.Fprintf(&b, "# %s\n\n", oneLine(title))

	if len(doc.Timecodes) > 0 {
		heading := doc.Mode
		if heading == "" {
			heading = modes.Summary
		}
		fmt.Fprintf(&b, "## %s\n\n", heading)
		mode, _ := modes.Lookup(doc.Mode)
		if mode.List {
			writeTimecodeList(&b, doc.Timecodes)
		} else {
			for _, it := range doc.Timecodes {
				b.WriteString(strings.TrimSpace(it.Text))
				b.WriteString("\n\n")
			}
		}
	}

	if len(doc.Quiz) > 0 {
		b.WriteString("## Quiz\n\n")
		for i, q := range doc.Quiz {
			fmt.Fprintf(&b, "### %d. %s\n\n", i+1, oneLine(q.Question))
			for _, opt := range q.Options {
				mark := " "
				if opt == q.Answer {
					mark = "x"
				}
				fmt.Fprintf(&b, "- [%s] %s\n", mark, oneLine(opt))
			}
			if q.Time != "" {
				fmt.Fprintf(&b, "\n*See %s*\n", q.Time)
			}
			b.WriteString("\n")
		}
	}

	if len(doc.Flashcards) > 0 {
		b.WriteString("## Flashcards\n\n| Word | Definition |\n|---|---|\n")
		for _, c := range doc.Flashcards {
			word := c.Word
			if c.Furigana != "" {
				word = fmt.Sprintf("%s (%s)", c.Word, c.Furigana)
			}
			fmt.Fprintf(&b, "| %s | %s |\n", cell(word), cell(c.Definition))
		}
		b.WriteString("\n")
	}

	if len(doc.Notes) > 0 {
		b.WriteString("## Notes\n\n")
		for _, n := range doc.Notes {
			fmt.Fprintf(&b, "- **[%s]** %s\n", timecode.Format(n.Time), oneLine(n.Text))
			if n.Response != nil && *n.Response != "" {
				for _, line := range strings.Split(strings.TrimSpace(*n.Response), "\n") {
					fmt.Fprintf(&b, "  > %s\n", line)
				}
			}
		}
		b.WriteString("\n")
	}

	return []byte(b.String())
}

func writeTimecodeList(b *strings.Builder, items []models.TimecodeItem) {
	for _, it := range items {
		fmt.Fprintf(b, "- **[%s]** %s", it.Time, oneLine(it.Text))
		if len(it.Objects) > 0 {
			fmt.Fprintf(b, " (%s)", strings.Join(it.Objects, ", "))
		}
		b.WriteString("\n")
		if it.TranslatedText != nil && *it.TranslatedText != "" {
			fmt.Fprintf(b, "  *%s*\n", oneLine(*it.TranslatedText))
		}
	}
	b.WriteString("\n")
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func cell(s string) string {
	return strings.ReplaceAll(oneLine(s), "|", `\|`)
}
