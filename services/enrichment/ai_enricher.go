package enrichment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"github.com/sahilchouksey/campus-notes/model"
	"github.com/sahilchouksey/campus-notes/services"
	"github.com/sahilchouksey/campus-notes/utils"
	"gorm.io/datatypes"
)

const (
	defaultMaxInputChars = 24000
	maxGeneratedTags     = 8
)

var ErrNothingToEnrich = errors.New("note has no extractable text")

// Completer returns a model reply that should contain a JSON object.
type Completer interface {
	JSONCompletion(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// AIEnricher summarises a note with a chat model. Text comes from the note body
// and from any PDF attachments.
type AIEnricher struct {
	completer     Completer
	store         services.FileStore
	pdf           *services.PDFExtractor
	maxInputChars int
}

func NewAIEnricher(completer Completer, store services.FileStore, pdf *services.PDFExtractor) *AIEnricher {
	if pdf == nil {
		pdf = services.NewPDFExtractor(defaultMaxInputChars)
	}
	return &AIEnricher{completer: completer, store: store, pdf: pdf, maxInputChars: defaultMaxInputChars}
}

type enrichmentReply struct {
	Summary string   `json:"summary"`
	Excerpt string   `json:"excerpt"`
	Tags    []string `json:"tags"`
}

const enrichSystemPrompt = `You help university students organise their study notes.
Reply with a single JSON object and nothing else:
{"summary": "3-5 sentence summary", "excerpt": "one sentence teaser", "tags": ["short topic tag", "..."]}
Write in the language of the note. Use at most 8 tags, each under 40 characters.`

func (e *AIEnricher) Process(ctx context.Context, note *model.Note) error {
	body, err := e.collectText(ctx, note)
	if err != nil {
		return err
	}

	user := fmt.Sprintf("Title: %s\n\n%s", note.Title, body)
	reply, err := e.completer.JSONCompletion(ctx, enrichSystemPrompt, user)
	if err != nil {
		return fmt.Errorf("completion: %w", err)
	}

	var out enrichmentReply
	if err := utils.ExtractJSONTo(reply, &out); err != nil {
		return fmt.Errorf("parse completion: %w", err)
	}
	out.Summary = strings.TrimSpace(out.Summary)
	if out.Summary == "" {
		return errors.New("completion returned an empty summary")
	}

	note.AISummary = out.Summary
	if strings.TrimSpace(note.Excerpt) == "" {
		excerpt := strings.TrimSpace(out.Excerpt)
		if excerpt == "" {
			excerpt = out.Summary
		}
		note.Excerpt = services.MakeExcerpt(excerpt, services.ExcerptLength)
	}
	if strings.TrimSpace(note.ContentText) == "" {
		note.ContentText = body
	}
	note.Tags = mergeTags(note.Tags, out.Tags)
	return nil
}

// collectText joins the note body with text from PDF attachments, capped at
// maxInputChars runes.
func (e *AIEnricher) collectText(ctx context.Context, note *model.Note) (string, error) {
	var parts []string
	text := strings.TrimSpace(note.ContentText)
	if text == "" && note.ContentHTML != "" {
		text = services.HTMLToText(note.ContentHTML)
	}
	if text != "" {
		parts = append(parts, text)
	}

	for _, f := range note.Files {
		if !strings.EqualFold(f.Extension, "pdf") || e.store == nil {
			continue
		}
		data, err := e.store.Get(ctx, f.StorageKey)
		if err != nil {
			log.Warnw("[ENRICH] attachment unavailable", "note_id", note.ID, "file", f.OriginalName, "error", err)
			continue
		}
		extracted, err := e.pdf.ExtractText(data)
		if err != nil {
			log.Warnw("[ENRICH] attachment text extraction failed", "note_id", note.ID, "file", f.OriginalName, "error", err)
			continue
		}
		parts = append(parts, extracted)
	}

	joined := strings.TrimSpace(strings.Join(parts, "\n\n"))
	if joined == "" {
		return "", ErrNothingToEnrich
	}
	if r := []rune(joined); len(r) > e.maxInputChars {
		joined = string(r[:e.maxInputChars])
	}
	return joined, nil
}

// mergeTags keeps the author's tags first and fills up with generated ones.
func mergeTags(existing datatypes.JSONSlice[string], generated []string) datatypes.JSONSlice[string] {
	kept := make([]string, 0, len(existing)+maxGeneratedTags)
	kept = append(kept, existing...)
	added := 0
	for _, t := range generated {
		t = strings.TrimSpace(t)
		if t == "" || len([]rune(t)) > services.MaxTagLength {
			continue
		}
		if added == maxGeneratedTags {
			break
		}
		kept = append(kept, t)
		added++
	}
	merged := services.NormalizeTags(kept)
	if len(merged) > services.MaxTagsPerNote {
		merged = merged[:services.MaxTagsPerNote]
	}
	return datatypes.JSONSlice[string](merged)
}
