package note

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/sahilchouksey/campus-notes/services"
	"github.com/sahilchouksey/campus-notes/utils/middleware"
	"github.com/sahilchouksey/campus-notes/utils/response"
	"github.com/sahilchouksey/campus-notes/utils/validation"
)

// NoteHandler handles note-related requests
type NoteHandler struct {
	notes *services.NoteService
}

// NewNoteHandler creates a new note handler
func NewNoteHandler(notes *services.NoteService) *NoteHandler {
	return &NoteHandler{notes: notes}
}

// flag accepts true/false, 1/0 and "on"/"yes" in JSON bodies.
type flag bool

func (f *flag) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case bool:
		*f = flag(t)
	case float64:
		*f = t != 0
	case string:
		*f = flag(services.ParseFlag(t))
	case nil:
		*f = false
	default:
		return errors.New("invalid boolean")
	}
	return nil
}

// tagList accepts either a JSON array or a comma separated string.
type tagList []string

func (t *tagList) UnmarshalJSON(b []byte) error {
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		*t = list
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errors.New("tags must be a list or a comma separated string")
	}
	*t = splitTags(s)
	return nil
}

func splitTags(s string) []string {
	if strings.TrimSpace(s) == "" {
		return []string{}
	}
	return strings.Split(s, ",")
}

// NoteRequest is the JSON body for create and update.
type NoteRequest struct {
	Title       *string `json:"title"`
	Status      *string `json:"status"`
	Visibility  *string `json:"visibility"`
	Excerpt     *string `json:"excerpt"`
	ContentHTML *string `json:"content_html"`
	ContentText *string `json:"content_text"`
	Tags        tagList `json:"tags"`
	SourceType  *string `json:"source_type"`
	ProcessAI   flag    `json:"process_ai"`
}

func (r NoteRequest) toInput() services.NoteInput {
	in := services.NoteInput{
		Title:       r.Title,
		Status:      r.Status,
		Visibility:  r.Visibility,
		Excerpt:     r.Excerpt,
		ContentHTML: r.ContentHTML,
		ContentText: r.ContentText,
		SourceType:  r.SourceType,
		ProcessAI:   bool(r.ProcessAI),
	}
	if r.Tags != nil {
		in.Tags = []string(r.Tags)
	}
	return in
}

func isMultipart(c *fiber.Ctx) bool {
	return strings.HasPrefix(strings.ToLower(c.Get(fiber.HeaderContentType)), fiber.MIMEMultipartForm)
}

// parseInput reads a note from a multipart form or a JSON body.
func parseInput(c *fiber.Ctx) (services.NoteInput, error) {
	if !isMultipart(c) {
		var req NoteRequest
		if len(c.Body()) == 0 {
			return req.toInput(), nil
		}
		if err := c.BodyParser(&req); err != nil {
			return services.NoteInput{}, err
		}
		return req.toInput(), nil
	}

	form, err := c.MultipartForm()
	if err != nil {
		return services.NoteInput{}, err
	}
	return inputFromForm(form), nil
}

func inputFromForm(form *multipart.Form) services.NoteInput {
	value := func(key string) *string {
		if vs, ok := form.Value[key]; ok && len(vs) > 0 {
			v := vs[0]
			return &v
		}
		return nil
	}

	in := services.NoteInput{
		Title:       value("title"),
		Status:      value("status"),
		Visibility:  value("visibility"),
		Excerpt:     value("excerpt"),
		ContentHTML: value("content_html"),
		ContentText: value("content_text"),
		SourceType:  value("source_type"),
	}
	if v := value("process_ai"); v != nil {
		in.ProcessAI = services.ParseFlag(*v)
	}

	if vs, ok := form.Value["tags[]"]; ok {
		in.Tags = append(in.Tags, vs...)
	}
	if vs, ok := form.Value["tags"]; ok {
		for _, v := range vs {
			in.Tags = append(in.Tags, splitTags(v)...)
		}
		if in.Tags == nil {
			in.Tags = []string{}
		}
	}

	if fhs := form.File["file"]; len(fhs) > 0 {
		f := uploadedFile(fhs[0])
		in.File = &f
	}
	for _, key := range []string{"files", "files[]"} {
		for _, fh := range form.File[key] {
			in.Files = append(in.Files, uploadedFile(fh))
		}
	}
	return in
}

func uploadedFile(fh *multipart.FileHeader) services.UploadedFile {
	return services.UploadedFile{
		Filename:    fh.Filename,
		Size:        fh.Size,
		ContentType: fh.Header.Get(fiber.HeaderContentType),
		Open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}

func noteID(c *fiber.Ctx) (uint, bool) {
	return paramID(c, "id")
}

func paramID(c *fiber.Ctx, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Params(name), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// respondError maps service errors onto HTTP responses.
func respondError(c *fiber.Ctx, err error, action string) error {
	var fields validation.FieldErrors
	switch {
	case errors.As(err, &fields):
		return response.FieldErrors(c, fields)
	case errors.Is(err, services.ErrNoteNotFound):
		return response.NotFound(c, "Note not found")
	case errors.Is(err, services.ErrNoteFileNotFound):
		return response.NotFound(c, "File not found")
	case errors.Is(err, services.ErrNoteForbidden):
		return response.Forbidden(c, err.Error())
	case errors.Is(err, services.ErrEnrichmentInFlight):
		return response.Conflict(c, err.Error())
	default:
		log.Errorw("[NOTES] request failed", "action", action, "error", err)
		return response.InternalServerError(c, "Failed to "+action)
	}
}

// ListNotes returns the caller's notes
func (h *NoteHandler) ListNotes(c *fiber.Ctx) error {
	userID, _ := middleware.GetUserID(c)
	filter := services.NoteFilter{
		Status:   c.Query("status"),
		AIStatus: c.Query("ai_status"),
		Page:     c.QueryInt("page", 1),
		Limit:    c.QueryInt("limit", 20),
	}

	notes, total, err := h.notes.List(c.UserContext(), userID, filter)
	if err != nil {
		return respondError(c, err, "list notes")
	}
	return response.Paginated(c, notes, response.CalculatePagination(filter.Page, filter.Limit, total))
}

// CreateNote accepts a multipart form (with optional attachments) or JSON
func (h *NoteHandler) CreateNote(c *fiber.Ctx) error {
	userID, _ := middleware.GetUserID(c)
	input, err := parseInput(c)
	if err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	note, err := h.notes.Submit(c.UserContext(), userID, input)
	if err != nil {
		return respondError(c, err, "create note")
	}
	return response.Created(c, note)
}

// GetNote returns one note
func (h *NoteHandler) GetNote(c *fiber.Ctx) error {
	id, ok := noteID(c)
	if !ok {
		return response.BadRequest(c, "Invalid note ID")
	}
	userID, _ := middleware.GetUserID(c)

	note, err := h.notes.Get(c.UserContext(), userID, id)
	if err != nil {
		return respondError(c, err, "get note")
	}
	return response.Success(c, note)
}

// UpdateNote applies a partial update
func (h *NoteHandler) UpdateNote(c *fiber.Ctx) error {
	id, ok := noteID(c)
	if !ok {
		return response.BadRequest(c, "Invalid note ID")
	}
	userID, _ := middleware.GetUserID(c)
	input, err := parseInput(c)
	if err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	note, err := h.notes.Update(c.UserContext(), userID, id, input)
	if err != nil {
		return respondError(c, err, "update note")
	}
	return response.Success(c, note)
}

// DeleteNote removes a note and its attachments
func (h *NoteHandler) DeleteNote(c *fiber.Ctx) error {
	id, ok := noteID(c)
	if !ok {
		return response.BadRequest(c, "Invalid note ID")
	}
	userID, _ := middleware.GetUserID(c)

	if err := h.notes.Delete(c.UserContext(), userID, id); err != nil {
		return respondError(c, err, "delete note")
	}
	return response.NoContent(c)
}

// RequestEnrichment queues a (re)run of the AI enrichment
func (h *NoteHandler) RequestEnrichment(c *fiber.Ctx) error {
	id, ok := noteID(c)
	if !ok {
		return response.BadRequest(c, "Invalid note ID")
	}
	userID, _ := middleware.GetUserID(c)

	status, err := h.notes.RequestEnrichment(c.UserContext(), userID, id)
	if err != nil {
		return respondError(c, err, "request enrichment")
	}
	return response.Accepted(c, "Enrichment queued", status)
}

// GetEnrichmentStatus is polled by clients while enrichment runs
func (h *NoteHandler) GetEnrichmentStatus(c *fiber.Ctx) error {
	id, ok := noteID(c)
	if !ok {
		return response.BadRequest(c, "Invalid note ID")
	}
	userID, _ := middleware.GetUserID(c)

	status, err := h.notes.EnrichmentStatus(c.UserContext(), userID, id)
	if err != nil {
		return respondError(c, err, "get enrichment status")
	}
	return response.Success(c, status)
}

// GetFileDownload returns a download link for one attachment
func (h *NoteHandler) GetFileDownload(c *fiber.Ctx) error {
	id, ok := noteID(c)
	if !ok {
		return response.BadRequest(c, "Invalid note ID")
	}
	fileID, ok := paramID(c, "fileId")
	if !ok {
		return response.BadRequest(c, "Invalid file ID")
	}
	userID, _ := middleware.GetUserID(c)

	url, err := h.notes.FileDownloadURL(c.UserContext(), userID, id, fileID)
	if err != nil {
		return respondError(c, err, "get download link")
	}
	return response.Success(c, fiber.Map{"url": url})
}
