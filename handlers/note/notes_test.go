package note

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/sahilchouksey/campus-notes/database/dbtest"
	"github.com/sahilchouksey/campus-notes/model"
	"github.com/sahilchouksey/campus-notes/services"
	"github.com/sahilchouksey/campus-notes/utils/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingScheduler struct {
	ids []uint
}

func (r *recordingScheduler) Enqueue(noteID uint, _ bool) error {
	r.ids = append(r.ids, noteID)
	return nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code   string            `json:"code"`
		Fields map[string]string `json:"fields"`
	} `json:"error"`
}

func decode(t *testing.T, body io.Reader) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.NewDecoder(body).Decode(&env))
	return env
}

type handlerFixture struct {
	app       *fiber.App
	scheduler *recordingScheduler
	owner     model.User
	other     model.User
}

func newHandlerFixture(t *testing.T) handlerFixture {
	t.Helper()
	db := dbtest.Open(t)
	uni := dbtest.CreateUniversity(t, db, "Universitas Indonesia", "ui.ac.id")
	owner := dbtest.CreateUser(t, db, "owner@ui.ac.id", &uni, true)
	other := dbtest.CreateUser(t, db, "other@ui.ac.id", &uni, true)

	scheduler := &recordingScheduler{}
	h := NewNoteHandler(services.NewNoteService(db, services.NewMemoryFileStore(), scheduler, services.NoteServiceConfig{}))

	app := fiber.New()
	// X-User stands in for the auth middleware
	app.Use(func(c *fiber.Ctx) error {
		id := owner.ID
		if c.Get("X-User") == "other" {
			id = other.ID
		}
		c.Locals(middleware.LocalUserID, id)
		return c.Next()
	})
	app.Post("/notes", h.CreateNote)
	app.Get("/notes/:id", h.GetNote)
	app.Post("/notes/:id/enrich", h.RequestEnrichment)
	return handlerFixture{app: app, scheduler: scheduler, owner: owner, other: other}
}

func multipartNote(t *testing.T, fields map[string]string, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if filename != "" {
		fw, err := w.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func TestCreateNoteFromMultipart(t *testing.T) {
	f := newHandlerFixture(t)
	pdf := append([]byte("%PDF-1.4\n"), bytes.Repeat([]byte("x"), 512)...)
	body, contentType := multipartNote(t, map[string]string{
		"title":      "Lecture 3",
		"tags":       "linear-algebra, matrices",
		"process_ai": "on",
	}, "lecture3.pdf", pdf)

	req := httptest.NewRequest(http.MethodPost, "/notes", body)
	req.Header.Set(fiber.HeaderContentType, contentType)
	resp, err := f.app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var note model.Note
	require.NoError(t, json.Unmarshal(decode(t, resp.Body).Data, &note))
	assert.Equal(t, "Lecture 3", note.Title)
	assert.Equal(t, []string{"linear-algebra", "matrices"}, []string(note.Tags))
	assert.Equal(t, model.AIStatusPending, note.CurrentAIStatus())
	assert.Equal(t, model.NoteSourceUpload, note.SourceType)
	require.Len(t, note.Files, 1)
	assert.Equal(t, "lecture3.pdf", note.Files[0].OriginalName)
	assert.Equal(t, []uint{note.ID}, f.scheduler.ids)
}

func TestCreateNoteReportsFieldErrors(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/notes",
		strings.NewReader(`{"title": "", "status": "secret", "process_ai": "yes"}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := f.app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)

	env := decode(t, resp.Body)
	require.NotNil(t, env.Error)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
	assert.Contains(t, env.Error.Fields, "title")
	assert.Contains(t, env.Error.Fields, "status")
	assert.Empty(t, f.scheduler.ids)
}

func TestGetNoteHidesPrivateNotes(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/notes", strings.NewReader(`{"title": "Mine"}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := f.app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	var note model.Note
	require.NoError(t, json.Unmarshal(decode(t, resp.Body).Data, &note))

	get := httptest.NewRequest(http.MethodGet, "/notes/"+itoa(note.ID), nil)
	get.Header.Set("X-User", "other")
	resp, err = f.app.Test(get)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp, err = f.app.Test(httptest.NewRequest(http.MethodGet, "/notes/abc", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestRequestEnrichmentIsOwnerOnly(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/notes", strings.NewReader(`{"title": "Mine", "content_text": "body"}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := f.app.Test(req)
	require.NoError(t, err)
	var note model.Note
	require.NoError(t, json.Unmarshal(decode(t, resp.Body).Data, &note))

	enrich := httptest.NewRequest(http.MethodPost, "/notes/"+itoa(note.ID)+"/enrich", nil)
	enrich.Header.Set("X-User", "other")
	resp, err = f.app.Test(enrich)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp, err = f.app.Test(httptest.NewRequest(http.MethodPost, "/notes/"+itoa(note.ID)+"/enrich", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	assert.Equal(t, []uint{note.ID}, f.scheduler.ids)
}

func TestFlagAndTagListDecoding(t *testing.T) {
	var req NoteRequest
	require.NoError(t, json.Unmarshal([]byte(`{"process_ai": 1, "tags": "a, b"}`), &req))
	assert.True(t, bool(req.ProcessAI))
	assert.Equal(t, []string{"a", " b"}, []string(req.Tags))

	req = NoteRequest{}
	require.NoError(t, json.Unmarshal([]byte(`{"process_ai": "off", "tags": ["x"]}`), &req))
	assert.False(t, bool(req.ProcessAI))
	assert.Equal(t, []string{"x"}, []string(req.Tags))

	assert.Error(t, json.Unmarshal([]byte(`{"process_ai": [1]}`), &req))
	assert.Error(t, json.Unmarshal([]byte(`{"tags": 5}`), &req))
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
