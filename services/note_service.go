package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/sahilchouksey/campus-notes/model"
	"github.com/sahilchouksey/campus-notes/services/digitalocean"
	"github.com/sahilchouksey/campus-notes/utils/validation"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	// MaxAttachmentSize is the per-file ceiling for note attachments.
	MaxAttachmentSize int64 = 10 << 20
	MaxTitleLength          = 255
	MaxTagLength            = 50
	MaxTagsPerNote          = 30
	MaxFilesPerNote         = 5
	ExcerptLength           = 200
)

// AllowedAttachmentExtensions is the upload whitelist (lowercase, no dot).
var AllowedAttachmentExtensions = map[string]bool{
	"pdf": true, "jpg": true, "jpeg": true, "png": true, "webp": true,
}

var (
	ErrNoteNotFound       = errors.New("note not found")
	ErrNoteForbidden      = errors.New("you don't have permission to modify this note")
	ErrEnrichmentInFlight = errors.New("enrichment is already running for this note")
	ErrNoteFileNotFound   = errors.New("file not found")
)

// EnrichmentScheduler hands a note id to the background enrichment workers.
type EnrichmentScheduler interface {
	Enqueue(noteID uint, force bool) error
}

// UploadedFile is a transport-neutral attachment. Open is called at most once.
type UploadedFile struct {
	Filename    string
	Size        int64
	ContentType string
	Open        func() (io.ReadCloser, error)
}

// BytesFile builds an UploadedFile around an in-memory payload.
func BytesFile(name string, data []byte) UploadedFile {
	return UploadedFile{
		Filename: name,
		Size:     int64(len(data)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// NoteInput is the intake payload. On update nil fields are left untouched.
type NoteInput struct {
	Title       *string  `json:"title" validate:"omitempty,max=255"`
	Status      *string  `json:"status" validate:"omitempty,note_status"`
	Visibility  *string  `json:"visibility" validate:"omitempty,note_visibility"`
	Excerpt     *string  `json:"excerpt" validate:"omitempty,max=1000"`
	ContentHTML *string  `json:"content_html"`
	ContentText *string  `json:"content_text"`
	Tags        []string `json:"tags" validate:"omitempty,max=30,dive,max=50"`
	SourceType  *string  `json:"source_type" validate:"omitempty,source_type"`
	ProcessAI   bool     `json:"process_ai"`

	File  *UploadedFile  `json:"-"`
	Files []UploadedFile `json:"-"`
}

// ParseFlag interprets form booleans: "1", "true", "on" and "yes" are true.
func ParseFlag(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}

// NormalizeTags trims, drops blanks and removes case-insensitive duplicates, keeping order.
func NormalizeTags(tags []string) []string {
	if tags == nil {
		return nil
	}
	seen := map[string]bool{}
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		key := strings.ToLower(t)
		if t == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	return out
}

// NoteFilter narrows List results.
type NoteFilter struct {
	Status   string
	AIStatus string
	Page     int
	Limit    int
}

// EnrichmentStatus is the polling view of a note's enrichment.
type EnrichmentStatus struct {
	NoteID        uint           `json:"note_id"`
	AIStatus      model.AIStatus `json:"ai_status"`
	AIError       string         `json:"ai_error,omitempty"`
	AIStartedAt   *time.Time     `json:"ai_started_at,omitempty"`
	AICompletedAt *time.Time     `json:"ai_completed_at,omitempty"`
	Stale         bool           `json:"stale"`
}

// NoteServiceConfig tunes NoteService.
type NoteServiceConfig struct {
	MaxFileSize int64
	// StaleAfter is how long a processing run may last before a retry may take over.
	StaleAfter time.Duration
	KeyPrefix  string
}

// NoteService validates and persists notes and schedules enrichment.
type NoteService struct {
	db        *gorm.DB
	store     FileStore
	scheduler EnrichmentScheduler
	validator *validation.Validator
	cfg       NoteServiceConfig
	now       func() time.Time
}

func NewNoteService(db *gorm.DB, store FileStore, scheduler EnrichmentScheduler, cfg NoteServiceConfig) *NoteService {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = MaxAttachmentSize
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 30 * time.Minute
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "notes"
	}
	return &NoteService{
		db:        db,
		store:     store,
		scheduler: scheduler,
		validator: validation.NewValidator(),
		cfg:       cfg,
		now:       time.Now,
	}
}

// preparedFile is an attachment that passed validation and has been read.
type preparedFile struct {
	name      string
	ext       string
	mime      string
	data      []byte
	isPrimary bool
}

func (s *NoteService) validateInput(input *NoteInput, creating bool) (validation.FieldErrors, []preparedFile) {
	fields := validation.FieldErrors{}

	if input.Title != nil {
		t := validation.SanitizeString(*input.Title)
		input.Title = &t
	}
	if creating && (input.Title == nil || *input.Title == "") {
		fields.Add("title", "title is required")
	} else if !creating && input.Title != nil && *input.Title == "" {
		fields.Add("title", "title cannot be empty")
	}
	input.Tags = NormalizeTags(input.Tags)

	if err := s.validator.ValidateStruct(input); err != nil {
		var fe validation.FieldErrors
		if errors.As(err, &fe) {
			fields.Merge(fe)
		} else {
			fields.Add("note", err.Error())
		}
	}

	count := len(input.Files)
	if input.File != nil {
		count++
	}
	if count > MaxFilesPerNote {
		fields.Add("files", fmt.Sprintf("at most %d files per request", MaxFilesPerNote))
		return fields, nil
	}

	var prepared []preparedFile
	if input.File != nil {
		pf, msg := s.prepareFile(*input.File, true)
		if msg != "" {
			fields.Add("file", msg)
		} else {
			prepared = append(prepared, pf)
		}
	}
	for i, f := range input.Files {
		pf, msg := s.prepareFile(f, false)
		if msg != "" {
			fields.Add("files", fmt.Sprintf("files[%d]: %s", i, msg))
			continue
		}
		prepared = append(prepared, pf)
	}
	return fields, prepared
}

// prepareFile enforces the whitelist and size ceiling and reads the payload.
func (s *NoteService) prepareFile(f UploadedFile, primary bool) (preparedFile, string) {
	name := filepath.Base(strings.TrimSpace(f.Filename))
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	if name == "" || name == "." {
		return preparedFile{}, "file name is required"
	}
	if !AllowedAttachmentExtensions[ext] {
		return preparedFile{}, "file type must be one of pdf, jpg, jpeg, png, webp"
	}
	sizeMsg := fmt.Sprintf("%s exceeds the maximum size of %d MB", name, s.cfg.MaxFileSize>>20)
	if f.Size > s.cfg.MaxFileSize {
		return preparedFile{}, sizeMsg
	}
	if f.Open == nil {
		return preparedFile{}, "file content is missing"
	}

	rc, err := f.Open()
	if err != nil {
		return preparedFile{}, "file could not be read"
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, s.cfg.MaxFileSize+1))
	if err != nil {
		return preparedFile{}, "file could not be read"
	}
	if int64(len(data)) > s.cfg.MaxFileSize {
		return preparedFile{}, sizeMsg
	}
	if len(data) == 0 {
		return preparedFile{}, "file is empty"
	}
	if ext == "pdf" && !bytes.HasPrefix(data, []byte("%PDF-")) {
		return preparedFile{}, "file is not a valid PDF"
	}

	return preparedFile{
		name:      name,
		ext:       ext,
		mime:      digitalocean.GetContentType(name),
		data:      data,
		isPrimary: primary,
	}, ""
}

// storeFiles uploads attachments and returns rows plus the keys written for cleanup.
func (s *NoteService) storeFiles(ctx context.Context, noteID uint, files []preparedFile) ([]model.NoteFile, []string, error) {
	rows := make([]model.NoteFile, 0, len(files))
	keys := make([]string, 0, len(files))
	for _, f := range files {
		key := digitalocean.GenerateKey(fmt.Sprintf("%s/%d", s.cfg.KeyPrefix, noteID), f.name)
		url, err := s.store.Put(ctx, key, f.data, f.mime)
		if err != nil {
			return nil, keys, fmt.Errorf("store %s: %w", f.name, err)
		}
		keys = append(keys, key)
		rows = append(rows, model.NoteFile{
			NoteID:       noteID,
			IsPrimary:    f.isPrimary,
			OriginalName: f.name,
			Extension:    f.ext,
			MimeType:     f.mime,
			SizeBytes:    int64(len(f.data)),
			StorageKey:   key,
			URL:          url,
		})
	}
	return rows, keys, nil
}

func (s *NoteService) discardObjects(keys []string) {
	for _, key := range keys {
		if err := s.store.Delete(context.Background(), key); err != nil {
			log.Warnw("[NOTES] failed to delete orphaned object", "key", key, "error", err)
		}
	}
}

// Submit validates input and creates a note owned by userID. Nothing is written
// when validation fails. With ProcessAI the note starts as ai_status=pending and
// is handed to the scheduler after commit.
func (s *NoteService) Submit(ctx context.Context, userID uint, input NoteInput) (*model.Note, error) {
	fields, files := s.validateInput(&input, true)
	if len(fields) > 0 {
		return nil, fields
	}

	note := &model.Note{
		UserID:     userID,
		Title:      *input.Title,
		Status:     model.NoteStatusDraft,
		Visibility: model.NoteVisibilityPrivate,
		SourceType: model.NoteSourceManual,
		Tags:       datatypes.JSONSlice[string]{},
	}
	if len(files) > 0 {
		note.SourceType = model.NoteSourceUpload
	}
	if input.Status != nil {
		note.Status = model.NoteStatus(*input.Status)
	}
	if input.Visibility != nil {
		note.Visibility = model.NoteVisibility(*input.Visibility)
	}
	if input.SourceType != nil {
		note.SourceType = model.NoteSourceType(*input.SourceType)
	}
	if input.Tags != nil {
		note.Tags = datatypes.JSONSlice[string](input.Tags)
	}
	if input.ContentHTML != nil {
		note.ContentHTML = *input.ContentHTML
	}
	if input.ContentText != nil {
		note.ContentText = *input.ContentText
	} else {
		note.ContentText = HTMLToText(note.ContentHTML)
	}
	if input.Excerpt != nil {
		note.Excerpt = strings.TrimSpace(*input.Excerpt)
	}
	if note.Excerpt == "" {
		note.Excerpt = MakeExcerpt(note.ContentText, ExcerptLength)
	}
	if input.ProcessAI {
		pending := model.AIStatusPending
		note.AIStatus = &pending
	}

	var written []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(note).Error; err != nil {
			return err
		}
		if len(files) == 0 {
			return nil
		}
		rows, keys, err := s.storeFiles(ctx, note.ID, files)
		written = keys
		if err != nil {
			return err
		}
		if err := tx.Create(&rows).Error; err != nil {
			return err
		}
		note.Files = rows
		return nil
	})
	if err != nil {
		s.discardObjects(written)
		return nil, fmt.Errorf("create note: %w", err)
	}

	log.Infow("[NOTES] note created", "note_id", note.ID, "user_id", userID, "files", len(files), "process_ai", input.ProcessAI)

	if input.ProcessAI {
		s.schedule(note.ID, false)
	}
	return note, nil
}

// schedule enqueues without failing the request; the requeue cron recovers pending notes.
func (s *NoteService) schedule(noteID uint, force bool) {
	if s.scheduler == nil {
		log.Warnw("[NOTES] no enrichment scheduler configured", "note_id", noteID)
		return
	}
	if err := s.scheduler.Enqueue(noteID, force); err != nil {
		log.Warnw("[NOTES] enrichment enqueue failed, left pending for requeue", "note_id", noteID, "error", err)
	}
}

func (s *NoteService) loadOwned(ctx context.Context, db *gorm.DB, userID, noteID uint) (*model.Note, error) {
	var note model.Note
	err := db.WithContext(ctx).Preload("Files").First(&note, noteID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoteNotFound
	}
	if err != nil {
		return nil, err
	}
	if note.UserID != userID {
		return nil, ErrNoteForbidden
	}
	return &note, nil
}

// Get returns a note visible to userID: their own notes, or public ones.
func (s *NoteService) Get(ctx context.Context, userID, noteID uint) (*model.Note, error) {
	var note model.Note
	err := s.db.WithContext(ctx).Preload("Files").First(&note, noteID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoteNotFound
	}
	if err != nil {
		return nil, err
	}
	if note.UserID != userID && note.Visibility != model.NoteVisibilityPublic {
		return nil, ErrNoteNotFound
	}
	return &note, nil
}

// DownloadURLExpiry bounds presigned attachment links.
const DownloadURLExpiry = 15 * time.Minute

// FileDownloadURL returns a link for one attachment of a note visible to userID.
// Stores that can sign URLs get a short-lived link; others return the stored URL.
func (s *NoteService) FileDownloadURL(ctx context.Context, userID, noteID, fileID uint) (string, error) {
	note, err := s.Get(ctx, userID, noteID)
	if err != nil {
		return "", err
	}
	for _, f := range note.Files {
		if f.ID != fileID {
			continue
		}
		if signer, ok := s.store.(URLSigner); ok {
			return signer.PresignedURL(f.StorageKey, DownloadURLExpiry)
		}
		return f.URL, nil
	}
	return "", ErrNoteFileNotFound
}

// List returns the user's notes, newest first.
func (s *NoteService) List(ctx context.Context, userID uint, filter NoteFilter) ([]model.Note, int64, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 {
		filter.Limit = 20
	}
	if filter.Limit > 100 {
		filter.Limit = 100
	}

	query := s.db.WithContext(ctx).Model(&model.Note{}).Where("user_id = ?", userID)
	if filter.Status != "" {
		if !model.NoteStatus(filter.Status).Valid() {
			return nil, 0, validation.FieldErrors{"status": "status must be one of draft, published, archived"}
		}
		query = query.Where("status = ?", filter.Status)
	}
	if filter.AIStatus != "" {
		st, err := model.ParseAIStatus(filter.AIStatus)
		if err != nil {
			return nil, 0, validation.FieldErrors{"ai_status": "ai_status must be one of pending, processing, completed, failed"}
		}
		query = query.Where("ai_status = ?", st)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var notes []model.Note
	err := query.Preload("Files").
		Order("created_at DESC, id DESC").
		Offset((filter.Page - 1) * filter.Limit).
		Limit(filter.Limit).
		Find(&notes).Error
	return notes, total, err
}

// Update applies a partial update with the same per-field rules as Submit.
func (s *NoteService) Update(ctx context.Context, userID, noteID uint, input NoteInput) (*model.Note, error) {
	note, err := s.loadOwned(ctx, s.db, userID, noteID)
	if err != nil {
		return nil, err
	}

	fields, files := s.validateInput(&input, false)
	if len(fields) > 0 {
		return nil, fields
	}

	updates := map[string]interface{}{}
	if input.Title != nil {
		updates["title"] = *input.Title
	}
	if input.Status != nil {
		updates["status"] = *input.Status
	}
	if input.Visibility != nil {
		updates["visibility"] = *input.Visibility
	}
	if input.Excerpt != nil {
		updates["excerpt"] = strings.TrimSpace(*input.Excerpt)
	}
	if input.ContentHTML != nil {
		updates["content_html"] = *input.ContentHTML
		if input.ContentText == nil {
			updates["content_text"] = HTMLToText(*input.ContentHTML)
		}
	}
	if input.ContentText != nil {
		updates["content_text"] = *input.ContentText
	}
	if input.Tags != nil {
		updates["tags"] = datatypes.JSONSlice[string](input.Tags)
	}
	if input.SourceType != nil {
		updates["source_type"] = *input.SourceType
	} else if len(files) > 0 {
		updates["source_type"] = model.NoteSourceUpload
	}

	var written []string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(updates) > 0 {
			if err := tx.Model(note).Updates(updates).Error; err != nil {
				return err
			}
		}
		if len(files) == 0 {
			return nil
		}
		if input.File != nil {
			// the single-file field replaces the previous primary flag
			if err := tx.Model(&model.NoteFile{}).Where("note_id = ?", note.ID).Update("is_primary", false).Error; err != nil {
				return err
			}
		}
		rows, keys, err := s.storeFiles(ctx, note.ID, files)
		written = keys
		if err != nil {
			return err
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		s.discardObjects(written)
		return nil, fmt.Errorf("update note: %w", err)
	}

	if input.ProcessAI {
		if _, err := s.RequestEnrichment(ctx, userID, noteID); err != nil && !errors.Is(err, ErrEnrichmentInFlight) {
			return nil, err
		}
	}
	return s.loadOwned(ctx, s.db, userID, noteID)
}

// Delete soft-deletes the note, drops its file rows and removes stored objects.
// A job already running for the note finds it gone and stops.
func (s *NoteService) Delete(ctx context.Context, userID, noteID uint) error {
	note, err := s.loadOwned(ctx, s.db, userID, noteID)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("note_id = ?", note.ID).Delete(&model.NoteFile{}).Error; err != nil {
			return err
		}
		return tx.Delete(note).Error
	})
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}

	keys := make([]string, 0, len(note.Files))
	for _, f := range note.Files {
		keys = append(keys, f.StorageKey)
	}
	s.discardObjects(keys)
	log.Infow("[NOTES] note deleted", "note_id", note.ID, "user_id", userID)
	return nil
}

// RequestEnrichment resets ai_status to pending and enqueues a forced run.
// A processing run younger than StaleAfter blocks the request.
func (s *NoteService) RequestEnrichment(ctx context.Context, userID, noteID uint) (*EnrichmentStatus, error) {
	if _, err := s.loadOwned(ctx, s.db, userID, noteID); err != nil {
		return nil, err
	}

	staleCutoff := s.now().Add(-s.cfg.StaleAfter)
	res := s.db.WithContext(ctx).Model(&model.Note{}).
		Where("id = ?", noteID).
		Where("ai_status IS NULL OR ai_status <> ? OR ai_started_at IS NULL OR ai_started_at < ?", model.AIStatusProcessing, staleCutoff).
		Updates(map[string]interface{}{
			"ai_status": model.AIStatusPending,
			"ai_error":  "",
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrEnrichmentInFlight
	}

	s.schedule(noteID, true)
	return s.EnrichmentStatus(ctx, userID, noteID)
}

// EnrichmentStatus reports the current enrichment state for polling clients.
func (s *NoteService) EnrichmentStatus(ctx context.Context, userID, noteID uint) (*EnrichmentStatus, error) {
	note, err := s.loadOwned(ctx, s.db, userID, noteID)
	if err != nil {
		return nil, err
	}
	st := &EnrichmentStatus{
		NoteID:        note.ID,
		AIStatus:      note.CurrentAIStatus(),
		AIError:       note.AIError,
		AIStartedAt:   note.AIStartedAt,
		AICompletedAt: note.AICompletedAt,
	}
	if st.AIStatus == model.AIStatusProcessing && note.AIStartedAt != nil {
		st.Stale = note.AIStartedAt.Before(s.now().Add(-s.cfg.StaleAfter))
	}
	return st, nil
}
