package model

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// NoteStatus is the publication state of a note.
type NoteStatus string

const (
	NoteStatusDraft     NoteStatus = "draft"
	NoteStatusPublished NoteStatus = "published"
	NoteStatusArchived  NoteStatus = "archived"
)

func (s NoteStatus) Valid() bool {
	switch s {
	case NoteStatusDraft, NoteStatusPublished, NoteStatusArchived:
		return true
	}
	return false
}

// NoteVisibility controls who can read a note.
type NoteVisibility string

const (
	NoteVisibilityPrivate NoteVisibility = "private"
	NoteVisibilityPublic  NoteVisibility = "public"
)

func (v NoteVisibility) Valid() bool {
	switch v {
	case NoteVisibilityPrivate, NoteVisibilityPublic:
		return true
	}
	return false
}

// NoteSourceType records how the note content entered the system.
type NoteSourceType string

const (
	NoteSourceManual NoteSourceType = "manual"
	NoteSourceUpload NoteSourceType = "upload"
)

func (s NoteSourceType) Valid() bool {
	switch s {
	case NoteSourceManual, NoteSourceUpload:
		return true
	}
	return false
}

// AIStatus is the enrichment state machine: pending -> processing -> completed | failed.
type AIStatus string

const (
	AIStatusPending    AIStatus = "pending"
	AIStatusProcessing AIStatus = "processing"
	AIStatusCompleted  AIStatus = "completed"
	AIStatusFailed     AIStatus = "failed"
)

func (s AIStatus) Valid() bool {
	switch s {
	case AIStatusPending, AIStatusProcessing, AIStatusCompleted, AIStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the job stops at this state.
func (s AIStatus) IsTerminal() bool {
	return s == AIStatusCompleted || s == AIStatusFailed
}

// ParseAIStatus rejects anything outside the closed set.
func ParseAIStatus(raw string) (AIStatus, error) {
	s := AIStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("invalid ai status %q", raw)
	}
	return s, nil
}

// Note is a study note owned by one user, optionally enriched by the AI pipeline.
type Note struct {
	ID          uint                        `gorm:"primaryKey" json:"id"`
	CreatedAt   time.Time                   `json:"created_at"`
	UpdatedAt   time.Time                   `json:"updated_at"`
	DeletedAt   gorm.DeletedAt              `gorm:"index" json:"-"`
	UserID      uint                        `gorm:"not null;index" json:"user_id"`
	Title       string                      `gorm:"type:varchar(255);not null" json:"title"`
	Status      NoteStatus                  `gorm:"type:varchar(20);not null;default:'draft'" json:"status"`
	Visibility  NoteVisibility              `gorm:"type:varchar(20);not null;default:'private'" json:"visibility"`
	Excerpt     string                      `gorm:"type:text" json:"excerpt"`
	ContentHTML string                      `gorm:"type:text" json:"content_html"`
	ContentText string                      `gorm:"type:text" json:"content_text"`
	Tags        datatypes.JSONSlice[string] `json:"tags"`
	SourceType  NoteSourceType              `gorm:"type:varchar(20);not null;default:'manual'" json:"source_type"`

	// Enrichment state. AIStatus stays NULL until enrichment is requested.
	AIStatus      *AIStatus  `gorm:"type:varchar(20);index" json:"ai_status"`
	AIRunID       string     `gorm:"type:varchar(36)" json:"-"`
	AIStartedAt   *time.Time `json:"ai_started_at,omitempty"`
	AICompletedAt *time.Time `json:"ai_completed_at,omitempty"`
	AIError       string     `gorm:"type:text" json:"ai_error,omitempty"`
	AISummary     string     `gorm:"type:text" json:"ai_summary,omitempty"`

	// Relationships
	User  *User      `gorm:"foreignKey:UserID" json:"-"`
	Files []NoteFile `gorm:"foreignKey:NoteID;constraint:OnDelete:CASCADE" json:"files,omitempty"`
}

// CurrentAIStatus returns the status or "" when enrichment was never requested.
func (n Note) CurrentAIStatus() AIStatus {
	if n.AIStatus == nil {
		return ""
	}
	return *n.AIStatus
}

// PrimaryFile returns the file submitted in the single-file field, if any.
func (n *Note) PrimaryFile() *NoteFile {
	for i := range n.Files {
		if n.Files[i].IsPrimary {
			return &n.Files[i]
		}
	}
	return nil
}

// NoteFile is an uploaded attachment stored in object storage.
type NoteFile struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	NoteID       uint      `gorm:"not null;index" json:"note_id"`
	IsPrimary    bool      `gorm:"default:false" json:"is_primary"`
	OriginalName string    `gorm:"type:varchar(255);not null" json:"original_name"`
	Extension    string    `gorm:"type:varchar(10);not null" json:"extension"`
	MimeType     string    `gorm:"type:varchar(100)" json:"mime_type"`
	SizeBytes    int64     `gorm:"not null" json:"size_bytes"`
	StorageKey   string    `gorm:"type:varchar(500);not null" json:"-"`
	URL          string    `gorm:"type:text" json:"url"`
}
