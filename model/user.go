package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Roles
const (
	RoleStudent = "student"
	RoleAdmin   = "admin"
)

// User is a student or administrator admitted through a university email domain.
type User struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
	Email        string         `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string         `gorm:"not null" json:"-"` // Never expose password in JSON
	Name         string         `gorm:"not null" json:"name"`
	Role         string         `gorm:"type:varchar(20);default:'student'" json:"role"` // student, admin
	Avatar       string         `gorm:"type:varchar(500)" json:"avatar,omitempty"`
	TokenVersion int            `gorm:"default:0" json:"-"` // Increment to invalidate all user tokens

	// Academic profile. UniversityID is set at registration, the rest on profile completion.
	UniversityID       *uint             `gorm:"index" json:"university_id"`
	ProgramStudyID     *uint             `gorm:"index" json:"program_study_id"`
	CohortYear         *int              `json:"cohort_year"`
	StudentNumber      string            `gorm:"type:varchar(50)" json:"student_number,omitempty"`
	ProfileCompleted   bool              `gorm:"not null;default:false" json:"profile_completed"`
	ProfileCompletedAt *time.Time        `json:"profile_completed_at,omitempty"`
	ProfileMeta        datatypes.JSONMap `json:"profile_meta"`

	// Relationships
	University     *University         `gorm:"foreignKey:UniversityID;constraint:OnDelete:SET NULL" json:"university,omitempty"`
	ProgramStudy   *ProgramStudy       `gorm:"foreignKey:ProgramStudyID;constraint:OnDelete:SET NULL" json:"program_study,omitempty"`
	Notes          []Note              `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	TokenBlacklist []JWTTokenBlacklist `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
