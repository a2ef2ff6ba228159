package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// University represents an institution whose email domains admit users.
type University struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	Name         string `gorm:"not null;uniqueIndex" json:"name"`
	Slug         string `gorm:"type:varchar(150);uniqueIndex;not null" json:"slug"`
	Abbreviation string `gorm:"type:varchar(30)" json:"abbreviation"` // e.g. "UI", "ITB"
	City         string `gorm:"type:varchar(100)" json:"city"`
	// Domain is the canonical lowercase email domain, e.g. "ui.ac.id".
	Domain        string                      `gorm:"type:varchar(255);uniqueIndex;not null" json:"domain"`
	DomainAliases datatypes.JSONSlice[string] `json:"domain_aliases"`
	IsActive      bool                        `gorm:"default:true" json:"is_active"`
	CreatedAt     time.Time                   `json:"created_at"`
	UpdatedAt     time.Time                   `json:"updated_at"`
	DeletedAt     gorm.DeletedAt              `gorm:"index" json:"-"`

	// Relationships
	ProgramStudies []ProgramStudy `gorm:"foreignKey:UniversityID;constraint:OnDelete:CASCADE" json:"program_studies,omitempty"`
}

// AllDomains returns the primary domain followed by every alias.
func (u *University) AllDomains() []string {
	out := make([]string, 0, len(u.DomainAliases)+1)
	out = append(out, u.Domain)
	out = append(out, u.DomainAliases...)
	return out
}

// ProgramStudy is a degree programme offered by exactly one university.
type ProgramStudy struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	UniversityID uint           `gorm:"not null;index" json:"university_id"`
	Name         string         `gorm:"type:varchar(255);not null" json:"name"`
	Slug         string         `gorm:"type:varchar(150);not null;index" json:"slug"`
	Jenjang      string         `gorm:"type:varchar(10)" json:"jenjang"` // D3, S1, S2, S3
	IsActive     bool           `gorm:"default:true" json:"is_active"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`

	University *University `gorm:"foreignKey:UniversityID" json:"university,omitempty"`
}

func (ProgramStudy) TableName() string {
	return "program_studies"
}
