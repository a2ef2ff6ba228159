// Package dbtest opens migrated in-memory SQLite databases for package tests.
package dbtest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sahilchouksey/campus-notes/database"
	"github.com/sahilchouksey/campus-notes/model"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Open returns a fresh database private to t.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", name)
	db, err := database.OpenSQLite(dsn, nil)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// CreateUniversity inserts an active university with the given domain and aliases.
func CreateUniversity(t testing.TB, db *gorm.DB, name, domain string, aliases ...string) model.University {
	t.Helper()
	uni := model.University{
		Name:          name,
		Slug:          strings.ToLower(strings.ReplaceAll(name, " ", "-")),
		Domain:        domain,
		DomainAliases: datatypes.JSONSlice[string](aliases),
		IsActive:      true,
	}
	require.NoError(t, db.Create(&uni).Error)
	return uni
}

// Deactivate flips is_active off. Create cannot do it because of the column default.
func Deactivate(t testing.TB, db *gorm.DB, value interface{}) {
	t.Helper()
	require.NoError(t, db.Model(value).Update("is_active", false).Error)
}

// CreateProgram inserts an active programme for uni.
func CreateProgram(t testing.TB, db *gorm.DB, uni model.University, name string) model.ProgramStudy {
	t.Helper()
	p := model.ProgramStudy{
		UniversityID: uni.ID,
		Name:         name,
		Slug:         strings.ToLower(strings.ReplaceAll(name, " ", "-")),
		Jenjang:      "S1",
		IsActive:     true,
	}
	require.NoError(t, db.Create(&p).Error)
	return p
}

// CreateUser inserts a student. completed marks the academic profile as done.
func CreateUser(t testing.TB, db *gorm.DB, email string, uni *model.University, completed bool) model.User {
	t.Helper()
	u := model.User{
		Email:            email,
		PasswordHash:     "x",
		Name:             "Test Student",
		Role:             model.RoleStudent,
		ProfileCompleted: completed,
		ProfileMeta:      datatypes.JSONMap{},
	}
	if uni != nil {
		u.UniversityID = &uni.ID
	}
	require.NoError(t, db.Create(&u).Error)
	return u
}

// CreateNote inserts a note owned by userID with the given enrichment state (nil for none).
func CreateNote(t testing.TB, db *gorm.DB, userID uint, title string, status *model.AIStatus) model.Note {
	t.Helper()
	n := model.Note{
		UserID:      userID,
		Title:       title,
		Status:      model.NoteStatusDraft,
		Visibility:  model.NoteVisibilityPrivate,
		SourceType:  model.NoteSourceManual,
		ContentText: "Eigenvalues and eigenvectors of symmetric matrices.",
		Tags:        datatypes.JSONSlice[string]{},
		AIStatus:    status,
	}
	require.NoError(t, db.Create(&n).Error)
	return n
}

// Status returns a pointer to s.
func Status(s model.AIStatus) *model.AIStatus { return &s }
