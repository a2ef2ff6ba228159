package services

import (
	"context"
	"errors"
	"testing"

	"github.com/sahilchouksey/campus-notes/database/dbtest"
	"github.com/sahilchouksey/campus-notes/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestExtractDomain(t *testing.T) {
	cases := map[string]string{
		"Student@UI.AC.ID":   "ui.ac.id",
		"  ui.ac.id  ":       "ui.ac.id",
		"@itb.ac.id":         "itb.ac.id",
		"odd@name@ugm.ac.id": "ugm.ac.id",
		"mail.ugm.ac.id.":    "mail.ugm.ac.id",
	}
	for in, want := range cases {
		got, ok := ExtractDomain(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	_, ok := ExtractDomain("student@")
	assert.False(t, ok)
	_, ok = ExtractDomain("   ")
	assert.False(t, ok)
}

func TestResolverMatchesPrimaryAndAliasesCaseInsensitively(t *testing.T) {
	db := dbtest.Open(t)
	ui := dbtest.CreateUniversity(t, db, "Universitas Indonesia", "ui.ac.id", "Mail.UI.ac.id")
	dbtest.CreateUniversity(t, db, "Institut Teknologi Bandung", "itb.ac.id", "students.itb.ac.id")

	r := NewDomainResolver(db)
	require.NoError(t, r.Reload(context.Background()))
	assert.Equal(t, 4, r.Size())

	for _, in := range []string{"budi@ui.ac.id", "BUDI@UI.AC.ID", "mail.ui.ac.id", "x@MAIL.ui.ac.id"} {
		got, ok := r.Resolve(in)
		require.True(t, ok, in)
		assert.Equal(t, ui.ID, got.ID, in)
	}

	_, ok := r.Resolve("someone@gmail.com")
	assert.False(t, ok)
	// subdomains are not implied
	_, ok = r.Resolve("x@cs.ui.ac.id")
	assert.False(t, ok)
}

func TestResolverReturnsInactiveUniversities(t *testing.T) {
	db := dbtest.Open(t)
	uni := dbtest.CreateUniversity(t, db, "Universitas Gadjah Mada", "ugm.ac.id")
	dbtest.Deactivate(t, db, &uni)

	r := NewDomainResolver(db)
	require.NoError(t, r.Reload(context.Background()))
	got, ok := r.Resolve("a@ugm.ac.id")
	require.True(t, ok)
	assert.False(t, got.IsActive)
}

func TestBuildDomainIndexRejectsCollision(t *testing.T) {
	_, err := BuildDomainIndex([]model.University{
		{ID: 1, Name: "A", Domain: "a.ac.id", DomainAliases: datatypes.JSONSlice[string]{"shared.ac.id"}},
		{ID: 2, Name: "B", Domain: "SHARED.ac.id"},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDomainCollision))

	var collision *DomainCollisionError
	require.ErrorAs(t, err, &collision)
	assert.Equal(t, "shared.ac.id", collision.Domain)
	assert.Equal(t, uint(1), collision.ConflictingID)
}

func TestReloadKeepsPreviousIndexOnCollision(t *testing.T) {
	db := dbtest.Open(t)
	dbtest.CreateUniversity(t, db, "A", "a.ac.id")
	r := NewDomainResolver(db)
	require.NoError(t, r.Reload(context.Background()))

	dbtest.CreateUniversity(t, db, "B", "b.ac.id", "a.ac.id")
	assert.ErrorIs(t, r.Reload(context.Background()), ErrDomainCollision)

	assert.Equal(t, 1, r.Size())
	got, ok := r.Resolve("x@a.ac.id")
	require.True(t, ok)
	assert.Equal(t, "A", got.Name)
}

func TestCheckCandidate(t *testing.T) {
	db := dbtest.Open(t)
	a := dbtest.CreateUniversity(t, db, "A", "a.ac.id", "alias-a.ac.id")
	r := NewDomainResolver(db)
	ctx := context.Background()

	// an update keeping its own domains is fine
	a.DomainAliases = datatypes.JSONSlice[string]{"alias-a.ac.id", "new.ac.id"}
	assert.NoError(t, r.CheckCandidate(ctx, db, a))

	assert.ErrorIs(t, r.CheckCandidate(ctx, db, model.University{Name: "B", Domain: "Alias-A.ac.id"}), ErrDomainCollision)
	assert.ErrorIs(t, r.CheckCandidate(ctx, db, model.University{Name: "C", Domain: "c.ac.id", DomainAliases: datatypes.JSONSlice[string]{"a.ac.id"}}), ErrDomainCollision)
	assert.NoError(t, r.CheckCandidate(ctx, db, model.University{Name: "D", Domain: "d.ac.id"}))
}

func TestNormalizeDomainList(t *testing.T) {
	assert.Equal(t, []string{"a.ac.id", "b.ac.id"}, NormalizeDomainList([]string{" B.ac.id", "a.ac.id", "", "@a.ac.id"}))
}
