package database_test

import (
	"testing"

	"github.com/sahilchouksey/campus-notes/database"
	"github.com/sahilchouksey/campus-notes/database/dbtest"
	"github.com/sahilchouksey/campus-notes/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedAllIsIdempotent(t *testing.T) {
	db := dbtest.Open(t)
	t.Setenv("ADMIN_EMAIL", "admin@campus-notes.test")
	t.Setenv("ADMIN_PASSWORD", "correct horse battery")

	seeder := database.NewSeeder(db)
	require.NoError(t, seeder.SeedAll())
	require.NoError(t, seeder.SeedAll())

	var universities, programs, admins int64
	require.NoError(t, db.Model(&model.University{}).Count(&universities).Error)
	require.NoError(t, db.Model(&model.ProgramStudy{}).Count(&programs).Error)
	require.NoError(t, db.Model(&model.User{}).Where("role = ?", model.RoleAdmin).Count(&admins).Error)
	assert.EqualValues(t, 3, universities)
	assert.EqualValues(t, 7, programs)
	assert.EqualValues(t, 1, admins)

	var admin model.User
	require.NoError(t, db.Where("role = ?", model.RoleAdmin).First(&admin).Error)
	assert.True(t, admin.ProfileCompleted)
}

func TestSeededAliasesResolveDistinctly(t *testing.T) {
	db := dbtest.Open(t)
	require.NoError(t, database.NewSeeder(db).SeedUniversities())

	var unis []model.University
	require.NoError(t, db.Find(&unis).Error)

	seen := map[string]string{}
	for _, u := range unis {
		for _, d := range u.AllDomains() {
			owner, dup := seen[d]
			assert.False(t, dup, "%s claimed by %s and %s", d, owner, u.Name)
			seen[d] = u.Name
		}
	}
}

func TestGORMStoreHealthCheck(t *testing.T) {
	store := database.NewGORMStore(dbtest.Open(t))
	assert.NoError(t, store.HealthCheck())
}
