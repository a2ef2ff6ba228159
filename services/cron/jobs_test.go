package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sahilchouksey/campus-notes/database/dbtest"
	"github.com/sahilchouksey/campus-notes/model"
	"github.com/sahilchouksey/campus-notes/services/enrichment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEnqueuer struct {
	ids   []uint
	limit int
}

func (f *fakeEnqueuer) Enqueue(id uint, _ bool) error {
	if f.limit > 0 && len(f.ids) >= f.limit {
		return enrichment.ErrQueueFull
	}
	f.ids = append(f.ids, id)
	return nil
}

type fakeResolver struct {
	err  error
	size int
}

func (f *fakeResolver) Reload(context.Context) error { return f.err }
func (f *fakeResolver) Size() int                    { return f.size }

func TestSweepStaleEnrichmentJob(t *testing.T) {
	db := dbtest.Open(t)
	user := dbtest.CreateUser(t, db, "a@ui.ac.id", nil, true)
	stale := dbtest.CreateNote(t, db, user.ID, "stale", dbtest.Status(model.AIStatusProcessing))
	fresh := dbtest.CreateNote(t, db, user.ID, "fresh", dbtest.Status(model.AIStatusProcessing))
	require.NoError(t, db.Model(&model.Note{}).Where("id = ?", stale.ID).Update("ai_started_at", time.Now().Add(-time.Hour)).Error)
	require.NoError(t, db.Model(&model.Note{}).Where("id = ?", fresh.ID).Update("ai_started_at", time.Now()).Error)

	m := NewCronManager(db, nil, nil, nil, Config{StaleAfter: 30 * time.Minute})
	entry := m.RunJob(JobSweepStaleEnrichment, m.SweepStaleEnrichment)

	assert.Equal(t, model.CronJobStatusCompleted, entry.Status)
	assert.Equal(t, int64(1), entry.Affected)

	var got model.Note
	require.NoError(t, db.First(&got, stale.ID).Error)
	assert.Equal(t, model.AIStatusFailed, got.CurrentAIStatus())
	assert.NotEmpty(t, got.AIError)
	var untouched model.Note
	require.NoError(t, db.First(&untouched, fresh.ID).Error)
	assert.Equal(t, model.AIStatusProcessing, untouched.CurrentAIStatus())

	var logged model.CronJobLog
	require.NoError(t, db.Where("job_name = ?", JobSweepStaleEnrichment).First(&logged).Error)
	assert.Equal(t, model.CronJobStatusCompleted, logged.Status)
	assert.NotNil(t, logged.CompletedAt)
}

func TestRequeuePendingEnrichmentStopsWhenQueueFull(t *testing.T) {
	db := dbtest.Open(t)
	user := dbtest.CreateUser(t, db, "a@ui.ac.id", nil, true)
	for i := 0; i < 3; i++ {
		dbtest.CreateNote(t, db, user.ID, "pending", dbtest.Status(model.AIStatusPending))
	}
	dbtest.CreateNote(t, db, user.ID, "done", dbtest.Status(model.AIStatusCompleted))

	enq := &fakeEnqueuer{limit: 2}
	m := NewCronManager(db, nil, enq, nil, Config{})
	m.now = func() time.Time { return time.Now().Add(time.Hour) }

	entry := m.RunJob(JobRequeuePendingEnrichment, m.RequeuePendingEnrichment)
	assert.Equal(t, model.CronJobStatusCompleted, entry.Status)
	assert.Equal(t, int64(2), entry.Affected)
	assert.Len(t, enq.ids, 2)
	assert.Equal(t, true, entry.Metadata["queue_full"])
}

func TestReloadDomainIndexFailureIsLogged(t *testing.T) {
	db := dbtest.Open(t)
	m := NewCronManager(db, &fakeResolver{err: errors.New("collision")}, nil, nil, Config{})

	entry := m.RunJob(JobReloadDomainIndex, m.ReloadDomainIndex)
	assert.Equal(t, model.CronJobStatusFailed, entry.Status)
	assert.Contains(t, entry.ErrorMsg, "collision")
}

func TestJobsRegisteredForConfiguredCollaborators(t *testing.T) {
	db := dbtest.Open(t)
	names := func(m *CronManager) []string {
		var out []string
		for _, j := range m.jobs() {
			out = append(out, j.name)
		}
		return out
	}

	assert.Equal(t, []string{JobSweepStaleEnrichment}, names(NewCronManager(db, nil, nil, nil, Config{})))
	full := NewCronManager(db, &fakeResolver{}, &fakeEnqueuer{}, tokenCleanerFunc(func(context.Context) (int64, error) { return 0, nil }), Config{})
	assert.ElementsMatch(t, []string{JobSweepStaleEnrichment, JobRequeuePendingEnrichment, JobReloadDomainIndex, JobCleanupExpiredTokens}, names(full))
	require.NoError(t, full.registerJobs())
}

type tokenCleanerFunc func(context.Context) (int64, error)

func (f tokenCleanerFunc) CleanupExpiredTokens(ctx context.Context) (int64, error) { return f(ctx) }
