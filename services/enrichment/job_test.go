package enrichment

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sahilchouksey/campus-notes/database/dbtest"
	"github.com/sahilchouksey/campus-notes/model"
	"github.com/sahilchouksey/campus-notes/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupNote(t *testing.T, status *model.AIStatus) (*gorm.DB, model.Note) {
	t.Helper()
	db := dbtest.Open(t)
	uni := dbtest.CreateUniversity(t, db, "Universitas Indonesia", "ui.ac.id")
	user := dbtest.CreateUser(t, db, "student@ui.ac.id", &uni, true)
	note := dbtest.CreateNote(t, db, user.ID, "Lecture 3", status)
	return db, note
}

func reload(t *testing.T, db *gorm.DB, id uint) model.Note {
	t.Helper()
	var n model.Note
	require.NoError(t, db.Unscoped().First(&n, id).Error)
	return n
}

func summarise(summary string) ProcessorFunc {
	return func(_ context.Context, note *model.Note) error {
		note.AISummary = summary
		return nil
	}
}

func TestRunCompletesPendingNote(t *testing.T) {
	db, note := setupNote(t, dbtest.Status(model.AIStatusPending))
	job := NewJob(db, summarise("Covers eigen decomposition."), nil, JobConfig{})

	start := time.Now()
	outcome, err := job.Run(context.Background(), note.ID, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)

	got := reload(t, db, note.ID)
	assert.Equal(t, model.AIStatusCompleted, got.CurrentAIStatus())
	require.NotNil(t, got.AICompletedAt)
	assert.False(t, got.AICompletedAt.Before(start.Truncate(time.Microsecond)))
	assert.Empty(t, got.AIError)
	assert.Equal(t, "Covers eigen decomposition.", got.AISummary)
}

func TestRunRecordsFailure(t *testing.T) {
	db, note := setupNote(t, dbtest.Status(model.AIStatusPending))
	job := NewJob(db, ProcessorFunc(func(context.Context, *model.Note) error {
		return errors.New("model overloaded")
	}), nil, JobConfig{})

	outcome, err := job.Run(context.Background(), note.ID, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)

	got := reload(t, db, note.ID)
	assert.Equal(t, model.AIStatusFailed, got.CurrentAIStatus())
	assert.Nil(t, got.AICompletedAt)
	assert.Contains(t, got.AIError, "model overloaded")
}

func TestRunRecoversProcessorPanic(t *testing.T) {
	db, note := setupNote(t, dbtest.Status(model.AIStatusPending))
	job := NewJob(db, ProcessorFunc(func(context.Context, *model.Note) error {
		panic("boom")
	}), nil, JobConfig{})

	outcome, err := job.Run(context.Background(), note.ID, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Contains(t, reload(t, db, note.ID).AIError, "panic")
}

func TestRunMissingNoteIsNoop(t *testing.T) {
	db := dbtest.Open(t)
	var calls int32
	job := NewJob(db, ProcessorFunc(func(context.Context, *model.Note) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}), nil, JobConfig{})

	outcome, err := job.Run(context.Background(), 4242, true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeMissing, outcome)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestRunDeletedNoteIsNoop(t *testing.T) {
	db, note := setupNote(t, dbtest.Status(model.AIStatusPending))
	require.NoError(t, db.Delete(&model.Note{}, note.ID).Error)
	job := NewJob(db, summarise("x"), nil, JobConfig{})

	outcome, err := job.Run(context.Background(), note.ID, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeMissing, outcome)
	assert.Equal(t, model.AIStatusPending, reload(t, db, note.ID).CurrentAIStatus())
}

func TestRunWithoutForceSkipsTerminalNotes(t *testing.T) {
	for _, status := range []model.AIStatus{model.AIStatusFailed, model.AIStatusCompleted} {
		t.Run(string(status), func(t *testing.T) {
			db, note := setupNote(t, dbtest.Status(status))
			job := NewJob(db, summarise("x"), nil, JobConfig{})

			outcome, err := job.Run(context.Background(), note.ID, false)
			require.NoError(t, err)
			assert.Equal(t, OutcomeSkipped, outcome)
			assert.Equal(t, status, reload(t, db, note.ID).CurrentAIStatus())
		})
	}
}

func TestForcedRetryFromFailed(t *testing.T) {
	db, note := setupNote(t, dbtest.Status(model.AIStatusFailed))
	require.NoError(t, db.Model(&model.Note{}).Where("id = ?", note.ID).Update("ai_error", "earlier failure").Error)
	job := NewJob(db, summarise("second attempt"), nil, JobConfig{})

	outcome, err := job.Run(context.Background(), note.ID, true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)

	got := reload(t, db, note.ID)
	assert.Equal(t, model.AIStatusCompleted, got.CurrentAIStatus())
	assert.Empty(t, got.AIError)
	assert.Equal(t, "second attempt", got.AISummary)
}

func TestForceDoesNotStealFreshProcessingClaim(t *testing.T) {
	db, note := setupNote(t, dbtest.Status(model.AIStatusProcessing))
	now := time.Now()
	require.NoError(t, db.Model(&model.Note{}).Where("id = ?", note.ID).
		Updates(map[string]interface{}{"ai_started_at": now, "ai_run_id": "other-run"}).Error)
	job := NewJob(db, summarise("x"), nil, JobConfig{StaleAfter: time.Hour})

	outcome, err := job.Run(context.Background(), note.ID, true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
	assert.Equal(t, "other-run", reload(t, db, note.ID).AIRunID)
}

func TestForceTakesOverStaleProcessingClaim(t *testing.T) {
	db, note := setupNote(t, dbtest.Status(model.AIStatusProcessing))
	require.NoError(t, db.Model(&model.Note{}).Where("id = ?", note.ID).
		Updates(map[string]interface{}{"ai_started_at": time.Now().Add(-2 * time.Hour), "ai_run_id": "dead-run"}).Error)
	job := NewJob(db, summarise("recovered"), nil, JobConfig{StaleAfter: 30 * time.Minute})

	outcome, err := job.Run(context.Background(), note.ID, true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)
	assert.Equal(t, "recovered", reload(t, db, note.ID).AISummary)
}

func TestRunTimeoutMarksFailed(t *testing.T) {
	db, note := setupNote(t, dbtest.Status(model.AIStatusPending))
	job := NewJob(db, ProcessorFunc(func(ctx context.Context, _ *model.Note) error {
		<-ctx.Done()
		return ctx.Err()
	}), nil, JobConfig{Timeout: 50 * time.Millisecond})

	outcome, err := job.Run(context.Background(), note.ID, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)

	got := reload(t, db, note.ID)
	assert.Equal(t, model.AIStatusFailed, got.CurrentAIStatus())
	assert.Contains(t, got.AIError, "timed out")
	assert.Nil(t, got.AICompletedAt)
}

func TestRunAbandonsProcessorIgnoringDeadline(t *testing.T) {
	db, note := setupNote(t, dbtest.Status(model.AIStatusPending))
	release := make(chan struct{})
	defer close(release)
	job := NewJob(db, ProcessorFunc(func(context.Context, *model.Note) error {
		<-release
		return nil
	}), nil, JobConfig{Timeout: 50 * time.Millisecond})

	outcome, err := job.Run(context.Background(), note.ID, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
}

func TestConcurrentRunsClaimOnce(t *testing.T) {
	db, note := setupNote(t, dbtest.Status(model.AIStatusPending))

	var calls int32
	proc := ProcessorFunc(func(_ context.Context, n *model.Note) error {
		atomic.AddInt32(&calls, 1)
		time.Sleep(30 * time.Millisecond)
		n.AISummary = "once"
		return nil
	})

	const runners = 6
	outcomes := make([]Outcome, runners)
	var wg sync.WaitGroup
	for i := 0; i < runners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// separate lockers so only the database claim arbitrates
			job := NewJob(db, proc, NewLocalLocker(), JobConfig{})
			out, err := job.Run(context.Background(), note.ID, false)
			assert.NoError(t, err)
			outcomes[i] = out
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	completed := 0
	for _, o := range outcomes {
		if o == OutcomeCompleted {
			completed++
		} else {
			assert.Equal(t, OutcomeSkipped, o)
		}
	}
	assert.Equal(t, 1, completed)
	assert.Equal(t, model.AIStatusCompleted, reload(t, db, note.ID).CurrentAIStatus())
}

func TestStaleSweepFencesAbandonedRun(t *testing.T) {
	db, note := setupNote(t, dbtest.Status(model.AIStatusPending))

	entered := make(chan struct{})
	proceed := make(chan struct{})
	job := NewJob(db, ProcessorFunc(func(_ context.Context, n *model.Note) error {
		close(entered)
		<-proceed
		n.AISummary = "late"
		return nil
	}), nil, JobConfig{Timeout: 5 * time.Second})

	done := make(chan Outcome, 1)
	go func() {
		out, _ := job.Run(context.Background(), note.ID, false)
		done <- out
	}()

	<-entered
	swept, err := SweepStale(context.Background(), db, 0, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), swept)
	close(proceed)

	assert.Equal(t, OutcomeSuperseded, <-done)
	got := reload(t, db, note.ID)
	assert.Equal(t, model.AIStatusFailed, got.CurrentAIStatus())
	assert.Equal(t, "enrichment timed out", got.AIError)
	assert.Empty(t, got.AISummary)
}

func TestCompletionKeepsOwnerEditsMadeDuringRun(t *testing.T) {
	db, note := setupNote(t, dbtest.Status(model.AIStatusPending))
	notes := services.NewNoteService(db, services.NewMemoryFileStore(), nil, services.NoteServiceConfig{})

	entered := make(chan struct{})
	proceed := make(chan struct{})
	job := NewJob(db, ProcessorFunc(func(_ context.Context, n *model.Note) error {
		close(entered)
		<-proceed
		n.AISummary = "Spectral theorem recap."
		n.Excerpt = "Eigenvalues of symmetric matrices are real."
		n.ContentText += "\nPage 2: diagonalisation."
		n.Tags = append(n.Tags, "linear-algebra")
		return nil
	}), nil, JobConfig{Timeout: 5 * time.Second})

	done := make(chan Outcome, 1)
	go func() {
		out, _ := job.Run(context.Background(), note.ID, false)
		done <- out
	}()

	<-entered
	edited := "edited by owner while processing"
	_, err := notes.Update(context.Background(), note.UserID, note.ID, services.NoteInput{
		ContentText: &edited,
		Tags:        []string{"owner-tag"},
	})
	require.NoError(t, err)
	close(proceed)

	assert.Equal(t, OutcomeCompleted, <-done)
	got := reload(t, db, note.ID)
	assert.Equal(t, model.AIStatusCompleted, got.CurrentAIStatus())
	assert.Equal(t, edited, got.ContentText)
	assert.Equal(t, []string{"owner-tag"}, []string(got.Tags))
	// untouched by the owner, so the processor's value lands
	assert.Equal(t, "Eigenvalues of symmetric matrices are real.", got.Excerpt)
	assert.Equal(t, "Spectral theorem recap.", got.AISummary)
}

func TestRunBusyWhenNoteLocked(t *testing.T) {
	db, note := setupNote(t, dbtest.Status(model.AIStatusPending))
	locker := NewLocalLocker()
	unlock, ok, err := locker.TryLock(context.Background(), note.ID, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	defer unlock()

	job := NewJob(db, summarise("x"), locker, JobConfig{})
	outcome, err := job.Run(context.Background(), note.ID, true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeBusy, outcome)
	assert.Equal(t, model.AIStatusPending, reload(t, db, note.ID).CurrentAIStatus())
}

func TestCancelledRunReturnsNoteToPending(t *testing.T) {
	db, note := setupNote(t, dbtest.Status(model.AIStatusPending))

	entered := make(chan struct{})
	job := NewJob(db, ProcessorFunc(func(ctx context.Context, _ *model.Note) error {
		close(entered)
		<-ctx.Done()
		return ctx.Err()
	}), nil, JobConfig{Timeout: 5 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Outcome, 1)
	go func() {
		out, _ := job.Run(ctx, note.ID, false)
		done <- out
	}()

	<-entered
	cancel()

	assert.Equal(t, OutcomeInterrupted, <-done)
	got := reload(t, db, note.ID)
	assert.Equal(t, model.AIStatusPending, got.CurrentAIStatus())
	assert.Empty(t, got.AIRunID)
	assert.Nil(t, got.AIStartedAt)
	assert.Empty(t, got.AIError)
}

func TestPendingIDs(t *testing.T) {
	db, note := setupNote(t, dbtest.Status(model.AIStatusPending))
	dbtest.CreateNote(t, db, note.UserID, "Unrequested", nil)

	ids, err := PendingIDs(context.Background(), db, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, []uint{note.ID}, ids)

	ids, err = PendingIDs(context.Background(), db, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
