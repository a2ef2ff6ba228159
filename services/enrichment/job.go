// Package enrichment runs the asynchronous AI enrichment of notes.
//
// A run moves a note through pending -> processing -> completed | failed. The
// processing claim is a conditional UPDATE stamped with a run id, and the terminal
// write is conditioned on that id. Two runs for the same note therefore cannot both
// hold the processing state, and a run that lost its claim (stale sweep, forced
// retry, note deleted) cannot overwrite the row.
package enrichment

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/sahilchouksey/campus-notes/model"
	"github.com/sahilchouksey/campus-notes/utils/metrics"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Outcome describes how a run ended.
type Outcome string

const (
	// OutcomeMissing: the note no longer exists. Nothing was written.
	OutcomeMissing Outcome = "missing"
	// OutcomeSkipped: the note was not claimable in its current state.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeBusy: another worker holds the note lock. The run may be retried later.
	OutcomeBusy Outcome = "busy"
	// OutcomeCompleted: the processor succeeded and the note is completed.
	OutcomeCompleted Outcome = "completed"
	// OutcomeFailed: the processor failed or timed out and the note is failed.
	OutcomeFailed Outcome = "failed"
	// OutcomeSuperseded: the run finished but its claim was taken away first.
	OutcomeSuperseded Outcome = "superseded"
	// OutcomeInterrupted: the caller cancelled the run and the note went back to pending.
	OutcomeInterrupted Outcome = "interrupted"
)

const maxErrorLength = 1000

// Processor is the AI collaborator. It enriches the note in place or returns an error.
type Processor interface {
	Process(ctx context.Context, note *model.Note) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, note *model.Note) error

func (f ProcessorFunc) Process(ctx context.Context, note *model.Note) error { return f(ctx, note) }

// JobConfig tunes a Job.
type JobConfig struct {
	// Timeout bounds a single processor call.
	Timeout time.Duration
	// StaleAfter lets a forced run take over a processing claim older than this.
	StaleAfter time.Duration
}

// Job executes one enrichment run for a note.
type Job struct {
	db        *gorm.DB
	processor Processor
	locker    NoteLocker
	cfg       JobConfig
	now       func() time.Time
}

func NewJob(db *gorm.DB, processor Processor, locker NoteLocker, cfg JobConfig) *Job {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 30 * time.Minute
	}
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &Job{db: db, processor: processor, locker: locker, cfg: cfg, now: time.Now}
}

// Run drives note noteID through the state machine. Without force only a pending
// note is claimed; with force a failed, completed or stale processing note is too.
// The returned error is reserved for persistence problems. Processor failures are
// recorded on the note and reported as OutcomeFailed.
func (j *Job) Run(ctx context.Context, noteID uint, force bool) (outcome Outcome, err error) {
	defer func() {
		metrics.EnrichmentJobsTotal.WithLabelValues(string(outcome)).Inc()
	}()

	exists, err := j.noteExists(ctx, noteID)
	if err != nil {
		return OutcomeSkipped, err
	}
	if !exists {
		log.Debugw("[ENRICH] note gone, nothing to do", "note_id", noteID)
		return OutcomeMissing, nil
	}

	unlock, locked, err := j.locker.TryLock(ctx, noteID, j.cfg.Timeout+time.Minute)
	if err != nil {
		// the conditional claim below still guarantees exclusivity
		log.Warnw("[ENRICH] note lock unavailable, relying on claim", "note_id", noteID, "error", err)
	} else if !locked {
		log.Debugw("[ENRICH] note locked by another worker", "note_id", noteID, "force", force)
		return OutcomeBusy, nil
	} else {
		defer unlock()
	}

	runID := uuid.NewString()
	startedAt := j.now()
	claimed, err := j.claim(ctx, noteID, runID, startedAt, force)
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("claim note %d: %w", noteID, err)
	}
	if !claimed {
		if exists, err := j.noteExists(ctx, noteID); err == nil && !exists {
			return OutcomeMissing, nil
		}
		log.Debugw("[ENRICH] note not claimable", "note_id", noteID, "force", force)
		return OutcomeSkipped, nil
	}

	var note model.Note
	if err := j.db.WithContext(ctx).Preload("Files").First(&note, noteID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return OutcomeMissing, nil
		}
		return OutcomeSkipped, fmt.Errorf("reload note %d: %w", noteID, err)
	}

	before := contentOf(&note)
	procErr := j.process(ctx, &note)
	metrics.EnrichmentDurationSeconds.Observe(j.now().Sub(startedAt).Seconds())

	if procErr != nil && ctx.Err() != nil {
		log.Warnw("[ENRICH] run cancelled, returning note to pending", "note_id", noteID, "run_id", runID)
		return j.release(ctx, noteID, runID)
	}
	if procErr != nil {
		log.Errorw("[ENRICH] enrichment failed", "note_id", noteID, "run_id", runID, "error", procErr.Error())
		return j.finishFailed(ctx, noteID, runID, procErr)
	}
	return j.finishCompleted(ctx, &note, before, runID)
}

// noteContent is the owner-editable part of a note that a processor may fill in.
type noteContent struct {
	excerpt     string
	contentText string
	tags        []string
}

func contentOf(n *model.Note) noteContent {
	return noteContent{excerpt: n.Excerpt, contentText: n.ContentText, tags: slices.Clone([]string(n.Tags))}
}

func (j *Job) noteExists(ctx context.Context, noteID uint) (bool, error) {
	var count int64
	err := j.db.WithContext(ctx).Model(&model.Note{}).Where("id = ?", noteID).Count(&count).Error
	return count > 0, err
}

// claim moves the note into processing if its current state allows it.
func (j *Job) claim(ctx context.Context, noteID uint, runID string, startedAt time.Time, force bool) (bool, error) {
	query := j.db.WithContext(ctx).Model(&model.Note{}).Where("id = ?", noteID)
	if force {
		staleCutoff := startedAt.Add(-j.cfg.StaleAfter)
		query = query.Where(
			"ai_status IS NULL OR ai_status IN ? OR (ai_status = ? AND (ai_started_at IS NULL OR ai_started_at < ?))",
			[]model.AIStatus{model.AIStatusPending, model.AIStatusFailed, model.AIStatusCompleted},
			model.AIStatusProcessing, staleCutoff,
		)
	} else {
		query = query.Where("ai_status = ?", model.AIStatusPending)
	}

	res := query.Updates(map[string]interface{}{
		"ai_status":     model.AIStatusProcessing,
		"ai_run_id":     runID,
		"ai_started_at": startedAt,
		"ai_error":      "",
	})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// process calls the collaborator under the configured timeout. A collaborator that
// ignores cancellation is abandoned when the deadline passes.
func (j *Job) process(ctx context.Context, note *model.Note) error {
	callCtx, cancel := context.WithTimeout(ctx, j.cfg.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("processor panic: %v", r)
			}
		}()
		done <- j.processor.Process(callCtx, note)
	}()

	select {
	case err := <-done:
		if err == nil && callCtx.Err() != nil {
			return fmt.Errorf("enrichment timed out after %s", j.cfg.Timeout)
		}
		return err
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("enrichment timed out after %s", j.cfg.Timeout)
		}
		return callCtx.Err()
	}
}

// fenced scopes a write to the run that still owns the processing claim.
func (j *Job) fenced(ctx context.Context, noteID uint, runID string) *gorm.DB {
	return j.db.WithContext(context.WithoutCancel(ctx)).Model(&model.Note{}).
		Where("id = ? AND ai_run_id = ? AND ai_status = ?", noteID, runID, model.AIStatusProcessing)
}

func (j *Job) finishFailed(ctx context.Context, noteID uint, runID string, cause error) (Outcome, error) {
	msg := cause.Error()
	if len(msg) > maxErrorLength {
		msg = msg[:maxErrorLength]
	}
	res := j.fenced(ctx, noteID, runID).Updates(map[string]interface{}{
		"ai_status":       model.AIStatusFailed,
		"ai_error":        msg,
		"ai_completed_at": nil,
	})
	if res.Error != nil {
		return OutcomeFailed, fmt.Errorf("mark note %d failed: %w", noteID, res.Error)
	}
	if res.RowsAffected == 0 {
		log.Warnw("[ENRICH] failed run lost its claim", "note_id", noteID, "run_id", runID)
		return OutcomeSuperseded, nil
	}
	return OutcomeFailed, nil
}

// release hands an interrupted claim back to pending so the requeue job picks it up.
func (j *Job) release(ctx context.Context, noteID uint, runID string) (Outcome, error) {
	res := j.fenced(ctx, noteID, runID).Updates(map[string]interface{}{
		"ai_status":     model.AIStatusPending,
		"ai_run_id":     "",
		"ai_started_at": nil,
	})
	if res.Error != nil {
		return OutcomeInterrupted, fmt.Errorf("release note %d: %w", noteID, res.Error)
	}
	if res.RowsAffected == 0 {
		return OutcomeSuperseded, nil
	}
	return OutcomeInterrupted, nil
}

// finishCompleted writes the result under the run fence. A content field is written
// only when the processor changed it and the stored value still matches what the run
// loaded, so owner edits made while the note was processing survive.
func (j *Job) finishCompleted(ctx context.Context, note *model.Note, before noteContent, runID string) (Outcome, error) {
	outcome := OutcomeSuperseded
	err := j.db.WithContext(context.WithoutCancel(ctx)).Transaction(func(tx *gorm.DB) error {
		var current model.Note
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND ai_run_id = ? AND ai_status = ?", note.ID, runID, model.AIStatusProcessing).
			First(&current).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		updates := map[string]interface{}{
			"ai_status":       model.AIStatusCompleted,
			"ai_completed_at": j.now(),
			"ai_error":        "",
			"ai_summary":      note.AISummary,
		}
		after, stored := contentOf(note), contentOf(&current)
		var kept []string
		merge := func(column string, changed, edited bool, value interface{}) {
			switch {
			case changed && edited:
				kept = append(kept, column)
			case changed:
				updates[column] = value
			}
		}
		merge("excerpt", after.excerpt != before.excerpt, stored.excerpt != before.excerpt, after.excerpt)
		merge("content_text", after.contentText != before.contentText, stored.contentText != before.contentText, after.contentText)
		tags := datatypes.JSONSlice[string](after.tags)
		if tags == nil {
			tags = datatypes.JSONSlice[string]{}
		}
		merge("tags", !slices.Equal(after.tags, before.tags), !slices.Equal(stored.tags, before.tags), tags)
		if len(kept) > 0 {
			log.Infow("[ENRICH] keeping owner edits made during the run", "note_id", note.ID, "run_id", runID, "fields", kept)
		}

		if err := tx.Model(&model.Note{}).Where("id = ?", note.ID).Updates(updates).Error; err != nil {
			return err
		}
		outcome = OutcomeCompleted
		return nil
	})
	if err != nil {
		return OutcomeCompleted, fmt.Errorf("mark note %d completed: %w", note.ID, err)
	}
	if outcome == OutcomeSuperseded {
		log.Warnw("[ENRICH] completed run lost its claim", "note_id", note.ID, "run_id", runID)
		return outcome, nil
	}
	log.Infow("[ENRICH] enrichment completed", "note_id", note.ID, "run_id", runID)
	return OutcomeCompleted, nil
}
