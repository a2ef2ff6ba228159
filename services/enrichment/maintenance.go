package enrichment

import (
	"context"
	"time"

	"github.com/sahilchouksey/campus-notes/model"
	"gorm.io/gorm"
)

const staleErrorMessage = "enrichment timed out"

// SweepStale fails processing claims older than staleAfter. Clearing the run id
// fences the abandoned run out of its terminal write.
func SweepStale(ctx context.Context, db *gorm.DB, staleAfter time.Duration, now time.Time) (int64, error) {
	cutoff := now.Add(-staleAfter)
	res := db.WithContext(ctx).Model(&model.Note{}).
		Where("ai_status = ?", model.AIStatusProcessing).
		Where("ai_started_at IS NULL OR ai_started_at < ?", cutoff).
		Updates(map[string]interface{}{
			"ai_status":       model.AIStatusFailed,
			"ai_error":        staleErrorMessage,
			"ai_run_id":       "",
			"ai_completed_at": nil,
		})
	return res.RowsAffected, res.Error
}

// PendingIDs lists notes that have waited in pending since before cutoff, oldest first.
func PendingIDs(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]uint, error) {
	var ids []uint
	err := db.WithContext(ctx).Model(&model.Note{}).
		Where("ai_status = ? AND updated_at < ?", model.AIStatusPending, cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}
