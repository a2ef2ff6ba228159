package model

import (
	"time"

	"gorm.io/datatypes"
)

// Cron job run states
const (
	CronJobStatusStarted   = "started"
	CronJobStatusCompleted = "completed"
	CronJobStatusFailed    = "failed"
)

// CronJobLog records one execution of a scheduled maintenance job.
type CronJobLog struct {
	ID          uint              `gorm:"primaryKey" json:"id"`
	JobName     string            `gorm:"type:varchar(100);not null;index" json:"job_name"`
	Status      string            `gorm:"type:varchar(20);not null" json:"status"`
	StartedAt   time.Time         `gorm:"not null" json:"started_at"`
	CompletedAt *time.Time        `json:"completed_at"`
	Duration    int64             `json:"duration_ms"`
	Affected    int64             `json:"affected"` // rows touched by the run
	ErrorMsg    string            `gorm:"type:text" json:"error_msg"`
	Metadata    datatypes.JSONMap `json:"metadata"`
	CreatedAt   time.Time         `json:"created_at"`
}

func (CronJobLog) TableName() string {
	return "cron_job_logs"
}
