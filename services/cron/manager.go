package cron

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/robfig/cron/v3"
	"github.com/sahilchouksey/campus-notes/model"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Job names as recorded in cron_job_logs.
const (
	JobSweepStaleEnrichment     = "sweep_stale_enrichment"
	JobRequeuePendingEnrichment = "requeue_pending_enrichment"
	JobReloadDomainIndex        = "reload_domain_index"
	JobCleanupExpiredTokens     = "cleanup_expired_tokens"
)

// DomainReloader rebuilds the email domain index.
type DomainReloader interface {
	Reload(ctx context.Context) error
	Size() int
}

// Enqueuer schedules an enrichment run.
type Enqueuer interface {
	Enqueue(noteID uint, force bool) error
}

// TokenCleaner purges expired blacklist entries.
type TokenCleaner interface {
	CleanupExpiredTokens(ctx context.Context) (int64, error)
}

// Config carries the thresholds used by the maintenance jobs.
type Config struct {
	StaleAfter   time.Duration
	RequeueAfter time.Duration
	RequeueBatch int
	JobTimeout   time.Duration
}

// CronManager manages all scheduled cron jobs
type CronManager struct {
	cron     *cron.Cron
	db       *gorm.DB
	resolver DomainReloader
	enqueuer Enqueuer
	tokens   TokenCleaner
	cfg      Config
	now      func() time.Time
}

// NewCronManager creates a new cron manager
func NewCronManager(db *gorm.DB, resolver DomainReloader, enqueuer Enqueuer, tokens TokenCleaner, cfg Config) *CronManager {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 30 * time.Minute
	}
	if cfg.RequeueAfter <= 0 {
		cfg.RequeueAfter = 5 * time.Minute
	}
	if cfg.RequeueBatch <= 0 {
		cfg.RequeueBatch = 100
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}

	// Create cron with seconds precision
	c := cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	return &CronManager{
		cron:     c,
		db:       db,
		resolver: resolver,
		enqueuer: enqueuer,
		tokens:   tokens,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Start starts all cron jobs
func (m *CronManager) Start() error {
	log.Info("[CRON] Starting cron jobs...")

	if err := m.registerJobs(); err != nil {
		return err
	}
	m.cron.Start()

	log.Info("[CRON] Cron jobs started successfully")
	return nil
}

// Stop stops all cron jobs and waits for running ones to return.
func (m *CronManager) Stop() {
	log.Info("[CRON] Stopping cron jobs...")
	ctx := m.cron.Stop()
	<-ctx.Done()
	log.Info("[CRON] Cron jobs stopped")
}

type scheduledJob struct {
	spec string
	name string
	run  func(ctx context.Context) (int64, datatypes.JSONMap, error)
}

func (m *CronManager) jobs() []scheduledJob {
	jobs := []scheduledJob{
		// Every 5 minutes: fail enrichment claims whose worker died
		{"0 */5 * * * *", JobSweepStaleEnrichment, m.SweepStaleEnrichment},
	}
	if m.enqueuer != nil {
		// Every 2 minutes: re-dispatch notes stuck in pending
		jobs = append(jobs, scheduledJob{"30 */2 * * * *", JobRequeuePendingEnrichment, m.RequeuePendingEnrichment})
	}
	if m.resolver != nil {
		// Every 10 minutes: pick up university domain changes made by other replicas
		jobs = append(jobs, scheduledJob{"0 */10 * * * *", JobReloadDomainIndex, m.ReloadDomainIndex})
	}
	if m.tokens != nil {
		// Daily at 3 AM
		jobs = append(jobs, scheduledJob{"0 0 3 * * *", JobCleanupExpiredTokens, m.CleanupExpiredTokens})
	}
	return jobs
}

// registerJobs registers all cron jobs with their schedules
func (m *CronManager) registerJobs() error {
	for _, job := range m.jobs() {
		job := job
		if _, err := m.cron.AddFunc(job.spec, func() { m.RunJob(job.name, job.run) }); err != nil {
			return err
		}
	}
	log.Infow("[CRON] All cron jobs registered", "count", len(m.jobs()))
	return nil
}

// RunJob executes fn with a timeout and records the run in cron_job_logs.
func (m *CronManager) RunJob(name string, fn func(ctx context.Context) (int64, datatypes.JSONMap, error)) model.CronJobLog {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.JobTimeout)
	defer cancel()

	entry := m.logJobStart(name)
	affected, meta, err := fn(ctx)
	m.logJobFinish(&entry, affected, meta, err)
	return entry
}

// logJobStart logs the start of a cron job
func (m *CronManager) logJobStart(jobName string) model.CronJobLog {
	log.Debugw("[CRON] Starting job", "job", jobName)

	entry := model.CronJobLog{
		JobName:   jobName,
		Status:    model.CronJobStatusStarted,
		StartedAt: m.now(),
		Metadata:  datatypes.JSONMap{},
	}
	if err := m.db.Create(&entry).Error; err != nil {
		log.Warnw("[CRON] Failed to record job start", "job", jobName, "error", err)
	}
	return entry
}

// logJobFinish stores the outcome of a cron job run
func (m *CronManager) logJobFinish(entry *model.CronJobLog, affected int64, meta datatypes.JSONMap, runErr error) {
	completedAt := m.now()
	entry.CompletedAt = &completedAt
	entry.Duration = completedAt.Sub(entry.StartedAt).Milliseconds()
	entry.Affected = affected
	if meta != nil {
		entry.Metadata = meta
	}

	if runErr != nil {
		entry.Status = model.CronJobStatusFailed
		entry.ErrorMsg = runErr.Error()
		log.Errorw("[CRON] Job failed", "job", entry.JobName, "error", runErr)
	} else {
		entry.Status = model.CronJobStatusCompleted
		log.Infow("[CRON] Job completed", "job", entry.JobName, "affected", affected, "duration_ms", entry.Duration)
	}

	if entry.ID == 0 {
		return
	}
	if err := m.db.Save(entry).Error; err != nil {
		log.Warnw("[CRON] Failed to record job result", "job", entry.JobName, "error", err)
	}
}
