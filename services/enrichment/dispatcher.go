package enrichment

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/sahilchouksey/campus-notes/utils/metrics"
	"golang.org/x/sync/errgroup"
)

var (
	ErrQueueFull         = errors.New("enrichment queue is full")
	ErrDispatcherStopped = errors.New("enrichment dispatcher is stopped")
)

// Runner is the part of Job the dispatcher needs.
type Runner interface {
	Run(ctx context.Context, noteID uint, force bool) (Outcome, error)
}

type DispatcherConfig struct {
	Workers   int
	QueueSize int
	// BusyRetryDelay is how long a run that found its note locked waits before
	// it is queued again.
	BusyRetryDelay time.Duration
}

// Dispatcher feeds queued note ids to a fixed pool of workers. A note already
// waiting in the queue is not queued twice; a later forced request upgrades it.
type Dispatcher struct {
	runner Runner
	queue  chan uint
	cfg    DispatcherConfig

	mu      sync.Mutex
	queued  map[uint]bool // note id -> force
	started bool
	stopped bool

	group  *errgroup.Group
	cancel context.CancelFunc
}

func NewDispatcher(runner Runner, cfg DispatcherConfig) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.BusyRetryDelay <= 0 {
		cfg.BusyRetryDelay = 3 * time.Second
	}
	return &Dispatcher{
		runner: runner,
		queue:  make(chan uint, cfg.QueueSize),
		cfg:    cfg,
		queued: make(map[uint]bool),
	}
}

// Start launches the workers. Runs use ctx; cancelling it aborts in-flight work.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.group, runCtx = errgroup.WithContext(runCtx)
	for i := 0; i < d.cfg.Workers; i++ {
		worker := i
		d.group.Go(func() error {
			d.work(runCtx, worker)
			return nil
		})
	}
	log.Infow("[ENRICH] dispatcher started", "workers", d.cfg.Workers, "queue_size", d.cfg.QueueSize)
}

func (d *Dispatcher) work(ctx context.Context, worker int) {
	for noteID := range d.queue {
		d.mu.Lock()
		force := d.queued[noteID]
		delete(d.queued, noteID)
		d.mu.Unlock()
		metrics.EnrichmentQueueDepth.Set(float64(len(d.queue)))

		if ctx.Err() != nil {
			continue
		}
		outcome, err := d.runner.Run(ctx, noteID, force)
		if err != nil {
			log.Errorw("[ENRICH] run error", "worker", worker, "note_id", noteID, "outcome", outcome, "error", err)
			continue
		}
		if outcome == OutcomeBusy {
			d.retryLater(noteID, force)
			continue
		}
		log.Debugw("[ENRICH] run finished", "worker", worker, "note_id", noteID, "outcome", outcome)
	}
}

// retryLater queues the note again once the current lock holder has had time to
// finish. A stopped dispatcher drops the retry; the requeue job covers it.
func (d *Dispatcher) retryLater(noteID uint, force bool) {
	time.AfterFunc(d.cfg.BusyRetryDelay, func() {
		if err := d.Enqueue(noteID, force); err != nil && !errors.Is(err, ErrDispatcherStopped) {
			log.Warnw("[ENRICH] busy note not requeued", "note_id", noteID, "error", err)
		}
	})
}

// Enqueue schedules a run without blocking.
func (d *Dispatcher) Enqueue(noteID uint, force bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return ErrDispatcherStopped
	}
	if prev, ok := d.queued[noteID]; ok {
		d.queued[noteID] = prev || force
		return nil
	}
	select {
	case d.queue <- noteID:
		d.queued[noteID] = force
		metrics.EnrichmentQueueDepth.Set(float64(len(d.queue)))
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending returns the number of queued runs.
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

// Stop refuses new work and waits for queued runs to drain. When ctx expires
// first, in-flight runs are cancelled and Stop returns ctx's error.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		_ = d.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		log.Info("[ENRICH] dispatcher drained")
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		log.Warn("[ENRICH] dispatcher stopped before queue drained")
		return ctx.Err()
	}
}
