package cron

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"github.com/sahilchouksey/campus-notes/services/enrichment"
	"gorm.io/datatypes"
)

// SweepStaleEnrichment fails notes whose processing claim outlived StaleAfter.
// The owner can retry them with a forced enrichment request.
func (m *CronManager) SweepStaleEnrichment(ctx context.Context) (int64, datatypes.JSONMap, error) {
	swept, err := enrichment.SweepStale(ctx, m.db, m.cfg.StaleAfter, m.now())
	if err != nil {
		return 0, nil, fmt.Errorf("sweep stale enrichment: %w", err)
	}
	if swept > 0 {
		log.Warnw("[CRON] Failed stale enrichment claims", "count", swept)
	}
	return swept, datatypes.JSONMap{"stale_after_minutes": m.cfg.StaleAfter.Minutes()}, nil
}

// RequeuePendingEnrichment re-dispatches notes that have sat in pending past
// RequeueAfter, e.g. because the process restarted before a worker picked them up.
func (m *CronManager) RequeuePendingEnrichment(ctx context.Context) (int64, datatypes.JSONMap, error) {
	ids, err := enrichment.PendingIDs(ctx, m.db, m.now().Add(-m.cfg.RequeueAfter), m.cfg.RequeueBatch)
	if err != nil {
		return 0, nil, fmt.Errorf("list pending notes: %w", err)
	}

	var queued int64
	var full bool
	for _, id := range ids {
		if err := m.enqueuer.Enqueue(id, false); err != nil {
			if errors.Is(err, enrichment.ErrQueueFull) {
				full = true
				break
			}
			return queued, nil, fmt.Errorf("enqueue note %d: %w", id, err)
		}
		queued++
	}
	return queued, datatypes.JSONMap{"found": len(ids), "queue_full": full}, nil
}

// ReloadDomainIndex rebuilds the resolver from the universities table.
func (m *CronManager) ReloadDomainIndex(ctx context.Context) (int64, datatypes.JSONMap, error) {
	if err := m.resolver.Reload(ctx); err != nil {
		return 0, nil, fmt.Errorf("reload domain index: %w", err)
	}
	return int64(m.resolver.Size()), nil, nil
}

// CleanupExpiredTokens removes blacklist rows for tokens that expired anyway.
func (m *CronManager) CleanupExpiredTokens(ctx context.Context) (int64, datatypes.JSONMap, error) {
	n, err := m.tokens.CleanupExpiredTokens(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("cleanup expired tokens: %w", err)
	}
	return n, nil, nil
}
