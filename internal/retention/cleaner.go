// Package retention removes scheduled messages and message logs that fell
// out of the retention window.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/LeventeLantos/daily-messaging/internal/metrics"
	"github.com/LeventeLantos/daily-messaging/internal/model"
)

const DefaultRetentionDays = 30

type Store interface {
	ListLogsBefore(ctx context.Context, cutoff time.Time) ([]model.MessageLog, error)
	DeleteScheduledBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Archiver persists logs before they are deleted.
type Archiver interface {
	Archive(ctx context.Context, runID string, logs []model.MessageLog) error
}

type Cleaner struct {
	store    Store
	archiver Archiver

	now     func() time.Time
	metrics *metrics.Metrics
	logger  *slog.Logger
}

type Option func(*Cleaner)

func WithClock(now func() time.Time) Option {
	return func(c *Cleaner) { c.now = now }
}

func WithArchiver(a Archiver) Option {
	return func(c *Cleaner) { c.archiver = a }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cleaner) { c.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Cleaner) { c.logger = logger }
}

func NewCleaner(store Store, opts ...Option) *Cleaner {
	c := &Cleaner{
		store:  store,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Cutoff is the instant before which rows are removed.
func Cutoff(now time.Time, retentionDays int) time.Time {
	return now.UTC().Add(-time.Duration(retentionDays) * 24 * time.Hour)
}

// Cleanup deletes scheduled messages created, and logs sent, strictly before
// now minus retentionDays. The two deletes commit independently, so an error
// may leave the first applied; rerunning is always safe.
func (c *Cleaner) Cleanup(ctx context.Context, retentionDays int) (model.CleanupResult, error) {
	var res model.CleanupResult
	if retentionDays <= 0 {
		return res, errors.New("retention days must be > 0")
	}

	start := c.now()
	cutoff := Cutoff(start, retentionDays)
	runID := uuid.NewString()
	logger := c.logger.With("pass", "retention", "run_id", runID)
	defer func() { c.metrics.ObserveCleanup(res, c.now().Sub(start)) }()

	logger.InfoContext(ctx, "retention pass started", "retention_days", retentionDays, "cutoff", cutoff)

	n, err := c.store.DeleteScheduledBefore(ctx, cutoff)
	if err != nil {
		return res, fmt.Errorf("deleting scheduled messages: %w", err)
	}
	res.ScheduledDeleted = n

	if c.archiver != nil {
		logs, err := c.store.ListLogsBefore(ctx, cutoff)
		if err != nil {
			return res, fmt.Errorf("listing expiring logs: %w", err)
		}
		if len(logs) > 0 {
			if err := c.archiver.Archive(ctx, runID, logs); err != nil {
				return res, fmt.Errorf("archiving logs: %w", err)
			}
			res.LogsArchived = len(logs)
		}
	}

	n, err = c.store.DeleteLogsBefore(ctx, cutoff)
	if err != nil {
		return res, fmt.Errorf("deleting message logs: %w", err)
	}
	res.LogsDeleted = n

	logger.InfoContext(ctx, "retention pass completed",
		"scheduled_deleted", res.ScheduledDeleted,
		"logs_deleted", res.LogsDeleted,
		"logs_archived", res.LogsArchived,
		"duration_ms", c.now().Sub(start).Milliseconds(),
	)
	return res, nil
}
