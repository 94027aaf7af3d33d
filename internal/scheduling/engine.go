// Package scheduling decides once per day when each active recipient's
// message fires and persists it with pre-generated content, so the send path
// never waits on the content generator.
package scheduling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/LeventeLantos/daily-messaging/internal/metrics"
	"github.com/LeventeLantos/daily-messaging/internal/model"
)

// Store is the persistence the scheduling pass needs.
type Store interface {
	ListActiveRecipients(ctx context.Context) ([]model.Recipient, error)
	LoadPreferences(ctx context.Context) (map[int64]model.Preferences, error)
	UpdateRecipientTimezone(ctx context.Context, id int64, timezone string) error
	HasPendingBetween(ctx context.Context, recipientID int64, from, to time.Time) (bool, error)
	RecentOutboundContents(ctx context.Context, recipientID int64, since time.Time) ([]string, error)
	InsertScheduled(ctx context.Context, msgs []model.ScheduledMessage) error
}

// ContentGenerator produces a message body. It must not fail: generation
// problems are answered with a fallback text.
type ContentGenerator interface {
	Generate(ctx context.Context, gc model.GenerationContext) string
}

type Config struct {
	// Lookahead is the window in which an existing pending message makes a
	// recipient count as already scheduled.
	Lookahead time.Duration
	BatchSize int
	// History is how far back previous messages are passed to the generator.
	History time.Duration
}

func DefaultConfig() Config {
	return Config{
		Lookahead: 72 * time.Hour,
		BatchSize: 10,
		History:   7 * 24 * time.Hour,
	}
}

var errEmptyContent = errors.New("generator returned empty content")

type Engine struct {
	store     Store
	generator ContentGenerator
	resolver  *Resolver
	cfg       Config

	now     func() time.Time
	metrics *metrics.Metrics
	logger  *slog.Logger
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func NewEngine(store Store, generator ContentGenerator, resolver *Resolver, cfg Config, opts ...Option) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if resolver == nil {
		resolver = NewResolver()
	}
	e := &Engine{
		store:     store,
		generator: generator,
		resolver:  resolver,
		cfg:       cfg,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ScheduleDaily creates one pending message for every active recipient that
// has none inside the lookahead window. Rows are committed in batches, so an
// error returned mid-pass leaves earlier batches in place. Per-recipient
// problems are counted as failed and never abort the pass.
func (e *Engine) ScheduleDaily(ctx context.Context) (model.ScheduleResult, error) {
	var res model.ScheduleResult
	now := e.now().UTC()
	logger := e.logger.With("pass", "schedule", "run_id", uuid.NewString())
	defer func() { e.metrics.ObserveSchedule(res, e.now().Sub(now)) }()

	recipients, err := e.store.ListActiveRecipients(ctx)
	if err != nil {
		return res, fmt.Errorf("loading recipients: %w", err)
	}
	prefs, err := e.store.LoadPreferences(ctx)
	if err != nil {
		return res, fmt.Errorf("loading preferences: %w", err)
	}
	snapshot := preferredTimes(prefs, logger)

	res.Total = len(recipients)
	logger.InfoContext(ctx, "scheduling pass started", "recipients", res.Total)

	batch := make([]model.ScheduledMessage, 0, e.cfg.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := e.store.InsertScheduled(ctx, batch); err != nil {
			res.Failed += len(batch)
			return fmt.Errorf("committing schedule batch: %w", err)
		}
		res.Scheduled += len(batch)
		batch = batch[:0]
		return nil
	}

	for _, r := range recipients {
		if err := ctx.Err(); err != nil {
			return res, errors.Join(err, flush())
		}

		msg, skip, err := e.prepare(ctx, r, snapshot[r.ID], now, logger)
		switch {
		case err != nil:
			res.Failed++
			logger.ErrorContext(ctx, "failed to schedule message", "recipient_id", r.ID, "error", err)
			continue
		case skip:
			res.Skipped++
			continue
		}

		batch = append(batch, msg)
		if len(batch) >= e.cfg.BatchSize {
			if err := flush(); err != nil {
				return res, err
			}
		}
	}
	if err := flush(); err != nil {
		return res, err
	}

	logger.InfoContext(ctx, "scheduling pass completed",
		"scheduled", res.Scheduled,
		"skipped", res.Skipped,
		"failed", res.Failed,
		"total", res.Total,
	)
	return res, nil
}

func (e *Engine) prepare(ctx context.Context, r model.Recipient, preferred *LocalTime, now time.Time, logger *slog.Logger) (msg model.ScheduledMessage, skip bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic while scheduling: %v", p)
		}
	}()

	pending, err := e.store.HasPendingBetween(ctx, r.ID, now, now.Add(e.cfg.Lookahead))
	if err != nil {
		return msg, false, err
	}
	if pending {
		return msg, true, nil
	}

	resolved := e.resolver.Resolve(r.Timezone, preferred, now)
	if resolved.TimezoneCorrected {
		if err := e.store.UpdateRecipientTimezone(ctx, r.ID, resolved.Timezone); err != nil {
			return msg, false, fmt.Errorf("persisting corrected timezone: %w", err)
		}
		logger.WarnContext(ctx, "recipient timezone corrected",
			"recipient_id", r.ID,
			"from", r.Timezone,
			"to", resolved.Timezone,
		)
	}

	recent, err := e.store.RecentOutboundContents(ctx, r.ID, now.Add(-e.cfg.History))
	if err != nil {
		logger.WarnContext(ctx, "could not load recent messages", "recipient_id", r.ID, "error", err)
		recent = nil
	}

	content := strings.TrimSpace(e.generator.Generate(ctx, model.GenerationContext{PreviousMessages: recent}))
	if content == "" {
		return msg, false, errEmptyContent
	}

	return model.ScheduledMessage{
		RecipientID:   r.ID,
		ScheduledTime: resolved.At,
		Status:        model.Pending,
		Content:       &content,
		CreatedAt:     now,
	}, false, nil
}

// preferredTimes turns the preference blobs into a typed snapshot used for
// the whole pass. Malformed values count as absent.
func preferredTimes(prefs map[int64]model.Preferences, logger *slog.Logger) map[int64]*LocalTime {
	out := make(map[int64]*LocalTime, len(prefs))
	for id, p := range prefs {
		if p.PreferredTime == "" {
			continue
		}
		t, err := ParseLocalTime(p.PreferredTime)
		if err != nil {
			logger.Warn("ignoring malformed preferred time", "recipient_id", id, "value", p.PreferredTime)
			continue
		}
		out[id] = &t
	}
	return out
}
