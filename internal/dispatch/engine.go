// Package dispatch sends due scheduled messages and records the result of
// every attempt, one committed row at a time.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/LeventeLantos/daily-messaging/internal/metrics"
	"github.com/LeventeLantos/daily-messaging/internal/model"
	"github.com/LeventeLantos/daily-messaging/internal/repo"
)

type Store interface {
	ListDue(ctx context.Context, now time.Time, maxRetries, limit int) ([]model.ScheduledMessage, error)
	GetRecipient(ctx context.Context, id int64) (model.Recipient, error)
	MarkSent(ctx context.Context, id int64, sentAt time.Time, entry model.MessageLog) error
	MarkFailed(ctx context.Context, id int64, retryCount int, errMsg string, entry *model.MessageLog) error
	MarkCancelled(ctx context.Context, id int64) error
}

// SmsGateway delivers one SMS and returns the provider's message id. Errors
// with a Permanent() bool method are treated as gateway answers.
type SmsGateway interface {
	Send(ctx context.Context, phoneNumber, message string) (remoteMessageID string, err error)
}

// Admission reserves SMS budget before a send.
type Admission interface {
	AcquireSms(ctx context.Context) error
}

// SentCache records successful sends. Failures are logged and ignored.
type SentCache interface {
	StoreSent(ctx context.Context, internalID int64, remoteMessageID string, sentAt time.Time) error
}

type Config struct {
	BatchSize  int
	Workers    int
	MaxRetries int
	// ContentMax is the longest body, in runes, the gateway accepts.
	ContentMax int
}

func DefaultConfig() Config {
	return Config{
		BatchSize:  100,
		Workers:    4,
		MaxRetries: model.DefaultMaxRetries,
		ContentMax: 160,
	}
}

type Engine struct {
	store     Store
	gateway   SmsGateway
	admission Admission
	cache     SentCache
	cfg       Config

	// sendMu serializes admission and the gateway call across workers.
	sendMu sync.Mutex

	now     func() time.Time
	metrics *metrics.Metrics
	logger  *slog.Logger
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithAdmission(a Admission) Option {
	return func(e *Engine) { e.admission = a }
}

func WithCache(c SentCache) Option {
	return func(e *Engine) { e.cache = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func NewEngine(store Store, gateway SmsGateway, cfg Config, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.ContentMax <= 0 {
		cfg.ContentMax = def.ContentMax
	}
	e := &Engine{
		store:   store,
		gateway: gateway,
		cfg:     cfg,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type tally struct {
	mu  sync.Mutex
	res model.DispatchResult
}

func (t *tally) add(fn func(r *model.DispatchResult)) {
	t.mu.Lock()
	fn(&t.res)
	t.mu.Unlock()
}

// ProcessDue sends every due message selected in this pass. Each message's
// bookkeeping is committed on its own; a failed send never aborts the pass,
// but a store error while recording a result does.
func (e *Engine) ProcessDue(ctx context.Context) (model.DispatchResult, error) {
	start := e.now()
	now := start.UTC()
	logger := e.logger.With("pass", "dispatch", "run_id", uuid.NewString())

	var t tally
	defer func() { e.metrics.ObserveDispatch(t.res, e.now().Sub(start)) }()

	due, err := e.store.ListDue(ctx, now, e.cfg.MaxRetries, e.cfg.BatchSize)
	if err != nil {
		return t.res, fmt.Errorf("selecting due messages: %w", err)
	}
	t.res.Total = len(due)
	if len(due) == 0 {
		logger.DebugContext(ctx, "no due messages")
		return t.res, nil
	}
	logger.InfoContext(ctx, "dispatch pass started", "due", len(due))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for _, msg := range due {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			return e.process(gctx, msg, &t, logger)
		})
	}
	err = g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	logger.InfoContext(ctx, "dispatch pass completed",
		"sent", t.res.Sent,
		"retried", t.res.Retried,
		"failed", t.res.Failed,
		"cancelled", t.res.Cancelled,
		"total", t.res.Total,
		"duration_ms", e.now().Sub(start).Milliseconds(),
	)
	return t.res, err
}

func (e *Engine) process(ctx context.Context, msg model.ScheduledMessage, t *tally, logger *slog.Logger) error {
	logger = logger.With("message_id", msg.ID, "recipient_id", msg.RecipientID)

	result, recipientGone := e.attempt(ctx, msg, logger)

	// Bookkeeping outlives pass cancellation so an attempted send is always recorded.
	bctx := context.WithoutCancel(ctx)

	if recipientGone {
		if err := e.store.MarkCancelled(bctx, msg.ID); err != nil {
			return fmt.Errorf("cancelling message %d: %w", msg.ID, err)
		}
		t.add(func(r *model.DispatchResult) { r.Cancelled++ })
		logger.InfoContext(ctx, "recipient inactive, message cancelled")
		return nil
	}

	next := Next(msg.RetryCount, result.Outcome, e.cfg.MaxRetries)
	sentAt := e.now().UTC()

	if result.Outcome == Success {
		entry := e.logEntry(msg, sentAt, result)
		if err := e.store.MarkSent(bctx, msg.ID, sentAt, entry); err != nil {
			return fmt.Errorf("recording sent message %d: %w", msg.ID, err)
		}
		t.add(func(r *model.DispatchResult) { r.Sent++ })
		if e.cache != nil {
			if err := e.cache.StoreSent(bctx, msg.ID, result.ProviderMessageID, sentAt); err != nil {
				logger.WarnContext(ctx, "failed to cache sent message", "error", err)
			}
		}
		return nil
	}

	errMsg := result.Err.Error()
	var entry *model.MessageLog
	if result.Reached {
		l := e.logEntry(msg, sentAt, result)
		entry = &l
	}
	if err := e.store.MarkFailed(bctx, msg.ID, next.RetryCount, errMsg, entry); err != nil {
		return fmt.Errorf("recording failed message %d: %w", msg.ID, err)
	}

	if next.Terminal(e.cfg.MaxRetries) {
		t.add(func(r *model.DispatchResult) { r.Failed++ })
		logger.ErrorContext(ctx, "message failed permanently",
			"retry_count", next.RetryCount,
			"outcome", result.Outcome.String(),
			"error", errMsg,
		)
		return nil
	}
	t.add(func(r *model.DispatchResult) { r.Retried++ })
	logger.WarnContext(ctx, "send failed, will retry",
		"retry_count", next.RetryCount,
		"error", errMsg,
	)
	return nil
}

// attempt runs everything up to and including the gateway call. Panics and
// recipient lookup errors become retryable failures.
func (e *Engine) attempt(ctx context.Context, msg model.ScheduledMessage, logger *slog.Logger) (res SendResult, recipientGone bool) {
	defer func() {
		if p := recover(); p != nil {
			logger.ErrorContext(ctx, "panic while dispatching", "panic", p)
			res = SendResult{Outcome: RetryableFailure, Err: fmt.Errorf("panic while dispatching: %v", p)}
			recipientGone = false
		}
	}()

	recipient, err := e.store.GetRecipient(ctx, msg.RecipientID)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return res, true
	case err != nil:
		return SendResult{Outcome: RetryableFailure, Err: fmt.Errorf("loading recipient: %w", err)}, false
	case !recipient.Active:
		return res, true
	}

	content := ""
	if msg.Content != nil {
		content = *msg.Content
	}
	if n := utf8.RuneCountInString(content); n > e.cfg.ContentMax {
		return SendResult{
			Outcome: TerminalFailure,
			Err:     fmt.Errorf("content exceeds %d chars (%d)", e.cfg.ContentMax, n),
		}, false
	}

	return e.send(ctx, recipient.PhoneNumber, content), false
}

func (e *Engine) send(ctx context.Context, phoneNumber, content string) SendResult {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()

	if e.admission != nil {
		if err := e.admission.AcquireSms(ctx); err != nil {
			return SendResult{Outcome: RetryableFailure, Err: fmt.Errorf("sms budget: %w", err)}
		}
	}
	return Classify(e.gateway.Send(ctx, phoneNumber, content))
}

func (e *Engine) logEntry(msg model.ScheduledMessage, at time.Time, res SendResult) model.MessageLog {
	entry := model.MessageLog{
		RecipientID: msg.RecipientID,
		Direction:   model.Outbound,
		SentAt:      at,
	}
	if msg.Content != nil {
		entry.Content = *msg.Content
	}
	if res.Outcome == Success {
		id := res.ProviderMessageID
		entry.Status = model.LogStatusSent
		entry.ProviderMessageID = &id
		return entry
	}
	errMsg := res.Err.Error()
	entry.Status = model.LogStatusFailed
	entry.ErrorMessage = &errMsg
	return entry
}
