// Package repo persists recipients, preferences, scheduled messages and the
// message audit log. PostgresStore is the production implementation;
// MemoryStore mirrors its semantics for local runs and tests.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/LeventeLantos/daily-messaging/internal/model"
)

var ErrNotFound = errors.New("not found")

// Store is the full persistence surface. The engines each depend on a
// narrower interface declared in their own package.
type Store interface {
	ListActiveRecipients(ctx context.Context) ([]model.Recipient, error)
	GetRecipient(ctx context.Context, id int64) (model.Recipient, error)
	UpdateRecipientTimezone(ctx context.Context, id int64, timezone string) error
	LoadPreferences(ctx context.Context) (map[int64]model.Preferences, error)

	HasPendingBetween(ctx context.Context, recipientID int64, from, to time.Time) (bool, error)
	RecentOutboundContents(ctx context.Context, recipientID int64, since time.Time) ([]string, error)
	InsertScheduled(ctx context.Context, msgs []model.ScheduledMessage) error

	ListDue(ctx context.Context, now time.Time, maxRetries, limit int) ([]model.ScheduledMessage, error)
	MarkSent(ctx context.Context, id int64, sentAt time.Time, entry model.MessageLog) error
	MarkFailed(ctx context.Context, id int64, retryCount int, errMsg string, entry *model.MessageLog) error
	MarkCancelled(ctx context.Context, id int64) error
	ListSent(ctx context.Context, limit, offset int) ([]model.ScheduledMessage, error)

	ListLogsBefore(ctx context.Context, cutoff time.Time) ([]model.MessageLog, error)
	DeleteScheduledBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
