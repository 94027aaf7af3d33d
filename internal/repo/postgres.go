package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/LeventeLantos/daily-messaging/internal/model"
)

// DBTX is the query surface shared by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB is a DBTX that can open transactions. *pgxpool.Pool satisfies it.
type DB interface {
	DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore expects the recipients, user_configs, scheduled_messages and
// message_logs tables owned by the migration collaborator.
type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) ListActiveRecipients(ctx context.Context) ([]model.Recipient, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, phone_number, timezone, is_active, created_at, updated_at
		FROM recipients
		WHERE is_active = true
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("listing active recipients: %w", err)
	}
	defer rows.Close()

	var out []model.Recipient
	for rows.Next() {
		var r model.Recipient
		if err := rows.Scan(&r.ID, &r.PhoneNumber, &r.Timezone, &r.Active, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning recipient: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetRecipient(ctx context.Context, id int64) (model.Recipient, error) {
	var r model.Recipient
	err := s.db.QueryRow(ctx, `
		SELECT id, phone_number, timezone, is_active, created_at, updated_at
		FROM recipients
		WHERE id = $1
	`, id).Scan(&r.ID, &r.PhoneNumber, &r.Timezone, &r.Active, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Recipient{}, ErrNotFound
	}
	if err != nil {
		return model.Recipient{}, fmt.Errorf("getting recipient %d: %w", id, err)
	}
	return r, nil
}

func (s *PostgresStore) UpdateRecipientTimezone(ctx context.Context, id int64, timezone string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE recipients
		SET timezone = $2, updated_at = now()
		WHERE id = $1
	`, id, timezone)
	if err != nil {
		return fmt.Errorf("updating timezone of recipient %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// LoadPreferences reads every recipient's preference blob once. Blobs that do
// not decode are skipped so one bad row cannot stall a scheduling pass.
func (s *PostgresStore) LoadPreferences(ctx context.Context) (map[int64]model.Preferences, error) {
	rows, err := s.db.Query(ctx, `SELECT recipient_id, preferences FROM user_configs`)
	if err != nil {
		return nil, fmt.Errorf("loading preferences: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]model.Preferences)
	for rows.Next() {
		var (
			id  int64
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scanning preferences: %w", err)
		}
		var p model.Preferences
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &p); err != nil {
				continue
			}
		}
		out[id] = p
	}
	return out, rows.Err()
}

func (s *PostgresStore) HasPendingBetween(ctx context.Context, recipientID int64, from, to time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM scheduled_messages
			WHERE recipient_id = $1
			  AND status = 'pending'
			  AND scheduled_time >= $2
			  AND scheduled_time < $3
		)
	`, recipientID, from.UTC(), to.UTC()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking pending messages of recipient %d: %w", recipientID, err)
	}
	return exists, nil
}

func (s *PostgresStore) RecentOutboundContents(ctx context.Context, recipientID int64, since time.Time) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT content
		FROM message_logs
		WHERE recipient_id = $1
		  AND direction = 'outbound'
		  AND sent_at >= $2
		ORDER BY sent_at ASC
	`, recipientID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("listing recent messages of recipient %d: %w", recipientID, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// InsertScheduled writes msgs in a single transaction and fills in their IDs.
func (s *PostgresStore) InsertScheduled(ctx context.Context, msgs []model.ScheduledMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning schedule batch: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for i := range msgs {
		m := &msgs[i]
		if err := tx.QueryRow(ctx, `
			INSERT INTO scheduled_messages (recipient_id, scheduled_time, status, content, retry_count, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id
		`, m.RecipientID, m.ScheduledTime.UTC(), string(m.Status), m.Content, m.RetryCount, m.CreatedAt.UTC()).Scan(&m.ID); err != nil {
			return fmt.Errorf("inserting scheduled message for recipient %d: %w", m.RecipientID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing schedule batch: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListDue(ctx context.Context, now time.Time, maxRetries, limit int) ([]model.ScheduledMessage, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, recipient_id, scheduled_time, status, content, retry_count,
		       created_at, sent_at, error_message
		FROM scheduled_messages
		WHERE scheduled_time <= $1
		  AND content IS NOT NULL
		  AND (status = 'pending' OR (status = 'failed' AND retry_count < $2))
		ORDER BY scheduled_time ASC
		LIMIT $3
	`, now.UTC(), maxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("listing due messages: %w", err)
	}
	defer rows.Close()

	return scanScheduled(rows)
}

func (s *PostgresStore) MarkSent(ctx context.Context, id int64, sentAt time.Time, entry model.MessageLog) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if err := insertLog(ctx, tx, entry); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			UPDATE scheduled_messages
			SET status = 'sent',
			    sent_at = $2,
			    error_message = NULL
			WHERE id = $1
		`, id, sentAt.UTC())
		return affectedOne(tag, err)
	})
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id int64, retryCount int, errMsg string, entry *model.MessageLog) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if entry != nil {
			if err := insertLog(ctx, tx, *entry); err != nil {
				return err
			}
		}
		tag, err := tx.Exec(ctx, `
			UPDATE scheduled_messages
			SET status = 'failed',
			    retry_count = $2,
			    error_message = $3
			WHERE id = $1
		`, id, retryCount, errMsg)
		return affectedOne(tag, err)
	})
}

func (s *PostgresStore) MarkCancelled(ctx context.Context, id int64) error {
	_, err := s.db.Exec(ctx, `
		UPDATE scheduled_messages
		SET status = 'cancelled'
		WHERE id = $1
		  AND status IN ('pending', 'failed')
	`, id)
	if err != nil {
		return fmt.Errorf("cancelling message %d: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) ListSent(ctx context.Context, limit, offset int) ([]model.ScheduledMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, recipient_id, scheduled_time, status, content, retry_count,
		       created_at, sent_at, error_message
		FROM scheduled_messages
		WHERE status = 'sent'
		ORDER BY sent_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanScheduled(rows)
}

func (s *PostgresStore) ListLogsBefore(ctx context.Context, cutoff time.Time) ([]model.MessageLog, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, recipient_id, direction, content, status, sent_at,
		       provider_message_id, error_message
		FROM message_logs
		WHERE sent_at < $1
		ORDER BY id ASC
	`, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("listing expiring logs: %w", err)
	}
	defer rows.Close()

	var out []model.MessageLog
	for rows.Next() {
		var (
			l   model.MessageLog
			dir string
		)
		if err := rows.Scan(&l.ID, &l.RecipientID, &dir, &l.Content, &l.Status, &l.SentAt,
			&l.ProviderMessageID, &l.ErrorMessage); err != nil {
			return nil, err
		}
		l.Direction = model.Direction(dir)
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteScheduledBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.deleteBefore(ctx, `DELETE FROM scheduled_messages WHERE created_at < $1`, cutoff)
}

func (s *PostgresStore) DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.deleteBefore(ctx, `DELETE FROM message_logs WHERE sent_at < $1`, cutoff)
}

func (s *PostgresStore) deleteBefore(ctx context.Context, query string, cutoff time.Time) (int64, error) {
	var deleted int64
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, query, cutoff.UTC())
		if err != nil {
			return err
		}
		deleted = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// inTx commits when fn succeeds and rolls back otherwise.
func (s *PostgresStore) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func affectedOne(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func insertLog(ctx context.Context, db DBTX, l model.MessageLog) error {
	_, err := db.Exec(ctx, `
		INSERT INTO message_logs (recipient_id, direction, content, status, sent_at, provider_message_id, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, l.RecipientID, string(l.Direction), l.Content, l.Status, l.SentAt.UTC(), l.ProviderMessageID, l.ErrorMessage)
	if err != nil {
		return fmt.Errorf("inserting message log: %w", err)
	}
	return nil
}

func scanScheduled(rows pgx.Rows) ([]model.ScheduledMessage, error) {
	var out []model.ScheduledMessage
	for rows.Next() {
		var (
			m      model.ScheduledMessage
			status string
		)
		if err := rows.Scan(
			&m.ID,
			&m.RecipientID,
			&m.ScheduledTime,
			&status,
			&m.Content,
			&m.RetryCount,
			&m.CreatedAt,
			&m.SentAt,
			&m.ErrorMessage,
		); err != nil {
			return nil, err
		}
		m.Status = model.Status(status)
		out = append(out, m)
	}
	return out, rows.Err()
}
