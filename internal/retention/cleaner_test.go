package retention

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeventeLantos/daily-messaging/internal/model"
	"github.com/LeventeLantos/daily-messaging/internal/repo"
)

var now = time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

func seed(store *repo.MemoryStore) {
	content := "hi"
	cutoff := now.Add(-30 * 24 * time.Hour)
	for _, created := range []time.Time{
		cutoff.Add(-time.Second),
		cutoff,
		cutoff.Add(time.Second),
		now.Add(-90 * 24 * time.Hour),
	} {
		store.AddScheduled(model.ScheduledMessage{RecipientID: 1, Status: model.Sent, Content: &content, CreatedAt: created, ScheduledTime: created})
	}
	for _, sent := range []time.Time{
		cutoff.Add(-time.Second),
		cutoff,
		cutoff.Add(time.Second),
	} {
		store.AddLog(model.MessageLog{RecipientID: 1, Direction: model.Outbound, Content: "hi", Status: model.LogStatusSent, SentAt: sent})
	}
}

func TestCleanup_DeletesStrictlyBeforeCutoff(t *testing.T) {
	store := repo.NewMemoryStore()
	seed(store)
	c := NewCleaner(store, WithClock(clock))

	res, err := c.Cleanup(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, model.CleanupResult{ScheduledDeleted: 2, LogsDeleted: 1}, res)
	assert.Len(t, store.Messages(), 2)
	assert.Len(t, store.Logs(), 2)

	again, err := c.Cleanup(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, model.CleanupResult{}, again)
}

func TestCleanup_RejectsNonPositiveDays(t *testing.T) {
	c := NewCleaner(repo.NewMemoryStore(), WithClock(clock))
	_, err := c.Cleanup(context.Background(), 0)
	require.Error(t, err)
}

func TestCleanup_ArchivesBeforeDeleting(t *testing.T) {
	store := repo.NewMemoryStore()
	seed(store)
	dir := t.TempDir()
	a, err := NewFileArchiver(dir)
	require.NoError(t, err)
	c := NewCleaner(store, WithClock(clock), WithArchiver(a))

	res, err := c.Cleanup(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, 1, res.LogsArchived)
	assert.Equal(t, int64(1), res.LogsDeleted)

	files, err := filepath.Glob(filepath.Join(dir, "*.jsonl.zst"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	logs, err := ReadArchive(files[0])
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, now.Add(-30*24*time.Hour-time.Second), logs[0].SentAt)
}

type failingArchiver struct{}

func (failingArchiver) Archive(context.Context, string, []model.MessageLog) error {
	return errors.New("disk full")
}

func TestCleanup_ArchiveFailureKeepsLogs(t *testing.T) {
	store := repo.NewMemoryStore()
	seed(store)
	c := NewCleaner(store, WithClock(clock), WithArchiver(failingArchiver{}))

	res, err := c.Cleanup(context.Background(), 30)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, int64(2), res.ScheduledDeleted)
	assert.Zero(t, res.LogsDeleted)
	assert.Len(t, store.Logs(), 3)
}

type failingStore struct {
	*repo.MemoryStore
	scheduledErr error
	logsErr      error
}

func (s *failingStore) DeleteScheduledBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if s.scheduledErr != nil {
		return 0, s.scheduledErr
	}
	return s.MemoryStore.DeleteScheduledBefore(ctx, cutoff)
}

func (s *failingStore) DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if s.logsErr != nil {
		return 0, s.logsErr
	}
	return s.MemoryStore.DeleteLogsBefore(ctx, cutoff)
}

func TestCleanup_PropagatesDeleteErrors(t *testing.T) {
	t.Run("scheduled", func(t *testing.T) {
		mem := repo.NewMemoryStore()
		seed(mem)
		c := NewCleaner(&failingStore{MemoryStore: mem, scheduledErr: errors.New("lock timeout")}, WithClock(clock))

		_, err := c.Cleanup(context.Background(), 30)
		require.Error(t, err)
		assert.Len(t, mem.Logs(), 3, "logs untouched when the first delete fails")
	})

	t.Run("logs", func(t *testing.T) {
		mem := repo.NewMemoryStore()
		seed(mem)
		c := NewCleaner(&failingStore{MemoryStore: mem, logsErr: errors.New("lock timeout")}, WithClock(clock))

		res, err := c.Cleanup(context.Background(), 30)
		require.Error(t, err)
		assert.Equal(t, int64(2), res.ScheduledDeleted, "first delete stays committed")
	})
}

func TestFileArchiver_NoPartialFileOnCancel(t *testing.T) {
	dir := t.TempDir()
	a, err := NewFileArchiver(dir)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = a.Archive(ctx, "run", []model.MessageLog{{ID: 1}})
	require.ErrorIs(t, err, context.Canceled)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCutoff(t *testing.T) {
	assert.Equal(t, time.Date(2024, 4, 1, 3, 0, 0, 0, time.UTC), Cutoff(now, 30))
}
