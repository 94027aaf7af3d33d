package repo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeventeLantos/daily-messaging/internal/model"
)

func strPtr(s string) *string { return &s }

func TestMemoryStore_AddRecipient_RejectsDuplicatePhone(t *testing.T) {
	s := NewMemoryStore()

	first, err := s.AddRecipient(model.Recipient{PhoneNumber: "+15550001", Active: true})
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.ID)

	_, err = s.AddRecipient(model.Recipient{PhoneNumber: "+15550001"})
	require.Error(t, err)
}

func TestMemoryStore_IDsAdvancePastExplicitIDs(t *testing.T) {
	s := NewMemoryStore()

	s.AddScheduled(model.ScheduledMessage{ID: 10})
	m := s.AddScheduled(model.ScheduledMessage{})
	assert.Equal(t, int64(11), m.ID)

	batch := []model.ScheduledMessage{{}, {}}
	require.NoError(t, s.InsertScheduled(context.Background(), batch))
	assert.Equal(t, int64(12), batch[0].ID)
	assert.Equal(t, int64(13), batch[1].ID)
}

func TestMemoryStore_ListDue(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)
	body := strPtr("hi")

	pending := s.AddScheduled(model.ScheduledMessage{ScheduledTime: now.Add(-time.Minute), Status: model.Pending, Content: body})
	atNow := s.AddScheduled(model.ScheduledMessage{ScheduledTime: now, Status: model.Pending, Content: body})
	retry := s.AddScheduled(model.ScheduledMessage{ScheduledTime: now.Add(-2 * time.Hour), Status: model.Failed, RetryCount: 2, Content: body})
	s.AddScheduled(model.ScheduledMessage{ScheduledTime: now.Add(-time.Hour), Status: model.Failed, RetryCount: 3, Content: body})
	s.AddScheduled(model.ScheduledMessage{ScheduledTime: now.Add(time.Second), Status: model.Pending, Content: body})
	s.AddScheduled(model.ScheduledMessage{ScheduledTime: now.Add(-time.Hour), Status: model.Pending})
	s.AddScheduled(model.ScheduledMessage{ScheduledTime: now.Add(-time.Hour), Status: model.Sent, Content: body})
	s.AddScheduled(model.ScheduledMessage{ScheduledTime: now.Add(-time.Hour), Status: model.Cancelled, Content: body})

	due, err := s.ListDue(context.Background(), now, model.DefaultMaxRetries, 10)
	require.NoError(t, err)

	ids := make([]int64, 0, len(due))
	for _, m := range due {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []int64{retry.ID, pending.ID, atNow.ID}, ids)

	limited, err := s.ListDue(context.Background(), now, model.DefaultMaxRetries, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	_, err = s.ListDue(context.Background(), now, model.DefaultMaxRetries, 0)
	require.Error(t, err)
}

func TestMemoryStore_MarkSentAndFailed(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	sentAt := time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)

	m := s.AddScheduled(model.ScheduledMessage{Status: model.Pending, Content: strPtr("hi")})

	require.NoError(t, s.MarkFailed(ctx, m.ID, 1, "gateway returned 503", nil))
	got, _ := s.Message(m.ID)
	assert.Equal(t, model.Failed, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Empty(t, s.Logs())

	require.NoError(t, s.MarkSent(ctx, m.ID, sentAt, model.MessageLog{RecipientID: 1, Direction: model.Outbound, Status: model.LogStatusSent, SentAt: sentAt}))
	got, _ = s.Message(m.ID)
	assert.Equal(t, model.Sent, got.Status)
	require.NotNil(t, got.SentAt)
	assert.Equal(t, sentAt, *got.SentAt)
	assert.Nil(t, got.ErrorMessage)
	assert.Len(t, s.Logs(), 1)

	assert.ErrorIs(t, s.MarkSent(ctx, 999, sentAt, model.MessageLog{}), ErrNotFound)
	assert.ErrorIs(t, s.MarkFailed(ctx, 999, 1, "x", nil), ErrNotFound)
	assert.Len(t, s.Logs(), 1)
}

func TestMemoryStore_MarkCancelled_OnlyFromOpenStates(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	pending := s.AddScheduled(model.ScheduledMessage{Status: model.Pending})
	failed := s.AddScheduled(model.ScheduledMessage{Status: model.Failed})
	sent := s.AddScheduled(model.ScheduledMessage{Status: model.Sent})

	for _, id := range []int64{pending.ID, failed.ID, sent.ID, 999} {
		require.NoError(t, s.MarkCancelled(ctx, id))
	}

	got, _ := s.Message(pending.ID)
	assert.Equal(t, model.Cancelled, got.Status)
	got, _ = s.Message(failed.ID)
	assert.Equal(t, model.Cancelled, got.Status)
	got, _ = s.Message(sent.ID)
	assert.Equal(t, model.Sent, got.Status)
}

func TestMemoryStore_HasPendingBetween_HalfOpen(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(72 * time.Hour)

	s.AddScheduled(model.ScheduledMessage{RecipientID: 1, Status: model.Pending, ScheduledTime: to})
	s.AddScheduled(model.ScheduledMessage{RecipientID: 2, Status: model.Pending, ScheduledTime: from})
	s.AddScheduled(model.ScheduledMessage{RecipientID: 3, Status: model.Sent, ScheduledTime: from.Add(time.Hour)})

	ok, err := s.HasPendingBetween(ctx, 1, from, to)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.HasPendingBetween(ctx, 2, from, to)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.HasPendingBetween(ctx, 3, from, to)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_DeletesAreStrictlyBefore(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	cutoff := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

	s.AddScheduled(model.ScheduledMessage{CreatedAt: cutoff.Add(-time.Second)})
	s.AddScheduled(model.ScheduledMessage{CreatedAt: cutoff})
	s.AddLog(model.MessageLog{SentAt: cutoff.Add(-time.Second)})
	s.AddLog(model.MessageLog{SentAt: cutoff})

	expiring, err := s.ListLogsBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Len(t, expiring, 1)

	n, err := s.DeleteScheduledBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.DeleteLogsBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	assert.Len(t, s.Messages(), 1)
	assert.Len(t, s.Logs(), 1)
}

func TestMemoryStore_ListSent_Paginates(t *testing.T) {
	s := NewMemoryStore()
	base := time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)

	for i := range 5 {
		at := base.Add(time.Duration(i) * time.Minute)
		s.AddScheduled(model.ScheduledMessage{Status: model.Sent, SentAt: &at})
	}
	s.AddScheduled(model.ScheduledMessage{Status: model.Pending})

	page, err := s.ListSent(context.Background(), 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(4), page[0].ID)
	assert.Equal(t, int64(3), page[1].ID)

	empty, err := s.ListSent(context.Background(), 2, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryStore_RecentOutboundContents(t *testing.T) {
	s := NewMemoryStore()
	since := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	s.AddLog(model.MessageLog{RecipientID: 1, Direction: model.Outbound, Content: "second", SentAt: since.Add(2 * time.Hour)})
	s.AddLog(model.MessageLog{RecipientID: 1, Direction: model.Outbound, Content: "first", SentAt: since})
	s.AddLog(model.MessageLog{RecipientID: 1, Direction: model.Inbound, Content: "reply", SentAt: since.Add(time.Hour)})
	s.AddLog(model.MessageLog{RecipientID: 1, Direction: model.Outbound, Content: "old", SentAt: since.Add(-time.Second)})
	s.AddLog(model.MessageLog{RecipientID: 2, Direction: model.Outbound, Content: "other", SentAt: since})

	got, err := s.RecentOutboundContents(context.Background(), 1, since)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, got)
}

func TestMemoryStore_HasPendingBetween_IgnoresOverdueAndFailedRows(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	s.AddScheduled(model.ScheduledMessage{RecipientID: 1, Status: model.Pending, ScheduledTime: now.Add(-time.Minute)})
	s.AddScheduled(model.ScheduledMessage{RecipientID: 2, Status: model.Failed, RetryCount: 1, ScheduledTime: now.Add(time.Hour)})

	for _, id := range []int64{1, 2} {
		ok, err := s.HasPendingBetween(ctx, id, now, now.Add(72*time.Hour))
		require.NoError(t, err)
		assert.False(t, ok, "recipient %d", id)
	}
}
