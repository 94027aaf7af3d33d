package repo

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/LeventeLantos/daily-messaging/internal/model"
)

// MemoryStore keeps everything in process memory. Commits are immediate and
// each multi-row operation is applied atomically under a single lock.
type MemoryStore struct {
	mu sync.Mutex

	recipients  map[int64]model.Recipient
	preferences map[int64]model.Preferences
	scheduled   map[int64]model.ScheduledMessage
	logs        map[int64]model.MessageLog

	nextRecipientID int64
	nextMessageID   int64
	nextLogID       int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		recipients:  make(map[int64]model.Recipient),
		preferences: make(map[int64]model.Preferences),
		scheduled:   make(map[int64]model.ScheduledMessage),
		logs:        make(map[int64]model.MessageLog),
	}
}

// AddRecipient stores r, assigning an ID when r.ID is zero.
func (s *MemoryStore) AddRecipient(r model.Recipient) (model.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.recipients {
		if existing.PhoneNumber == r.PhoneNumber && existing.ID != r.ID {
			return model.Recipient{}, errors.New("phone number already registered")
		}
	}
	if r.ID == 0 {
		s.nextRecipientID++
		r.ID = s.nextRecipientID
	} else if r.ID > s.nextRecipientID {
		s.nextRecipientID = r.ID
	}
	s.recipients[r.ID] = r
	return r, nil
}

func (s *MemoryStore) SetActive(id int64, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.recipients[id]; ok {
		r.Active = active
		s.recipients[id] = r
	}
}

func (s *MemoryStore) SetPreferences(recipientID int64, p model.Preferences) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preferences[recipientID] = p
}

// AddScheduled stores m as-is, assigning an ID when m.ID is zero.
func (s *MemoryStore) AddScheduled(m model.ScheduledMessage) model.ScheduledMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == 0 {
		s.nextMessageID++
		m.ID = s.nextMessageID
	} else if m.ID > s.nextMessageID {
		s.nextMessageID = m.ID
	}
	s.scheduled[m.ID] = m
	return m
}

func (s *MemoryStore) AddLog(l model.MessageLog) model.MessageLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLog(l)
}

func (s *MemoryStore) Message(id int64) (model.ScheduledMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.scheduled[id]
	return m, ok
}

// Messages returns every scheduled message ordered by ID.
func (s *MemoryStore) Messages() []model.ScheduledMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.ScheduledMessage, 0, len(s.scheduled))
	for _, m := range s.scheduled {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Logs returns every message log ordered by ID.
func (s *MemoryStore) Logs() []model.MessageLog {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.MessageLog, 0, len(s.logs))
	for _, l := range s.logs {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryStore) ListActiveRecipients(ctx context.Context) ([]model.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Recipient
	for _, r := range s.recipients {
		if r.Active {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetRecipient(ctx context.Context, id int64) (model.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.recipients[id]
	if !ok {
		return model.Recipient{}, ErrNotFound
	}
	return r, nil
}

func (s *MemoryStore) UpdateRecipientTimezone(ctx context.Context, id int64, timezone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.recipients[id]
	if !ok {
		return ErrNotFound
	}
	r.Timezone = timezone
	r.UpdatedAt = time.Now().UTC()
	s.recipients[id] = r
	return nil
}

func (s *MemoryStore) LoadPreferences(ctx context.Context) (map[int64]model.Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[int64]model.Preferences, len(s.preferences))
	for id, p := range s.preferences {
		out[id] = p
	}
	return out, nil
}

func (s *MemoryStore) HasPendingBetween(ctx context.Context, recipientID int64, from, to time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.scheduled {
		if m.RecipientID != recipientID || m.Status != model.Pending {
			continue
		}
		if !m.ScheduledTime.Before(from) && m.ScheduledTime.Before(to) {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) RecentOutboundContents(ctx context.Context, recipientID int64, since time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var logs []model.MessageLog
	for _, l := range s.logs {
		if l.RecipientID == recipientID && l.Direction == model.Outbound && !l.SentAt.Before(since) {
			logs = append(logs, l)
		}
	}
	sort.Slice(logs, func(i, j int) bool { return logs[i].SentAt.Before(logs[j].SentAt) })

	out := make([]string, 0, len(logs))
	for _, l := range logs {
		out = append(out, l.Content)
	}
	return out, nil
}

func (s *MemoryStore) InsertScheduled(ctx context.Context, msgs []model.ScheduledMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range msgs {
		s.nextMessageID++
		msgs[i].ID = s.nextMessageID
		s.scheduled[msgs[i].ID] = msgs[i]
	}
	return nil
}

func (s *MemoryStore) ListDue(ctx context.Context, now time.Time, maxRetries, limit int) ([]model.ScheduledMessage, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.ScheduledMessage
	for _, m := range s.scheduled {
		if m.ScheduledTime.After(now) || m.Content == nil {
			continue
		}
		if m.Status == model.Pending || m.RetryEligible(maxRetries) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledTime.Before(out[j].ScheduledTime) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) MarkSent(ctx context.Context, id int64, sentAt time.Time, entry model.MessageLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.scheduled[id]
	if !ok {
		return ErrNotFound
	}
	s.appendLog(entry)
	t := sentAt.UTC()
	m.Status = model.Sent
	m.SentAt = &t
	m.ErrorMessage = nil
	s.scheduled[id] = m
	return nil
}

func (s *MemoryStore) MarkFailed(ctx context.Context, id int64, retryCount int, errMsg string, entry *model.MessageLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.scheduled[id]
	if !ok {
		return ErrNotFound
	}
	if entry != nil {
		s.appendLog(*entry)
	}
	m.Status = model.Failed
	m.RetryCount = retryCount
	m.ErrorMessage = &errMsg
	s.scheduled[id] = m
	return nil
}

func (s *MemoryStore) MarkCancelled(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.scheduled[id]
	if !ok {
		return nil
	}
	if m.Status == model.Pending || m.Status == model.Failed {
		m.Status = model.Cancelled
		s.scheduled[id] = m
	}
	return nil
}

func (s *MemoryStore) ListSent(ctx context.Context, limit, offset int) ([]model.ScheduledMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.ScheduledMessage
	for _, m := range s.scheduled {
		if m.Status == model.Sent {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SentAt.After(*out[j].SentAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListLogsBefore(ctx context.Context, cutoff time.Time) ([]model.MessageLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.MessageLog
	for _, l := range s.logs {
		if l.SentAt.Before(cutoff) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) DeleteScheduledBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, m := range s.scheduled {
		if m.CreatedAt.Before(cutoff) {
			delete(s.scheduled, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, l := range s.logs {
		if l.SentAt.Before(cutoff) {
			delete(s.logs, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) appendLog(l model.MessageLog) model.MessageLog {
	if l.ID == 0 {
		s.nextLogID++
		l.ID = s.nextLogID
	} else if l.ID > s.nextLogID {
		s.nextLogID = l.ID
	}
	s.logs[l.ID] = l
	return l
}
