// Package ratelimit provides process-wide admission control for the two
// external dependencies: the content generator (token and request budgets per
// fixed 60-second window) and the SMS gateway (minimum spacing between sends
// and a per-calendar-day ceiling).
//
// A Limiter is built once at startup and shared by every engine. Its state is
// in-process only; two scheduler processes each get their own budget.
package ratelimit

import (
	"sync"
	"time"
)

const contentWindow = time.Minute

type Config struct {
	TokensPerMinute   int
	RequestsPerMinute int
	SMSPerSecond      int
	SMSPerDay         int
}

// DefaultConfig mirrors the provider quotas the service was tuned against.
func DefaultConfig() Config {
	return Config{
		TokensPerMinute:   20000,
		RequestsPerMinute: 100,
		SMSPerSecond:      5,
		SMSPerDay:         2000,
	}
}

type Limiter struct {
	mu  sync.Mutex
	cfg Config
	now func() time.Time
	loc *time.Location

	windowStart  time.Time
	tokensUsed   int
	requestsUsed int

	lastSMS  time.Time
	smsDay   string
	smsCount int
}

type Option func(*Limiter)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithLocation sets the location whose calendar day bounds the daily SMS
// ceiling. Defaults to time.Local.
func WithLocation(loc *time.Location) Option {
	return func(l *Limiter) { l.loc = loc }
}

func New(cfg Config, opts ...Option) *Limiter {
	l := &Limiter{
		cfg: cfg,
		now: time.Now,
		loc: time.Local,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.windowStart = l.now()
	l.smsDay = dayKey(l.windowStart.In(l.loc))
	return l
}

// CheckContentBudget debits estimatedTokens and one request if both fit in
// the current window. It never blocks.
func (l *Limiter) CheckContentBudget(estimatedTokens int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.windowStart) >= contentWindow {
		l.tokensUsed = 0
		l.requestsUsed = 0
		l.windowStart = now
	}

	if l.tokensUsed+estimatedTokens > l.cfg.TokensPerMinute ||
		l.requestsUsed+1 > l.cfg.RequestsPerMinute {
		return false
	}

	l.tokensUsed += estimatedTokens
	l.requestsUsed++
	return true
}

// CheckSmsBudget accepts one send if the minimum spacing since the last
// accepted send has elapsed and today's ceiling is not reached. It never
// blocks.
func (l *Limiter) CheckSmsBudget() bool {
	ok, _ := l.TrySms()
	return ok
}

// TrySms is CheckSmsBudget that also reports, on a spacing rejection, how
// long until the next send would be admitted. The wait is zero when the
// daily ceiling is what blocks the send.
func (l *Limiter) TrySms() (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if day := dayKey(now.In(l.loc)); day != l.smsDay {
		l.smsDay = day
		l.smsCount = 0
	}

	if l.smsCount >= l.cfg.SMSPerDay {
		return false, 0
	}
	if !l.lastSMS.IsZero() {
		if since := now.Sub(l.lastSMS); since < l.minSpacing() {
			return false, l.minSpacing() - since
		}
	}

	l.lastSMS = now
	l.smsCount++
	return true, 0
}

// Snapshot reports current usage for status endpoints.
type Snapshot struct {
	TokensUsed   int       `json:"tokensUsed"`
	RequestsUsed int       `json:"requestsUsed"`
	WindowStart  time.Time `json:"windowStart"`
	SMSToday     int       `json:"smsToday"`
	LastSMS      time.Time `json:"lastSms"`
}

func (l *Limiter) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Snapshot{
		TokensUsed:   l.tokensUsed,
		RequestsUsed: l.requestsUsed,
		WindowStart:  l.windowStart,
		SMSToday:     l.smsCount,
		LastSMS:      l.lastSMS,
	}
}

func (l *Limiter) minSpacing() time.Duration {
	if l.cfg.SMSPerSecond <= 0 {
		return 0
	}
	return time.Second / time.Duration(l.cfg.SMSPerSecond)
}

func dayKey(t time.Time) string {
	return t.Format(time.DateOnly)
}
