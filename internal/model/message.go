package model

import "time"

type Status string

const (
	Pending   Status = "pending"
	Sent      Status = "sent"
	Failed    Status = "failed"
	Cancelled Status = "cancelled"
)

// DefaultMaxRetries is the number of failed send attempts after which a
// ScheduledMessage is terminally failed.
const DefaultMaxRetries = 3

type Direction string

const (
	Outbound Direction = "outbound"
	Inbound  Direction = "inbound"
)

// ScheduledMessage is one day's message for one recipient. Content is
// attached at scheduling time; a row without content is never dispatched.
type ScheduledMessage struct {
	ID            int64      `json:"id"`
	RecipientID   int64      `json:"recipientId"`
	ScheduledTime time.Time  `json:"scheduledTime"`
	Status        Status     `json:"status"`
	Content       *string    `json:"content,omitempty"`
	RetryCount    int        `json:"retryCount"`
	CreatedAt     time.Time  `json:"createdAt"`
	SentAt        *time.Time `json:"sentAt,omitempty"`
	ErrorMessage  *string    `json:"errorMessage,omitempty"`
}

// RetryEligible reports whether a failed row may still be selected for
// another send attempt.
func (m ScheduledMessage) RetryEligible(maxRetries int) bool {
	return m.Status == Failed && m.RetryCount < maxRetries
}

// MessageLog is the append-only audit record of an attempted send or an
// inbound receipt.
type MessageLog struct {
	ID                int64     `json:"id"`
	RecipientID       int64     `json:"recipientId"`
	Direction         Direction `json:"direction"`
	Content           string    `json:"content"`
	Status            string    `json:"status"`
	SentAt            time.Time `json:"sentAt"`
	ProviderMessageID *string   `json:"providerMessageId,omitempty"`
	ErrorMessage      *string   `json:"errorMessage,omitempty"`
}

const (
	LogStatusSent   = "sent"
	LogStatusFailed = "failed"
)

// GenerationContext is what the content generator sees about a recipient.
type GenerationContext struct {
	PreviousMessages []string
}
