// Package cache keeps a short-lived record of delivered messages so the
// admin API can answer delivery lookups without touching the database.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned when no delivery is cached for a message.
var ErrMiss = errors.New("cache miss")

// Delivery is what the gateway told us about a sent message.
type Delivery struct {
	RemoteMessageID string    `json:"remoteMessageId"`
	SentAt          time.Time `json:"sentAt"`
}

type MessageCache interface {
	StoreSent(ctx context.Context, internalID int64, remoteMessageID string, sentAt time.Time) error
	Lookup(ctx context.Context, internalID int64) (Delivery, error)
}
