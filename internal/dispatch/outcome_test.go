package dispatch

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/LeventeLantos/daily-messaging/internal/model"
	"github.com/LeventeLantos/daily-messaging/internal/ratelimit"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		outcome Outcome
		reached bool
	}{
		{"success", nil, Success, true},
		{"retryable answer", &answerErr{status: 429}, RetryableFailure, true},
		{"permanent answer", fmt.Errorf("send: %w", &answerErr{status: 404, permanent: true}), TerminalFailure, true},
		{"rate limited", fmt.Errorf("sms budget: %w", ratelimit.ErrRateLimited), RetryableFailure, false},
		{"cancelled", context.Canceled, RetryableFailure, false},
		{"transport", errors.New("connection refused"), RetryableFailure, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify("id", tt.err)
			assert.Equal(t, tt.outcome, got.Outcome)
			assert.Equal(t, tt.reached, got.Reached)
		})
	}
}

func TestNext(t *testing.T) {
	const maxRetries = 3
	tests := []struct {
		retry    int
		outcome  Outcome
		want     Transition
		terminal bool
	}{
		{0, Success, Transition{model.Sent, 0}, true},
		{2, Success, Transition{model.Sent, 2}, true},
		{0, RetryableFailure, Transition{model.Failed, 1}, false},
		{1, RetryableFailure, Transition{model.Failed, 2}, false},
		{2, RetryableFailure, Transition{model.Failed, 3}, true},
		{3, RetryableFailure, Transition{model.Failed, 3}, true},
		{0, TerminalFailure, Transition{model.Failed, 3}, true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_from_%d", tt.outcome, tt.retry), func(t *testing.T) {
			got := Next(tt.retry, tt.outcome, maxRetries)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.terminal, got.Terminal(maxRetries))
			assert.LessOrEqual(t, got.RetryCount, maxRetries)
		})
	}
}
