package dispatch

import (
	"context"
	"errors"

	"github.com/LeventeLantos/daily-messaging/internal/model"
	"github.com/LeventeLantos/daily-messaging/internal/ratelimit"
)

type Outcome int

const (
	Success Outcome = iota
	RetryableFailure
	TerminalFailure
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case RetryableFailure:
		return "retryable"
	case TerminalFailure:
		return "terminal"
	default:
		return "unknown"
	}
}

// SendResult is the classified result of one delivery attempt.
type SendResult struct {
	Outcome           Outcome
	ProviderMessageID string
	Err               error
	// Reached is true when the gateway answered, which is what earns the
	// attempt a MessageLog row.
	Reached bool
}

// gatewayAnswer is implemented by errors that carry a gateway response.
type gatewayAnswer interface {
	error
	Permanent() bool
}

// Classify turns a gateway return into a SendResult.
func Classify(providerID string, err error) SendResult {
	if err == nil {
		return SendResult{Outcome: Success, ProviderMessageID: providerID, Reached: true}
	}

	var answer gatewayAnswer
	switch {
	case errors.As(err, &answer):
		outcome := RetryableFailure
		if answer.Permanent() {
			outcome = TerminalFailure
		}
		return SendResult{Outcome: outcome, Err: err, Reached: true}
	case errors.Is(err, ratelimit.ErrRateLimited),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return SendResult{Outcome: RetryableFailure, Err: err}
	default:
		// transport errors: the gateway may or may not have seen the request
		return SendResult{Outcome: RetryableFailure, Err: err}
	}
}

// Transition is the bookkeeping a SendResult implies for a message.
type Transition struct {
	Status     model.Status
	RetryCount int
}

// Terminal reports whether the message will never be selected again.
func (t Transition) Terminal(maxRetries int) bool {
	return t.Status != model.Failed || t.RetryCount >= maxRetries
}

// Next computes the message state after an attempt. retry_count never
// exceeds maxRetries, and a terminal failure jumps straight to it.
func Next(retryCount int, outcome Outcome, maxRetries int) Transition {
	switch outcome {
	case Success:
		return Transition{Status: model.Sent, RetryCount: retryCount}
	case TerminalFailure:
		return Transition{Status: model.Failed, RetryCount: maxRetries}
	default:
		return Transition{Status: model.Failed, RetryCount: min(retryCount+1, maxRetries)}
	}
}
