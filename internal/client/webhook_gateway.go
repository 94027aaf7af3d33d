package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

// GatewayError is a response from the SMS gateway other than a well-formed
// acceptance.
type GatewayError struct {
	StatusCode int
	Body       string
	Reason     string
}

func (e *GatewayError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s (status %d) body=%q", e.Reason, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("unexpected status code: %d body=%q", e.StatusCode, e.Body)
}

// Permanent reports whether resending the same request cannot succeed.
// Any 2xx other than a well-formed 202 is permanent: the gateway may already
// have queued the message.
func (e *GatewayError) Permanent() bool {
	switch {
	case e.StatusCode >= 200 && e.StatusCode < 300:
		return true
	case e.StatusCode == http.StatusTooManyRequests, e.StatusCode == http.StatusRequestTimeout:
		return false
	default:
		return e.StatusCode >= 400 && e.StatusCode < 500
	}
}

type WebhookGateway struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[string]
}

func NewWebhookGateway(url string, timeout time.Duration) *WebhookGateway {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookGateway{
		url: url,
		client: &http.Client{
			Timeout: timeout,
		},
		breaker: newBreaker[string]("sms-gateway", gatewayHealthy),
	}
}

// newBreaker trips after more than five consecutive failures as judged by
// isSuccessful.
func newBreaker[T any](name string, isSuccessful func(err error) bool) *gobreaker.CircuitBreaker[T] {
	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: isSuccessful,
	})
}

// gatewayHealthy counts permanent rejections as successes: they describe the
// request, not the gateway.
func gatewayHealthy(err error) bool {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Permanent()
	}
	return err == nil || errors.Is(err, context.Canceled)
}

type sendRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Message     string `json:"message"`
}

type sendResponse struct {
	Message   string `json:"message"`
	MessageID string `json:"messageId"`
}

// Send posts one message and returns the gateway's messageId.
func (c *WebhookGateway) Send(ctx context.Context, phoneNumber, message string) (string, error) {
	return c.breaker.Execute(func() (string, error) {
		return c.send(ctx, phoneNumber, message)
	})
}

func (c *WebhookGateway) send(ctx context.Context, phoneNumber, message string) (string, error) {
	reqBody, err := json.Marshal(sendRequest{
		PhoneNumber: phoneNumber,
		Message:     message,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode != http.StatusAccepted {
		return "", &GatewayError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var sr sendResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return "", &GatewayError{StatusCode: resp.StatusCode, Body: string(body), Reason: "failed to decode json: " + err.Error()}
	}
	if sr.MessageID == "" {
		return "", &GatewayError{StatusCode: resp.StatusCode, Body: string(body), Reason: "missing messageId in response"}
	}

	return sr.MessageID, nil
}
