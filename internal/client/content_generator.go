package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sony/gobreaker/v2"

	"github.com/LeventeLantos/daily-messaging/internal/model"
)

const (
	systemPrompt = "You are a positive, encouraging friend who sends uplifting messages."
	basePrompt   = "Generate a short, unique, and uplifting message for today. " +
		"Keep it under %d characters, personal, and inspiring. " +
		"Don't use hashtags or emojis."
)

var defaultFallbacks = []string{
	"Believe in yourself! Every day is a new opportunity to shine.",
	"You are stronger than you know and braver than you believe.",
	"Today is full of endless possibilities. Make it amazing!",
	"Your potential is limitless. Keep pushing forward!",
	"You've got this! Today is your day to be awesome.",
}

// ContentAdmission reserves generation budget before a call.
type ContentAdmission interface {
	AcquireContent(ctx context.Context, estimatedTokens int) error
}

type ChatConfig struct {
	URL             string
	APIKey          string
	Model           string
	EstimatedTokens int
	MaxChars        int
	Timeout         time.Duration
}

// ChatGenerator produces message bodies from an OpenAI-compatible chat
// completions endpoint. It never fails: any problem yields a fallback text.
type ChatGenerator struct {
	cfg       ChatConfig
	client    *http.Client
	breaker   *gobreaker.CircuitBreaker[string]
	admission ContentAdmission
	fallbacks []string
	intn      func(n int) int
	logger    *slog.Logger
}

type ChatOption func(*ChatGenerator)

func WithAdmission(a ContentAdmission) ChatOption {
	return func(g *ChatGenerator) { g.admission = a }
}

func WithFallbacks(msgs []string) ChatOption {
	return func(g *ChatGenerator) { g.fallbacks = msgs }
}

func WithRandom(intn func(n int) int) ChatOption {
	return func(g *ChatGenerator) { g.intn = intn }
}

func WithLogger(logger *slog.Logger) ChatOption {
	return func(g *ChatGenerator) { g.logger = logger }
}

func NewChatGenerator(cfg ChatConfig, opts ...ChatOption) *ChatGenerator {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.EstimatedTokens <= 0 {
		cfg.EstimatedTokens = 300
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = 160
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	g := &ChatGenerator{
		cfg:       cfg,
		client:    &http.Client{Timeout: cfg.Timeout},
		breaker:   newBreaker[string]("content-generator", completionHealthy),
		fallbacks: defaultFallbacks,
		intn:      rand.IntN,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *ChatGenerator) Generate(ctx context.Context, gc model.GenerationContext) string {
	if g.cfg.URL == "" {
		return g.fallback()
	}

	msg, err := g.generate(ctx, gc)
	if err != nil {
		g.logger.WarnContext(ctx, "content generation failed, using fallback", "error", err)
		return g.fallback()
	}
	return msg
}

func (g *ChatGenerator) generate(ctx context.Context, gc model.GenerationContext) (string, error) {
	if g.admission != nil {
		if err := g.admission.AcquireContent(ctx, g.cfg.EstimatedTokens); err != nil {
			return "", err
		}
	}

	raw, err := g.breaker.Execute(func() (string, error) {
		return g.complete(ctx, g.prompt(gc))
	})
	if err != nil {
		return "", err
	}

	msg := Clean(raw, g.cfg.MaxChars)
	if msg == "" {
		return "", errors.New("empty message received from api")
	}
	return msg, nil
}

func (g *ChatGenerator) prompt(gc model.GenerationContext) string {
	p := fmt.Sprintf(basePrompt, g.cfg.MaxChars)
	if len(gc.PreviousMessages) > 0 {
		p += " Make it different from these recent messages: " + strings.Join(quoteAll(gc.PreviousMessages), ", ")
	}
	return p
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	TopP        float64       `json:"top_p"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (g *ChatGenerator) complete(ctx context.Context, prompt string) (string, error) {
	reqBody, err := json.Marshal(chatRequest{
		Model: g.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   100,
		Temperature: 0.7,
		TopP:        0.9,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.URL, bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return "", &GatewayError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var cr chatResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return "", fmt.Errorf("failed to decode json: %w", err)
	}
	if len(cr.Choices) == 0 {
		return "", errors.New("no choices in response")
	}
	return cr.Choices[0].Message.Content, nil
}

// completionHealthy treats rejected credentials as failures so a revoked key
// opens the breaker. Other client errors describe the request.
func completionHealthy(err error) bool {
	var ge *GatewayError
	if errors.As(err, &ge) {
		switch ge.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return false
		}
		return ge.StatusCode >= 400 && ge.StatusCode < 500 && ge.Permanent()
	}
	return err == nil || errors.Is(err, context.Canceled)
}

func (g *ChatGenerator) fallback() string {
	if len(g.fallbacks) == 0 {
		return defaultFallbacks[g.intn(len(defaultFallbacks))]
	}
	return g.fallbacks[g.intn(len(g.fallbacks))]
}

// Clean collapses whitespace, strips surrounding quotes and truncates to
// maxChars runes with a trailing "...".
func Clean(msg string, maxChars int) string {
	msg = strings.Join(strings.Fields(msg), " ")
	msg = strings.TrimSpace(strings.Trim(msg, `"`))
	if utf8.RuneCountInString(msg) > maxChars {
		r := []rune(msg)
		if maxChars <= 3 {
			return string(r[:max(maxChars, 0)])
		}
		msg = string(r[:maxChars-3]) + "..."
	}
	return msg
}

func quoteAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = fmt.Sprintf("%q", s)
	}
	return out
}
