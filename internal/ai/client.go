// Package ai wraps the chat-completion backend behind a small client.
//
// The backend is OpenAI-compatible; BaseURL points it at any provider
// speaking the same wire protocol. Callers get a single opaque error on
// failure so user-facing text never leaks provider details.
package ai

import (
	"context"
	"errors"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"guardbot/internal/memory"
	"guardbot/pkg/logx"
)

// ErrUnavailable is what callers see for any backend failure. The real
// cause goes to the log only.
var ErrUnavailable = errors.New("ai: backend unavailable")

const systemPrompt = "You are a helpful assistant for a small private chat bot. " +
	"Answer concisely and stay on topic."

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

type Client struct {
	api     *openai.Client
	model   string
	timeout time.Duration
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) *Client {
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return &Client{
		api:     openai.NewClientWithConfig(oc),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		log:     log,
	}
}

// Complete sends the shared history plus the new question and returns the
// assistant's reply. The conversation is not mutated; the caller appends
// the exchange after a successful delivery.
func (c *Client) Complete(ctx context.Context, conv *memory.Conversation, question string) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, conv.Size()+2)
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})
	for _, turn := range conv.Snapshot() {
		role := openai.ChatMessageRoleUser
		if turn.Role == memory.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: turn.Text})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: question,
	})

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: msgs,
	})
	if err != nil {
		c.log.Error("chat completion failed",
			logx.String("model", c.model),
			logx.Duration("elapsed", time.Since(start)),
			logx.Err(err))
		return "", ErrUnavailable
	}
	if len(resp.Choices) == 0 {
		c.log.Error("chat completion returned no choices", logx.String("model", c.model))
		return "", ErrUnavailable
	}
	answer := strings.TrimSpace(resp.Choices[0].Message.Content)
	if answer == "" {
		return "", ErrUnavailable
	}
	c.log.Debug("chat completion ok",
		logx.String("model", c.model),
		logx.Int("history_turns", conv.Size()),
		logx.Duration("elapsed", time.Since(start)))
	return answer, nil
}

// Model reports the configured model name, for /status output.
func (c *Client) Model() string { return c.model }
