package transport

import "context"

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	DeleteMessage(ctx context.Context, ref MessageRef) error
}

// DirectSender is an optional interface for adapters that can deliver a
// message through the platform's HTTP API directly, bypassing the client
// library. Used as a fallback delivery strategy.
type DirectSender interface {
	SendTextDirect(ctx context.Context, to ChatTarget, text string) error
}
