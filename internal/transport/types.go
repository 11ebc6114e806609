package transport

import (
	"context"
	"errors"
)

// ErrChannelNotFound is returned by Session.LookupChannel when a channel name
// cannot be resolved to a chat the bot can post to.
var ErrChannelNotFound = errors.New("channel not found")

type UpdateKind string

const (
	UpdateMessage     UpdateKind = "message"
	UpdateChannelPost UpdateKind = "channel_post"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
	// Name is the configured channel name this target was resolved from (may be empty).
	Name string
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	Silent         bool
}

// Identity is the session's own account. Messages whose sender matches it are echoes.
type Identity struct {
	ID       int64
	Username string
}

// Sender is the send-only slice of a Session.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// Session is a connected chat account.
//
// Ready is closed once the session is connected and Identity is valid.
// Incoming updates are delivered to the channel passed to Start without blocking.
type Session interface {
	Sender

	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	Ready() <-chan struct{}
	Identity() Identity

	LookupChannel(ctx context.Context, name string) (ChatTarget, error)
}
