// Package core ties the bot together: the session controller that gates
// every incoming message (authorization, then rate limit, then handler),
// the command registry, and the App wiring.
package core

import (
	"errors"

	kit "guardbot/internal/transport"
)

var (
	// ErrUnauthorized marks a sender outside the authorized set.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrRateLimited marks a sender inside their rate-limit window.
	ErrRateLimited = errors.New("rate limited")
	// ErrExternalService marks an upstream (AI backend) failure.
	ErrExternalService = errors.New("external service failed")
)

// Request carries one incoming message through the middleware chain.
type Request struct {
	Update   kit.Update
	Chat     kit.ChatTarget
	FromID   int64
	Username string

	// Command is the matched route ("start", "grant", ... or "chat.text"
	// for plain text in chatting mode). Args are the tokens after it.
	Command string
	Args    []string
	Text    string
}

// Access levels for registered commands.
type Access int

const (
	AccessEveryone Access = iota
	AccessAuthorized
	AccessAdminOnly
)

type Command struct {
	Route       string
	Description string
	Usage       string
	Access      Access
	Handle      HandlerFunc
}
