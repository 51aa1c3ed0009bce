// Package memory holds the bot's bounded conversation history.
//
// The history is process-global: every authorized user shares one context.
// That mirrors the deployed behavior and is a known limitation, not an
// accident; keying by user would be a behavior change for existing chats.
package memory

import "sync"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Turn struct {
	Role Role
	Text string
}

// Conversation is an ordered log of turns capped at maxExchanges*2 entries.
// The oldest turns are evicted first when an append exceeds the cap.
type Conversation struct {
	mu           sync.Mutex
	turns        []Turn
	maxExchanges int
}

func New(maxExchanges int) *Conversation {
	if maxExchanges <= 0 {
		maxExchanges = 10
	}
	return &Conversation{maxExchanges: maxExchanges}
}

// Append pushes one exchange (user turn + assistant turn) and evicts from
// the head until the cap holds.
func (c *Conversation) Append(userInput, assistantResponse string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = append(c.turns,
		Turn{Role: RoleUser, Text: userInput},
		Turn{Role: RoleAssistant, Text: assistantResponse},
	)
	limit := c.maxExchanges * 2
	if n := len(c.turns); n > limit {
		c.turns = append(c.turns[:0], c.turns[n-limit:]...)
	}
}

func (c *Conversation) Clear() {
	c.mu.Lock()
	c.turns = nil
	c.mu.Unlock()
}

// Size reports the number of stored turns (not exchanges).
func (c *Conversation) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.turns)
}

// Cap reports the maximum number of stored turns.
func (c *Conversation) Cap() int { return c.maxExchanges * 2 }

// Snapshot returns a copy of the turns, oldest first.
func (c *Conversation) Snapshot() []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Turn(nil), c.turns...)
}
