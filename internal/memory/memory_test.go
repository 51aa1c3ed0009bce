package memory

import (
	"fmt"
	"testing"
)

func TestAppendAndSize(t *testing.T) {
	t.Parallel()
	c := New(10)
	c.Append("hi", "hello")
	if got := c.Size(); got != 2 {
		t.Fatalf("Size = %d, want 2", got)
	}
}

func TestEvictionKeepsMostRecentExchanges(t *testing.T) {
	t.Parallel()
	const max = 3
	c := New(max)

	for i := 0; i < max+1; i++ {
		c.Append(fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i))
	}

	if got := c.Size(); got != max*2 {
		t.Fatalf("Size = %d, want %d", got, max*2)
	}

	turns := c.Snapshot()
	// Oldest exchange (q0/a0) evicted; q1..q3 retained in order.
	if turns[0].Text != "q1" || turns[0].Role != RoleUser {
		t.Fatalf("head = %+v, want user q1", turns[0])
	}
	if last := turns[len(turns)-1]; last.Text != "a3" || last.Role != RoleAssistant {
		t.Fatalf("tail = %+v, want assistant a3", last)
	}
}

func TestClear(t *testing.T) {
	t.Parallel()
	c := New(5)
	c.Append("q", "a")
	c.Clear()
	if got := c.Size(); got != 0 {
		t.Fatalf("Size after Clear = %d, want 0", got)
	}
}

func TestCap(t *testing.T) {
	t.Parallel()
	if got := New(10).Cap(); got != 20 {
		t.Fatalf("Cap = %d, want 20", got)
	}
}
