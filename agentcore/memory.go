package agentcore

import (
	"fmt"
	"sync"
)

// Memory is the ordered, append-only conversation log. Messages are never
// reordered or deleted during a run; the only wholesale mutation is Replace,
// used when re-seeding from saved history.
//
// Invariant: every tool-role message's ToolCallID must reference a ToolCall
// emitted by an earlier assistant message. Add enforces this on every write.
type Memory struct {
	mu       sync.RWMutex
	messages []Message
	callIDs  map[string]struct{}
}

// NewMemory creates an empty Memory.
func NewMemory() *Memory {
	return &Memory{callIDs: make(map[string]struct{})}
}

// Add appends one message. It fails when a tool message does not reference a
// previously recorded tool call.
func (m *Memory) Add(msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track(msg); err != nil {
		return err
	}
	m.messages = append(m.messages, msg)
	return nil
}

// track validates msg against the tool-call invariant and records any call
// ids it introduces. Caller holds the lock.
func (m *Memory) track(msg Message) error {
	if msg.Role == RoleTool {
		if msg.ToolCallID == "" {
			return fmt.Errorf("memory: tool message for %q is missing a tool call id", msg.Name)
		}
		if _, ok := m.callIDs[msg.ToolCallID]; !ok {
			return fmt.Errorf("memory: tool message references unknown tool call id %q", msg.ToolCallID)
		}
		return nil
	}
	for _, call := range msg.ToolCalls {
		m.callIDs[call.ID] = struct{}{}
	}
	return nil
}

// Replace swaps the entire log wholesale, re-validating the invariant over
// the new history in order.
func (m *Memory) Replace(messages []Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := make([]Message, 0, len(messages))
	ids := make(map[string]struct{})
	prev := m.callIDs
	m.callIDs = ids
	for _, msg := range messages {
		if err := m.track(msg); err != nil {
			m.callIDs = prev
			return err
		}
		next = append(next, msg)
	}
	m.messages = next
	return nil
}

// Messages returns a copy of the log.
func (m *Memory) Messages() []Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// Last returns the most recent message, if any.
func (m *Memory) Last() (Message, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.messages) == 0 {
		return Message{}, false
	}
	return m.messages[len(m.messages)-1], true
}

// Len returns the number of recorded messages.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.messages)
}
