package model

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockModel is a scriptable ChatModel for tests and offline development.
//
// Responses are matched by substring against the last user message, in
// registration order; unmatched requests fall back to Default. Every call
// is recorded for later assertion.
type MockModel struct {
	mu      sync.Mutex
	rules   []mockRule
	calls   [][]Message
	Default string
}

type mockRule struct {
	substr string
	reply  string
}

// NewMockModel creates a MockModel with the given fallback reply.
func NewMockModel(fallback string) *MockModel {
	return &MockModel{Default: fallback}
}

// Respond registers a reply for requests whose last user message contains
// substr. Rules match in registration order.
func (m *MockModel) Respond(substr, reply string) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, mockRule{substr: substr, reply: reply})
	return m
}

// Chat implements ChatModel.
func (m *MockModel) Chat(ctx context.Context, messages []Message) (ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return ChatOut{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	recorded := make([]Message, len(messages))
	copy(recorded, messages)
	m.calls = append(m.calls, recorded)

	last := lastUserContent(messages)
	for _, rule := range m.rules {
		if strings.Contains(last, rule.substr) {
			return ChatOut{Text: rule.reply}, nil
		}
	}
	if m.Default == "" {
		return ChatOut{}, fmt.Errorf("mock model: no rule matched %q", last)
	}
	return ChatOut{Text: m.Default}, nil
}

// Calls returns every recorded conversation in call order.
func (m *MockModel) Calls() [][]Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([][]Message, len(m.calls))
	copy(out, m.calls)
	return out
}

func lastUserContent(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i].Content
		}
	}
	return ""
}
