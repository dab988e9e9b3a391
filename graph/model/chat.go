// Package model provides chat model adapters for workflow nodes that
// generate content. The engine itself never touches these; nodes own their
// collaborators.
package model

import "context"

// Standard role constants, aligned with the conventions of the major
// providers.
const (
	// RoleSystem sets context or instructions, typically first.
	RoleSystem = "system"

	// RoleUser carries human input.
	RoleUser = "user"

	// RoleAssistant carries model output.
	RoleAssistant = "assistant"
)

// Message is one turn in a chat conversation.
type Message struct {
	// Role is one of the Role* constants.
	Role string

	// Content is the message text.
	Content string
}

// ChatOut is the model's response to a chat completion request.
type ChatOut struct {
	// Text is the generated response.
	Text string
}

// ChatModel abstracts the differences between chat completion providers
// behind one call.
//
// Implementations must respect context cancellation and translate
// provider-specific errors into ordinary Go errors the caller can wrap.
//
//	m := anthropic.NewChatModel(os.Getenv("ANTHROPIC_API_KEY"), "")
//	out, err := m.Chat(ctx, []model.Message{
//	    {Role: model.RoleSystem, Content: "You are a debate coach."},
//	    {Role: model.RoleUser, Content: topic},
//	})
type ChatModel interface {
	// Chat sends the conversation and returns the model's reply.
	Chat(ctx context.Context, messages []Message) (ChatOut, error)
}
