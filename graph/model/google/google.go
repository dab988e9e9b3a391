// Package google adapts Google's Gemini API to model.ChatModel.
package google

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/mhollis/flowstate/graph/model"
)

// DefaultModel is used when no model name is given.
const DefaultModel = "gemini-1.5-pro"

// ChatModel implements model.ChatModel for Gemini.
//
// Gemini separates the system instruction from the chat history and takes
// the final user message as the generation prompt; the adapter maps the
// generic conversation shape onto that structure.
//
//	m, err := google.NewChatModel(ctx, os.Getenv("GOOGLE_API_KEY"), "")
//	if err != nil { ... }
//	defer m.Close()
type ChatModel struct {
	modelName string
	client    *genai.Client
	generate  generateFunc
}

// generateFunc is the generation call, split out so tests can substitute a
// fake without a live client.
type generateFunc func(ctx context.Context, system string, history []model.Message, prompt string) (string, error)

// NewChatModel creates a Gemini-backed ChatModel. An empty modelName
// selects DefaultModel. Unlike the other providers, client construction can
// fail, so this constructor returns an error.
func NewChatModel(ctx context.Context, apiKey, modelName string) (*ChatModel, error) {
	if modelName == "" {
		modelName = DefaultModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("google: failed to create client: %w", err)
	}

	m := &ChatModel{modelName: modelName, client: client}
	m.generate = m.generateLive
	return m, nil
}

// Close releases the underlying client.
func (m *ChatModel) Close() error {
	if m.client == nil {
		return nil
	}
	return m.client.Close()
}

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}
	if len(messages) == 0 {
		return model.ChatOut{}, errors.New("google: no messages")
	}

	var (
		system  string
		history []model.Message
		prompt  string
	)
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			if system != "" {
				system += "\n"
			}
			system += msg.Content
		case model.RoleUser, model.RoleAssistant:
			history = append(history, msg)
		default:
			return model.ChatOut{}, fmt.Errorf("google: unsupported role %q", msg.Role)
		}
	}

	if len(history) == 0 || history[len(history)-1].Role != model.RoleUser {
		return model.ChatOut{}, errors.New("google: conversation must end with a user message")
	}
	prompt = history[len(history)-1].Content
	history = history[:len(history)-1]

	text, err := m.generate(ctx, system, history, prompt)
	if err != nil {
		return model.ChatOut{}, err
	}
	return model.ChatOut{Text: text}, nil
}

func (m *ChatModel) generateLive(ctx context.Context, system string, history []model.Message, prompt string) (string, error) {
	gm := m.client.GenerativeModel(m.modelName)
	if system != "" {
		gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}

	session := gm.StartChat()
	for _, msg := range history {
		role := "user"
		if msg.Role == model.RoleAssistant {
			role = "model"
		}
		session.History = append(session.History, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(msg.Content)},
		})
	}

	resp, err := session.SendMessage(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("google: %w", err)
	}

	return collectText(resp), nil
}

func collectText(resp *genai.GenerateContentResponse) string {
	var text string
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text += string(t)
			}
		}
	}
	return text
}
