// Package anthropic adapts Anthropic's Claude API to model.ChatModel.
package anthropic

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/mhollis/flowstate/graph/model"
)

// DefaultModel is used when no model name is given.
const DefaultModel = "claude-sonnet-4-20250514"

const defaultMaxTokens = 4096

// ChatModel implements model.ChatModel for the Anthropic Messages API.
//
// Anthropic takes the system prompt as a separate request parameter rather
// than a message role; the adapter extracts system messages and folds the
// rest into the conversation.
//
//	m := anthropic.NewChatModel(os.Getenv("ANTHROPIC_API_KEY"), "")
//	out, err := m.Chat(ctx, messages)
type ChatModel struct {
	modelName string
	client    messagesClient
}

// messagesClient is the slice of the SDK the adapter uses, split out so
// tests can substitute a fake.
type messagesClient interface {
	create(ctx context.Context, params sdk.MessageNewParams) (*sdk.Message, error)
}

type sdkClient struct {
	client sdk.Client
}

func (c *sdkClient) create(ctx context.Context, params sdk.MessageNewParams) (*sdk.Message, error) {
	return c.client.Messages.New(ctx, params)
}

// NewChatModel creates a Claude-backed ChatModel. An empty modelName
// selects DefaultModel.
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = DefaultModel
	}
	return &ChatModel{
		modelName: modelName,
		client:    &sdkClient{client: sdk.NewClient(option.WithAPIKey(apiKey))},
	}
}

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}
	if len(messages) == 0 {
		return model.ChatOut{}, errors.New("anthropic: no messages")
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(m.modelName),
		MaxTokens: defaultMaxTokens,
	}

	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			params.System = append(params.System, sdk.TextBlockParam{Text: msg.Content})
		case model.RoleUser:
			params.Messages = append(params.Messages, sdk.NewUserMessage(sdk.NewTextBlock(msg.Content)))
		case model.RoleAssistant:
			params.Messages = append(params.Messages, sdk.NewAssistantMessage(sdk.NewTextBlock(msg.Content)))
		default:
			return model.ChatOut{}, fmt.Errorf("anthropic: unsupported role %q", msg.Role)
		}
	}

	resp, err := m.client.create(ctx, params)
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("anthropic: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return model.ChatOut{Text: text}, nil
}
