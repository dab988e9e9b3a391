// Package openai adapts OpenAI's chat completions API to model.ChatModel.
package openai

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/mhollis/flowstate/graph/model"
)

// DefaultModel is used when no model name is given.
const DefaultModel = "gpt-4o"

// ChatModel implements model.ChatModel for OpenAI chat completions.
//
//	m := openai.NewChatModel(os.Getenv("OPENAI_API_KEY"), "")
//	out, err := m.Chat(ctx, messages)
type ChatModel struct {
	modelName string
	client    completionsClient
}

// completionsClient is the slice of the SDK the adapter uses, split out so
// tests can substitute a fake.
type completionsClient interface {
	create(ctx context.Context, params sdk.ChatCompletionNewParams) (*sdk.ChatCompletion, error)
}

type sdkClient struct {
	client sdk.Client
}

func (c *sdkClient) create(ctx context.Context, params sdk.ChatCompletionNewParams) (*sdk.ChatCompletion, error) {
	return c.client.Chat.Completions.New(ctx, params)
}

// NewChatModel creates an OpenAI-backed ChatModel. An empty modelName
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
		return model.ChatOut{}, errors.New("openai: no messages")
	}

	params := sdk.ChatCompletionNewParams{
		Model: sdk.ChatModel(m.modelName),
	}
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			params.Messages = append(params.Messages, sdk.SystemMessage(msg.Content))
		case model.RoleUser:
			params.Messages = append(params.Messages, sdk.UserMessage(msg.Content))
		case model.RoleAssistant:
			params.Messages = append(params.Messages, sdk.AssistantMessage(msg.Content))
		default:
			return model.ChatOut{}, fmt.Errorf("openai: unsupported role %q", msg.Role)
		}
	}

	resp, err := m.client.create(ctx, params)
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return model.ChatOut{}, errors.New("openai: response contained no choices")
	}

	return model.ChatOut{Text: resp.Choices[0].Message.Content}, nil
}
