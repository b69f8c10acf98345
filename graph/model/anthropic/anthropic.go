// Package anthropic adapts the Anthropic Messages API to model.ChatModel.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/dshills/questforge/graph/model"
)

// DefaultModel is used when no model name is given.
const DefaultModel = "claude-3-5-haiku-20241022"

// DefaultMaxTokens caps the response length.
const DefaultMaxTokens = 4096

// ChatModel implements model.ChatModel for Claude models.
//
// System messages are lifted into the request's system prompt; the rest of
// the history is sent in order.
type ChatModel struct {
	modelName string
	client    anthropicClient
}

type anthropicClient interface {
	createMessage(ctx context.Context, systemPrompt string, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error)
}

// NewChatModel creates a ChatModel. An empty modelName uses DefaultModel.
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = DefaultModel
	}
	return &ChatModel{
		modelName: modelName,
		client: &defaultClient{
			apiKey:    apiKey,
			modelName: modelName,
			sdk:       sdk.NewClient(option.WithAPIKey(apiKey)),
		},
	}
}

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}

	systemPrompt, conversation := extractSystemPrompt(messages)
	if len(conversation) == 0 {
		return model.ChatOut{}, errors.New("anthropic chat: at least one non-system message is required")
	}

	out, err := m.client.createMessage(ctx, systemPrompt, conversation, tools)
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("anthropic chat: %w", err)
	}
	if out.Usage.Model == "" {
		out.Usage.Model = m.modelName
	}
	return out, nil
}

func extractSystemPrompt(messages []model.Message) (string, []model.Message) {
	var systemPrompt string
	var conversation []model.Message

	for _, msg := range messages {
		if msg.Role == model.RoleSystem {
			if systemPrompt != "" {
				systemPrompt += "\n\n"
			}
			systemPrompt += msg.Content
			continue
		}
		conversation = append(conversation, msg)
	}
	return systemPrompt, conversation
}

type defaultClient struct {
	apiKey    string
	modelName string
	sdk       sdk.Client
}

func (c *defaultClient) createMessage(ctx context.Context, systemPrompt string, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if c.apiKey == "" {
		return model.ChatOut{}, errors.New("Anthropic API key is required")
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.modelName),
		MaxTokens: DefaultMaxTokens,
		Messages:  convertMessages(messages),
		Tools:     convertTools(tools),
	}
	if systemPrompt != "" {
		params.System = []sdk.TextBlockParam{{Text: systemPrompt}}
	}

	message, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		return model.ChatOut{}, err
	}
	return convertResponse(message)
}

func convertMessages(messages []model.Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(messages))
	for _, msg := range messages {
		block := sdk.NewTextBlock(msg.Content)
		if msg.Role == model.RoleAssistant {
			out = append(out, sdk.NewAssistantMessage(block))
		} else {
			out = append(out, sdk.NewUserMessage(block))
		}
	}
	return out
}

func convertTools(tools []model.ToolSpec) []sdk.ToolUnionParam {
	if len(tools) == 0 {
		return nil
	}
	out := make([]sdk.ToolUnionParam, len(tools))
	for i, tool := range tools {
		schema := sdk.ToolInputSchemaParam{Properties: tool.Schema["properties"]}
		if required, ok := tool.Schema["required"].([]string); ok {
			schema.Required = required
		}
		out[i] = sdk.ToolUnionParam{OfTool: &sdk.ToolParam{
			Name:        tool.Name,
			Description: sdk.String(tool.Description),
			InputSchema: schema,
		}}
	}
	return out
}

func convertResponse(message *sdk.Message) (model.ChatOut, error) {
	out := model.ChatOut{
		Usage: model.Usage{
			Model:        string(message.Model),
			InputTokens:  int(message.Usage.InputTokens),
			OutputTokens: int(message.Usage.OutputTokens),
		},
	}
	for _, block := range message.Content {
		switch block.Type {
		case "text":
			out.Text += block.Text
		case "tool_use":
			var input map[string]interface{}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &input); err != nil {
					return model.ChatOut{}, fmt.Errorf("invalid tool input for %s: %w", block.Name, err)
				}
			}
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{ID: block.ID, Name: block.Name, Input: input})
		}
	}
	return out, nil
}
