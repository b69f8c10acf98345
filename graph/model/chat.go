// Package model defines the language and image model capabilities that
// workflow steps depend on, with adapters for OpenAI, Anthropic and Google.
package model

import "context"

// ChatModel is a chat-completion capability.
//
// Implementations convert Message history to the provider format, honor
// context cancellation, and report token usage in ChatOut.Usage so callers
// can attribute cost.
type ChatModel interface {
	Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error)
}

// Message is one entry of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Standard roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// System returns a system message.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User returns a user message.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// Assistant returns an assistant message.
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// ToolSpec describes a tool the model may call. Schema is a JSON Schema
// object for the tool input.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]interface{}
}

// ChatOut is a model response: text, tool calls, or both.
type ChatOut struct {
	Text      string
	ToolCalls []ToolCall
	Usage     Usage
}

// ToolCall is a model request to invoke a tool.
type ToolCall struct {
	ID    string                 `json:"id,omitempty"`
	Name  string                 `json:"name"`
	Input map[string]interface{} `json:"input,omitempty"`
}

// Usage is the token accounting of one call.
type Usage struct {
	Model        string
	InputTokens  int
	OutputTokens int
}

// ImageModel is an image-synthesis capability.
type ImageModel interface {
	GenerateImage(ctx context.Context, prompt string) (Image, error)
}

// Image is a generated image, returned either as a URL or inline base64.
type Image struct {
	URL    string
	Base64 string
}
