// Package openai adapts the OpenAI API to model.ChatModel and
// model.ImageModel.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dshills/questforge/graph/model"
	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// Default model names.
const (
	DefaultChatModel  = "gpt-4o-mini"
	DefaultImageModel = "dall-e-3"
)

// Option configures an adapter.
type Option func(*config)

type config struct {
	jsonMode   bool
	maxRetries int
	retryDelay time.Duration
	baseURL    string
}

// WithJSONMode asks the API for a JSON object response.
func WithJSONMode() Option {
	return func(c *config) { c.jsonMode = true }
}

// WithRetries sets the number of retries for transient errors and the base
// delay between them. Rate-limit retries back off linearly.
func WithRetries(n int, delay time.Duration) Option {
	return func(c *config) {
		c.maxRetries = n
		c.retryDelay = delay
	}
}

// WithBaseURL points the client at a compatible endpoint.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

func newConfig(opts []Option) config {
	c := config{maxRetries: 2, retryDelay: time.Second}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func newSDKClient(apiKey string, c config) sdk.Client {
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if c.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(c.baseURL))
	}
	return sdk.NewClient(reqOpts...)
}

// ChatModel implements model.ChatModel on the Chat Completions API.
//
// Example:
//
//	m := openai.NewChatModel(os.Getenv("OPENAI_API_KEY"), "gpt-4o-mini", openai.WithJSONMode())
//	out, err := m.Chat(ctx, []model.Message{model.User("Plan a heist")}, nil)
type ChatModel struct {
	modelName  string
	client     openaiClient
	maxRetries int
	retryDelay time.Duration
}

// openaiClient is the slice of the SDK the adapter uses; tests substitute it.
type openaiClient interface {
	createChatCompletion(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error)
}

// NewChatModel creates a ChatModel. An empty modelName uses DefaultChatModel.
func NewChatModel(apiKey, modelName string, opts ...Option) *ChatModel {
	if modelName == "" {
		modelName = DefaultChatModel
	}
	c := newConfig(opts)
	return &ChatModel{
		modelName:  modelName,
		client:     &defaultClient{apiKey: apiKey, modelName: modelName, jsonMode: c.jsonMode, sdk: newSDKClient(apiKey, c)},
		maxRetries: c.maxRetries,
		retryDelay: c.retryDelay,
	}
}

// Chat implements model.ChatModel, retrying transient failures.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}

	var lastErr error
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		out, err := m.client.createChatCompletion(ctx, messages, tools)
		if err == nil {
			if out.Usage.Model == "" {
				out.Usage.Model = m.modelName
			}
			return out, nil
		}
		lastErr = err

		if !isTransientError(err) || attempt >= m.maxRetries {
			break
		}

		delay := m.retryDelay
		if isRateLimitError(err) {
			delay = m.retryDelay * time.Duration(attempt+1)
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return model.ChatOut{}, ctx.Err()
		}
	}
	return model.ChatOut{}, fmt.Errorf("openai chat: %w", lastErr)
}

// ImageModel implements model.ImageModel on the Images API.
type ImageModel struct {
	modelName string
	client    imageClient
}

type imageClient interface {
	generateImage(ctx context.Context, prompt string) (model.Image, error)
}

// NewImageModel creates an ImageModel. An empty modelName uses
// DefaultImageModel.
func NewImageModel(apiKey, modelName string, opts ...Option) *ImageModel {
	if modelName == "" {
		modelName = DefaultImageModel
	}
	c := newConfig(opts)
	return &ImageModel{
		modelName: modelName,
		client:    &defaultClient{apiKey: apiKey, modelName: modelName, sdk: newSDKClient(apiKey, c)},
	}
}

// GenerateImage implements model.ImageModel. Retries and cooldown are the
// caller's concern.
func (m *ImageModel) GenerateImage(ctx context.Context, prompt string) (model.Image, error) {
	if ctx.Err() != nil {
		return model.Image{}, ctx.Err()
	}
	img, err := m.client.generateImage(ctx, prompt)
	if err != nil {
		return model.Image{}, fmt.Errorf("openai image: %w", err)
	}
	return img, nil
}

func isTransientError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= http.StatusInternalServerError
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "connection", "temporary", "eof"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

func isRateLimitError(err error) bool {
	var apiErr *sdk.Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}

type defaultClient struct {
	apiKey    string
	modelName string
	jsonMode  bool
	sdk       sdk.Client
}

func (c *defaultClient) createChatCompletion(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if c.apiKey == "" {
		return model.ChatOut{}, errors.New("OpenAI API key is required")
	}

	params := sdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.modelName),
		Messages: convertMessages(messages),
	}
	if len(tools) > 0 {
		params.Tools = convertTools(tools)
	} else if c.jsonMode {
		params.ResponseFormat = sdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: sdk.Ptr(shared.NewResponseFormatJSONObjectParam()),
		}
	}

	completion, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return model.ChatOut{}, err
	}
	if len(completion.Choices) == 0 {
		return model.ChatOut{}, errors.New("no choices in OpenAI response")
	}

	msg := completion.Choices[0].Message
	out := model.ChatOut{
		Text: msg.Content,
		Usage: model.Usage{
			Model:        completion.Model,
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
		},
	}
	for _, call := range msg.ToolCalls {
		var input map[string]interface{}
		if call.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &input); err != nil {
				return model.ChatOut{}, fmt.Errorf("invalid tool arguments for %s: %w", call.Function.Name, err)
			}
		}
		out.ToolCalls = append(out.ToolCalls, model.ToolCall{ID: call.ID, Name: call.Function.Name, Input: input})
	}
	return out, nil
}

func (c *defaultClient) generateImage(ctx context.Context, prompt string) (model.Image, error) {
	if c.apiKey == "" {
		return model.Image{}, errors.New("OpenAI API key is required")
	}

	resp, err := c.sdk.Images.Generate(ctx, sdk.ImageGenerateParams{
		Prompt: prompt,
		Model:  sdk.ImageModel(c.modelName),
		N:      sdk.Int(1),
		Size:   sdk.ImageGenerateParamsSize1024x1024,
	})
	if err != nil {
		return model.Image{}, err
	}
	if len(resp.Data) == 0 {
		return model.Image{}, errors.New("no image in OpenAI response")
	}
	return model.Image{URL: resp.Data[0].URL, Base64: resp.Data[0].B64JSON}, nil
}

func convertMessages(messages []model.Message) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			out = append(out, sdk.SystemMessage(msg.Content))
		case model.RoleAssistant:
			out = append(out, sdk.AssistantMessage(msg.Content))
		default:
			out = append(out, sdk.UserMessage(msg.Content))
		}
	}
	return out
}

func convertTools(tools []model.ToolSpec) []sdk.ChatCompletionToolParam {
	out := make([]sdk.ChatCompletionToolParam, len(tools))
	for i, tool := range tools {
		out[i] = sdk.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        tool.Name,
				Description: sdk.String(tool.Description),
				Parameters:  shared.FunctionParameters(tool.Schema),
			},
		}
	}
	return out
}
