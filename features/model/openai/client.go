// Package openai provides a model.Client implementation backed by the OpenAI
// Chat Completions API. It translates statesync requests into ChatCompletion
// calls using github.com/sashabaranov/go-openai and maps responses back to
// the generic model structures. Response formats map directly onto the
// native response_format parameter.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"goa.design/statesync/runtime/model"
)

type (
	// ChatClient captures the subset of the go-openai client used for
	// non-streaming completions.
	ChatClient interface {
		CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (
			openai.ChatCompletionResponse, error)
	}

	// StreamClient captures the streaming entry point of the go-openai
	// client. *openai.Client satisfies both interfaces.
	StreamClient interface {
		CreateChatCompletionStream(ctx context.Context, request openai.ChatCompletionRequest) (
			*openai.ChatCompletionStream, error)
	}

	// Options configures the OpenAI adapter.
	Options struct {
		// Client handles non-streaming completions. Required.
		Client ChatClient
		// Stream handles streaming completions. When nil the adapter
		// reports model.ErrStreamingUnsupported and callers fall back to
		// Complete.
		Stream StreamClient
		// DefaultModel is used when model.Request.Model is empty.
		DefaultModel string
	}

	// Client implements model.Client via the OpenAI Chat Completions API.
	Client struct {
		chat   ChatClient
		stream StreamClient
		model  string
	}
)

// New builds an OpenAI-backed model client from the provided options.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("openai client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model is required")
	}
	return &Client{chat: opts.Client, stream: opts.Stream, model: opts.DefaultModel}, nil
}

// NewFromAPIKey constructs a client using the default go-openai HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	cl := openai.NewClient(apiKey)
	return New(Options{Client: cl, Stream: cl, DefaultModel: defaultModel})
}

// Complete renders a chat completion using the configured OpenAI client.
func (c *Client) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	request, err := c.prepareRequest(req)
	if err != nil {
		return model.Response{}, err
	}
	response, err := c.chat.CreateChatCompletion(ctx, *request)
	if err != nil {
		if isRateLimited(err) {
			return model.Response{}, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return model.Response{}, fmt.Errorf("openai chat completion: %w", err)
	}
	return translateResponse(response), nil
}

// Stream starts a streaming chat completion and adapts the incremental
// responses into model.Chunks.
func (c *Client) Stream(ctx context.Context, req model.Request) (model.Streamer, error) {
	if c.stream == nil {
		return nil, model.ErrStreamingUnsupported
	}
	request, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	request.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	stream, err := c.stream.CreateChatCompletionStream(ctx, *request)
	if err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("openai chat completion stream: %w", err)
	}
	return newChatStreamer(stream), nil
}

func (c *Client) prepareRequest(req model.Request) (*openai.ChatCompletionRequest, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("openai: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.model
	}
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m == nil {
			continue
		}
		// Join only text parts; tool parts are not re-encoded for OpenAI.
		text := m.Text()
		if text == "" {
			continue
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: text})
	}
	if len(messages) == 0 {
		return nil, errors.New("openai: at least one text message is required")
	}
	request := openai.ChatCompletionRequest{
		Model:       modelID,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	format, err := encodeResponseFormat(req.ResponseFormat)
	if err != nil {
		return nil, err
	}
	request.ResponseFormat = format
	return &request, nil
}

func encodeResponseFormat(rf *model.ResponseFormat) (*openai.ChatCompletionResponseFormat, error) {
	if rf == nil {
		return nil, nil
	}
	switch rf.Type {
	case model.FormatJSONObject:
		return &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}, nil
	case model.FormatJSONSchema:
		schema, err := json.Marshal(rf.Schema)
		if err != nil {
			return nil, fmt.Errorf("openai: marshal response schema: %w", err)
		}
		name := rf.Name
		if name == "" {
			name = "response"
		}
		return &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   name,
				Schema: json.RawMessage(schema),
				Strict: rf.Strict,
			},
		}, nil
	default:
		return nil, fmt.Errorf("openai: unsupported response format %q", rf.Type)
	}
}

func isRateLimited(err error) bool {
	var apierr *openai.APIError
	return errors.As(err, &apierr) && apierr.HTTPStatusCode == http.StatusTooManyRequests
}

func translateResponse(resp openai.ChatCompletionResponse) model.Response {
	out := model.Response{Message: model.Message{Role: "assistant"}}
	for _, choice := range resp.Choices {
		msg := choice.Message
		if msg.Content != "" {
			out.Message.Parts = append(out.Message.Parts, model.TextPart{Text: msg.Content})
		}
		for _, call := range msg.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{
				ID:   call.ID,
				Name: call.Function.Name,
				Args: parseToolArguments(call.Function.Arguments),
			})
		}
	}
	out.Usage = model.TokenUsage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}
	if len(resp.Choices) > 0 {
		out.StopReason = string(resp.Choices[0].FinishReason)
	}
	return out
}

func parseToolArguments(raw string) any {
	if raw == "" {
		return nil
	}
	var payload any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return map[string]any{"raw": raw}
	}
	return payload
}
