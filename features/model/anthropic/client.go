// Package anthropic provides a model.Client implementation backed by the
// Anthropic Claude Messages API. It translates statesync requests into
// anthropic.Message calls using github.com/anthropics/anthropic-sdk-go and
// maps responses (text, tool use, usage) back into the generic model
// structures. Claude has no native response_format parameter, so requested
// formats are encoded as a trailing system instruction.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"goa.design/statesync/runtime/model"
)

type (
	// MessagesClient captures the subset of the Anthropic SDK client used by
	// the adapter. It is satisfied by *sdk.MessageService so callers can pass
	// either a real client or a mock in tests.
	MessagesClient interface {
		New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
		NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
	}

	// Options configures optional Anthropic adapter behavior.
	Options struct {
		// DefaultModel is the Claude model identifier used when
		// model.Request.Model is empty. Use the typed model constants from
		// github.com/anthropics/anthropic-sdk-go or the identifiers from the
		// Anthropic model reference.
		DefaultModel string

		// MaxTokens sets the default completion cap when a request does not
		// specify MaxTokens. When zero or negative, callers must set
		// Request.MaxTokens explicitly.
		MaxTokens int

		// Temperature is used when a request does not specify Temperature.
		Temperature float64
	}

	// Client implements model.Client on top of Anthropic Claude Messages.
	Client struct {
		msg          MessagesClient
		defaultModel string
		maxTok       int
		temp         float64
	}
)

// New builds an Anthropic-backed model client from the provided Anthropic
// Messages client and configuration options.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model identifier is required")
	}
	return &Client{
		msg:          msg,
		defaultModel: opts.DefaultModel,
		maxTok:       opts.MaxTokens,
		temp:         opts.Temperature,
	}, nil
}

// NewFromAPIKey constructs a client using the default Anthropic HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, Options{DefaultModel: defaultModel})
}

// Complete issues a non-streaming Messages.New request and translates the
// response into the generic model structures.
func (c *Client) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return model.Response{}, err
	}
	msg, err := c.msg.New(ctx, *params)
	if err != nil {
		if isRateLimited(err) {
			return model.Response{}, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return model.Response{}, fmt.Errorf("anthropic messages.new: %w", err)
	}
	return translateResponse(msg)
}

// Stream invokes Messages.NewStreaming and adapts incremental events into
// model.Chunks.
func (c *Client) Stream(ctx context.Context, req model.Request) (model.Streamer, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	stream := c.msg.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("anthropic messages.new stream: %w", err)
	}
	return newStreamer(ctx, stream), nil
}

func (c *Client) prepareRequest(req model.Request) (*sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("anthropic: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTok
	}
	if maxTokens <= 0 {
		return nil, errors.New("anthropic: max_tokens must be positive")
	}
	msgs, system, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	if instr := formatInstruction(req.ResponseFormat); instr != "" {
		system = append(system, sdk.TextBlockParam{Text: instr})
	}
	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
		Model:     sdk.Model(modelID),
	}
	if len(system) > 0 {
		params.System = system
	}
	if t := float64(req.Temperature); t > 0 {
		params.Temperature = sdk.Float(t)
	} else if c.temp > 0 {
		params.Temperature = sdk.Float(c.temp)
	}
	return &params, nil
}

// formatInstruction renders the response format request as a system
// instruction since the Messages API has no response_format parameter.
func formatInstruction(rf *model.ResponseFormat) string {
	if rf == nil {
		return ""
	}
	switch rf.Type {
	case model.FormatJSONObject:
		return "Respond with a single valid JSON object and nothing else. Do not wrap the JSON in markdown fences."
	case model.FormatJSONSchema:
		schema, err := json.Marshal(rf.Schema)
		if err != nil {
			return "Respond with a single valid JSON object and nothing else."
		}
		return "Respond with a single valid JSON document conforming to this JSON Schema and nothing else. Do not wrap the JSON in markdown fences.\n\nSchema:\n" + string(schema)
	default:
		return ""
	}
}

func encodeMessages(msgs []*model.Message) ([]sdk.MessageParam, []sdk.TextBlockParam, error) {
	conversation := make([]sdk.MessageParam, 0, len(msgs))
	system := make([]sdk.TextBlockParam, 0, len(msgs))

	for _, m := range msgs {
		if m == nil {
			continue
		}
		if m.Role == "system" {
			for _, p := range m.Parts {
				if v, ok := p.(model.TextPart); ok && v.Text != "" {
					system = append(system, sdk.TextBlockParam{Text: v.Text})
				}
			}
			continue
		}

		blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch v := part.(type) {
			case model.TextPart:
				if v.Text != "" {
					blocks = append(blocks, sdk.NewTextBlock(v.Text))
				}
			case model.ToolUsePart:
				if v.Name == "" {
					return nil, nil, errors.New("anthropic: tool_use part missing name")
				}
				blocks = append(blocks, sdk.NewToolUseBlock(v.ID, v.Args, v.Name))
			case model.ToolResultPart:
				blocks = append(blocks, encodeToolResult(v))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		switch m.Role {
		case "user":
			conversation = append(conversation, sdk.NewUserMessage(blocks...))
		case "assistant":
			conversation = append(conversation, sdk.NewAssistantMessage(blocks...))
		default:
			return nil, nil, fmt.Errorf("anthropic: unsupported message role %q", m.Role)
		}
	}
	if len(conversation) == 0 {
		return nil, nil, errors.New("anthropic: at least one user/assistant message is required")
	}
	return conversation, system, nil
}

func encodeToolResult(v model.ToolResultPart) sdk.ContentBlockParamUnion {
	var content string
	switch c := v.Result.(type) {
	case nil:
		content = ""
	case string:
		content = c
	case []byte:
		content = string(c)
	default:
		if data, err := json.Marshal(c); err == nil {
			content = string(data)
		}
	}
	return sdk.NewToolResultBlock(v.ID, content, false)
}

func isRateLimited(err error) bool {
	var apierr *sdk.Error
	return errors.As(err, &apierr) && apierr.StatusCode == http.StatusTooManyRequests
}

func translateResponse(msg *sdk.Message) (model.Response, error) {
	if msg == nil {
		return model.Response{}, errors.New("anthropic: response message is nil")
	}
	resp := model.Response{Message: model.Message{Role: "assistant"}}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if block.Text == "" {
				continue
			}
			resp.Message.Parts = append(resp.Message.Parts, model.TextPart{Text: block.Text})
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, model.ToolCall{
				ID:   block.ID,
				Name: block.Name,
				Args: block.Input,
			})
		}
	}
	if u := msg.Usage; u.InputTokens != 0 || u.OutputTokens != 0 {
		resp.Usage = model.TokenUsage{
			InputTokens:  int(u.InputTokens),
			OutputTokens: int(u.OutputTokens),
			TotalTokens:  int(u.InputTokens + u.OutputTokens),
		}
	}
	resp.StopReason = string(msg.StopReason)
	return resp, nil
}
