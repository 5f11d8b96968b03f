// Package model provides interfaces for LLM clients used by the runtime.
// It defines a provider-agnostic abstraction over chat completion APIs
// (OpenAI, Anthropic, Bedrock) so orchestration code can invoke models
// without coupling to specific SDKs. Implementations translate these
// normalized types into provider-specific formats.
package model

import (
	"context"
	"errors"
	"strings"
)

type (
	// Client defines the contract the runtime uses to invoke LLM calls.
	// Implementations wrap provider SDKs and translate Request/Response to
	// provider-specific formats. Clients should be thread-safe and reusable
	// across invocations.
	Client interface {
		// Complete sends a chat completion request to the model provider and
		// returns the generated response. Returns ErrRateLimited when the
		// provider rejects the request for quota reasons.
		Complete(ctx context.Context, req Request) (Response, error)

		// Stream sends a chat completion request and returns a Streamer that
		// yields incremental chunks (text deltas, tool calls, usage).
		// The returned Streamer must be closed by callers. Providers that do
		// not support streaming return ErrStreamingUnsupported.
		Stream(ctx context.Context, req Request) (Streamer, error)
	}

	// Streamer delivers incremental model output. Successive calls to Recv
	// return Chunk values until io.EOF. Implementations must be safe to call
	// from a single goroutine and release any underlying resources when Close
	// is invoked.
	Streamer interface {
		// Recv returns the next chunk from the stream.
		Recv() (Chunk, error)
		// Close closes the stream.
		Close() error
		// Metadata returns provider-specific metadata for the stream. Typical
		// keys include "provider", "model" and request identifiers. Callers
		// should treat contents as optional and provider-defined.
		Metadata() map[string]any
	}

	// Request captures the normalized parameters for a model invocation.
	// Fields map to common provider parameters but may not be supported by
	// all backends; implementations document unsupported fields and either
	// return errors or apply sensible defaults.
	Request struct {
		// Model identifies the target model using the provider-specific
		// identifier (e.g. "gpt-4o", "claude-sonnet-4-20250514").
		Model string

		// Messages is the ordered chat history provided to the model,
		// including system prompts, user inputs and prior assistant turns.
		Messages []*Message

		// Temperature controls sampling temperature. Zero means provider
		// default.
		Temperature float32

		// MaxTokens caps the number of completion tokens the model can
		// generate. Zero means the provider default.
		MaxTokens int

		// ResponseFormat asks the model to produce structured output. Nil
		// requests free-form text. Providers without native structured output
		// encode the format as a system instruction.
		ResponseFormat *ResponseFormat
	}

	// ResponseFormat describes the structured output requested from the
	// model, mirroring the OpenAI response_format parameter shape.
	ResponseFormat struct {
		// Type is "json_object" for schemaless JSON mode or "json_schema"
		// for schema-constrained output.
		Type string
		// Name labels the schema when Type is "json_schema".
		Name string
		// Schema is the JSON Schema the output must conform to, typically a
		// map[string]any. Ignored when Type is "json_object".
		Schema any
		// Strict requests strict schema adherence from providers that
		// support it.
		Strict bool
	}

	// Response wraps the generated content and any tool call requests from
	// the model provider.
	Response struct {
		// Message is the assistant message returned by the model. May carry
		// no text when the model only requested tool calls.
		Message Message

		// ToolCalls lists any tool invocations requested by the model.
		ToolCalls []ToolCall

		// Usage reports token usage when available. All fields are zero when
		// the provider does not report usage.
		Usage TokenUsage

		// StopReason explains why the model stopped generating. Values are
		// provider-specific and may be empty.
		StopReason string
	}

	// Message mirrors an LLM chat message: a role plus an ordered list of
	// typed parts. Parts are TextPart, ToolUsePart and ToolResultPart.
	Message struct {
		// Role indicates the message role: "user", "assistant", "system" or
		// "tool".
		Role string
		// Parts is the ordered message content.
		Parts []Part
	}

	// Part is a tagged content variant carried by a Message.
	Part interface {
		isPart()
	}

	// TextPart carries plain message text.
	TextPart struct {
		// Text is the message text.
		Text string
	}

	// ToolUsePart records a tool invocation requested by the model.
	ToolUsePart struct {
		// ID correlates the call with its eventual ToolResultPart.
		ID string
		// Name is the tool identifier.
		Name string
		// Args carries the JSON-encodable tool arguments.
		Args any
	}

	// ToolResultPart carries the outcome of a prior tool call.
	ToolResultPart struct {
		// ID matches the ID of the originating ToolUsePart.
		ID string
		// Result is the JSON-encodable tool result payload.
		Result any
	}

	// ToolCall captures a tool invocation requested by the model provider.
	ToolCall struct {
		// ID is the provider-assigned call identifier used to correlate the
		// eventual result.
		ID string
		// Name identifies which tool should be invoked.
		Name string
		// Args carries the JSON arguments requested by the model, typically
		// a map[string]any conforming to the tool's input schema.
		Args any
	}

	// Chunk represents a streaming event emitted by the model. The Type
	// value indicates which payload fields are populated.
	Chunk struct {
		// Type is the chunk kind. One of: "text", "tool_call", "usage" or
		// "stop".
		Type string
		// Text contains the incremental text delta when Type == "text".
		Text string
		// ToolCall carries the requested tool invocation when
		// Type == "tool_call".
		ToolCall *ToolCall
		// UsageDelta reports incremental token usage when Type == "usage".
		UsageDelta *TokenUsage
		// StopReason explains termination when Type == "stop".
		StopReason string
	}

	// TokenUsage records prompt/completion token counts when provided by
	// the model provider.
	TokenUsage struct {
		// InputTokens counts tokens consumed by the prompt and history.
		InputTokens int
		// OutputTokens counts tokens produced in this completion.
		OutputTokens int
		// TotalTokens reports the aggregate tokens consumed. Prefer this
		// field when available instead of summing Input + Output.
		TotalTokens int
	}
)

func (TextPart) isPart()       {}
func (ToolUsePart) isPart()    {}
func (ToolResultPart) isPart() {}

// Chunk type constants are the well-known streaming event kinds produced by
// model providers. These values populate Chunk.Type.
const (
	ChunkTypeText     = "text"
	ChunkTypeToolCall = "tool_call"
	ChunkTypeUsage    = "usage"
	ChunkTypeStop     = "stop"
)

// Response format types accepted by Request.ResponseFormat.
const (
	FormatJSONObject = "json_object"
	FormatJSONSchema = "json_schema"
)

// ErrStreamingUnsupported indicates the model provider does not implement
// streaming for the requested model/parameters.
var ErrStreamingUnsupported = errors.New("model: streaming not supported")

// ErrRateLimited indicates the provider rejected the request because a rate
// or quota limit was exceeded. Callers may retry after a backoff.
var ErrRateLimited = errors.New("model: rate limited")

// NewTextMessage builds a message holding a single text part.
func NewTextMessage(role, text string) *Message {
	return &Message{Role: role, Parts: []Part{TextPart{Text: text}}}
}

// Text returns the concatenation of the message's text parts.
func (m *Message) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if t, ok := p.(TextPart); ok {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}
