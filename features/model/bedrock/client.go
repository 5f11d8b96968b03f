// Package bedrock provides a model.Client implementation backed by the AWS
// Bedrock Converse API. It translates statesync requests into Converse and
// ConverseStream calls using the aws-sdk-go-v2 bedrockruntime client and maps
// responses back into the generic model structures. Like the Anthropic
// adapter, requested response formats are encoded as a trailing system
// instruction since Converse has no response_format parameter.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"goa.design/statesync/runtime/model"
)

type (
	// Runtime captures the subset of the Bedrock runtime client used by the
	// adapter. It matches *bedrockruntime.Client so callers can pass either
	// a real client or a mock in tests.
	Runtime interface {
		Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
		ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
	}

	// Options configures the Bedrock adapter.
	Options struct {
		// Runtime is the Bedrock runtime client. Required.
		Runtime Runtime
		// DefaultModel is the Bedrock model identifier used when
		// model.Request.Model is empty. Required.
		DefaultModel string
		// MaxTokens sets the default completion cap when a request does not
		// specify MaxTokens.
		MaxTokens int
		// Temperature is used when a request does not specify Temperature.
		Temperature float32
	}

	// Client implements model.Client on top of the Bedrock Converse API.
	Client struct {
		runtime      Runtime
		defaultModel string
		maxTok       int
		temp         float32
	}
)

// New builds a Bedrock-backed model client from the provided options.
func New(opts Options) (*Client, error) {
	if opts.Runtime == nil {
		return nil, errors.New("bedrock runtime client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model identifier is required")
	}
	return &Client{
		runtime:      opts.Runtime,
		defaultModel: opts.DefaultModel,
		maxTok:       opts.MaxTokens,
		temp:         opts.Temperature,
	}, nil
}

// Complete issues a Converse request and translates the response into the
// generic model structures.
func (c *Client) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	input, err := c.buildInput(req)
	if err != nil {
		return model.Response{}, err
	}
	output, err := c.runtime.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId:         input.modelID,
		Messages:        input.messages,
		System:          input.system,
		InferenceConfig: input.inference,
	})
	if err != nil {
		if isRateLimited(err) {
			return model.Response{}, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return model.Response{}, fmt.Errorf("bedrock converse: %w", err)
	}
	return translateResponse(output)
}

// Stream invokes ConverseStream and adapts incremental events into
// model.Chunks.
func (c *Client) Stream(ctx context.Context, req model.Request) (model.Streamer, error) {
	input, err := c.buildInput(req)
	if err != nil {
		return nil, err
	}
	out, err := c.runtime.ConverseStream(ctx, &bedrockruntime.ConverseStreamInput{
		ModelId:         input.modelID,
		Messages:        input.messages,
		System:          input.system,
		InferenceConfig: input.inference,
	})
	if err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("bedrock converse stream: %w", err)
	}
	stream := out.GetStream()
	if stream == nil {
		return nil, errors.New("bedrock: stream output missing event stream")
	}
	return newStreamer(ctx, stream), nil
}

type converseParts struct {
	modelID   *string
	messages  []brtypes.Message
	system    []brtypes.SystemContentBlock
	inference *brtypes.InferenceConfiguration
}

func (c *Client) buildInput(req model.Request) (*converseParts, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("bedrock: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	messages, system, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	if instr := formatInstruction(req.ResponseFormat); instr != "" {
		system = append(system, &brtypes.SystemContentBlockMemberText{Value: instr})
	}
	return &converseParts{
		modelID:   aws.String(modelID),
		messages:  messages,
		system:    system,
		inference: c.inferenceConfig(req.MaxTokens, req.Temperature),
	}, nil
}

func (c *Client) inferenceConfig(maxTokens int, temp float32) *brtypes.InferenceConfiguration {
	var cfg brtypes.InferenceConfiguration
	tokens := maxTokens
	if tokens <= 0 {
		tokens = c.maxTok
	}
	if tokens > 0 {
		cfg.MaxTokens = aws.Int32(int32(tokens)) //nolint:gosec // AWS SDK requires int32
	}
	t := temp
	if t <= 0 {
		t = c.temp
	}
	if t > 0 {
		cfg.Temperature = aws.Float32(t)
	}
	if cfg.MaxTokens == nil && cfg.Temperature == nil {
		return nil
	}
	return &cfg
}

// formatInstruction renders the response format request as a system block.
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

// encodeMessages converts generic messages into Converse messages. Only text
// parts are re-encoded; tool blocks require a tool configuration the adapter
// does not send.
func encodeMessages(msgs []*model.Message) ([]brtypes.Message, []brtypes.SystemContentBlock, error) {
	conversation := make([]brtypes.Message, 0, len(msgs))
	system := make([]brtypes.SystemContentBlock, 0, len(msgs))

	for _, m := range msgs {
		if m == nil {
			continue
		}
		if m.Role == "system" {
			for _, p := range m.Parts {
				if v, ok := p.(model.TextPart); ok && v.Text != "" {
					system = append(system, &brtypes.SystemContentBlockMemberText{Value: v.Text})
				}
			}
			continue
		}
		text := m.Text()
		if text == "" {
			continue
		}
		var role brtypes.ConversationRole
		switch m.Role {
		case "user":
			role = brtypes.ConversationRoleUser
		case "assistant":
			role = brtypes.ConversationRoleAssistant
		default:
			return nil, nil, fmt.Errorf("bedrock: unsupported message role %q", m.Role)
		}
		conversation = append(conversation, brtypes.Message{
			Role:    role,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: text}},
		})
	}
	if len(conversation) == 0 {
		return nil, nil, errors.New("bedrock: at least one user/assistant message is required")
	}
	return conversation, system, nil
}

// isRateLimited detects Bedrock throttling both by provider error code and by
// HTTP status.
func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == 429
}

func translateResponse(output *bedrockruntime.ConverseOutput) (model.Response, error) {
	if output == nil {
		return model.Response{}, errors.New("bedrock: response is nil")
	}
	resp := model.Response{Message: model.Message{Role: "assistant"}}
	if msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			switch v := block.(type) {
			case *brtypes.ContentBlockMemberText:
				if v.Value == "" {
					continue
				}
				resp.Message.Parts = append(resp.Message.Parts, model.TextPart{Text: v.Value})
			case *brtypes.ContentBlockMemberToolUse:
				call := model.ToolCall{Args: decodeDocument(v.Value.Input)}
				if v.Value.Name != nil {
					call.Name = *v.Value.Name
				}
				if v.Value.ToolUseId != nil {
					call.ID = *v.Value.ToolUseId
				}
				resp.ToolCalls = append(resp.ToolCalls, call)
			}
		}
	}
	if usage := output.Usage; usage != nil {
		resp.Usage = model.TokenUsage{
			InputTokens:  int(ptrValue(usage.InputTokens)),
			OutputTokens: int(ptrValue(usage.OutputTokens)),
			TotalTokens:  int(ptrValue(usage.TotalTokens)),
		}
	}
	resp.StopReason = string(output.StopReason)
	return resp, nil
}

func decodeDocument(doc document.Interface) json.RawMessage {
	if doc == nil {
		return nil
	}
	data, err := doc.MarshalSmithyDocument()
	if err != nil || len(data) == 0 {
		return nil
	}
	return json.RawMessage(data)
}

func ptrValue(v *int32) int32 {
	if v == nil {
		return 0
	}
	return *v
}
