package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/statesync/runtime/model"
)

type stubRuntime struct {
	converseInput *bedrockruntime.ConverseInput
	converseOut   *bedrockruntime.ConverseOutput
	converseErr   error

	streamInput *bedrockruntime.ConverseStreamInput
	streamErr   error
}

func (s *stubRuntime) Converse(_ context.Context, params *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	s.converseInput = params
	return s.converseOut, s.converseErr
}

func (s *stubRuntime) ConverseStream(_ context.Context, params *bedrockruntime.ConverseStreamInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error) {
	s.streamInput = params
	return nil, s.streamErr
}

func TestCompleteTranslatesTextResponse(t *testing.T) {
	rt := &stubRuntime{
		converseOut: &bedrockruntime.ConverseOutput{
			Output: &brtypes.ConverseOutputMemberMessage{
				Value: brtypes.Message{
					Role: brtypes.ConversationRoleAssistant,
					Content: []brtypes.ContentBlock{
						&brtypes.ContentBlockMemberText{Value: "hello"},
					},
				},
			},
			StopReason: brtypes.StopReasonEndTurn,
			Usage: &brtypes.TokenUsage{
				InputTokens:  aws.Int32(12),
				OutputTokens: aws.Int32(5),
				TotalTokens:  aws.Int32(17),
			},
		},
	}
	client, err := New(Options{Runtime: rt, DefaultModel: "anthropic.claude-3-haiku", MaxTokens: 1024})
	require.NoError(t, err)

	resp, err := client.Complete(context.Background(), model.Request{
		Messages: []*model.Message{model.NewTextMessage("user", "hi")},
	})
	require.NoError(t, err)

	assert.Equal(t, "hello", resp.Message.Text())
	assert.Equal(t, string(brtypes.StopReasonEndTurn), resp.StopReason)
	assert.Equal(t, 12, resp.Usage.InputTokens)
	assert.Equal(t, 5, resp.Usage.OutputTokens)
	assert.Equal(t, 17, resp.Usage.TotalTokens)

	require.NotNil(t, rt.converseInput)
	assert.Equal(t, "anthropic.claude-3-haiku", *rt.converseInput.ModelId)
	require.NotNil(t, rt.converseInput.InferenceConfig)
	assert.Equal(t, int32(1024), *rt.converseInput.InferenceConfig.MaxTokens)
}

func TestCompleteTranslatesToolUse(t *testing.T) {
	rt := &stubRuntime{
		converseOut: &bedrockruntime.ConverseOutput{
			Output: &brtypes.ConverseOutputMemberMessage{
				Value: brtypes.Message{
					Role: brtypes.ConversationRoleAssistant,
					Content: []brtypes.ContentBlock{
						&brtypes.ContentBlockMemberToolUse{
							Value: brtypes.ToolUseBlock{
								ToolUseId: aws.String("call-1"),
								Name:      aws.String("lookup"),
								Input:     document.NewLazyDocument(map[string]any{"q": "go"}),
							},
						},
					},
				},
			},
			StopReason: brtypes.StopReasonToolUse,
		},
	}
	client, err := New(Options{Runtime: rt, DefaultModel: "m"})
	require.NoError(t, err)

	resp, err := client.Complete(context.Background(), model.Request{
		Messages: []*model.Message{model.NewTextMessage("user", "find go")},
	})
	require.NoError(t, err)

	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call-1", resp.ToolCalls[0].ID)
	assert.Equal(t, "lookup", resp.ToolCalls[0].Name)
	raw, ok := resp.ToolCalls[0].Args.(json.RawMessage)
	require.True(t, ok)
	assert.JSONEq(t, `{"q":"go"}`, string(raw))
}

func TestBuildInputEncodesSystemAndFormat(t *testing.T) {
	client, err := New(Options{Runtime: &stubRuntime{}, DefaultModel: "m"})
	require.NoError(t, err)

	input, err := client.buildInput(model.Request{
		Messages: []*model.Message{
			model.NewTextMessage("system", "be terse"),
			model.NewTextMessage("user", "hi"),
			model.NewTextMessage("assistant", "hello"),
		},
		ResponseFormat: &model.ResponseFormat{Type: model.FormatJSONObject},
	})
	require.NoError(t, err)

	require.Len(t, input.messages, 2)
	assert.Equal(t, brtypes.ConversationRoleUser, input.messages[0].Role)
	assert.Equal(t, brtypes.ConversationRoleAssistant, input.messages[1].Role)

	require.Len(t, input.system, 2)
	first, ok := input.system[0].(*brtypes.SystemContentBlockMemberText)
	require.True(t, ok)
	assert.Equal(t, "be terse", first.Value)
	second, ok := input.system[1].(*brtypes.SystemContentBlockMemberText)
	require.True(t, ok)
	assert.Contains(t, second.Value, "single valid JSON object")
}

func TestBuildInputEmbedsSchema(t *testing.T) {
	client, err := New(Options{Runtime: &stubRuntime{}, DefaultModel: "m"})
	require.NoError(t, err)

	input, err := client.buildInput(model.Request{
		Messages: []*model.Message{model.NewTextMessage("user", "hi")},
		ResponseFormat: &model.ResponseFormat{
			Type:   model.FormatJSONSchema,
			Name:   "recipe",
			Schema: map[string]any{"type": "object"},
		},
	})
	require.NoError(t, err)

	require.Len(t, input.system, 1)
	block, ok := input.system[0].(*brtypes.SystemContentBlockMemberText)
	require.True(t, ok)
	assert.Contains(t, block.Value, "JSON Schema")
	assert.Contains(t, block.Value, `"type":"object"`)
}

func TestCompleteWrapsThrottling(t *testing.T) {
	rt := &stubRuntime{converseErr: &smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow down"}}
	client, err := New(Options{Runtime: rt, DefaultModel: "m"})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), model.Request{
		Messages: []*model.Message{model.NewTextMessage("user", "hi")},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrRateLimited))
}

func TestStreamWrapsThrottling(t *testing.T) {
	rt := &stubRuntime{streamErr: &smithy.GenericAPIError{Code: "TooManyRequestsException"}}
	client, err := New(Options{Runtime: rt, DefaultModel: "m"})
	require.NoError(t, err)

	_, err = client.Stream(context.Background(), model.Request{
		Messages: []*model.Message{model.NewTextMessage("user", "hi")},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrRateLimited))
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{DefaultModel: "m"})
	require.Error(t, err)

	_, err = New(Options{Runtime: &stubRuntime{}})
	require.Error(t, err)
}

func TestBuildInputRejectsEmptyConversation(t *testing.T) {
	client, err := New(Options{Runtime: &stubRuntime{}, DefaultModel: "m"})
	require.NoError(t, err)

	_, err = client.buildInput(model.Request{})
	require.Error(t, err)

	_, err = client.buildInput(model.Request{
		Messages: []*model.Message{model.NewTextMessage("system", "only system")},
	})
	require.Error(t, err)
}
