package openai

import (
	"encoding/json"
	"errors"
	"io"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"goa.design/statesync/runtime/model"
)

type (
	// recvStream is the part of *openai.ChatCompletionStream the translator
	// needs. Tests substitute a scripted implementation.
	recvStream interface {
		Recv() (openai.ChatCompletionStreamResponse, error)
		Close() error
	}

	// chatStreamer translates streamed chat completion responses into
	// model.Chunks. Tool call arguments arrive as partial fragments keyed by
	// choice tool index; they are accumulated and emitted as complete
	// tool_call chunks when the stream finishes a choice.
	chatStreamer struct {
		stream  recvStream
		pending []model.Chunk
		tools   map[int]*toolAccum
		meta    map[string]any
		done    bool
	}

	toolAccum struct {
		id   string
		name string
		args strings.Builder
	}
)

func newChatStreamer(stream recvStream) *chatStreamer {
	return &chatStreamer{stream: stream, tools: make(map[int]*toolAccum)}
}

// Recv implements model.Streamer.
func (s *chatStreamer) Recv() (model.Chunk, error) {
	for {
		if len(s.pending) > 0 {
			chunk := s.pending[0]
			s.pending = s.pending[1:]
			return chunk, nil
		}
		if s.done {
			return model.Chunk{}, io.EOF
		}
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			s.flushTools()
			s.done = true
			continue
		}
		if err != nil {
			s.done = true
			return model.Chunk{}, err
		}
		s.translate(resp)
	}
}

// Close implements model.Streamer.
func (s *chatStreamer) Close() error {
	s.done = true
	s.pending = nil
	return s.stream.Close()
}

// Metadata implements model.Streamer.
func (s *chatStreamer) Metadata() map[string]any {
	if len(s.meta) == 0 {
		return nil
	}
	out := make(map[string]any, len(s.meta))
	for k, v := range s.meta {
		out[k] = v
	}
	return out
}

func (s *chatStreamer) translate(resp openai.ChatCompletionStreamResponse) {
	for _, choice := range resp.Choices {
		if choice.Delta.Content != "" {
			s.pending = append(s.pending, model.Chunk{Type: model.ChunkTypeText, Text: choice.Delta.Content})
		}
		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			acc := s.tools[idx]
			if acc == nil {
				acc = &toolAccum{}
				s.tools[idx] = acc
			}
			if tc.ID != "" {
				acc.id = tc.ID
			}
			if tc.Function.Name != "" {
				acc.name = tc.Function.Name
			}
			acc.args.WriteString(tc.Function.Arguments)
		}
		if choice.FinishReason != "" {
			s.flushTools()
			s.pending = append(s.pending, model.Chunk{
				Type:       model.ChunkTypeStop,
				StopReason: string(choice.FinishReason),
			})
		}
	}
	if resp.Usage != nil {
		usage := model.TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		}
		if s.meta == nil {
			s.meta = make(map[string]any)
		}
		s.meta["usage"] = usage
		s.pending = append(s.pending, model.Chunk{Type: model.ChunkTypeUsage, UsageDelta: &usage})
	}
}

// flushTools emits one tool_call chunk per accumulated tool, in index order.
func (s *chatStreamer) flushTools() {
	if len(s.tools) == 0 {
		return
	}
	indexes := make([]int, 0, len(s.tools))
	for idx := range s.tools {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	for _, idx := range indexes {
		acc := s.tools[idx]
		s.pending = append(s.pending, model.Chunk{
			Type: model.ChunkTypeToolCall,
			ToolCall: &model.ToolCall{
				ID:   acc.id,
				Name: acc.name,
				Args: parseStreamedArgs(acc.args.String()),
			},
		})
	}
	s.tools = make(map[int]*toolAccum)
}

func parseStreamedArgs(raw string) json.RawMessage {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || !json.Valid([]byte(trimmed)) {
		return json.RawMessage("{}")
	}
	return json.RawMessage(trimmed)
}
