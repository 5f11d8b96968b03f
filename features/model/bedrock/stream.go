package bedrock

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"goa.design/statesync/runtime/model"
)

type (
	// streamer adapts a Bedrock ConverseStream event stream into the
	// model.Streamer interface. A goroutine drains the event channel and
	// forwards translated chunks; Recv pulls from the chunk channel.
	streamer struct {
		stream *bedrockruntime.ConverseStreamEventStream
		chunks chan model.Chunk

		errMu sync.Mutex
		err   error

		metaMu sync.Mutex
		meta   map[string]any
	}

	// toolBuffer accumulates a streamed tool-use block until its stop event.
	toolBuffer struct {
		id        string
		name      string
		fragments []string
	}
)

func newStreamer(ctx context.Context, stream *bedrockruntime.ConverseStreamEventStream) *streamer {
	s := &streamer{
		stream: stream,
		chunks: make(chan model.Chunk, 32),
		meta:   make(map[string]any),
	}
	go s.run(ctx)
	return s
}

// Recv implements model.Streamer. It returns io.EOF once the stream ends
// cleanly and the stored error if the stream failed.
func (s *streamer) Recv() (model.Chunk, error) {
	chunk, ok := <-s.chunks
	if !ok {
		if err := s.loadErr(); err != nil {
			return model.Chunk{}, err
		}
		return model.Chunk{}, io.EOF
	}
	return chunk, nil
}

// Close releases the underlying event stream.
func (s *streamer) Close() error {
	return s.stream.Close()
}

// Metadata returns stream-level details such as token usage once the stream
// has delivered its metadata event.
func (s *streamer) Metadata() map[string]any {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()
	out := make(map[string]any, len(s.meta))
	for k, v := range s.meta {
		out[k] = v
	}
	return out
}

func (s *streamer) run(ctx context.Context) {
	defer close(s.chunks)
	proc := &chunkProcessor{streamer: s}
	for {
		select {
		case <-ctx.Done():
			s.storeErr(ctx.Err())
			return
		case event, ok := <-s.stream.Events():
			if !ok {
				if err := s.stream.Err(); err != nil {
					s.storeErr(err)
				}
				return
			}
			for _, chunk := range proc.handle(event) {
				select {
				case s.chunks <- chunk:
				case <-ctx.Done():
					s.storeErr(ctx.Err())
					return
				}
			}
		}
	}
}

func (s *streamer) storeErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *streamer) loadErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *streamer) recordUsage(usage *brtypes.TokenUsage) {
	if usage == nil {
		return
	}
	s.metaMu.Lock()
	defer s.metaMu.Unlock()
	s.meta["usage"] = map[string]int{
		"input_tokens":  int(ptrValue(usage.InputTokens)),
		"output_tokens": int(ptrValue(usage.OutputTokens)),
		"total_tokens":  int(ptrValue(usage.TotalTokens)),
	}
}

// chunkProcessor turns Converse stream events into model chunks. Tool-use
// blocks arrive as a start event carrying the identifier and name followed by
// input fragments, keyed by content block index.
type chunkProcessor struct {
	streamer *streamer
	tools    map[int]*toolBuffer
}

func (p *chunkProcessor) handle(event brtypes.ConverseStreamOutput) []model.Chunk {
	switch ev := event.(type) {
	case *brtypes.ConverseStreamOutputMemberMessageStart:
		p.tools = nil
		return nil

	case *brtypes.ConverseStreamOutputMemberContentBlockStart:
		start, ok := ev.Value.Start.(*brtypes.ContentBlockStartMemberToolUse)
		if !ok {
			return nil
		}
		buf := &toolBuffer{}
		if start.Value.ToolUseId != nil {
			buf.id = *start.Value.ToolUseId
		}
		if start.Value.Name != nil {
			buf.name = *start.Value.Name
		}
		if p.tools == nil {
			p.tools = make(map[int]*toolBuffer)
		}
		p.tools[contentIndex(ev.Value.ContentBlockIndex)] = buf
		return nil

	case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
		switch delta := ev.Value.Delta.(type) {
		case *brtypes.ContentBlockDeltaMemberText:
			if delta.Value == "" {
				return nil
			}
			return []model.Chunk{{Type: model.ChunkTypeText, Text: delta.Value}}
		case *brtypes.ContentBlockDeltaMemberToolUse:
			if buf := p.tools[contentIndex(ev.Value.ContentBlockIndex)]; buf != nil && delta.Value.Input != nil {
				buf.fragments = append(buf.fragments, *delta.Value.Input)
			}
		}
		return nil

	case *brtypes.ConverseStreamOutputMemberContentBlockStop:
		idx := contentIndex(ev.Value.ContentBlockIndex)
		buf := p.tools[idx]
		if buf == nil {
			return nil
		}
		delete(p.tools, idx)
		return []model.Chunk{{
			Type: model.ChunkTypeToolCall,
			ToolCall: &model.ToolCall{
				ID:   buf.id,
				Name: buf.name,
				Args: decodeToolArgs(strings.Join(buf.fragments, "")),
			},
		}}

	case *brtypes.ConverseStreamOutputMemberMessageStop:
		return []model.Chunk{{Type: model.ChunkTypeStop, StopReason: string(ev.Value.StopReason)}}

	case *brtypes.ConverseStreamOutputMemberMetadata:
		p.streamer.recordUsage(ev.Value.Usage)
		if usage := ev.Value.Usage; usage != nil {
			return []model.Chunk{{
				Type: model.ChunkTypeUsage,
				UsageDelta: &model.TokenUsage{
					InputTokens:  int(ptrValue(usage.InputTokens)),
					OutputTokens: int(ptrValue(usage.OutputTokens)),
					TotalTokens:  int(ptrValue(usage.TotalTokens)),
				},
			}}
		}
		return nil
	}
	return nil
}

func contentIndex(idx *int32) int {
	if idx == nil {
		return 0
	}
	return int(*idx)
}

// decodeToolArgs parses accumulated tool input fragments. Invalid JSON falls
// back to an empty object so downstream consumers always see valid arguments.
func decodeToolArgs(raw string) json.RawMessage {
	if raw == "" {
		return json.RawMessage("{}")
	}
	if !json.Valid([]byte(raw)) {
		return json.RawMessage("{}")
	}
	return json.RawMessage(raw)
}
