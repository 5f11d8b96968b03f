package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"goa.design/statesync/runtime/model"
)

// streamer adapts an Anthropic Messages streaming stream to the
// model.Streamer interface. A pump goroutine reads SSE events and publishes
// translated chunks on a channel until the stream ends or the context is
// cancelled.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *ssestream.Stream[sdk.MessageStreamEventUnion]

	chunks chan model.Chunk

	errMu    sync.Mutex
	errSet   bool
	finalErr error

	metaMu   sync.RWMutex
	metadata map[string]any
}

func newStreamer(ctx context.Context, stream *ssestream.Stream[sdk.MessageStreamEventUnion]) model.Streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &streamer{
		ctx:    cctx,
		cancel: cancel,
		stream: stream,
		chunks: make(chan model.Chunk, 32),
	}
	go s.run()
	return s
}

// Recv implements model.Streamer.
func (s *streamer) Recv() (model.Chunk, error) {
	select {
	case chunk, ok := <-s.chunks:
		if ok {
			return chunk, nil
		}
		if err := s.err(); err != nil {
			return model.Chunk{}, err
		}
		return model.Chunk{}, io.EOF
	case <-s.ctx.Done():
		err := s.ctx.Err()
		s.setErr(err)
		return model.Chunk{}, err
	}
}

// Close implements model.Streamer.
func (s *streamer) Close() error {
	s.cancel()
	if s.stream == nil {
		return nil
	}
	return s.stream.Close()
}

// Metadata implements model.Streamer.
func (s *streamer) Metadata() map[string]any {
	s.metaMu.RLock()
	defer s.metaMu.RUnlock()
	if len(s.metadata) == 0 {
		return nil
	}
	out := make(map[string]any, len(s.metadata))
	for k, v := range s.metadata {
		out[k] = v
	}
	return out
}

func (s *streamer) run() {
	defer close(s.chunks)
	defer func() {
		if s.stream != nil {
			_ = s.stream.Close()
		}
	}()

	p := newChunkProcessor(s.emitChunk, s.recordUsage)

	for {
		select {
		case <-s.ctx.Done():
			s.setErr(s.ctx.Err())
			return
		default:
		}
		if !s.stream.Next() {
			if err := s.stream.Err(); err != nil {
				s.setErr(err)
			} else if err := s.ctx.Err(); err != nil {
				s.setErr(err)
			}
			return
		}
		if err := p.Handle(s.stream.Current()); err != nil {
			s.setErr(err)
			return
		}
	}
}

func (s *streamer) emitChunk(chunk model.Chunk) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	case s.chunks <- chunk:
		return nil
	}
}

func (s *streamer) recordUsage(usage model.TokenUsage) {
	s.metaMu.Lock()
	if s.metadata == nil {
		s.metadata = make(map[string]any)
	}
	s.metadata["usage"] = usage
	s.metaMu.Unlock()
}

func (s *streamer) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.errSet {
		return
	}
	s.errSet = true
	s.finalErr = err
}

func (s *streamer) err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.finalErr
}

// chunkProcessor converts Anthropic streaming events into model.Chunks.
// Tool use blocks arrive as a start event plus partial JSON deltas; their
// arguments are buffered per content block index and emitted as one
// tool_call chunk when the block stops.
type chunkProcessor struct {
	emit        func(model.Chunk) error
	recordUsage func(model.TokenUsage)

	toolBlocks map[int]*toolBuffer
	stopReason string
}

type toolBuffer struct {
	id        string
	name      string
	fragments []string
}

func newChunkProcessor(emit func(model.Chunk) error, recordUsage func(model.TokenUsage)) *chunkProcessor {
	return &chunkProcessor{
		emit:        emit,
		recordUsage: recordUsage,
		toolBlocks:  make(map[int]*toolBuffer),
	}
}

func (p *chunkProcessor) Handle(event sdk.MessageStreamEventUnion) error {
	switch ev := event.AsAny().(type) {
	case sdk.MessageStartEvent:
		p.toolBlocks = make(map[int]*toolBuffer)
		p.stopReason = ""
		return nil
	case sdk.ContentBlockStartEvent:
		if toolUse, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
			if toolUse.ID == "" {
				return fmt.Errorf("anthropic stream: tool use block missing id")
			}
			if toolUse.Name == "" {
				return fmt.Errorf("anthropic stream: tool use block %q missing name", toolUse.ID)
			}
			p.toolBlocks[int(ev.Index)] = &toolBuffer{id: toolUse.ID, name: toolUse.Name}
		}
		return nil
	case sdk.ContentBlockDeltaEvent:
		idx := int(ev.Index)
		switch delta := ev.Delta.AsAny().(type) {
		case sdk.TextDelta:
			if delta.Text == "" {
				return nil
			}
			return p.emit(model.Chunk{Type: model.ChunkTypeText, Text: delta.Text})
		case sdk.InputJSONDelta:
			if delta.PartialJSON == "" {
				return nil
			}
			if tb := p.toolBlocks[idx]; tb != nil {
				tb.fragments = append(tb.fragments, delta.PartialJSON)
			}
			return nil
		default:
			return nil
		}
	case sdk.ContentBlockStopEvent:
		idx := int(ev.Index)
		tb := p.toolBlocks[idx]
		if tb == nil {
			return nil
		}
		delete(p.toolBlocks, idx)
		return p.emit(model.Chunk{
			Type: model.ChunkTypeToolCall,
			ToolCall: &model.ToolCall{
				ID:   tb.id,
				Name: tb.name,
				Args: decodeToolArgs(tb.fragments),
			},
		})
	case sdk.MessageDeltaEvent:
		p.stopReason = string(ev.Delta.StopReason)
		usage := model.TokenUsage{
			InputTokens:  int(ev.Usage.InputTokens),
			OutputTokens: int(ev.Usage.OutputTokens),
			TotalTokens:  int(ev.Usage.InputTokens + ev.Usage.OutputTokens),
		}
		if p.recordUsage != nil {
			p.recordUsage(usage)
		}
		return p.emit(model.Chunk{Type: model.ChunkTypeUsage, UsageDelta: &usage})
	case sdk.MessageStopEvent:
		chunk := model.Chunk{Type: model.ChunkTypeStop, StopReason: p.stopReason}
		p.toolBlocks = make(map[int]*toolBuffer)
		return p.emit(chunk)
	}
	return nil
}

// decodeToolArgs joins the accumulated partial JSON fragments. Malformed
// accumulations fall back to an empty object so a hallucinated argument
// stream never kills the whole run.
func decodeToolArgs(fragments []string) json.RawMessage {
	joined := strings.TrimSpace(strings.Join(fragments, ""))
	if joined == "" || !json.Valid([]byte(joined)) {
		return json.RawMessage("{}")
	}
	return json.RawMessage(joined)
}
