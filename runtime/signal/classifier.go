package signal

import (
	"encoding/json"

	"goa.design/statesync/runtime/update"
)

type (
	// Stream delivers classified signals. Successive calls to Recv return
	// signals until the upstream terminates, at which point Recv returns the
	// upstream error (io.EOF on normal completion).
	Stream interface {
		// Recv returns the next signal.
		Recv() (Signal, error)
		// Close closes the stream and its upstream.
		Close() error
	}

	// Classifier turns a raw update stream into an ordered signal stream.
	// For every upstream event it emits the Raw signal first, then every
	// signal derived from that event, before touching the next event. It
	// buffers nothing across events; waiting for the next upstream event is
	// its only blocking point.
	Classifier struct {
		src     update.Stream
		pending []Signal
	}
)

// NewClassifier wraps the given update stream.
func NewClassifier(src update.Stream) *Classifier {
	return &Classifier{src: src}
}

// Recv returns the next classified signal, pulling a new upstream event when
// the signals of the previous one are exhausted. Upstream errors, including
// io.EOF, pass through once the pending signals are drained.
func (c *Classifier) Recv() (Signal, error) {
	for len(c.pending) == 0 {
		ev, err := c.src.Recv()
		if err != nil {
			return nil, err
		}
		c.pending = classify(ev)
	}
	sig := c.pending[0]
	c.pending = c.pending[1:]
	return sig, nil
}

// Close closes the upstream.
func (c *Classifier) Close() error {
	c.pending = nil
	return c.src.Close()
}

// classify derives the ordered signal list for one event. The Raw signal
// always comes first; Data items with media kinds other than snapshot or
// delta stay visible only through it.
func classify(ev *update.Event) []Signal {
	sigs := []Signal{Raw{Event: ev}}
	if ev.ConversationID != "" {
		sigs = append(sigs, ConversationID{ID: ev.ConversationID})
	}
	if text := ev.Text(); text != "" {
		sigs = append(sigs, Text{Text: text})
	}
	for _, c := range ev.Contents {
		switch v := c.(type) {
		case update.ToolCallContent:
			sigs = append(sigs, ToolCall{CallID: v.CallID, Name: v.Name, Args: v.Args})
		case update.ToolResultContent:
			sigs = append(sigs, ToolResult{CallID: v.CallID, Result: v.Result})
		case update.DataContent:
			if v.Bytes == nil {
				continue
			}
			switch v.MediaKind {
			case update.MediaSnapshot:
				sigs = append(sigs, Snapshot{Document: json.RawMessage(v.Bytes)})
			case update.MediaDelta:
				sigs = append(sigs, Delta{Document: json.RawMessage(v.Bytes)})
			}
		}
	}
	return sigs
}
