package streamconv

import (
	"bytes"
	"encoding/json"
	"io"

	anthropicproto "claude-bridge/internal/proto/anthropic"
)

// writeAnthropicEvent writes one `event: <name>\ndata: <json>\n\n` record in a
// single Write so a record is never split across flushes.
func writeAnthropicEvent(w io.Writer, name string, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	buf.Grow(len(name) + len(b) + 16)
	buf.WriteString("event: ")
	buf.WriteString(name)
	buf.WriteString("\ndata: ")
	buf.Write(b)
	buf.WriteString("\n\n")
	_, err = w.Write(buf.Bytes())
	return err
}

func messageStartEvent(id, model string) anthropicproto.MessageStartEvent {
	return anthropicproto.MessageStartEvent{
		Type: anthropicproto.EventMessageStart,
		Message: anthropicproto.StartMessage{
			ID:      id,
			Type:    "message",
			Role:    "assistant",
			Content: []any{},
			Model:   model,
		},
	}
}

func textBlockEvents(index int, text string) (anthropicproto.ContentBlockStartEvent, anthropicproto.ContentBlockDeltaEvent) {
	empty := ""
	return anthropicproto.ContentBlockStartEvent{
			Type:         anthropicproto.EventContentBlockStart,
			Index:        index,
			ContentBlock: anthropicproto.BlockStart{Type: "text", Text: &empty},
		}, anthropicproto.ContentBlockDeltaEvent{
			Type:  anthropicproto.EventContentBlockDelta,
			Index: index,
			Delta: anthropicproto.BlockDelta{Type: anthropicproto.DeltaText, Text: text},
		}
}

func toolBlockEvents(index int, id, name string, args json.RawMessage) (anthropicproto.ContentBlockStartEvent, anthropicproto.ContentBlockDeltaEvent) {
	return anthropicproto.ContentBlockStartEvent{
			Type:  anthropicproto.EventContentBlockStart,
			Index: index,
			ContentBlock: anthropicproto.BlockStart{
				Type:  "tool_use",
				ID:    id,
				Name:  name,
				Input: json.RawMessage(`{}`),
			},
		}, anthropicproto.ContentBlockDeltaEvent{
			Type:  anthropicproto.EventContentBlockDelta,
			Index: index,
			Delta: anthropicproto.BlockDelta{Type: anthropicproto.DeltaInputJSON, PartialJSON: string(args)},
		}
}

func blockStopEvent(index int) anthropicproto.ContentBlockStopEvent {
	return anthropicproto.ContentBlockStopEvent{Type: anthropicproto.EventContentBlockStop, Index: index}
}
