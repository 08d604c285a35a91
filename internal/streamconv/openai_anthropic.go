package streamconv

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/tidwall/gjson"

	"claude-bridge/internal/canonical"
	openaiproto "claude-bridge/internal/proto/openai"
)

// OpenAIToAnthropic translates a Chat Completions SSE stream into Messages
// stream events written to w.
func OpenAIToAnthropic(ctx context.Context, w io.Writer, r io.Reader, opts Options) (Stats, error) {
	e := NewEngine(w, decodeOpenAIChunk, opts)
	err := e.Run(ctx, r)
	return e.Stats(), err
}

// decodeOpenAIChunk reads one chat.completion.chunk. Only the first choice is
// considered. A tool call needs both its name and complete, valid arguments in
// the same chunk; partial calls are ignored.
func decodeOpenAIChunk(payload []byte) (Delta, bool) {
	if !gjson.ValidBytes(payload) {
		return Delta{}, false
	}
	root := gjson.ParseBytes(payload)

	var d Delta
	if u := root.Get("usage"); u.IsObject() {
		d.Usage = &canonical.Usage{
			InputTokens:  int(u.Get("prompt_tokens").Int()),
			OutputTokens: int(u.Get("completion_tokens").Int()),
		}
	}

	choice := root.Get("choices.0")
	if !choice.Exists() {
		return d, true
	}
	if choice.Get("finish_reason").String() == openaiproto.FinishLength {
		d.Truncated = true
	}

	delta := choice.Get("delta")
	if c := delta.Get("content"); c.Type == gjson.String && c.String() != "" {
		d.Fragments = append(d.Fragments, Fragment{Text: c.String()})
	}
	delta.Get("tool_calls").ForEach(func(_, tc gjson.Result) bool {
		name := tc.Get("function.name").String()
		args := strings.TrimSpace(tc.Get("function.arguments").String())
		if name == "" || args == "" || !gjson.Valid(args) {
			return true
		}
		d.Fragments = append(d.Fragments, Fragment{ToolName: name, ToolArgs: json.RawMessage(args)})
		return true
	})
	return d, true
}
