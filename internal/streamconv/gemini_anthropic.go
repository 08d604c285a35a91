package streamconv

import (
	"context"
	"encoding/json"
	"io"

	"github.com/tidwall/gjson"

	"claude-bridge/internal/canonical"
	geminiproto "claude-bridge/internal/proto/gemini"
)

// GeminiToAnthropic translates a streamGenerateContent?alt=sse stream into
// Messages stream events written to w.
func GeminiToAnthropic(ctx context.Context, w io.Writer, r io.Reader, opts Options) (Stats, error) {
	e := NewEngine(w, decodeGeminiChunk, opts)
	err := e.Run(ctx, r)
	return e.Stats(), err
}

// decodeGeminiChunk reads one GenerateContentResponse record. Gemini delivers
// function calls whole, so every functionCall part with a name is a complete
// tool fragment; missing args become {}.
func decodeGeminiChunk(payload []byte) (Delta, bool) {
	if !gjson.ValidBytes(payload) {
		return Delta{}, false
	}
	root := gjson.ParseBytes(payload)

	var d Delta
	if u := root.Get("usageMetadata"); u.IsObject() {
		d.Usage = &canonical.Usage{
			InputTokens:  int(u.Get("promptTokenCount").Int()),
			OutputTokens: int(u.Get("candidatesTokenCount").Int()),
		}
	}

	cand := root.Get("candidates.0")
	if !cand.Exists() {
		return d, true
	}
	if cand.Get("finishReason").String() == geminiproto.FinishMaxTokens {
		d.Truncated = true
	}

	cand.Get("content.parts").ForEach(func(_, part gjson.Result) bool {
		if t := part.Get("text"); t.Exists() {
			if s := t.String(); s != "" {
				d.Fragments = append(d.Fragments, Fragment{Text: s})
			}
			return true
		}
		fc := part.Get("functionCall")
		if !fc.Exists() {
			return true
		}
		name := fc.Get("name").String()
		if name == "" {
			return true
		}
		args := json.RawMessage(`{}`)
		if a := fc.Get("args"); a.IsObject() {
			args = json.RawMessage(a.Raw)
		}
		d.Fragments = append(d.Fragments, Fragment{ToolName: name, ToolArgs: args})
		return true
	})
	return d, true
}
