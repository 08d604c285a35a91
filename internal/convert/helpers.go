package convert

import (
	"bytes"
	"encoding/json"
	"strings"

	"claude-bridge/internal/canonical"
)

// contentToText flattens a tool_result or message content value: strings are
// returned as is, block arrays contribute their text blocks. Anything else
// (or an array without text) is returned as compact JSON.
func contentToText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	switch t := v.(type) {
	case string:
		return t
	case []any:
		var b strings.Builder
		found := false
		for _, item := range t {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if m["type"] == "text" {
				if s, ok := m["text"].(string); ok {
					b.WriteString(s)
					found = true
				}
			}
		}
		if found {
			return b.String()
		}
	}
	return string(compactJSON(raw))
}

// compactJSON strips insignificant whitespace; empty or null input becomes {}.
func compactJSON(raw json.RawMessage) json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return json.RawMessage(`{}`)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}

// toolArguments turns a function-call arguments string into a tool_use input.
// Empty or unparseable arguments yield an empty object.
func toolArguments(args string) json.RawMessage {
	args = strings.TrimSpace(args)
	if args == "" || !json.Valid([]byte(args)) {
		return json.RawMessage(`{}`)
	}
	return compactJSON(json.RawMessage(args))
}

// StopReason derives the canonical stop reason; tool use always wins.
func StopReason(hasToolUse, truncated bool) string {
	switch {
	case hasToolUse:
		return canonical.StopToolUse
	case truncated:
		return canonical.StopMaxTokens
	default:
		return canonical.StopEndTurn
	}
}

func systemText(c *canonical.Content) string {
	if c == nil {
		return ""
	}
	return c.PlainText()
}

func idSource(newID canonical.IDFunc) canonical.IDFunc {
	if newID == nil {
		return canonical.NewID
	}
	return newID
}
