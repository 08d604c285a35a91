package canonical

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParseRequest_StringAndBlockContent(t *testing.T) {
	body := []byte(`{
		"model":"gemini-2.0-flash",
		"max_tokens":256,
		"messages":[
			{"role":"user","content":"hi"},
			{"role":"assistant","content":[
				{"type":"text","text":"checking"},
				{"type":"tool_use","id":"toolu_1","name":"get_weather","input":{"location":"SF"}}
			]},
			{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_1","content":"sunny","is_error":false}]}
		]
	}`)

	req, err := ParseRequest(body)
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if req.MaxTokens == nil || *req.MaxTokens != 256 {
		t.Fatalf("expected max_tokens 256, got %#v", req.MaxTokens)
	}
	if req.Temperature != nil {
		t.Fatalf("expected temperature absent, got %v", *req.Temperature)
	}
	if !req.Messages[0].Content.IsText() || req.Messages[0].Content.PlainText() != "hi" {
		t.Fatalf("unexpected first message: %#v", req.Messages[0])
	}
	blocks := req.Messages[1].Content.Blocks
	if len(blocks) != 2 || blocks[1].Type != BlockToolUse || blocks[1].ID != "toolu_1" {
		t.Fatalf("unexpected assistant blocks: %#v", blocks)
	}
	if string(blocks[1].Input) != `{"location":"SF"}` {
		t.Fatalf("unexpected input: %s", blocks[1].Input)
	}
	res := req.Messages[2].Content.Blocks[0]
	if res.ToolUseID != "toolu_1" || string(res.Content) != `"sunny"` || res.IsError == nil || *res.IsError {
		t.Fatalf("unexpected tool_result: %#v", res)
	}
}

func TestParseRequest_BadRequest(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"malformed", `{"model":`, "invalid json"},
		{"not an object", `[1,2]`, "invalid json"},
		{"content number", `{"model":"m","messages":[{"role":"user","content":42}]}`, "invalid json"},
		{"missing model", `{"messages":[{"role":"user","content":"hi"}]}`, "model is required"},
		{"missing messages", `{"model":"m"}`, "messages is required"},
		{"bad role", `{"model":"m","messages":[{"role":"system","content":"hi"}]}`, "unexpected role"},
		{"tool without name", `{"model":"m","messages":[{"role":"user","content":"hi"}],"tools":[{"description":"x"}]}`, "tools.0.name"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseRequest([]byte(tc.body))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !errors.Is(err, ErrBadRequest) {
				t.Fatalf("expected BadRequest kind, got %v", err)
			}
			if KindOf(err) != KindBadRequest {
				t.Fatalf("KindOf = %q", KindOf(err))
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err.Error(), tc.want)
			}
		})
	}
}

func TestErrorKindsDoNotCrossMatch(t *testing.T) {
	err := NewError(KindUnsupportedDialect, "unsupported type", nil)
	if errors.Is(err, ErrBadRequest) {
		t.Fatalf("unsupported dialect must not match BadRequest")
	}
	if !errors.Is(err, ErrUnsupportedDialect) {
		t.Fatalf("expected UnsupportedDialect match")
	}
	if KindOf(errors.New("plain")) != "" {
		t.Fatalf("plain errors have no kind")
	}
}

func TestResponseMarshal(t *testing.T) {
	resp := NewResponse("msg_1", "gpt-4o")
	resp.AppendText("hello")
	resp.AppendToolUse("call_1", "get_weather", nil)
	resp.StopReason = StopToolUse

	b, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out := string(b)
	for _, want := range []string{
		`"type":"message"`,
		`"role":"assistant"`,
		`{"type":"text","text":"hello"}`,
		`{"type":"tool_use","id":"call_1","name":"get_weather","input":{}}`,
		`"stop_reason":"tool_use"`,
		`"stop_sequence":null`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in %s", want, out)
		}
	}
	if strings.Contains(out, "usage") {
		t.Fatalf("absent usage must not be serialized: %s", out)
	}
	if !resp.HasToolUse() {
		t.Fatalf("expected HasToolUse")
	}
}

func TestContentMarshalRoundTrip(t *testing.T) {
	b, _ := json.Marshal(Message{Role: RoleUser, Content: TextContent("hi")})
	if string(b) != `{"role":"user","content":"hi"}` {
		t.Fatalf("unexpected: %s", b)
	}
	b, _ = json.Marshal(Message{Role: RoleUser, Content: BlockContent()})
	if string(b) != `{"role":"user","content":[]}` {
		t.Fatalf("unexpected: %s", b)
	}
}

func TestNewID(t *testing.T) {
	a, b := NewID(PrefixToolUse), NewID(PrefixToolUse)
	if !strings.HasPrefix(a, "toolu_") || a == b {
		t.Fatalf("unexpected ids %q %q", a, b)
	}
}
