package anthropic

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"claude-bridge/internal/canonical"
	"claude-bridge/internal/logbus"
	"claude-bridge/internal/metrics"
	"claude-bridge/internal/providers"
	"claude-bridge/internal/providers/gemini"
	"claude-bridge/internal/providers/openai"
)

func seqIDs() canonical.IDFunc {
	n := 0
	return func(prefix string) string {
		n++
		return fmt.Sprintf("%s%d", prefix, n)
	}
}

func newTestHandler(client *http.Client, bus *logbus.Bus) *Handler {
	reg := providers.NewRegistry(openai.Dialect{}, gemini.Dialect{})
	return NewHandler(reg, Options{
		Client:  client,
		Metrics: metrics.New(),
		Bus:     bus,
		NewID:   seqIDs(),
	})
}

func serve(h *Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) (string, string) {
	t.Helper()
	var env struct {
		Type  string `json:"type"`
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode error envelope %q: %v", rec.Body.String(), err)
	}
	if env.Type != "error" {
		t.Fatalf("envelope type got %q", env.Type)
	}
	return env.Error.Type, env.Error.Message
}

func TestParseTarget(t *testing.T) {
	cases := []struct {
		path    string
		dialect string
		base    string
		status  int
	}{
		{"/openai/https://api.openai.com/v1/v1/messages", "openai", "https://api.openai.com/v1", 0},
		{"/openai/https:/api.openai.com/v1/v1/messages", "openai", "https://api.openai.com/v1", 0},
		{"/gemini/https:/generativelanguage.googleapis.com/v1beta/v1/messages", "gemini", "https://generativelanguage.googleapis.com/v1beta", 0},
		{"/openai/localhost:8000/v1/v1/messages", "openai", "localhost:8000/v1", 0},
		{"/openai/v1/messages", "", "", http.StatusBadRequest},
		{"/openai/https://api.openai.com/v1/chat/completions", "", "", http.StatusNotFound},
		{"/v1/messages", "", "", http.StatusBadRequest},
	}
	for _, tc := range cases {
		d, base, status, err := parseTarget(tc.path)
		if status != tc.status || d != tc.dialect || base != tc.base {
			t.Fatalf("parseTarget(%q) got (%q, %q, %d, %v) want (%q, %q, %d)", tc.path, d, base, status, err, tc.dialect, tc.base, tc.status)
		}
	}
}

func TestCreateMessage_RejectsBeforeBackend(t *testing.T) {
	var hits int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer backend.Close()

	valid := `{"model":"m","messages":[{"role":"user","content":"hi"}]}`
	cases := []struct {
		name     string
		target   string
		key      string
		body     string
		status   int
		errType  string
		contains string
	}{
		{"missing key", "/openai/" + backend.URL + "/v1/messages", "", valid, 401, "authentication_error", "x-api-key"},
		{"unsupported dialect", "/bedrock/" + backend.URL + "/v1/messages", "k", valid, 400, "invalid_request_error", "Unsupported type"},
		{"wrong suffix", "/openai/" + backend.URL + "/v1/complete", "k", valid, 404, "not_found_error", "/v1/messages"},
		{"invalid json", "/openai/" + backend.URL + "/v1/messages", "k", `{"model":`, 400, "invalid_request_error", "invalid json"},
		{"no messages", "/gemini/" + backend.URL + "/v1/messages", "k", `{"model":"m"}`, 400, "invalid_request_error", "messages is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tc.target, strings.NewReader(tc.body))
			if tc.key != "" {
				req.Header.Set("x-api-key", tc.key)
			}
			rec := serve(newTestHandler(backend.Client(), nil), req)
			if rec.Code != tc.status {
				t.Fatalf("status got %d want %d: %s", rec.Code, tc.status, rec.Body.String())
			}
			typ, msg := decodeError(t, rec)
			if typ != tc.errType || !strings.Contains(msg, tc.contains) {
				t.Fatalf("error got %s %q", typ, msg)
			}
			if rec.Header().Get("X-Request-Id") == "" {
				t.Fatalf("missing X-Request-Id")
			}
		})
	}
	if n := atomic.LoadInt32(&hits); n != 0 {
		t.Fatalf("backend called %d times", n)
	}
}

func TestCreateMessage_OpenAISync(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path got %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-client" {
			t.Errorf("authorization got %q", got)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if _, ok := body["max_tokens"]; ok {
			t.Errorf("max_tokens should be absent: %v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"chatcmpl-1","choices":[{"index":0,"message":{"role":"assistant","content":null,"tool_calls":[{"id":"call_9","type":"function","function":{"name":"lookup","arguments":"{\"q\":\"go\"}"}}]},"finish_reason":"tool_calls"}],"usage":{"prompt_tokens":5,"completion_tokens":3,"total_tokens":8}}`)
	}))
	defer backend.Close()

	bus := logbus.New(nil, 10, nil)
	req := httptest.NewRequest(http.MethodPost, "/openai/"+backend.URL+"/v1/v1/messages",
		strings.NewReader(`{"model":"gpt-4o","messages":[{"role":"user","content":"search go"}],"tools":[{"name":"lookup","input_schema":{"type":"object","$schema":"x"}}]}`))
	req.Header.Set("Authorization", "Bearer sk-client")
	req.Header.Set("X-Request-Id", "req-123")
	rec := serve(newTestHandler(backend.Client(), bus), req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-Id") != "req-123" {
		t.Fatalf("request id not echoed")
	}
	var resp canonical.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StopReason != canonical.StopToolUse || len(resp.Content) != 1 {
		t.Fatalf("response got %+v", resp)
	}
	if blk := resp.Content[0]; blk.Type != canonical.BlockToolUse || blk.ID != "call_9" || string(blk.Input) != `{"q":"go"}` {
		t.Fatalf("tool block got %+v", blk)
	}
	if resp.Usage == nil || resp.Usage.InputTokens != 5 || resp.Usage.OutputTokens != 3 {
		t.Fatalf("usage got %+v", resp.Usage)
	}

	logs := bus.Recent(1)
	if len(logs) != 1 || logs[0].RequestID != "req-123" || logs[0].Dialect != "openai" || logs[0].Status != 200 || logs[0].OutputTokens != 3 {
		t.Fatalf("request log got %+v", logs)
	}
}

func TestCreateMessage_GeminiStream(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/models/gemini-2.0-flash:streamGenerateContent" || r.URL.Query().Get("alt") != "sse" {
			t.Errorf("url got %s", r.URL.String())
		}
		if r.Header.Get("x-goog-api-key") != "g-key" {
			t.Errorf("missing x-goog-api-key")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		f := w.(http.Flusher)
		_, _ = io.WriteString(w, "data: {\"candidates\":[{\"content\":{\"role\":\"model\",\"parts\":[{\"text\":\"Hel\"}]}}]}\r\n\r\n")
		f.Flush()
		_, _ = io.WriteString(w, "data: {\"candidates\":[{\"content\":{\"role\":\"model\",\"parts\":[{\"text\":\"lo\"}]}}]}\r\n\r\ndata: {broken\r\n\r\n")
		f.Flush()
		_, _ = io.WriteString(w, "data: {\"candidates\":[{\"content\":{\"parts\":[]},\"finishReason\":\"STOP\"}],\"usageMetadata\":{\"promptTokenCount\":4,\"candidatesTokenCount\":2}}")
	}))
	defer backend.Close()

	bus := logbus.New(nil, 10, nil)
	req := httptest.NewRequest(http.MethodPost, "/gemini/"+backend.URL+"/v1beta/v1/messages",
		strings.NewReader(`{"model":"gemini-2.0-flash","stream":true,"messages":[{"role":"user","content":"hello"}]}`))
	req.Header.Set("x-api-key", "g-key")
	rec := serve(newTestHandler(backend.Client(), bus), req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type got %q", ct)
	}
	out := rec.Body.String()
	if strings.Count(out, "event: message_start\n") != 1 || strings.Count(out, "event: message_stop\n") != 1 {
		t.Fatalf("bad bracketing:\n%s", out)
	}
	if !strings.HasPrefix(out, "event: message_start\n") || !strings.HasSuffix(out, "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n") {
		t.Fatalf("bad bracketing:\n%s", out)
	}
	for _, want := range []string{
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}`,
		`{"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":"lo"}}`,
		`{"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":2}}`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in:\n%s", want, out)
		}
	}

	ev := bus.Recent(1)[0]
	if !ev.Stream || ev.TextBlocks != 2 || ev.MalformedLines != 1 || ev.StopReason != canonical.StopEndTurn {
		t.Fatalf("request log got %+v", ev)
	}
}

func TestCreateMessage_UpstreamErrorPassthrough(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":"rate limited"}`)
	}))
	defer backend.Close()

	for _, dialect := range []string{"openai", "gemini"} {
		t.Run(dialect, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/"+dialect+"/"+backend.URL+"/v1/messages",
				strings.NewReader(`{"model":"m","stream":true,"messages":[{"role":"user","content":"hi"}]}`))
			req.Header.Set("x-api-key", "k")
			rec := serve(newTestHandler(backend.Client(), nil), req)

			if rec.Code != http.StatusTooManyRequests {
				t.Fatalf("status got %d", rec.Code)
			}
			if got := rec.Body.String(); got != `{"error":"rate limited"}` {
				t.Fatalf("body got %q", got)
			}
		})
	}
}

func TestCreateMessage_BackendUnreachable(t *testing.T) {
	backend := httptest.NewServer(http.NotFoundHandler())
	url := backend.URL
	backend.Close()

	req := httptest.NewRequest(http.MethodPost, "/openai/"+url+"/v1/messages",
		strings.NewReader(`{"model":"m","messages":[{"role":"user","content":"hi"}]}`))
	req.Header.Set("x-api-key", "k")
	rec := serve(newTestHandler(nil, nil), req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status got %d", rec.Code)
	}
	if typ, msg := decodeError(t, rec); typ != "api_error" || msg != "upstream request failed" {
		t.Fatalf("error got %s %q", typ, msg)
	}
}

func TestCreateMessage_MethodNotAllowed(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/openai/https://api.example.com/v1/messages", nil)
	rec := serve(newTestHandler(nil, nil), req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status got %d", rec.Code)
	}
}
