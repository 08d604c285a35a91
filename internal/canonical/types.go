package canonical

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
)

type Request struct {
	Model         string    `json:"model"`
	Messages      []Message `json:"messages"`
	System        *Content  `json:"system,omitempty"`
	MaxTokens     *int      `json:"max_tokens,omitempty"`
	Temperature   *float64  `json:"temperature,omitempty"`
	TopP          *float64  `json:"top_p,omitempty"`
	StopSequences []string  `json:"stop_sequences,omitempty"`
	Stream        bool      `json:"stream,omitempty"`
	Tools         []Tool    `json:"tools,omitempty"`
}

type Message struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// Content is either a plain string or an ordered list of blocks.
type Content struct {
	Text   *string
	Blocks []ContentBlock
}

func TextContent(s string) Content {
	return Content{Text: &s}
}

func BlockContent(blocks ...ContentBlock) Content {
	return Content{Blocks: blocks}
}

func (c Content) IsText() bool { return c.Text != nil }

// PlainText concatenates the text of every text block, or returns the string form as is.
func (c Content) PlainText() string {
	if c.Text != nil {
		return *c.Text
	}
	var b strings.Builder
	for _, blk := range c.Blocks {
		if blk.Type == BlockText {
			b.WriteString(blk.Text)
		}
	}
	return b.String()
}

func (c *Content) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*c = Content{}
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Content{Text: &s}
		return nil
	case data[0] == '[':
		var blocks []ContentBlock
		if err := json.Unmarshal(data, &blocks); err != nil {
			return err
		}
		*c = Content{Blocks: blocks}
		return nil
	default:
		return errors.New("content must be a string or an array of content blocks")
	}
}

func (c Content) MarshalJSON() ([]byte, error) {
	if c.Text != nil {
		return json.Marshal(*c.Text)
	}
	if c.Blocks == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c.Blocks)
}

type ContentBlock struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   *bool           `json:"is_error,omitempty"`
}

type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

type Response struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Model        string         `json:"model,omitempty"`
	Content      []ContentBlock `json:"content"`
	StopReason   string         `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        *Usage         `json:"usage,omitempty"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func NewResponse(id, model string) *Response {
	return &Response{
		ID:      id,
		Type:    "message",
		Role:    RoleAssistant,
		Model:   model,
		Content: []ContentBlock{},
	}
}

func (r *Response) AppendText(text string) {
	r.Content = append(r.Content, ContentBlock{Type: BlockText, Text: text})
}

// AppendToolUse adds a tool_use block. An empty input is normalized to {}.
func (r *Response) AppendToolUse(id, name string, input json.RawMessage) {
	if len(bytes.TrimSpace(input)) == 0 || bytes.Equal(bytes.TrimSpace(input), []byte("null")) {
		input = json.RawMessage(`{}`)
	}
	r.Content = append(r.Content, ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: input})
}

func (r *Response) HasToolUse() bool {
	for _, blk := range r.Content {
		if blk.Type == BlockToolUse {
			return true
		}
	}
	return false
}

// ParseRequest decodes an inbound Messages request. Every failure is a BadRequest.
func ParseRequest(body []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, NewError(KindBadRequest, "invalid json", err)
	}
	if strings.TrimSpace(req.Model) == "" {
		return nil, NewError(KindBadRequest, "model is required", nil)
	}
	if len(req.Messages) == 0 {
		return nil, NewError(KindBadRequest, "messages is required", nil)
	}
	for i, m := range req.Messages {
		if m.Role != RoleUser && m.Role != RoleAssistant {
			return nil, NewError(KindBadRequest, fmt.Sprintf("messages.%d.role: unexpected role %q", i, m.Role), nil)
		}
	}
	for i, t := range req.Tools {
		if strings.TrimSpace(t.Name) == "" {
			return nil, NewError(KindBadRequest, fmt.Sprintf("tools.%d.name is required", i), nil)
		}
	}
	return &req, nil
}
