package convert

import (
	"encoding/json"
	"fmt"
	"strings"

	"claude-bridge/internal/canonical"
	openaiproto "claude-bridge/internal/proto/openai"
)

func AnthropicToOpenAIRequest(req *canonical.Request) (openaiproto.ChatCompletionsRequest, error) {
	out := openaiproto.ChatCompletionsRequest{
		Model:       req.Model,
		Stream:      req.Stream,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.StopSequences,
	}

	msgs := make([]openaiproto.Message, 0, len(req.Messages)+1)
	if sys := systemText(req.System); strings.TrimSpace(sys) != "" {
		msgs = append(msgs, openaiproto.Message{Role: openaiproto.RoleSystem, Content: &sys})
	}
	out.Messages = append(msgs, anthropicMessagesToOpenAI(req.Messages)...)

	for _, t := range req.Tools {
		params, err := cleanRawSchema(t.InputSchema)
		if err != nil {
			return out, canonical.NewError(canonical.KindBadRequest, fmt.Sprintf("tool %s: invalid input_schema", t.Name), err)
		}
		out.Tools = append(out.Tools, openaiproto.Tool{
			Type: "function",
			Function: openaiproto.Function{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out, nil
}

func anthropicMessagesToOpenAI(msgs []canonical.Message) []openaiproto.Message {
	out := make([]openaiproto.Message, 0, len(msgs))
	for _, m := range msgs {
		role := openaiproto.RoleUser
		if m.Role == canonical.RoleAssistant {
			role = openaiproto.RoleAssistant
		}

		if m.Content.IsText() {
			text := *m.Content.Text
			out = append(out, openaiproto.Message{Role: role, Content: &text})
			continue
		}

		var (
			texts     []string
			toolCalls []openaiproto.ToolCall
			results   []openaiproto.Message
		)
		for _, blk := range m.Content.Blocks {
			switch blk.Type {
			case canonical.BlockText:
				texts = append(texts, blk.Text)
			case canonical.BlockToolUse:
				toolCalls = append(toolCalls, openaiproto.ToolCall{
					ID:   blk.ID,
					Type: "function",
					Function: openaiproto.FunctionCall{
						Name:      blk.Name,
						Arguments: string(compactJSON(blk.Input)),
					},
				})
			case canonical.BlockToolResult:
				text := contentToText(blk.Content)
				results = append(results, openaiproto.Message{
					Role:       openaiproto.RoleTool,
					ToolCallID: blk.ToolUseID,
					Content:    &text,
				})
			}
		}

		// Tool replies must directly follow the assistant turn that issued the calls.
		out = append(out, results...)
		if len(texts) > 0 || len(toolCalls) > 0 {
			msg := openaiproto.Message{Role: role, ToolCalls: toolCalls}
			if len(texts) > 0 {
				joined := strings.Join(texts, "\n")
				msg.Content = &joined
			}
			out = append(out, msg)
		}
	}
	return out
}

// OpenAIResponseToAnthropic converts a successful, fully buffered chat completion.
func OpenAIResponseToAnthropic(body []byte, model string, newID canonical.IDFunc) (*canonical.Response, error) {
	newID = idSource(newID)

	var or openaiproto.ChatCompletionResponse
	if err := json.Unmarshal(body, &or); err != nil {
		return nil, canonical.NewError(canonical.KindUpstream, "invalid upstream response", err)
	}

	resp := canonical.NewResponse(newID(canonical.PrefixMessage), model)
	truncated := false
	if len(or.Choices) > 0 {
		choice := or.Choices[0]
		if text := contentToText(choice.Message.Content); text != "" {
			resp.AppendText(text)
		}
		for _, tc := range choice.Message.ToolCalls {
			id := tc.ID
			if strings.TrimSpace(id) == "" {
				id = newID(canonical.PrefixToolUse)
			}
			resp.AppendToolUse(id, tc.Function.Name, toolArguments(tc.Function.Arguments))
		}
		truncated = choice.FinishReason == openaiproto.FinishLength
	}
	resp.StopReason = StopReason(resp.HasToolUse(), truncated)

	if or.Usage != nil {
		resp.Usage = &canonical.Usage{
			InputTokens:  or.Usage.PromptTokens,
			OutputTokens: or.Usage.CompletionTokens,
		}
	}
	return resp, nil
}
