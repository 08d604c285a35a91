package convert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"claude-bridge/internal/canonical"
	geminiproto "claude-bridge/internal/proto/gemini"
)

func AnthropicToGeminiRequest(req *canonical.Request) (geminiproto.GenerateContentRequest, error) {
	toolUseMap := BuildToolUseMap(req.Messages)
	out := geminiproto.GenerateContentRequest{
		Model:    req.Model,
		Contents: anthropicMessagesToGemini(req.Messages, toolUseMap),
	}

	if sys := systemText(req.System); strings.TrimSpace(sys) != "" {
		out.SystemInstruction = &geminiproto.Content{Parts: []geminiproto.Part{geminiproto.TextPart(sys)}}
	}

	if len(req.Tools) > 0 {
		decls := make([]geminiproto.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			params, err := cleanRawSchema(t.InputSchema)
			if err != nil {
				return out, canonical.NewError(canonical.KindBadRequest, fmt.Sprintf("tool %s: invalid input_schema", t.Name), err)
			}
			decls = append(decls, geminiproto.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			})
		}
		out.Tools = []geminiproto.Tool{{FunctionDeclarations: decls}}
	}

	if req.Temperature != nil || req.MaxTokens != nil || req.TopP != nil || len(req.StopSequences) > 0 {
		out.GenerationConfig = &geminiproto.GenerationConfig{
			Temperature:     req.Temperature,
			TopP:            req.TopP,
			MaxOutputTokens: req.MaxTokens,
			StopSequences:   req.StopSequences,
		}
	}
	return out, nil
}

func anthropicMessagesToGemini(msgs []canonical.Message, toolUseMap map[string]string) []geminiproto.Content {
	out := make([]geminiproto.Content, 0, len(msgs))
	for _, m := range msgs {
		role := geminiproto.RoleUser
		if m.Role == canonical.RoleAssistant {
			role = geminiproto.RoleModel
		}

		if m.Content.IsText() {
			out = append(out, geminiproto.Content{
				Role:  role,
				Parts: []geminiproto.Part{geminiproto.TextPart(*m.Content.Text)},
			})
			continue
		}

		var textParts, callParts, resultParts []geminiproto.Part
		for _, blk := range m.Content.Blocks {
			switch blk.Type {
			case canonical.BlockText:
				textParts = append(textParts, geminiproto.TextPart(blk.Text))
			case canonical.BlockToolUse:
				callParts = append(callParts, geminiproto.Part{FunctionCall: &geminiproto.FunctionCall{
					Name: blk.Name,
					Args: compactJSON(blk.Input),
				}})
			case canonical.BlockToolResult:
				// Gemini matches results by function name; without a prior
				// tool_use the backend would reject the orphan.
				name, ok := toolUseMap[blk.ToolUseID]
				if !ok {
					continue
				}
				resultParts = append(resultParts, geminiproto.Part{FunctionResponse: &geminiproto.FunctionResponse{
					Name:     name,
					Response: functionResponseBody(blk.Content),
				}})
			}
		}

		// Gemini pairs results by name, not position, so they may follow the text.
		if len(textParts) > 0 || len(callParts) > 0 {
			out = append(out, geminiproto.Content{Role: role, Parts: append(textParts, callParts...)})
		}
		if len(resultParts) > 0 {
			out = append(out, geminiproto.Content{Role: geminiproto.RoleTool, Parts: resultParts})
		}
	}
	return out
}

func functionResponseBody(content json.RawMessage) map[string]any {
	content = bytes.TrimSpace(content)
	if len(content) == 0 {
		return map[string]any{}
	}
	return map[string]any{"content": content}
}

// GeminiResponseToAnthropic converts a successful, fully buffered generateContent response.
func GeminiResponseToAnthropic(body []byte, model string, newID canonical.IDFunc) (*canonical.Response, error) {
	newID = idSource(newID)

	var gr geminiproto.GenerateContentResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return nil, canonical.NewError(canonical.KindUpstream, "invalid upstream response", err)
	}

	resp := canonical.NewResponse(newID(canonical.PrefixMessage), model)
	truncated := false
	if len(gr.Candidates) > 0 {
		cand := gr.Candidates[0]
		if cand.Content != nil {
			for _, p := range cand.Content.Parts {
				switch {
				case p.Text != nil:
					if *p.Text != "" {
						resp.AppendText(*p.Text)
					}
				case p.FunctionCall != nil:
					id := p.FunctionCall.ID
					if strings.TrimSpace(id) == "" {
						id = newID(canonical.PrefixToolUse)
					}
					resp.AppendToolUse(id, p.FunctionCall.Name, p.FunctionCall.Args)
				}
			}
		}
		truncated = cand.FinishReason == geminiproto.FinishMaxTokens
	}
	resp.StopReason = StopReason(resp.HasToolUse(), truncated)

	if gr.UsageMetadata != nil {
		resp.Usage = &canonical.Usage{
			InputTokens:  gr.UsageMetadata.PromptTokenCount,
			OutputTokens: gr.UsageMetadata.CandidatesTokenCount,
		}
	}
	return resp, nil
}
