package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"claude-bridge/internal/canonical"
	"claude-bridge/internal/convert"
	"claude-bridge/internal/providers"
	"claude-bridge/internal/streamconv"
)

const Name = "openai"

// Dialect speaks the Chat Completions API. The stream flag travels in the body;
// the endpoint is the same for both modes.
type Dialect struct{}

func (Dialect) Name() string { return Name }

func (Dialect) TranslateRequest(req *canonical.Request, up providers.Upstream) (*providers.Request, error) {
	body, err := convert.AnthropicToOpenAIRequest(req)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, canonical.NewError(canonical.KindBadRequest, "encode openai request", err)
	}

	h := providers.JSONHeader(req.Stream)
	if key := strings.TrimSpace(up.APIKey); key != "" {
		h.Set("Authorization", "Bearer "+key)
	}
	return &providers.Request{
		Method: http.MethodPost,
		URL:    providers.JoinURL(up.BaseURL, "chat/completions"),
		Header: h,
		Body:   b,
	}, nil
}

func (Dialect) TranslateResponse(body []byte, model string, newID canonical.IDFunc) (*canonical.Response, error) {
	return convert.OpenAIResponseToAnthropic(body, model, newID)
}

func (Dialect) TranslateStream(ctx context.Context, w io.Writer, r io.Reader, opts streamconv.Options) (streamconv.Stats, error) {
	return streamconv.OpenAIToAnthropic(ctx, w, r, opts)
}
