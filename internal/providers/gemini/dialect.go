package gemini

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"claude-bridge/internal/canonical"
	"claude-bridge/internal/convert"
	"claude-bridge/internal/providers"
	"claude-bridge/internal/streamconv"
)

const Name = "gemini"

// Dialect speaks the Gemini generateContent API. Streaming is selected by the
// endpoint, not by a body field.
type Dialect struct{}

func (Dialect) Name() string { return Name }

func (Dialect) TranslateRequest(req *canonical.Request, up providers.Upstream) (*providers.Request, error) {
	body, err := convert.AnthropicToGeminiRequest(req)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, canonical.NewError(canonical.KindBadRequest, "encode gemini request", err)
	}

	h := providers.JSONHeader(req.Stream)
	if key := strings.TrimSpace(up.APIKey); key != "" {
		h.Set("x-goog-api-key", key)
	}
	return &providers.Request{
		Method: http.MethodPost,
		URL:    providers.JoinURL(up.BaseURL, endpoint(req.Model, req.Stream)),
		Header: h,
		Body:   b,
	}, nil
}

// endpoint accepts bare ids, "models/<id>" and other resource names such as
// "tunedModels/<id>"; slashes in the name are kept as path separators.
func endpoint(model string, stream bool) string {
	name := strings.TrimPrefix(strings.TrimSpace(model), "models/")
	if !strings.Contains(name, "/") {
		name = "models/" + name
	}
	segs := strings.Split(name, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	m := strings.Join(segs, "/")
	if stream {
		return m + ":streamGenerateContent?alt=sse"
	}
	return m + ":generateContent"
}

func (Dialect) TranslateResponse(body []byte, model string, newID canonical.IDFunc) (*canonical.Response, error) {
	return convert.GeminiResponseToAnthropic(body, model, newID)
}

func (Dialect) TranslateStream(ctx context.Context, w io.Writer, r io.Reader, opts streamconv.Options) (streamconv.Stats, error) {
	return streamconv.GeminiToAnthropic(ctx, w, r, opts)
}
