package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"claude-bridge/internal/canonical"
	"claude-bridge/internal/streamconv"
)

// Do sends req with ctx attached, so canceling ctx aborts the call and any
// in-flight body read.
func Do(ctx context.Context, client *http.Client, req *Request) (*http.Response, error) {
	if client == nil {
		client = http.DefaultClient
	}
	method := req.Method
	if method == "" {
		method = http.MethodPost
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, canonical.NewError(canonical.KindUpstream, "build upstream request", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, canonical.NewError(canonical.KindUpstream, "upstream request failed", err)
	}
	return resp, nil
}

// Result summarizes what WriteResponse sent to the client. Status is zero when
// nothing was written.
type Result struct {
	Status      int
	Stream      bool
	Passthrough bool
	Stats       streamconv.Stats
	Usage       *canonical.Usage
}

// Headers that describe one connection rather than the payload.
var hopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
	"Content-Length":      true,
}

// WriteResponse writes the client response for an upstream reply and closes
// resp.Body. Non-2xx replies are relayed untranslated. If a 2xx JSON body cannot
// be translated nothing is written and the error is returned for the caller to
// report; once Status is set any error is for logging only.
func WriteResponse(ctx context.Context, w http.ResponseWriter, d Dialect, resp *http.Response, opts streamconv.Options) (Result, error) {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		for k, vs := range resp.Header {
			if hopHeaders[http.CanonicalHeaderKey(k)] {
				continue
			}
			for _, v := range vs {
				w.Header().Add(k, v)
			}
		}
		w.WriteHeader(resp.StatusCode)
		_, err := io.Copy(w, resp.Body)
		return Result{Status: resp.StatusCode, Passthrough: true}, err
	}

	if IsEventStream(resp.Header.Get("Content-Type")) {
		h := w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		stats, err := d.TranslateStream(ctx, w, resp.Body, opts)
		return Result{Status: http.StatusOK, Stream: true, Stats: stats, Usage: stats.Usage}, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, canonical.NewError(canonical.KindUpstream, "read upstream response", err)
	}
	out, err := d.TranslateResponse(body, opts.Model, opts.NewID)
	if err != nil {
		return Result{}, err
	}
	b, err := json.Marshal(out)
	if err != nil {
		return Result{}, err
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	_, err = w.Write(b)
	return Result{Status: resp.StatusCode, Usage: out.Usage}, err
}

func IsEventStream(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "text/event-stream")
}
