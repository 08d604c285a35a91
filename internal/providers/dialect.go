package providers

import (
	"context"
	"io"
	"net/http"
	"sort"
	"strings"

	"claude-bridge/internal/canonical"
	"claude-bridge/internal/streamconv"
)

// Upstream is the destination a request is translated for: the backend base
// URL taken from the inbound path and the caller's credential.
type Upstream struct {
	BaseURL string
	APIKey  string
}

// Request describes the outbound call. It is built without touching the
// network; Do performs it.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Dialect is one backend wire protocol.
type Dialect interface {
	Name() string
	TranslateRequest(req *canonical.Request, up Upstream) (*Request, error)
	TranslateResponse(body []byte, model string, newID canonical.IDFunc) (*canonical.Response, error)
	TranslateStream(ctx context.Context, w io.Writer, r io.Reader, opts streamconv.Options) (streamconv.Stats, error)
}

type Registry struct {
	dialects map[string]Dialect
}

func NewRegistry(dialects ...Dialect) *Registry {
	r := &Registry{dialects: make(map[string]Dialect, len(dialects))}
	for _, d := range dialects {
		r.dialects[strings.ToLower(d.Name())] = d
	}
	return r
}

// Lookup returns the dialect registered under name (case-insensitive).
func (r *Registry) Lookup(name string) (Dialect, error) {
	d, ok := r.dialects[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, canonical.NewError(canonical.KindUnsupportedDialect, "Unsupported type: "+name, nil)
	}
	return d, nil
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.dialects))
	for name := range r.dialects {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// JoinURL joins base and suffix with exactly one slash between them.
func JoinURL(base, suffix string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	return base + "/" + strings.TrimLeft(suffix, "/")
}

// JSONHeader returns the headers every dialect sends; the caller adds its
// credential header.
func JSONHeader(stream bool) http.Header {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	if stream {
		h.Set("Accept", "text/event-stream")
	} else {
		h.Set("Accept", "application/json")
	}
	return h
}
