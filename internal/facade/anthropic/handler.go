package anthropic

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"claude-bridge/internal/canonical"
	"claude-bridge/internal/logbus"
	"claude-bridge/internal/metrics"
	"claude-bridge/internal/providers"
	"claude-bridge/internal/streamconv"
)

type Options struct {
	Client       *http.Client
	Timeout      time.Duration
	MaxBodyBytes int64
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
	Bus          *logbus.Bus
	// NewID overrides the message and tool id source; nil uses random ids.
	NewID canonical.IDFunc
}

// Handler accepts Messages API requests at /{dialect}/{base_url}/v1/messages
// and forwards them, translated, to the backend at base_url.
type Handler struct {
	reg  *providers.Registry
	opts Options
	log  *slog.Logger
}

func NewHandler(reg *providers.Registry, opts Options) *Handler {
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Minute
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 20 << 20
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{reg: reg, opts: opts, log: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/{dialect}/*", h.createMessage)
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	h.Register(r)
	return r
}

// requestLog collects what one request did; done reports it to the request
// log, metrics and the process log.
type requestLog struct {
	h     *Handler
	start time.Time
	ev    logbus.Event
}

func (l *requestLog) done(status int, err error) {
	l.ev.Status = status
	l.ev.LatencyMs = time.Since(l.start).Milliseconds()
	if err != nil {
		l.ev.Error = err.Error()
	}

	if l.h.opts.Bus != nil {
		l.h.opts.Bus.Publish(l.ev)
	}
	if m := l.h.opts.Metrics; m != nil && l.ev.Dialect != "" {
		m.ObserveRequest(l.ev.Dialect, l.ev.Stream, status, time.Since(l.start))
		if l.ev.Stream {
			m.ObserveStream(l.ev.Dialect, l.ev.TextBlocks, l.ev.ToolBlocks, l.ev.MalformedLines)
		}
		if l.ev.Passthrough {
			m.ObservePassthrough(l.ev.Dialect, status)
		}
	}

	attrs := []any{
		"request_id", l.ev.RequestID,
		"dialect", l.ev.Dialect,
		"model", l.ev.Model,
		"stream", l.ev.Stream,
		"status", status,
		"duration", time.Since(l.start),
	}
	switch {
	case err != nil:
		l.h.log.Warn("messages request failed", append(attrs, "err", err)...)
	case l.ev.MalformedLines > 0:
		l.h.log.Warn("messages request skipped malformed stream lines", append(attrs, "malformed_lines", l.ev.MalformedLines)...)
	default:
		l.h.log.Info("messages request", attrs...)
	}
}

func (h *Handler) createMessage(w http.ResponseWriter, r *http.Request) {
	requestID := strings.TrimSpace(r.Header.Get("x-request-id"))
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set("X-Request-Id", requestID)

	rl := &requestLog{h: h, start: time.Now(), ev: logbus.Event{
		TS:        time.Now(),
		RequestID: requestID,
		SrcIP:     clientIP(r),
		UserAgent: strings.TrimSpace(r.UserAgent()),
	}}

	dialectName, baseURL, status, perr := parseTarget(r.URL.Path)
	if perr != nil {
		typ := errTypeInvalidRequest
		if status == http.StatusNotFound {
			typ = errTypeNotFound
		}
		writeError(w, status, typ, perr.Error())
		rl.done(status, perr)
		return
	}
	rl.ev.Dialect = strings.ToLower(dialectName)
	if u, err := url.Parse(baseURL); err == nil {
		rl.ev.UpstreamHost = u.Host
	}

	apiKey := credential(r)
	if apiKey == "" {
		err := errors.New("missing x-api-key header")
		writeError(w, http.StatusUnauthorized, errTypeAuthentication, err.Error())
		rl.done(http.StatusUnauthorized, err)
		return
	}

	dialect, err := h.reg.Lookup(dialectName)
	if err != nil {
		rl.ev.Dialect = ""
		rl.done(writeKindError(w, err), err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		err = canonical.NewError(canonical.KindBadRequest, "failed to read request body", err)
		rl.done(writeKindError(w, err), err)
		return
	}
	rl.ev.RequestBytes = len(body)

	req, err := canonical.ParseRequest(body)
	if err != nil {
		rl.done(writeKindError(w, err), err)
		return
	}
	rl.ev.Model = req.Model
	rl.ev.Stream = req.Stream

	out, err := dialect.TranslateRequest(req, providers.Upstream{BaseURL: baseURL, APIKey: apiKey})
	if err != nil {
		rl.done(writeKindError(w, err), err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.opts.Timeout)
	defer cancel()

	resp, err := providers.Do(ctx, h.opts.Client, out)
	if err != nil {
		rl.done(writeKindError(w, err), err)
		return
	}

	res, err := providers.WriteResponse(ctx, w, dialect, resp, streamconv.Options{Model: req.Model, NewID: h.opts.NewID})
	if res.Status == 0 {
		if err == nil {
			err = canonical.NewError(canonical.KindUpstream, "empty upstream response", nil)
		}
		rl.done(writeKindError(w, err), err)
		return
	}

	rl.ev.Passthrough = res.Passthrough
	rl.ev.TextBlocks = res.Stats.TextBlocks
	rl.ev.ToolBlocks = res.Stats.ToolBlocks
	rl.ev.MalformedLines = res.Stats.MalformedLines
	rl.ev.StopReason = res.Stats.StopReason
	if res.Usage != nil {
		rl.ev.InputTokens = res.Usage.InputTokens
		rl.ev.OutputTokens = res.Usage.OutputTokens
	}
	rl.done(res.Status, err)
}

// parseTarget splits /{dialect}/{base_url}/v1/messages. Proxies often collapse
// the scheme's double slash (https://host becomes https:/host); it is restored.
func parseTarget(path string) (dialect, baseURL string, status int, err error) {
	var parts []string
	for _, p := range strings.Split(path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) < 3 {
		return "", "", http.StatusBadRequest, errors.New("invalid path format, expected /{type}/{provider_url}/v1/messages")
	}
	if parts[len(parts)-2] != "v1" || parts[len(parts)-1] != "messages" {
		return "", "", http.StatusNotFound, errors.New("path must end with /v1/messages")
	}

	dialect = parts[0]
	baseParts := parts[1 : len(parts)-2]
	if len(baseParts) == 0 {
		return "", "", http.StatusBadRequest, errors.New("missing type or provider_url in path")
	}
	if s := strings.ToLower(baseParts[0]); s == "http:" || s == "https:" {
		baseURL = baseParts[0] + "//" + strings.Join(baseParts[1:], "/")
	} else {
		baseURL = strings.Join(baseParts, "/")
	}
	return dialect, baseURL, 0, nil
}

func credential(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("x-api-key")); v != "" {
		return v
	}
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(auth) > len("Bearer ") && strings.EqualFold(auth[:len("Bearer ")], "Bearer ") {
		return strings.TrimSpace(auth[len("Bearer "):])
	}
	return ""
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
			return first
		}
	}
	if xr := strings.TrimSpace(r.Header.Get("X-Real-IP")); xr != "" {
		return xr
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
