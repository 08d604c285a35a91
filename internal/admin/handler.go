package admin

import (
	"crypto/subtle"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"claude-bridge/internal/logbus"
	"claude-bridge/internal/providers"
)

// Handler serves the read-only admin API over the request log.
type Handler struct {
	db         *sql.DB
	bus        *logbus.Bus
	reg        *providers.Registry
	adminToken string
	log        *slog.Logger
}

// NewHandler returns the admin handler. db may be nil, in which case logs are
// served from the in-memory ring only.
func NewHandler(db *sql.DB, bus *logbus.Bus, reg *providers.Registry, adminToken string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{db: db, bus: bus, reg: reg, adminToken: adminToken, log: logger}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(h.authMiddleware)
		r.Route("/api", func(r chi.Router) {
			r.Get("/dialects", h.listDialects)
			r.Get("/logs", h.listLogs)
			r.Get("/logs/stream", h.bus.ServeSSE)
			r.Get("/logs/ws", h.bus.ServeWS)
		})
	})
	return r
}

func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(r.Header.Get("Authorization")), "Bearer "))
		if got == "" {
			got = strings.TrimSpace(r.Header.Get("X-Admin-Token"))
		}
		if got == "" {
			got = strings.TrimSpace(r.URL.Query().Get("token"))
		}

		if h.adminToken == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.adminToken)) != 1 {
			h.log.Warn("admin auth failed", "path", r.URL.Path, "remote", r.RemoteAddr)
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) listDialects(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"dialects": h.reg.Names()})
}

type logEntry struct {
	ID             uint64 `json:"id,omitempty"`
	RequestID      string `json:"request_id"`
	Dialect        string `json:"dialect"`
	Model          string `json:"model"`
	UpstreamHost   string `json:"upstream_host,omitempty"`
	SrcIP          string `json:"src_ip,omitempty"`
	UserAgent      string `json:"user_agent,omitempty"`
	Stream         bool   `json:"stream"`
	Passthrough    bool   `json:"passthrough"`
	RequestBytes   int    `json:"request_bytes"`
	InputTokens    int    `json:"input_tokens"`
	OutputTokens   int    `json:"output_tokens"`
	TextBlocks     int    `json:"text_blocks"`
	ToolBlocks     int    `json:"tool_blocks"`
	MalformedLines int    `json:"malformed_lines"`
	StopReason     string `json:"stop_reason,omitempty"`
	Status         int    `json:"status"`
	LatencyMs      int64  `json:"latency_ms"`
	Error          string `json:"error,omitempty"`
	CreatedAt      string `json:"created_at"`
}

func entryFromEvent(ev logbus.Event) logEntry {
	return logEntry{
		RequestID:      ev.RequestID,
		Dialect:        ev.Dialect,
		Model:          ev.Model,
		UpstreamHost:   ev.UpstreamHost,
		SrcIP:          ev.SrcIP,
		UserAgent:      ev.UserAgent,
		Stream:         ev.Stream,
		Passthrough:    ev.Passthrough,
		RequestBytes:   ev.RequestBytes,
		InputTokens:    ev.InputTokens,
		OutputTokens:   ev.OutputTokens,
		TextBlocks:     ev.TextBlocks,
		ToolBlocks:     ev.ToolBlocks,
		MalformedLines: ev.MalformedLines,
		StopReason:     ev.StopReason,
		Status:         ev.Status,
		LatencyMs:      ev.LatencyMs,
		Error:          ev.Error,
		CreatedAt:      ev.TS.UTC().Format(time.RFC3339),
	}
}

func (h *Handler) listLogs(w http.ResponseWriter, r *http.Request) {
	limit, page, offset := pageWindow(r)

	if h.db == nil {
		recent := h.bus.Recent(0)
		out := []logEntry{}
		for i := offset; i < len(recent) && len(out) < limit; i++ {
			out = append(out, entryFromEvent(recent[i]))
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"total":  len(recent),
			"page":   page,
			"limit":  limit,
			"source": "memory",
			"items":  out,
		})
		return
	}

	ctx := r.Context()
	var total int64
	if err := h.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM request_logs").Scan(&total); err != nil {
		h.log.Error("count request logs", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	rows, err := h.db.QueryContext(ctx,
		`SELECT id, request_id, dialect, model, upstream_host, src_ip, user_agent, stream, passthrough, request_bytes, input_tokens, output_tokens, text_blocks, tool_blocks, malformed_lines, stop_reason, status, latency_ms, error_msg, created_at
		 FROM request_logs ORDER BY id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		h.log.Error("query request logs", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	defer rows.Close()

	out := []logEntry{}
	for rows.Next() {
		var (
			l  logEntry
			ts time.Time
		)
		if err := rows.Scan(&l.ID, &l.RequestID, &l.Dialect, &l.Model, &l.UpstreamHost, &l.SrcIP, &l.UserAgent, &l.Stream, &l.Passthrough,
			&l.RequestBytes, &l.InputTokens, &l.OutputTokens, &l.TextBlocks, &l.ToolBlocks, &l.MalformedLines, &l.StopReason,
			&l.Status, &l.LatencyMs, &l.Error, &ts); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		l.CreatedAt = ts.UTC().Format(time.RFC3339)
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":  total,
		"page":   page,
		"limit":  limit,
		"source": "mysql",
		"items":  out,
	})
}

const (
	maxLogLimit = 1000
	maxLogPage  = 100000
)

// pageWindow reads limit and page, clamped so the offset cannot overflow.
func pageWindow(r *http.Request) (limit, page, offset int) {
	limit = min(queryInt(r, "limit", 100), maxLogLimit)
	page = min(queryInt(r, "page", 1), maxLogPage)
	return limit, page, (page - 1) * limit
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func writeJSON(w http.ResponseWriter, status int, val any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(val)
}
