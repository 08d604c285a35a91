package logbus

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Event is one translated request as seen by the request log.
type Event struct {
	TS             time.Time `json:"ts"`
	RequestID      string    `json:"request_id"`
	Dialect        string    `json:"dialect"`
	Model          string    `json:"model"`
	UpstreamHost   string    `json:"upstream_host,omitempty"`
	SrcIP          string    `json:"src_ip,omitempty"`
	UserAgent      string    `json:"user_agent,omitempty"`
	Stream         bool      `json:"stream,omitempty"`
	Passthrough    bool      `json:"passthrough,omitempty"`
	RequestBytes   int       `json:"request_bytes,omitempty"`
	InputTokens    int       `json:"input_tokens,omitempty"`
	OutputTokens   int       `json:"output_tokens,omitempty"`
	TextBlocks     int       `json:"text_blocks,omitempty"`
	ToolBlocks     int       `json:"tool_blocks,omitempty"`
	MalformedLines int       `json:"malformed_lines,omitempty"`
	StopReason     string    `json:"stop_reason,omitempty"`
	Status         int       `json:"status"`
	LatencyMs      int64     `json:"latency_ms"`
	Error          string    `json:"error,omitempty"`
}

// Bus keeps the most recent events in memory, fans them out to SSE
// subscribers and, when a database is configured, persists each one.
type Bus struct {
	db  *sql.DB
	log *slog.Logger

	mu      sync.RWMutex
	subs    map[chan Event]struct{}
	ring    []Event
	ringCap int
	closed  bool

	wg sync.WaitGroup
}

func New(db *sql.DB, ringCap int, logger *slog.Logger) *Bus {
	if ringCap <= 0 {
		ringCap = 200
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		db:      db,
		log:     logger,
		subs:    make(map[chan Event]struct{}),
		ring:    make([]Event, 0, ringCap),
		ringCap: ringCap,
	}
}

func (b *Bus) Publish(ev Event) {
	if ev.TS.IsZero() {
		ev.TS = time.Now()
	}

	b.mu.Lock()
	if len(b.ring) < b.ringCap {
		b.ring = append(b.ring, ev)
	} else {
		copy(b.ring, b.ring[1:])
		b.ring[len(b.ring)-1] = ev
	}
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	persist := b.db != nil && !b.closed
	if persist {
		b.wg.Add(1)
	}
	b.mu.Unlock()

	if persist {
		go func() {
			defer b.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := b.insert(ctx, ev); err != nil {
				b.log.Warn("persist request log", "request_id", ev.RequestID, "err", err)
			}
		}()
	}
}

func (b *Bus) insert(ctx context.Context, ev Event) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO request_logs (created_at, request_id, dialect, model, upstream_host, src_ip, user_agent, stream, passthrough, request_bytes, input_tokens, output_tokens, text_blocks, tool_blocks, malformed_lines, stop_reason, status, latency_ms, error_msg)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.TS.UTC(), ev.RequestID, ev.Dialect, ev.Model, ev.UpstreamHost, ev.SrcIP, ev.UserAgent, ev.Stream, ev.Passthrough, ev.RequestBytes,
		ev.InputTokens, ev.OutputTokens, ev.TextBlocks, ev.ToolBlocks, ev.MalformedLines, ev.StopReason, ev.Status, ev.LatencyMs, ev.Error)
	return err
}

// Close stops persisting new events and blocks until pending inserts have
// finished. Events published afterwards still reach the ring and live
// subscribers but are not written to the database.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.wg.Wait()
}

// Recent returns up to limit events, newest first.
func (b *Bus) Recent(limit int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if limit <= 0 || limit > len(b.ring) {
		limit = len(b.ring)
	}
	out := make([]Event, 0, limit)
	for i := len(b.ring) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, b.ring[i])
	}
	return out
}

// subscribe registers a live channel and returns it with a snapshot of the
// ring taken under the same lock, so no event is missed or seen twice.
func (b *Bus) subscribe() (chan Event, []Event, func()) {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	snapshot := append([]Event(nil), b.ring...)
	b.mu.Unlock()
	return ch, snapshot, func() {
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
	}
}

func (b *Bus) ServeSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, snapshot, cancel := b.subscribe()
	defer cancel()

	for _, ev := range snapshot {
		writeSSE(w, ev)
	}
	flusher.Flush()

	done := r.Context().Done()
	for {
		select {
		case <-done:
			return
		case ev := <-ch:
			writeSSE(w, ev)
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev Event) {
	b, _ := json.Marshal(ev)
	_, _ = fmt.Fprintf(w, "data: %s\n\n", b)
}
