package logbus

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

// countingConnector fails every connection attempt and counts them, so each
// persisted event shows up as one Connect call.
type countingConnector struct{ calls atomic.Int32 }

func (c *countingConnector) Connect(context.Context) (driver.Conn, error) {
	c.calls.Add(1)
	return nil, errors.New("no database")
}

func (c *countingConnector) Driver() driver.Driver { return nil }

func TestBus_RingKeepsNewest(t *testing.T) {
	b := New(nil, 3, nil)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		b.Publish(Event{RequestID: id})
	}

	got := b.Recent(0)
	if len(got) != 3 {
		t.Fatalf("len got %d want 3", len(got))
	}
	ids := got[0].RequestID + got[1].RequestID + got[2].RequestID
	if ids != "edc" {
		t.Fatalf("order got %s want edc", ids)
	}
	if got[0].TS.IsZero() {
		t.Fatalf("timestamp not filled")
	}
	if two := b.Recent(2); len(two) != 2 || two[1].RequestID != "d" {
		t.Fatalf("Recent(2) got %+v", two)
	}
}

func TestBus_ServeSSESnapshot(t *testing.T) {
	b := New(nil, 10, nil)
	b.Publish(Event{RequestID: "r1", Dialect: "openai", Status: 200})
	b.Publish(Event{RequestID: "r2", Dialect: "gemini", Status: 429, Passthrough: true})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest("GET", "/admin/api/logs/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	b.ServeSSE(rec, req)

	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content-type got %q", ct)
	}
	out := rec.Body.String()
	if strings.Count(out, "data: ") != 2 {
		t.Fatalf("expected two records: %s", out)
	}
	if !strings.Contains(out, `"request_id":"r2"`) || !strings.Contains(out, `"passthrough":true`) {
		t.Fatalf("missing r2: %s", out)
	}
	if len(b.subs) != 0 {
		t.Fatalf("subscriber not removed")
	}
}

func TestBus_CloseStopsPersisting(t *testing.T) {
	conn := &countingConnector{}
	db := sql.OpenDB(conn)
	defer db.Close()

	b := New(db, 10, nil)
	b.Publish(Event{RequestID: "before"})
	b.Close()
	if got := conn.calls.Load(); got != 1 {
		t.Fatalf("inserts before close got %d want 1", got)
	}

	b.Publish(Event{RequestID: "after"})
	b.Close()
	if got := conn.calls.Load(); got != 1 {
		t.Fatalf("insert attempted after close: %d", got)
	}
	if recent := b.Recent(1); len(recent) != 1 || recent[0].RequestID != "after" {
		t.Fatalf("late event missing from ring: %+v", recent)
	}
}
