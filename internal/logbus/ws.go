package logbus

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	// The admin routes are token gated; browsers on other origins may tail.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsWriteTimeout = 10 * time.Second

// ServeWS tails the request log over a WebSocket: the ring snapshot first, then
// one JSON text message per event until the client goes away.
func (b *Bus) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warn("websocket upgrade", "err", err)
		return
	}
	defer conn.Close()

	ch, snapshot, cancel := b.subscribe()
	defer cancel()

	// Incoming frames are discarded; a read error means the peer closed.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(ev Event) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(ev) == nil
	}
	for _, ev := range snapshot {
		if !send(ev) {
			return
		}
	}

	done := r.Context().Done()
	for {
		select {
		case <-done:
			return
		case <-closed:
			return
		case ev := <-ch:
			if !send(ev) {
				return
			}
		}
	}
}
