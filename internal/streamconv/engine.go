package streamconv

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"claude-bridge/internal/canonical"
	anthropicproto "claude-bridge/internal/proto/anthropic"
)

const readBufferSize = 32 * 1024

// Fragment is one piece of content carried by a dialect stream record: either
// a text fragment or a complete function call.
type Fragment struct {
	Text     string
	ToolName string
	ToolArgs json.RawMessage
}

func (f Fragment) IsTool() bool { return f.ToolName != "" }

// Delta is what one dialect stream record contributes.
type Delta struct {
	Fragments []Fragment
	Truncated bool
	Usage     *canonical.Usage
}

// DecodeFunc decodes one `data:` payload. ok is false when the payload is not
// valid JSON; the engine then skips the line.
type DecodeFunc func(payload []byte) (d Delta, ok bool)

type Options struct {
	Model string
	NewID canonical.IDFunc
}

type Stats struct {
	Events         int
	TextBlocks     int
	ToolBlocks     int
	MalformedLines int
	StopReason     string
	Usage          *canonical.Usage
}

// Engine rebuilds a Messages event stream from a dialect's line-framed stream.
//
// Every fragment becomes a complete start/delta/stop triad before the next
// record is looked at, so blocks never interleave. The index of a new block is
// textBlockIndex+toolBlockIndex: both counters draw from one allocation and
// the client sees 0, 1, 2, ... in order of appearance.
type Engine struct {
	w       io.Writer
	flusher http.Flusher
	decode  DecodeFunc
	model   string
	newID   canonical.IDFunc

	pending        []byte
	textBlockIndex int
	toolBlockIndex int

	truncated bool
	usage     *canonical.Usage

	started  bool
	finished bool
	events   int
	bad      int
	err      error
}

func NewEngine(w io.Writer, decode DecodeFunc, opts Options) *Engine {
	e := &Engine{
		w:      w,
		decode: decode,
		model:  opts.Model,
		newID:  opts.NewID,
	}
	if e.newID == nil {
		e.newID = canonical.NewID
	}
	if f, ok := w.(http.Flusher); ok {
		e.flusher = f
	}
	return e
}

// Start emits message_start. It is a no-op after the first call.
func (e *Engine) Start() error {
	if e.started {
		return e.err
	}
	e.started = true
	e.emit(anthropicproto.EventMessageStart, messageStartEvent(e.newID(canonical.PrefixMessage), e.model))
	e.flush()
	return e.err
}

// Feed consumes one chunk of raw stream bytes. Complete lines are translated
// immediately; a trailing partial line waits for the next chunk.
func (e *Engine) Feed(chunk []byte) error {
	if !e.started {
		e.Start()
	}
	if e.err != nil || e.finished {
		return e.err
	}

	data := append(e.pending, chunk...)
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		e.handleLine(data[:i])
		if e.err != nil {
			return e.err
		}
		data = data[i+1:]
	}
	e.pending = append([]byte(nil), data...)
	return e.err
}

// Finish processes any unterminated last line, then emits message_delta and
// message_stop. Safe to call more than once.
func (e *Engine) Finish() error {
	if !e.started {
		e.Start()
	}
	if e.finished {
		return e.err
	}
	e.finished = true

	if len(bytes.TrimSpace(e.pending)) > 0 && e.err == nil {
		line := e.pending
		e.pending = nil
		e.handleLine(line)
	}
	e.pending = nil

	md := anthropicproto.MessageDeltaEvent{
		Type:  anthropicproto.EventMessageDelta,
		Delta: anthropicproto.MessageDelta{StopReason: e.stopReason()},
	}
	if e.usage != nil {
		md.Usage = &anthropicproto.DeltaUsage{OutputTokens: e.usage.OutputTokens}
	}
	e.emit(anthropicproto.EventMessageDelta, md)
	e.emit(anthropicproto.EventMessageStop, anthropicproto.MessageStopEvent{Type: anthropicproto.EventMessageStop})
	e.flush()
	return e.err
}

// Run pumps body through the engine until EOF, a read error, a write error or
// ctx cancellation. message_stop is emitted on every path. body should be bound
// to ctx (an upstream response body is) so a blocked read returns on cancel.
func (e *Engine) Run(ctx context.Context, body io.Reader) error {
	var runErr error
	if err := e.Start(); err != nil {
		runErr = err
	}

	buf := make([]byte, readBufferSize)
	for runErr == nil {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		n, err := body.Read(buf)
		if n > 0 {
			if ferr := e.Feed(buf[:n]); ferr != nil {
				runErr = ferr
				break
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				runErr = err
			}
			break
		}
	}

	if ferr := e.Finish(); runErr == nil {
		runErr = ferr
	}
	return runErr
}

func (e *Engine) Stats() Stats {
	return Stats{
		Events:         e.events,
		TextBlocks:     e.textBlockIndex,
		ToolBlocks:     e.toolBlockIndex,
		MalformedLines: e.bad,
		StopReason:     e.stopReason(),
		Usage:          e.usage,
	}
}

func (e *Engine) handleLine(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(bytes.TrimSpace(line)) == 0 || !bytes.HasPrefix(line, []byte("data:")) {
		return
	}
	payload := bytes.TrimSpace(line[len("data:"):])
	if len(payload) == 0 || bytes.Equal(payload, []byte("[DONE]")) {
		return
	}

	d, ok := e.decode(payload)
	if !ok {
		e.bad++
		return
	}
	for _, f := range d.Fragments {
		switch {
		case f.IsTool():
			e.writeToolBlock(f)
		case f.Text != "":
			e.writeTextBlock(f.Text)
		}
	}
	if d.Truncated {
		e.truncated = true
	}
	if d.Usage != nil {
		e.usage = d.Usage
	}
	e.flush()
}

func (e *Engine) writeTextBlock(text string) {
	idx := e.textBlockIndex + e.toolBlockIndex
	start, delta := textBlockEvents(idx, text)
	e.emit(anthropicproto.EventContentBlockStart, start)
	e.emit(anthropicproto.EventContentBlockDelta, delta)
	e.emit(anthropicproto.EventContentBlockStop, blockStopEvent(idx))
	e.textBlockIndex++
}

func (e *Engine) writeToolBlock(f Fragment) {
	idx := e.textBlockIndex + e.toolBlockIndex
	start, delta := toolBlockEvents(idx, e.newID(canonical.PrefixToolUse), f.ToolName, f.ToolArgs)
	e.emit(anthropicproto.EventContentBlockStart, start)
	e.emit(anthropicproto.EventContentBlockDelta, delta)
	e.emit(anthropicproto.EventContentBlockStop, blockStopEvent(idx))
	e.toolBlockIndex++
}

func (e *Engine) stopReason() string {
	switch {
	case e.toolBlockIndex > 0:
		return canonical.StopToolUse
	case e.truncated:
		return canonical.StopMaxTokens
	default:
		return canonical.StopEndTurn
	}
}

// emit is a no-op once a write has failed; the client is gone.
func (e *Engine) emit(name string, data any) {
	if e.err != nil {
		return
	}
	if err := writeAnthropicEvent(e.w, name, data); err != nil {
		e.err = err
		return
	}
	e.events++
}

func (e *Engine) flush() {
	if e.flusher != nil && e.err == nil {
		e.flusher.Flush()
	}
}
