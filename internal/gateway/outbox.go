package gateway

import (
	"context"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// outboxSize bounds the per-connection outbound frame queue. A slow reader
// loses frames rather than stalling the pipeline.
const outboxSize = 64

// outbox serializes all writes to one connection through a single goroutine.
type outbox struct {
	frames chan []byte
	logger *slog.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

func newOutbox(logger *slog.Logger) *outbox {
	return &outbox{
		frames: make(chan []byte, outboxSize),
		logger: logger,
		closed: make(chan struct{}),
	}
}

// run drains the queue into the socket until the queue closes or a write
// fails. It owns all writes on conn.
func (o *outbox) run(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.closed:
			return
		case frame := <-o.frames:
			if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
				o.logger.DebugContext(ctx, "outbox: write failed", "error", err)
				return
			}
		}
	}
}

// send enqueues one frame without blocking. When the queue is saturated the
// frame is dropped with a warning and an error frame is attempted in its
// place, also non-blocking.
func (o *outbox) send(frameType string, data any) bool {
	frame, err := encodeFrame(frameType, data)
	if err != nil {
		o.logger.Warn("outbox: encode failed", "type", frameType, "error", err)
		return false
	}
	select {
	case <-o.closed:
		return false
	default:
	}
	select {
	case o.frames <- frame:
		return true
	default:
	}
	o.logger.Warn("outbox: queue full, dropping frame", "type", frameType)
	if errFrame, err := encodeFrame(TypeError, ErrorData{Message: "server overloaded, frame dropped"}); err == nil {
		select {
		case o.frames <- errFrame:
		default:
		}
	}
	return false
}

// close stops the writer and rejects further frames. Queued frames that the
// writer has not picked up yet are discarded.
func (o *outbox) close() {
	o.closeOnce.Do(func() { close(o.closed) })
}
