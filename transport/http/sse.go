package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/xpert-ai/agentgraph/runtime/stream"
)

// keepAliveInterval is the SSE comment cadence that keeps intermediaries
// from timing out an idle stream (spec §6: "A comment line every 30s keeps
// the connection alive").
const keepAliveInterval = 30 * time.Second

// sseWriter wraps an http.ResponseWriter with SSE event framing and client
// disconnect detection, grounded on
// Jint8888-Pocket-Omega/internal/web/sse.go's sseWriter.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	ctx     context.Context
}

// newSSEWriter prepares SSE response headers and returns a writer, or nil if
// the ResponseWriter does not support flushing.
func newSSEWriter(w http.ResponseWriter, r *http.Request) *sseWriter {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return nil
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &sseWriter{w: w, flusher: flusher, ctx: r.Context()}
}

// Send writes one SSE event. Returns false once the client has disconnected.
func (s *sseWriter) Send(eventType string, data any) bool {
	select {
	case <-s.ctx.Done():
		return false
	default:
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return false
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", eventType, payload); err != nil {
		return false
	}
	s.flusher.Flush()
	return true
}

// keepAlive writes an SSE comment line, the wire-level idle heartbeat; it is
// not a "data:" event and carries no payload.
func (s *sseWriter) keepAlive() bool {
	select {
	case <-s.ctx.Done():
		return false
	default:
	}
	if _, err := fmt.Fprint(s.w, ": keep-alive\n\n"); err != nil {
		return false
	}
	s.flusher.Flush()
	return true
}

// Done reports whether the client's request context has been cancelled.
func (s *sseWriter) Done() <-chan struct{} { return s.ctx.Done() }

// sseSink adapts an sseWriter into a stream.Sink so a Run's events reach the
// HTTP client as they are published, framed as
// {"type","event":type,"data":payload} per spec §6.
type sseSink struct {
	w *sseWriter
}

func (s *sseSink) Publish(_ context.Context, event stream.Event) error {
	envelope := map[string]any{
		"type":  "event",
		"event": event.Type,
		"data":  event,
	}
	if !s.w.Send(string(event.Type), envelope) {
		return errClientDisconnected
	}
	return nil
}

func (s *sseSink) Close(context.Context) error { return nil }

var errClientDisconnected = fmt.Errorf("transport/http: client disconnected")

// busSink adapts a *stream.Bus into a stream.Sink so background and waited
// Runs can publish through the same Bus a streaming caller would subscribe
// to, without the Bus itself needing to satisfy Sink's Close method.
type busSink struct {
	bus *stream.Bus
}

func (b *busSink) Publish(ctx context.Context, event stream.Event) error {
	return b.bus.Publish(ctx, event)
}

func (b *busSink) Close(context.Context) error { return nil }

// runKeepAlive sends a keep-alive comment on keepAliveInterval until ctx is
// done or the client disconnects, then returns. Run it in its own goroutine
// alongside a streamed Run.
func runKeepAlive(ctx context.Context, w *sseWriter) {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.Done():
			return
		case <-ticker.C:
			if !w.keepAlive() {
				return
			}
		}
	}
}
