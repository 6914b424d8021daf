package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Lilbuff3/eBay-Draft-Commander-sub000/internal/queue"
)

const keepAliveInterval = 15 * time.Second

// EventSource is anything that can stream queue events.
type EventSource interface {
	Subscribe(buffer int) (<-chan queue.Event, func())
}

// EventsHandler streams queue events as server-sent events.
type EventsHandler struct {
	source EventSource
	buffer int
	done   <-chan struct{}
}

// NewEventsHandler creates an EventsHandler with a per-client buffer. Open
// streams end when done is closed; a nil done never fires.
func NewEventsHandler(source EventSource, buffer int, done <-chan struct{}) *EventsHandler {
	return &EventsHandler{source: source, buffer: buffer, done: done}
}

// Stream writes events until the client disconnects or the server shuts down.
func (h *EventsHandler) Stream(c echo.Context) error {
	events, cancel := h.source.Subscribe(h.buffer)
	defer cancel()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-h.done:
			return nil
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return nil
			}
			w.Flush()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			data, err := json.Marshal(ev)
			if err != nil {
				return fmt.Errorf("encode event: %w", err)
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}
