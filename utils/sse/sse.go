// Package sse writes server-sent events onto a fiber body stream.
package sse

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// Event is one server-sent event.
type Event struct {
	// Event is the SSE event type ("status", "complete", ...). Empty omits the event line.
	Event string

	// Data is sent as-is when it is a string or []byte, JSON-encoded otherwise
	Data interface{}

	ID string

	// Retry is the client reconnection delay in milliseconds
	Retry int
}

// SetHeaders prepares the response for streaming.
// CORS headers come from the security middleware.
func SetHeaders(c *fiber.Ctx) {
	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")
}

// Send writes an event and flushes immediately.
func Send(w *bufio.Writer, event Event) error {
	if event.ID != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", event.ID); err != nil {
			return fmt.Errorf("failed to write event ID: %w", err)
		}
	}
	if event.Retry > 0 {
		if _, err := fmt.Fprintf(w, "retry: %d\n", event.Retry); err != nil {
			return fmt.Errorf("failed to write retry: %w", err)
		}
	}
	if event.Event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event.Event); err != nil {
			return fmt.Errorf("failed to write event type: %w", err)
		}
	}

	var data string
	switch v := event.Data.(type) {
	case string:
		data = v
	case []byte:
		data = string(v)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal event data: %w", err)
		}
		data = string(raw)
	}

	// multi-line payloads need one data field per line
	for _, line := range strings.Split(data, "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", line); err != nil {
			return fmt.Errorf("failed to write event data: %w", err)
		}
	}
	if _, err := w.WriteString("\n"); err != nil {
		return err
	}
	return w.Flush()
}

// SendError sends an "error" event carrying the message.
func SendError(w *bufio.Writer, err error) error {
	return Send(w, Event{
		Event: "error",
		Data:  map[string]string{"message": err.Error()},
	})
}

// SendKeepAlive writes a comment line so proxies keep the connection open.
func SendKeepAlive(w *bufio.Writer) error {
	if _, err := w.WriteString(": ping\n\n"); err != nil {
		return fmt.Errorf("failed to write keepalive: %w", err)
	}
	return w.Flush()
}
