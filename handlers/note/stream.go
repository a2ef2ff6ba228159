package note

import (
	"bufio"
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/sahilchouksey/campus-notes/services"
	"github.com/sahilchouksey/campus-notes/utils/middleware"
	"github.com/sahilchouksey/campus-notes/utils/response"
	"github.com/sahilchouksey/campus-notes/utils/sse"
)

const (
	streamPollInterval = 2 * time.Second
	streamMaxDuration  = 10 * time.Minute
)

var errStreamTimeout = errors.New("enrichment still running, reconnect or poll /ai-status")

type statusFetcher func(ctx context.Context) (*services.EnrichmentStatus, error)

// StreamEnrichmentStatus pushes ai_status changes as server-sent events until the run ends
func (h *NoteHandler) StreamEnrichmentStatus(c *fiber.Ctx) error {
	id, ok := noteID(c)
	if !ok {
		return response.BadRequest(c, "Invalid note ID")
	}
	userID, _ := middleware.GetUserID(c)

	// ownership errors are reported as plain HTTP before the stream starts
	if _, err := h.notes.EnrichmentStatus(c.UserContext(), userID, id); err != nil {
		return respondError(c, err, "get enrichment status")
	}

	fetch := func(ctx context.Context) (*services.EnrichmentStatus, error) {
		return h.notes.EnrichmentStatus(ctx, userID, id)
	}

	sse.SetHeaders(c)
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		// the fiber context is not valid inside the stream writer
		ctx, cancel := context.WithTimeout(context.Background(), streamMaxDuration)
		defer cancel()
		if err := streamStatus(ctx, w, fetch, streamPollInterval); err != nil {
			log.Debugw("[NOTES] status stream closed", "note_id", id, "error", err)
		}
	})
	return nil
}

// streamStatus sends a "status" event on every change and a final "complete" event
// once the status is terminal or enrichment was never requested.
func streamStatus(ctx context.Context, w *bufio.Writer, fetch statusFetcher, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last *services.EnrichmentStatus
	for {
		st, err := fetch(ctx)
		if err != nil {
			_ = sse.SendError(w, err)
			return err
		}

		if st.AIStatus == "" || st.AIStatus.IsTerminal() {
			return sse.Send(w, sse.Event{Event: "complete", Data: st})
		}
		if last == nil || last.AIStatus != st.AIStatus || last.Stale != st.Stale {
			if err := sse.Send(w, sse.Event{Event: "status", Data: st}); err != nil {
				return err
			}
		} else if err := sse.SendKeepAlive(w); err != nil {
			// client went away
			return err
		}
		last = st

		select {
		case <-ctx.Done():
			_ = sse.SendError(w, errStreamTimeout)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
