package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sahilchouksey/campus-notes/database"
	"github.com/sahilchouksey/campus-notes/utils/response"
)

// HealthReporter exposes optional component state for the health check.
type HealthReporter interface {
	Size() int
}

// QueueReporter exposes the enrichment backlog.
type QueueReporter interface {
	Pending() int
}

// HandleCheckHealth reports database reachability plus resolver and queue sizes.
func HandleCheckHealth(store database.Storage, resolver HealthReporter, queue QueueReporter) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := store.HealthCheck(); err != nil {
			return response.ServiceUnavailable(c, "database unreachable")
		}
		body := fiber.Map{"status": "ok"}
		if resolver != nil {
			body["indexed_domains"] = resolver.Size()
		}
		if queue != nil {
			body["enrichment_queue"] = queue.Pending()
		}
		return c.JSON(body)
	}
}
