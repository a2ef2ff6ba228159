package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/sahilchouksey/campus-notes/utils/response"
)

// Config tunes the underlying fiber app.
type Config struct {
	BodyLimit int
}

type APIServer struct {
	app           *fiber.App
	listenAddress string
}

func NewAPIServer(listenAddress string, cfg Config) *APIServer {
	return &APIServer{
		app: fiber.New(fiber.Config{
			AppName:   "campus-notes",
			BodyLimit: cfg.BodyLimit,
			ErrorHandler: func(c *fiber.Ctx, err error) error {
				if e, ok := err.(*fiber.Error); ok {
					return response.Error(c, e.Code, e.Message, "HTTP_ERROR")
				}
				log.Errorw("Unhandled error", "path", c.Path(), "error", err)
				return response.InternalServerError(c, "")
			},
		}),
		listenAddress: listenAddress,
	}
}

func (s *APIServer) GetEngine() *fiber.App {
	return s.app
}

func (s *APIServer) Run() error {
	log.Infow("Starting API Server", "address", s.listenAddress)
	return s.app.Listen(s.listenAddress)
}

// Shutdown stops accepting connections and waits up to timeout for in-flight requests.
func (s *APIServer) Shutdown(timeout time.Duration) error {
	return s.app.ShutdownWithTimeout(timeout)
}
