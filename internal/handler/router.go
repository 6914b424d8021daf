package handler

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/Lilbuff3/eBay-Draft-Commander-sub000/internal/queue"
	"github.com/Lilbuff3/eBay-Draft-Commander-sub000/internal/service"
)

// RouterConfig carries the handlers' collaborators. Auth and Price may be nil,
// which leaves their routes unregistered. A nil Tokens disables authentication.
// Closing Done ends open event streams so a graceful shutdown is not held up.
type RouterConfig struct {
	Queue       *queue.Manager
	Scanner     *queue.Scanner
	Tokens      TokenValidator
	Auth        *AuthHandler
	Price       Pricer
	EventBuffer int
	Done        <-chan struct{}
	Logger      *slog.Logger
}

// NewRouter builds the control API.
func NewRouter(cfg RouterConfig) *echo.Echo {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tokens == nil {
		cfg.Tokens = service.NewAPIAuth("")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = HTTPErrorHandler
	e.Validator = NewAppValidator()

	e.Use(middleware.RequestID())
	e.Use(RequestLogger(cfg.Logger.With("component", "http")))
	e.Use(middleware.Recover())

	qh := NewQueueHandler(cfg.Queue, cfg.Scanner)
	events := NewEventsHandler(cfg.Queue, cfg.EventBuffer, cfg.Done)

	e.GET("/health", func(c echo.Context) error {
		return JSON(c, http.StatusOK, map[string]any{
			"status": "ok",
			"queue":  cfg.Queue.State(),
		})
	})

	if cfg.Auth != nil {
		e.GET("/auth/marketplace", cfg.Auth.MarketplaceRedirect)
		e.GET("/auth/marketplace/callback", cfg.Auth.MarketplaceCallback)
	}

	api := e.Group("/api", JWTAuth(cfg.Tokens))

	if cfg.Auth != nil {
		api.GET("/auth/marketplace/status", cfg.Auth.Status)
		api.POST("/auth/marketplace/refresh", cfg.Auth.Refresh)
	}

	q := api.Group("/queue")
	q.GET("", qh.Status)
	q.GET("/events", events.Stream)
	q.POST("/start", qh.Start)
	q.POST("/pause", qh.Pause)
	q.POST("/resume", qh.Resume)
	q.POST("/retry", qh.RetryFailed)
	q.POST("/scan", qh.Scan)
	q.POST("/clear", qh.ClearCompleted)
	q.POST("/clear-all", qh.ClearAll)

	q.GET("/jobs", qh.List)
	q.POST("/jobs", qh.Add)
	q.POST("/jobs/batch", qh.AddBatch)
	q.GET("/jobs/:id", qh.Get)
	q.DELETE("/jobs/:id", qh.Remove)
	q.POST("/jobs/:id/retry", qh.RetryJob)
	q.POST("/jobs/:id/skip", qh.Skip)
	q.POST("/jobs/:id/hold", qh.Hold)
	q.POST("/jobs/:id/release", qh.Release)

	if cfg.Price != nil {
		api.POST("/price", NewPriceHandler(cfg.Price).Suggest)
	}

	return e
}
