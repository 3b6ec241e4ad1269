// Package admin serves the daemon's operator HTTP surface: health, stats,
// forced flush and prometheus metrics.
package admin

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/unkn0wn-root/gencache"
)

// Backend is the slice of *gencache.Service the admin surface needs.
type Backend interface {
	Stats() gencache.Stats
	Flush(ctx context.Context) error
}

type Options struct {
	// Metrics is mounted at GET /metrics when set.
	Metrics         http.Handler
	Logger          gencache.Logger
	FlushTimeout    time.Duration // 0 => 10s
	ShutdownTimeout time.Duration // 0 => 5s
}

// Health is the body of GET /healthz.
type Health struct {
	Status string `json:"status"`
	Name   string `json:"name"`
}

// Flushed is the body of a successful POST /v1/flush.
type Flushed struct {
	Generation uint64 `json:"generation"`
}

// ErrorBody is the JSON body of every non-2xx response.
type ErrorBody struct {
	Error string `json:"error"`
}

type Server struct {
	e    *echo.Echo
	b    Backend
	log  gencache.Logger
	opts Options
	srv  *http.Server
}

func New(b Backend, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = gencache.NopLogger{}
	}
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = 10 * time.Second
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	s := &Server{e: e, b: b, log: opts.Logger, opts: opts}
	e.GET("/healthz", s.health)
	e.GET("/v1/info", s.info)
	e.POST("/v1/flush", s.flush)
	if opts.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(opts.Metrics))
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.e }

// Start listens on addr until ctx is cancelled, then shuts down gracefully.
// Returns ctx.Err() after a clean shutdown.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.e,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("admin listening", gencache.Fields{"addr": addr})

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ShutdownTimeout)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, Health{Status: "ok", Name: s.b.Stats().Name})
}

func (s *Server) info(c echo.Context) error {
	return c.JSON(http.StatusOK, s.b.Stats())
}

func (s *Server) flush(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), s.opts.FlushTimeout)
	defer cancel()

	if err := s.b.Flush(ctx); err != nil {
		s.log.Warn("admin flush failed", gencache.Fields{"err": err})
		switch {
		case errors.Is(err, gencache.ErrClosed):
			return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
		case errors.Is(err, context.DeadlineExceeded):
			return echo.NewHTTPError(http.StatusGatewayTimeout, err.Error())
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.JSON(http.StatusOK, Flushed{Generation: s.b.Stats().Generation})
}

func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	msg := http.StatusText(code)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		switch m := he.Message.(type) {
		case string:
			msg = m
		case error:
			msg = m.Error()
		}
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, ErrorBody{Error: msg})
}
