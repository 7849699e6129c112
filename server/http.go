package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/cealn-go/cealn/buildevent"
	"github.com/cealn-go/cealn/coordinator"
	"github.com/cealn-go/cealn/statemanager"
)

// Driver runs one build to completion, translating the query graph's
// progress into events published on s. It is supplied by the caller
// (cmd/cealnd) once the rule-analysis/action-execution handlers are
// registered on a query.Graph; server itself only owns the HTTP/transport
// surface.
type Driver func(ctx context.Context, req buildevent.Request, s *coordinator.Session)

// HTTPServer is the introspection + BuildEvent HTTP surface fronting one
// Services instance, built with the teacher's Echo-plus-middleware
// bootstrap shape (cli/root.go's Logger/Recover/CORS stack).
type HTTPServer struct {
	echo   *echo.Echo
	ln     net.Listener
	driver Driver
}

// NewHTTPServer wires introspection routes and the /v1/events WebSocket
// endpoint onto a fresh Echo instance. addr may be "127.0.0.1:0" to bind
// an ephemeral port.
func NewHTTPServer(addr string, svc *Services, driver Driver) (*HTTPServer, error) {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	mgr := statemanager.New(svc.Graph)
	mgr.RegisterRoutes(e.Group(""))

	hub := coordinator.NewHub(30 * time.Second)
	e.GET("/v1/events", func(c echo.Context) error {
		return hub.Accept(c.Response().Writer, c.Request(), func(req buildevent.Request, s *coordinator.Session) {
			driver(c.Request().Context(), req, s)
		})
	})

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("server: binding %s: %w", addr, err)
	}

	return &HTTPServer{echo: e, ln: ln, driver: driver}, nil
}

// Addr returns the bound listener address (useful when addr requested
// port 0).
func (s *HTTPServer) Addr() string { return s.ln.Addr().String() }

// URL returns the api.url contents for this listener.
func (s *HTTPServer) URL() string { return "http://" + s.Addr() }

// Serve accepts connections on the bound listener until Shutdown is
// called. It blocks, so callers run it in its own goroutine.
func (s *HTTPServer) Serve() error {
	s.echo.Listener = s.ln
	if err := s.echo.Server.Serve(s.ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully drains in-flight requests within ctx's deadline.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
