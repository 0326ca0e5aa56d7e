package web

import (
	"net/http"
	"net/http/pprof"

	"github.com/labstack/echo/v4"

	"hermod/internal/core"
)

// registerDebugRoutes exposes net/http/pprof and a text table of the session.
func registerDebugRoutes(g *echo.Group, c *core.Client, auth echo.MiddlewareFunc) {
	g.GET("/pprof", func(c echo.Context) error {
		return c.Redirect(http.StatusFound, "/debug/pprof/")
	})

	g.GET("/pprof/", echo.WrapHandler(http.HandlerFunc(pprof.Index)))

	for _, name := range []string{"heap", "allocs", "goroutine", "block", "mutex"} {
		g.GET("/pprof/"+name, echo.WrapHandler(pprof.Handler(name)))
	}

	g.GET("/pprof/profile", echo.WrapHandler(http.HandlerFunc(pprof.Profile)))
	g.GET("/pprof/trace", echo.WrapHandler(http.HandlerFunc(pprof.Trace)))

	g.GET("/session", func(ctx echo.Context) error {
		return ctx.String(http.StatusOK, c.Display())
	}, auth)
}
