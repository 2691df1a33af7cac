package hello

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// EchoHandler is the greeting as an echo.HandlerFunc. c.String is avoided
// because it appends a charset to the content type.
func EchoHandler(c echo.Context) error {
	c.Response().Header().Set(echo.HeaderContentLength, contentLength)
	return c.Blob(http.StatusOK, ContentType, []byte(Body))
}

// NewEcho returns an echo instance that answers every request with the
// greeting. The handler is installed as pre-router middleware that never
// calls next, so requests with methods or paths unknown to the router are
// answered the same way.
func NewEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Pre(func(echo.HandlerFunc) echo.HandlerFunc {
		return EchoHandler
	})
	return e
}
