// Package hello answers every HTTP request with the same plaintext greeting.
//
// The response never depends on the request: method, target, headers and
// body are all ignored. The same contract is offered for net/http style
// servers, for fasthttp and for echo.
package hello

import (
	"io"
	"net/http"
	"strconv"
)

const (
	Body        = "Hello World!\n"
	ContentType = "text/plain"
)

var contentLength = strconv.Itoa(len(Body))

type handler struct{}

// Handler returns the greeting handler for any http.Handler based server.
func Handler() http.Handler {
	return handler{}
}

func (handler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	h := w.Header()
	h.Set("Content-Type", ContentType)
	h.Set("Content-Length", contentLength)
	w.WriteHeader(http.StatusOK)
	// A failed write means the client went away; nothing left to tell it.
	_, _ = io.WriteString(w, Body)
}
