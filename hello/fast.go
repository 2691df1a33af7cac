package hello

import (
	"net/http"

	"github.com/valyala/fasthttp"
)

// FastHandler is the greeting as a fasthttp.RequestHandler.
func FastHandler(ctx *fasthttp.RequestCtx) {
	ctx.SetStatusCode(http.StatusOK)
	ctx.SetContentType(ContentType)
	ctx.SetBodyString(Body)
}
