package server

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"math"
	"net/http"
	"slices"
	"strconv"
	"time"
)

// Body bytes held back before the response head is committed. A handler
// that returns within this much output gets a Content-Length instead of
// chunked framing.
const bufferBeforeChunking = 2048

var nlcf = []byte{0x0d, 0x0a}

// responseBodyWriter is the http.ResponseWriter handed to handlers. The
// head is committed when the handler returns, calls Flush, or writes more
// than bufferBeforeChunking bytes.
type responseBodyWriter struct {
	req         *http.Request
	bw          *bufio.Writer
	headers     http.Header
	expect      *expectContinueReader
	idleTimeout time.Duration

	sentHeaders     bool // WriteHeader called
	headWritten     bool // status line and headers are in bw
	status          int
	chunkedEncoding bool
	omitBody        bool
	contentLength   int64 // declared by the handler, -1 if unset
	written         int64
	bodyBuffer      *bytes.Buffer

	// closeAfter is decided when the head is written and ends the
	// connection once this response is out.
	closeAfter bool
}

func (r *responseBodyWriter) Header() http.Header {
	return r.headers
}

func (r *responseBodyWriter) Write(b []byte) (int, error) {
	if !r.sentHeaders {
		if r.headers.Get("Content-Type") == "" {
			r.headers.Set("Content-Type", http.DetectContentType(b))
		}
		r.WriteHeader(http.StatusOK)
	}

	if r.omitBody || len(b) == 0 {
		return len(b), nil
	}
	if r.contentLength >= 0 && r.written+int64(len(b)) > r.contentLength {
		return 0, http.ErrContentLength
	}
	r.written += int64(len(b))

	if !r.headWritten {
		if r.bodyBuffer == nil {
			r.bodyBuffer = new(bytes.Buffer)
		}
		r.bodyBuffer.Write(b)
		if r.bodyBuffer.Len() < bufferBeforeChunking {
			return len(b), nil
		}
		if err := r.writeHead(); err != nil {
			return 0, err
		}
		return len(b), nil
	}

	if err := r.writeChunk(b); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Flush implements http.Flusher.
func (r *responseBodyWriter) Flush() {
	if !r.sentHeaders {
		r.WriteHeader(http.StatusOK)
	}
	if !r.headWritten {
		if err := r.writeHead(); err != nil {
			slog.Debug("Error writing response head", "err", err)
		}
	}
	if err := r.bw.Flush(); err != nil {
		slog.Debug("Error flushing response", "err", err)
	}
}

func (r *responseBodyWriter) WriteHeader(statusCode int) {
	if r.sentHeaders {
		slog.Warn(fmt.Sprintf("WriteHeader called twice, second time with: %d", statusCode))
		return
	}
	if statusCode < 200 || statusCode > 999 {
		slog.Warn(fmt.Sprintf("WriteHeader called with unsupported status: %d", statusCode))
		statusCode = http.StatusInternalServerError
	}
	r.sentHeaders = true
	r.status = statusCode
	r.omitBody = r.req.Method == http.MethodHead ||
		statusCode == http.StatusNoContent || statusCode == http.StatusNotModified

	if cl := r.headers.Get("Content-Length"); cl != "" {
		n, err := strconv.ParseInt(cl, 10, 64)
		if err != nil || n < 0 {
			slog.Warn("Dropping invalid Content-Length", "value", cl)
			r.headers.Del("Content-Length")
		} else {
			r.contentLength = n
		}
	}
}

// finish completes the response after the handler returned.
func (r *responseBodyWriter) finish() error {
	if !r.sentHeaders {
		r.WriteHeader(http.StatusOK)
	}

	if !r.headWritten {
		// The whole body is known; frame it with a length.
		if !r.omitBody && r.headers.Get("Content-Length") == "" && r.headers.Get("Transfer-Encoding") == "" {
			r.contentLength = r.written
			r.headers.Set("Content-Length", strconv.FormatInt(r.written, 10))
		}
		if err := r.writeHead(); err != nil {
			return err
		}
	}

	if r.chunkedEncoding {
		if _, err := io.WriteString(r.bw, "0\r\n\r\n"); err != nil {
			return err
		}
	}
	if !r.omitBody && r.contentLength >= 0 && r.written < r.contentLength {
		// The framing promised more than was sent; the client can only
		// recover by seeing the connection end.
		r.closeAfter = true
	}

	return r.bw.Flush()
}

// writeHead commits the status line and headers, followed by whatever body
// was held back.
func (r *responseBodyWriter) writeHead() error {
	r.headWritten = true
	if r.expect != nil {
		r.expect.suppress()
	}

	_, clSet := r.headers["Content-Length"]
	_, teSet := r.headers["Transfer-Encoding"]
	switch {
	case r.omitBody || clSet:
	case r.req.ProtoAtLeast(1, 1) && !teSet:
		r.chunkedEncoding = true
		r.headers.Set("Transfer-Encoding", "chunked")
	default:
		// An HTTP/1.0 peer learns the body ended when the connection does.
		r.closeAfter = true
	}

	if r.req.Close {
		r.closeAfter = true
	}
	if r.expect != nil && !r.expect.sent {
		// The client is still holding its body back; the connection is
		// not reusable.
		r.closeAfter = true
	}
	if !r.closeAfter && r.req.ContentLength != 0 {
		// Whatever body the handler left unread is discarded now, so the
		// head can tell the client whether the connection survives it.
		if ok, _ := drain(r.req.Body); !ok {
			r.closeAfter = true
		}
	}

	if r.closeAfter {
		r.headers.Set("Connection", "close")
	} else {
		r.headers.Set("Connection", "keep-alive")
		if r.idleTimeout > 0 {
			secs := int(math.Ceil(r.idleTimeout.Seconds()))
			r.headers.Set("Keep-Alive", "timeout="+strconv.Itoa(secs))
		}
	}
	if r.headers.Get("Date") == "" {
		r.headers.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	}

	bw := r.bw
	fmt.Fprintf(bw, "%s %d %s", r.req.Proto, r.status, http.StatusText(r.status))
	bw.Write(nlcf)
	for _, k := range slices.Sorted(maps.Keys(r.headers)) {
		for _, val := range r.headers[k] {
			bw.WriteString(k)
			bw.WriteString(": ")
			bw.WriteString(val)
			bw.Write(nlcf)
		}
	}
	if _, err := bw.Write(nlcf); err != nil {
		return err
	}

	return r.writeBufferedBody()
}

func (r *responseBodyWriter) writeBufferedBody() error {
	if r.bodyBuffer == nil {
		return nil
	}
	err := r.writeChunk(r.bodyBuffer.Bytes())
	r.bodyBuffer = nil
	return err
}

// writeChunk writes b with the framing chosen for the response.
func (r *responseBodyWriter) writeChunk(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	if r.chunkedEncoding {
		if _, err := fmt.Fprintf(r.bw, "%x\r\n", len(b)); err != nil {
			return err
		}
	}
	if _, err := r.bw.Write(b); err != nil {
		return err
	}
	if r.chunkedEncoding {
		if _, err := r.bw.Write(nlcf); err != nil {
			return err
		}
	}
	return nil
}
