package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Bytes of unread request body discarded after the handler returns before
// the connection is given up instead.
const maxPostHandlerDrain = 256 << 10

// protocolError is a request the server refuses before any handler runs.
// It is answered with its status and the connection is closed.
type protocolError struct {
	status int
	msg    string
}

func (e *protocolError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.status, http.StatusText(e.status), e.msg)
}

func badRequest(format string, args ...any) error {
	return &protocolError{status: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

func (s *Server) handleRequest(c *conn) (bool, error) {
	if err := s.awaitRequest(c); err != nil {
		return true, err
	}

	req, err := s.readRequest(c)
	if err != nil {
		var pe *protocolError
		if errors.As(err, &pe) {
			c.writeError(pe.status)
		}
		return true, err
	}

	ctx := context.Background()
	ctx = context.WithValue(ctx, http.LocalAddrContextKey, c.rwc.LocalAddr())
	ctx, cancelCtx := context.WithCancel(ctx)
	defer cancelCtx()

	var ecr *expectContinueReader
	if req.ProtoAtLeast(1, 1) && req.ContentLength != 0 && req.Header.Get("Expect") != "" {
		ecr = &expectContinueReader{body: req.Body, w: c.bw}
		req.Body = ecr
	}

	w := &responseBodyWriter{
		req:           req,
		bw:            c.bw,
		headers:       make(http.Header),
		contentLength: -1,
		expect:        ecr,
		idleTimeout:   s.IdleTimeout,
	}

	s.Handler.ServeHTTP(w, req.WithContext(ctx))
	if err := w.finish(); err != nil {
		return true, err
	}
	if w.closeAfter {
		// The client may still be sending a body nobody asked for.
		c.lingerOnClose = req.ContentLength != 0 && (ecr == nil || ecr.sent)
		return true, nil
	}

	// Discard what the handler left unread so the next request parses.
	ok, err := drain(req.Body)
	if !ok || err != nil {
		c.lingerOnClose = !ok
		return true, err
	}
	return false, nil
}

// awaitRequest waits for the first byte of the next request on c. A
// connection that stays silent past IdleTimeout, or that is interrupted by
// Shutdown, ends with io.EOF.
func (s *Server) awaitRequest(c *conn) error {
	c.idle.Store(true)
	setReadTimeout(c.rwc, s.IdleTimeout)
	if s.shuttingDown() {
		return io.EOF
	}

	c.lr.N = maxHeaderBytes
	if _, err := c.br.Peek(1); err != nil {
		if isTimeout(err) {
			return io.EOF
		}
		return err
	}

	c.idle.Store(false)
	setReadTimeout(c.rwc, s.ReadHeaderTimeout)
	return nil
}

// readRequest parses a request head from c and attaches the matching body
// reader.
func (s *Server) readRequest(c *conn) (*http.Request, error) {
	tp := textproto.NewReader(c.br)

	// Read the request line: GET /path/to/index.html HTTP/1.1
	// Empty lines ahead of it are tolerated.
	var reqLine string
	for reqLine == "" {
		line, err := tp.ReadLine()
		if err != nil {
			return nil, c.headError(fmt.Errorf("read request line: %w", err))
		}
		reqLine = line
	}

	req := new(http.Request)
	var (
		found bool
		err   error
	)

	// Parse Method: any token, since handlers decide what they accept
	req.Method, reqLine, found = strings.Cut(reqLine, " ")
	if !found || !validToken(req.Method) {
		return nil, badRequest("invalid method %q", req.Method)
	}

	// Parse Request URI
	req.RequestURI, reqLine, found = strings.Cut(reqLine, " ")
	if !found {
		return nil, badRequest("invalid request line")
	}
	if req.URL, err = parseRequestTarget(req.Method, req.RequestURI); err != nil {
		return nil, badRequest("invalid request target %q: %v", req.RequestURI, err)
	}

	// Parse protocol version "HTTP/1.1"
	req.Proto = reqLine
	req.ProtoMajor, req.ProtoMinor, found = parseProtocol(req.Proto)
	if !found {
		if strings.HasPrefix(req.Proto, "HTTP/") && !strings.ContainsRune(req.Proto, ' ') {
			return nil, &protocolError{status: http.StatusHTTPVersionNotSupported, msg: req.Proto}
		}
		return nil, badRequest("invalid protocol %q", req.Proto)
	}

	// Parse headers
	req.Header = make(http.Header)
	for {
		line, err := tp.ReadLineBytes()
		if err != nil {
			return nil, c.headError(fmt.Errorf("read header: %w", err))
		}
		if len(line) == 0 {
			break
		}

		k, v, ok := bytes.Cut(line, []byte{':'})
		if !ok || !validToken(string(k)) {
			return nil, badRequest("invalid header line %q", line)
		}
		v = bytes.TrimSpace(v)
		if !validHeaderValue(v) {
			return nil, badRequest("invalid value for header %q", k)
		}
		req.Header.Add(textproto.CanonicalMIMEHeaderKey(string(k)), string(v))
	}

	hosts := req.Header["Host"]
	if req.ProtoAtLeast(1, 1) && len(hosts) != 1 {
		return nil, badRequest("exactly one Host header required, got %d", len(hosts))
	}
	req.Host = req.URL.Host
	if req.Host == "" && len(hosts) > 0 {
		req.Host = hosts[0]
	}
	delete(req.Header, "Host")

	req.Close = shouldClose(req.ProtoMajor, req.ProtoMinor, req.Header)

	if expect := req.Header.Get("Expect"); expect != "" && !strings.EqualFold(expect, "100-continue") {
		return nil, &protocolError{status: http.StatusExpectationFailed, msg: expect}
	}

	if err := setBody(req, c); err != nil {
		return nil, err
	}

	// Unbound the limit after we've read the headers since the body can be any size
	c.lr.N = math.MaxInt64
	c.rwc.SetReadDeadline(time.Time{})

	req.RemoteAddr = c.rwc.RemoteAddr().String()
	return req, nil
}

func setBody(req *http.Request, c *conn) error {
	te := req.Header.Values("Transfer-Encoding")
	cl := req.Header.Values("Content-Length")

	switch {
	case len(te) > 0:
		if len(cl) > 0 {
			return badRequest("both Transfer-Encoding and Content-Length present")
		}
		if len(te) != 1 || !strings.EqualFold(strings.TrimSpace(te[0]), "chunked") {
			return &protocolError{status: http.StatusNotImplemented, msg: "unsupported transfer encoding " + strings.Join(te, ", ")}
		}
		req.TransferEncoding = []string{"chunked"}
		req.ContentLength = -1
		req.Body = &chunkedBodyReader{reader: c.br}
		return nil

	case len(cl) > 0:
		for _, v := range cl[1:] {
			if v != cl[0] {
				return badRequest("conflicting Content-Length values %q", cl)
			}
		}
		contentLength, err := parseContentLength(cl[0])
		if err != nil {
			return badRequest("invalid Content-Length %q", cl[0])
		}
		req.ContentLength = contentLength
	}

	if req.ContentLength == 0 {
		req.Body = noBody{}
	} else {
		req.Body = &bodyReader{reader: io.LimitReader(c.br, req.ContentLength)}
	}
	return nil
}

// headError classifies a failure to read a request head. A client that
// went away gets no answer.
func (c *conn) headError(err error) error {
	switch {
	case c.lr.N <= 0:
		return &protocolError{status: http.StatusRequestHeaderFieldsTooLarge, msg: "request head exceeds limit"}
	case isTimeout(err):
		return &protocolError{status: http.StatusRequestTimeout, msg: "request head not received in time"}
	case errors.Is(err, io.EOF):
		return fmt.Errorf("%w: %w", io.ErrUnexpectedEOF, err)
	}
	return err
}

// writeError answers a refused request. Only a status line and a close
// notice are sent.
func (c *conn) writeError(status int) {
	c.lingerOnClose = true
	fmt.Fprintf(c.bw, "HTTP/1.1 %d %s\r\nConnection: close\r\n\r\n", status, http.StatusText(status))
	c.bw.Flush()
}

// drain reads off up to maxPostHandlerDrain bytes of body and reports
// whether the body was fully consumed.
func drain(body io.ReadCloser) (bool, error) {
	n, err := io.CopyN(io.Discard, body, maxPostHandlerDrain+1)
	if err == nil && n > maxPostHandlerDrain {
		return false, nil
	}
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("discard request body: %w", err)
	}
	return true, body.Close()
}

func parseRequestTarget(method, target string) (*url.URL, error) {
	switch {
	case target == "*" && method == http.MethodOptions:
		return &url.URL{Path: "*"}, nil
	case method == http.MethodConnect && !strings.HasPrefix(target, "/"):
		if _, _, err := net.SplitHostPort(target); err != nil {
			return nil, err
		}
		return &url.URL{Host: target}, nil
	}
	return url.ParseRequestURI(target)
}

func parseContentLength(headerval string) (int64, error) {
	if headerval == "" {
		return 0, nil
	}
	for _, b := range []byte(headerval) {
		if b < '0' || b > '9' {
			return 0, fmt.Errorf("invalid digit %q", b)
		}
	}
	return strconv.ParseInt(headerval, 10, 64)
}

func parseProtocol(proto string) (int, int, bool) {
	switch proto {
	case "HTTP/1.0":
		return 1, 0, true
	case "HTTP/1.1":
		return 1, 1, true
	}
	return 0, 0, false
}

// shouldClose reports whether the connection ends after this request.
// HTTP/1.1 is persistent unless told otherwise, HTTP/1.0 the reverse.
func shouldClose(major, minor int, h http.Header) bool {
	var keepAlive, closeConn bool
	for _, v := range h.Values("Connection") {
		for _, tok := range strings.Split(v, ",") {
			switch strings.ToLower(strings.TrimSpace(tok)) {
			case "close":
				closeConn = true
			case "keep-alive":
				keepAlive = true
			}
		}
	}

	if closeConn {
		return true
	}
	if major == 1 && minor == 0 {
		return !keepAlive
	}
	return false
}

// validToken reports whether s is an RFC 7230 token.
func validToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		b := s[i]
		switch {
		case 'a' <= b && b <= 'z', 'A' <= b && b <= 'Z', '0' <= b && b <= '9':
		case strings.IndexByte("!#$%&'*+-.^_`|~", b) >= 0:
		default:
			return false
		}
	}
	return true
}

// validHeaderValue reports whether v is free of control characters other
// than horizontal tab.
func validHeaderValue(v []byte) bool {
	for _, b := range v {
		if (b < ' ' && b != '\t') || b == 0x7f {
			return false
		}
	}
	return true
}

func setReadTimeout(c net.Conn, d time.Duration) {
	if d > 0 {
		c.SetReadDeadline(time.Now().Add(d))
	} else {
		c.SetReadDeadline(time.Time{})
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.Is(err, os.ErrDeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout())
}
