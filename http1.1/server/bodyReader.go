package server

import (
	"bufio"
	"io"
	"sync"
)

type noBody struct{}

func (noBody) Read([]byte) (int, error) { return 0, io.EOF }
func (noBody) Close() error             { return nil }

type bodyReader struct {
	reader io.Reader
}

func (r *bodyReader) Read(p []byte) (n int, err error) {
	return r.reader.Read(p)
}

func (r *bodyReader) Close() error {
	_, err := io.Copy(io.Discard, r.reader)
	return err
}

// expectContinueReader holds back "100 Continue" until the handler first
// reads the body. A client that sent "Expect: 100-continue" waits for it
// before transmitting.
type expectContinueReader struct {
	body io.ReadCloser
	w    *bufio.Writer

	once sync.Once
	sent bool
	err  error
}

func (r *expectContinueReader) Read(p []byte) (int, error) {
	r.once.Do(func() {
		r.sent = true
		if _, err := io.WriteString(r.w, "HTTP/1.1 100 Continue\r\n\r\n"); err != nil {
			r.err = err
			return
		}
		r.err = r.w.Flush()
	})
	if r.err != nil {
		return 0, r.err
	}
	return r.body.Read(p)
}

// suppress gives up on sending "100 Continue", which is only valid ahead
// of the final response.
func (r *expectContinueReader) suppress() {
	r.once.Do(func() {})
}

func (r *expectContinueReader) Close() error {
	// Without a 100 Continue the client never sent the body; nothing to discard.
	if !r.sent {
		return nil
	}
	return r.body.Close()
}
