package server

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestChunkedBodyReader(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "single chunk", in: "5\r\nhello\r\n0\r\n\r\n", want: "hello"},
		{name: "several chunks", in: "4\r\nWiki\r\n5\r\npedia\r\nE\r\n in\r\n\r\nchunks.\r\n0\r\n\r\n", want: "Wikipedia in\r\n\r\nchunks."},
		{name: "extension", in: "3;name=value\r\nabc\r\n0\r\n\r\n", want: "abc"},
		{name: "trailers", in: "3\r\nabc\r\n0\r\nExpires: never\r\nX-Sum: 1\r\n\r\n", want: "abc"},
		{name: "bare LF", in: "3\nabc\r\n0\n\n", want: "abc"},
		{name: "empty", in: "0\r\n\r\n", want: ""},
		{name: "bad size", in: "zz\r\nabc\r\n0\r\n\r\n", wantErr: true},
		{name: "negative size", in: "-3\r\nabc\r\n0\r\n\r\n", wantErr: true},
		{name: "missing CRLF after data", in: "3\r\nabcd\r\n0\r\n\r\n", wantErr: true},
		{name: "truncated", in: "5\r\nhel", wantErr: true},
		{name: "no last chunk", in: "3\r\nabc\r\n", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &chunkedBodyReader{reader: bufio.NewReader(strings.NewReader(tt.in))}
			got, err := io.ReadAll(r)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ReadAll error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && string(got) != tt.want {
				t.Errorf("body = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestChunkedBodyReaderStopsAtLastChunk(t *testing.T) {
	br := bufio.NewReader(strings.NewReader("3\r\nabc\r\n0\r\n\r\nGET / HTTP/1.1\r\n"))
	r := &chunkedBodyReader{reader: br}

	if _, err := io.ReadAll(r); err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if n, err := r.Read(make([]byte, 8)); n != 0 || !errors.Is(err, io.EOF) {
		t.Errorf("Read after last chunk = %d, %v; want 0, EOF", n, err)
	}

	rest, _ := io.ReadAll(br)
	if string(rest) != "GET / HTTP/1.1\r\n" {
		t.Errorf("remaining input = %q", rest)
	}
}

func TestChunkedBodyReaderLineTooLong(t *testing.T) {
	in := strings.Repeat("0", maxChunkLineLength+1) + "\r\n"
	r := &chunkedBodyReader{reader: bufio.NewReader(strings.NewReader(in))}
	if _, err := io.ReadAll(r); !errors.Is(err, errLineTooLong) {
		t.Errorf("ReadAll error = %v, want errLineTooLong", err)
	}
}
