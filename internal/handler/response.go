package handler

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/sufield/geminid/internal/assert"
	"github.com/sufield/geminid/internal/gemini"
)

var (
	// ErrHeaderWritten is returned by a second WriteHeader call.
	ErrHeaderWritten = errors.New("response header already written")
	// ErrNoHeader is returned when body bytes precede the header.
	ErrNoHeader = errors.New("response header not written")
	// ErrBodyNotAllowed is returned when writing a body after a non-success header.
	ErrBodyNotAllowed = errors.New("response status does not permit a body")
)

// ResponseWriter frames a Gemini response: exactly one "<status> <meta>\r\n"
// header line followed, for success statuses only, by the body.
type ResponseWriter struct {
	w           *bufio.Writer
	status      gemini.Status
	wroteHeader bool
	bodySize    int64
}

// NewResponseWriter buffers output to w. Flush must be called once the
// response is complete.
func NewResponseWriter(w io.Writer) *ResponseWriter {
	return &ResponseWriter{w: bufio.NewWriter(w)}
}

// WriteHeader sends the header line and flushes it.
func (rw *ResponseWriter) WriteHeader(status gemini.Status, meta string) error {
	if rw.wroteHeader {
		return ErrHeaderWritten
	}
	assert.Invariant(status >= 10 && status <= 69, "status must be two digits")
	rw.wroteHeader = true
	rw.status = status

	if _, err := fmt.Fprintf(rw.w, "%d %s\r\n", int(status), meta); err != nil {
		return err
	}
	return rw.w.Flush()
}

// Write appends body bytes.
func (rw *ResponseWriter) Write(p []byte) (int, error) {
	if !rw.wroteHeader {
		return 0, ErrNoHeader
	}
	if !rw.status.IsSuccess() {
		return 0, ErrBodyNotAllowed
	}
	n, err := rw.w.Write(p)
	rw.bodySize += int64(n)
	return n, err
}

// Flush writes any buffered body bytes.
func (rw *ResponseWriter) Flush() error { return rw.w.Flush() }

// Status is the status sent, or zero before WriteHeader.
func (rw *ResponseWriter) Status() gemini.Status { return rw.status }

// WroteHeader reports whether the header line has been written.
func (rw *ResponseWriter) WroteHeader() bool { return rw.wroteHeader }

// BodySize is the number of body bytes accepted so far.
func (rw *ResponseWriter) BodySize() int64 { return rw.bodySize }
