// Package stream provides the byte-stream filters used on both sides of a
// Gemini exchange: a read cap for the incoming request line and a
// line-ending canonicalizer for outgoing text bodies.
package stream

import (
	"errors"
	"io"
)

// ErrNegativeLimit is returned by NewBoundedReader for a negative cap.
var ErrNegativeLimit = errors.New("stream: limit must be non-negative")

// BoundedReader reads from an underlying reader until a fixed number of
// bytes has been consumed, after which it reports io.EOF even if the
// source has more data.
//
// Unlike io.LimitedReader it also supports Discard, which never advances
// past the cap, and exposes how much has been consumed.
type BoundedReader struct {
	r     io.Reader
	limit int64
	n     int64
}

// NewBoundedReader returns a reader capped at limit bytes.
func NewBoundedReader(r io.Reader, limit int64) (*BoundedReader, error) {
	if limit < 0 {
		return nil, ErrNegativeLimit
	}
	return &BoundedReader{r: r, limit: limit}, nil
}

// Read implements io.Reader.
func (b *BoundedReader) Read(p []byte) (int, error) {
	remaining := b.Remaining()
	if remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := b.r.Read(p)
	b.n += int64(n)
	return n, err
}

// Discard skips up to n bytes, stopping at the cap. It returns the number
// of bytes actually skipped.
func (b *BoundedReader) Discard(n int64) (int64, error) {
	remaining := b.Remaining()
	if remaining <= 0 || n <= 0 {
		return 0, nil
	}
	if n > remaining {
		n = remaining
	}
	skipped, err := io.CopyN(io.Discard, b.r, n)
	b.n += skipped
	if errors.Is(err, io.EOF) {
		err = nil
	}
	return skipped, err
}

// Remaining is the number of bytes that may still be read.
func (b *BoundedReader) Remaining() int64 {
	return b.limit - b.n
}

// Count is the number of bytes consumed so far.
func (b *BoundedReader) Count() int64 {
	return b.n
}
