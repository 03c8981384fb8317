package stream

import "io"

var crlf = []byte{'\r', '\n'}

// LineEndingWriter converts Mac ("\r") and Unix ("\n") line endings into
// DOS line endings ("\r\n"); existing "\r\n" pairs pass through unchanged.
//
// A carriage return is held back until the next byte shows whether it
// starts a "\r\n" pair, so a pending "\r" is not written until the next
// Write or Close. Close emits a held "\r" as a full "\r\n" but does not
// close the underlying writer.
type LineEndingWriter struct {
	w       io.Writer
	heldCR  bool
	scratch []byte
}

// NewLineEndingWriter wraps w.
func NewLineEndingWriter(w io.Writer) *LineEndingWriter {
	return &LineEndingWriter{w: w}
}

// Write implements io.Writer. On success it reports len(p) bytes written,
// regardless of how many bytes the conversion produced.
func (l *LineEndingWriter) Write(p []byte) (int, error) {
	out := l.scratch[:0]
	for _, c := range p {
		switch c {
		case '\r':
			if l.heldCR {
				out = append(out, crlf...)
			}
			l.heldCR = true
		case '\n':
			out = append(out, crlf...)
			l.heldCR = false
		default:
			if l.heldCR {
				out = append(out, crlf...)
				l.heldCR = false
			}
			out = append(out, c)
		}
	}
	l.scratch = out
	if len(out) == 0 {
		return len(p), nil
	}
	if _, err := l.w.Write(out); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Reset drops a held carriage return without emitting it, so the writer
// can be reused for new output.
func (l *LineEndingWriter) Reset() {
	l.heldCR = false
}

// Close flushes a held carriage return as "\r\n".
func (l *LineEndingWriter) Close() error {
	if !l.heldCR {
		return nil
	}
	l.heldCR = false
	_, err := l.w.Write(crlf)
	return err
}
