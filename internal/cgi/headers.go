package cgi

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/sufield/geminid/internal/gemini"
)

// ErrMalformedHeaders is wrapped by every header parsing failure.
var ErrMalformedHeaders = errors.New("malformed CGI response headers")

const (
	contentTypePrefix = "Content-Type:"
	statusPrefix      = "Status:"
	locationPrefix    = "Location:"
)

// Metadata is what a script declared in its response headers.
type Metadata struct {
	ContentType string
	// Status is valid only when HasStatus is set.
	Status       int
	HasStatus    bool
	ReasonPhrase string
	Location     *url.URL
}

// IsLocalRedirect reports whether Location names another resource on this
// server, which is the case when it carries no scheme.
func (m *Metadata) IsLocalRedirect() bool {
	return m.Location != nil && m.Location.Scheme == ""
}

// ResponseStatus is the status to send, defaulting to success or, for a
// redirect, a temporary redirect.
func (m *Metadata) ResponseStatus() gemini.Status {
	switch {
	case m.HasStatus:
		return gemini.Status(m.Status)
	case m.Location != nil:
		return gemini.StatusRedirectTemporary
	default:
		return gemini.StatusSuccess
	}
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedHeaders, fmt.Sprintf(format, args...))
}

// ReadHeaders consumes the header block from a script's output. It reads
// one byte at a time so that nothing past the blank line is taken from r;
// the body can be copied from r afterwards. A nil logger discards warnings
// about unsupported headers.
func ReadHeaders(r io.Reader, logger *slog.Logger) (*Metadata, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	md := &Metadata{}
	for {
		line, eof, err := readLine(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read CGI response headers: %w", err)
		}
		if line == "" {
			break
		}

		switch {
		case strings.HasPrefix(line, contentTypePrefix):
			md.ContentType = strings.TrimSpace(line[len(contentTypePrefix):])

		case strings.HasPrefix(line, statusPrefix):
			value := strings.TrimSpace(line[len(statusPrefix):])
			if value == "" {
				return nil, malformed("Status response header has empty value")
			}
			code, reason, hasReason := strings.Cut(value, " ")
			n, err := strconv.Atoi(code)
			if err != nil {
				return nil, malformed("Status response header has invalid status code %s", code)
			}
			md.Status, md.HasStatus = n, true
			if hasReason {
				md.ReasonPhrase = reason
			}

		case strings.HasPrefix(line, locationPrefix):
			value := strings.TrimSpace(line[len(locationPrefix):])
			if value == "" {
				return nil, malformed("Location response header has empty value")
			}
			loc, err := url.Parse(value)
			if err != nil || strings.ContainsAny(value, " \t") {
				return nil, malformed("Location response header has invalid URI %s", value)
			}
			md.Location = loc

		default:
			logger.Warn("unsupported CGI response header", "header", line)
		}

		if eof {
			break
		}
	}

	if md.ContentType == "" && md.Location == nil {
		return nil, malformed("Content-Type or Location response header not provided")
	}
	if md.Location != nil && md.HasStatus && md.Status != int(gemini.StatusRedirectTemporary) {
		return nil, malformed("CGI response is a redirect, but its status code is %d instead of the required %d",
			md.Status, int(gemini.StatusRedirectTemporary))
	}
	return md, nil
}

// readLine reads up to and excluding the next '\n'. eof reports that the
// stream ended before a newline.
func readLine(r io.Reader) (line string, eof bool, err error) {
	var (
		buf []byte
		b   [1]byte
	)
	for {
		n, err := r.Read(b[:])
		if n == 1 {
			if b[0] == '\n' {
				break
			}
			buf = append(buf, b[0])
			continue
		}
		if errors.Is(err, io.EOF) {
			eof = true
			break
		}
		if err != nil {
			return "", false, err
		}
	}
	if !utf8.Valid(buf) {
		return strings.ToValidUTF8(string(buf), "�"), eof, nil
	}
	return string(buf), eof, nil
}
