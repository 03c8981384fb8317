// Package accesslog writes an Apache-style access log.
//
// Each line has the form
//
//	<addr> - <user> [dd/Mon/yyyy:HH:mm:ss Z] "<request>" <status> <size>
//
// terminated by CRLF. An absent user or an empty body is written as "-".
package accesslog

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// FileName is the log file created inside the log directory.
const FileName = "access.log"

const timeLayout = "02/Jan/2006:15:04:05 -0700"

// ErrClosed is returned when logging to a closed Logger.
var ErrClosed = errors.New("access log is closed")

// Entry is one served request.
type Entry struct {
	RemoteAddr string
	User       string
	Request    string
	Status     int
	BodySize   int64
	Time       time.Time
}

// Format renders e as a log line including the trailing CRLF.
func (e Entry) Format() string {
	addr := e.RemoteAddr
	if addr == "" {
		addr = "-"
	}
	user := "-"
	if e.User != "" {
		user = url.QueryEscape(e.User)
	}
	size := "-"
	if e.BodySize > 0 {
		size = strconv.FormatInt(e.BodySize, 10)
	}
	return fmt.Sprintf("%s - %s [%s] %q %d %s\r\n",
		addr, user, e.Time.Format(timeLayout), e.Request, e.Status, size)
}

// Logger serializes entries onto a writer, one write per line.
type Logger struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	closed bool
}

// New returns a Logger writing to w. A nil w discards entries.
func New(w io.Writer) *Logger {
	if w == nil {
		w = io.Discard
	}
	return &Logger{w: w}
}

// Open appends to access.log in dir, creating it if needed. An empty dir
// yields a Logger that discards entries.
func Open(dir string) (*Logger, error) {
	if dir == "" {
		return New(nil), nil
	}
	path := filepath.Join(dir, FileName)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o640) // #nosec G304 - log_dir comes from trusted config
	if err != nil {
		return nil, fmt.Errorf("failed to open access log %s: %w", path, err)
	}
	return &Logger{w: f, closer: f}, nil
}

// Log writes one entry.
func (l *Logger) Log(e Entry) error {
	line := e.Format()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if _, err := io.WriteString(l.w, line); err != nil {
		return fmt.Errorf("failed to write access log: %w", err)
	}
	return nil
}

// Close closes the underlying file. It is safe to call more than once.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}
