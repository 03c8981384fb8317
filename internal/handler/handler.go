// Package handler serves one Gemini request per connection.
//
// ServeConn reads the request line, validates it, checks secure domains and
// then either streams a static file or runs a CGI script, following local
// redirects the script issues up to the configured bound. Every connection
// ends with exactly one response header, a closed connection and one access
// log entry.
package handler

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/sufield/geminid/internal/accesslog"
	"github.com/sufield/geminid/internal/authz"
	"github.com/sufield/geminid/internal/cgi"
	"github.com/sufield/geminid/internal/config"
	"github.com/sufield/geminid/internal/feed"
	"github.com/sufield/geminid/internal/gemini"
	"github.com/sufield/geminid/internal/mediatype"
	"github.com/sufield/geminid/internal/request"
	"github.com/sufield/geminid/internal/resolve"
	"github.com/sufield/geminid/internal/stream"
	"github.com/sufield/geminid/internal/telemetry"
	"github.com/sufield/geminid/internal/version"
)

const (
	// MaxRequestBytes is the longest request line accepted, excluding the
	// line terminator.
	MaxRequestBytes = 1024

	faviconPath = "favicon.txt"
	crlf        = "\r\n"
)

// Conn is a client connection whose TLS handshake has completed.
// *tls.Conn satisfies it.
type Conn interface {
	io.ReadWriteCloser
	RemoteAddr() net.Addr
	ConnectionState() tls.ConnectionState
}

// ContentTypes maps file names to content types.
type ContentTypes interface {
	ContentTypeFor(name string) string
}

// CharsetDetector guesses a text file's charset. An empty result means
// none is declared.
type CharsetDetector interface {
	Detect(path string) (string, error)
}

// FeedSynthesizer renders a gemtext index page as an Atom feed.
type FeedSynthesizer interface {
	Atomize(feedDirURI, page string) string
}

// AccessLog records one entry per connection.
type AccessLog interface {
	Log(e accesslog.Entry) error
}

// Spawner starts CGI scripts.
type Spawner interface {
	Start(script string, env []cgi.Var) (*cgi.Process, error)
}

// Options supplies collaborators. Zero fields get defaults built from the
// configuration.
type Options struct {
	ContentTypes ContentTypes
	Charsets     CharsetDetector
	Feeds        FeedSynthesizer
	AccessLog    AccessLog
	Spawner      Spawner
	Metrics      *telemetry.Metrics
	Logger       *slog.Logger
	Now          func() time.Time
}

// Handler serves connections. It is safe for concurrent use.
type Handler struct {
	cfg        config.Config
	parser     *request.Parser
	authorizer *authz.Authorizer
	resolver   *resolve.Resolver
	feedPages  map[string]string
	settings   cgi.Settings

	types    ContentTypes
	charsets CharsetDetector
	feeds    FeedSynthesizer
	access   AccessLog
	spawner  Spawner
	metrics  *telemetry.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// New returns a Handler for cfg.
func New(cfg config.Config, opts Options) (*Handler, error) {
	resolver, err := resolve.New(cfg.Root, cfg.CGIDir, cfg.TextGeminiSuffixes)
	if err != nil {
		return nil, fmt.Errorf("failed to create resolver: %w", err)
	}

	h := &Handler{
		cfg:        cfg,
		parser:     request.NewParser(cfg.Host, cfg.Port),
		resolver:   resolver,
		feedPages:  make(map[string]string, len(cfg.FeedPages)),
		settings: cgi.Settings{
			Root:       resolver.Root,
			Host:       cfg.Host,
			Port:       cfg.Port,
			Software:   version.Software(),
			ModSSLVars: cfg.ModSSLVars,
		},
		types:    opts.ContentTypes,
		charsets: opts.Charsets,
		feeds:    opts.Feeds,
		access:   opts.AccessLog,
		spawner:  opts.Spawner,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		now:      opts.Now,
	}

	// The first page configured for a directory wins.
	for _, page := range cfg.FeedPages {
		dir := path.Dir(page)
		if _, ok := h.feedPages[dir]; !ok {
			h.feedPages[dir] = page
		}
	}

	if h.logger == nil {
		h.logger = slog.New(slog.DiscardHandler)
	}
	if h.types == nil {
		h.types = mediatype.NewResolver(cfg.TextGeminiSuffixes, cfg.DefaultContentType)
	}
	if h.charsets == nil {
		h.charsets = mediatype.NewDetector(cfg.DefaultCharset)
	}
	if h.feeds == nil {
		h.feeds = feed.NewAtomizer(h.logger)
	}
	if h.access == nil {
		h.access = accesslog.New(io.Discard)
	}
	if h.spawner == nil {
		h.spawner = cgi.Gateway{}
	}
	if h.now == nil {
		h.now = time.Now
	}
	h.authorizer = authz.NewAuthorizer(cfg.SecureDomains, authz.WithClock(h.now))
	return h, nil
}

// exchange is the state of one connection.
type exchange struct {
	conn   Conn
	rw     *ResponseWriter
	logger *slog.Logger
	client *authz.ClientIdentity
	tls    tls.ConnectionState

	request string
	user    string
	start   time.Time
}

// ServeConn handles one request on conn and closes it.
//
// A panic while serving is recovered long enough to send a 50 response,
// if no header went out yet, and to write the access log entry. It is then
// re-raised.
func (h *Handler) ServeConn(ctx context.Context, conn Conn) {
	state := conn.ConnectionState()
	x := &exchange{
		conn:   conn,
		rw:     NewResponseWriter(conn),
		client: authz.IdentityFromState(state),
		tls:    state,
		start:  h.now(),
		logger: h.logger.With(
			slog.String("conn_id", uuid.NewString()),
			slog.String("remote_addr", conn.RemoteAddr().String()),
		),
	}

	var err error
	defer func() {
		if r := recover(); r != nil {
			x.logger.Error("Panic while handling request", slog.Any("panic", r))
			if !x.rw.WroteHeader() {
				_ = x.rw.WriteHeader(gemini.StatusPermanentFailure, "Internal error, check the server log")
			}
			h.finish(ctx, x, gemini.StatusPermanentFailure)
			panic(r)
		}

		status := x.rw.Status()
		if err != nil {
			x.logger.Error("Failed to handle request", slog.Any("error", err))
			if !x.rw.WroteHeader() {
				_ = x.rw.WriteHeader(gemini.StatusTemporaryFailure, "Temporary failure")
			}
			status = gemini.StatusTemporaryFailure
		}
		h.finish(ctx, x, status)
	}()

	err = h.serve(ctx, x)
}

// finish flushes and closes the connection, then records the exchange.
func (h *Handler) finish(ctx context.Context, x *exchange, status gemini.Status) {
	if err := x.rw.Flush(); err != nil {
		x.logger.Debug("Failed to flush response", slog.Any("error", err))
	}
	if err := x.conn.Close(); err != nil {
		x.logger.Debug("Failed to close connection", slog.Any("error", err))
	}

	req := x.request
	if req == "" {
		req = "?"
	}
	entry := accesslog.Entry{
		RemoteAddr: remoteIP(x.conn.RemoteAddr()),
		User:       x.user,
		Request:    req,
		Status:     int(status),
		BodySize:   x.rw.BodySize(),
		Time:       x.start,
	}
	if err := h.access.Log(entry); err != nil {
		x.logger.Warn("Failed to write access log", slog.Any("error", err))
	}
	h.metrics.RecordRequest(ctx, int(status), x.rw.BodySize())

	x.logger.Debug("Request complete",
		slog.Int("status", int(status)),
		slog.Int64("body_size", x.rw.BodySize()),
		slog.Duration("elapsed", h.now().Sub(x.start)),
	)
}

// serve runs the request through to a response. Returned errors are I/O
// failures; protocol outcomes are written as responses.
func (h *Handler) serve(ctx context.Context, x *exchange) error {
	line, err := readRequestLine(x.conn)
	x.request = line
	if err != nil {
		return err
	}
	if len(line) > MaxRequestBytes {
		x.request = line[:MaxRequestBytes]
		return x.rw.WriteHeader(gemini.StatusBadRequest, fmt.Sprintf("Request exceeds %d bytes", MaxRequestBytes))
	}
	if !utf8.ValidString(line) {
		return x.rw.WriteHeader(gemini.StatusBadRequest, "Invalid request URI")
	}

	uri, err := h.parser.Parse(line)
	if err != nil {
		var reqErr *request.Error
		if errors.As(err, &reqErr) {
			return x.rw.WriteHeader(reqErr.Status, reqErr.Message)
		}
		return err
	}

	var (
		atomize bool
		res     resolve.Resource
	)
	for hops := 0; ; hops++ {
		if hops > h.cfg.MaxLocalRedirects {
			return x.rw.WriteHeader(gemini.StatusCGIError, "Exceeded maximum number of local redirects")
		}

		uri = request.Normalize(uri)
		x.logger.Debug("Path requested", slog.String("path", uri.Path))

		rel, err := resolve.RelativePath(uri.Path)
		if err != nil {
			return x.rw.WriteHeader(gemini.StatusBadRequest, "Illegal path in URI")
		}

		// Secure domains are checked before existence so nothing leaks.
		user, err := h.authorizer.Authorize(rel, x.client)
		if err != nil {
			var denial *authz.Denial
			if !errors.As(err, &denial) {
				return err
			}
			x.logger.Info("Request denied",
				slog.String("path", rel),
				slog.String("reason", denial.Message),
				slog.Any("error", denial.Err),
			)
			return x.rw.WriteHeader(denial.Status, denial.Message)
		}
		if user != "" {
			x.user = user
		}

		if h.cfg.Favicon != "" && rel == faviconPath {
			return h.writeString(x, "text/plain", h.cfg.Favicon+crlf)
		}

		inCGI := h.resolver.InCGI(rel)
		target := rel
		if !inCGI && path.Base(rel) == feed.FileName {
			if page, ok := h.feedPages[path.Dir(rel)]; ok {
				x.logger.Debug("Using generated feed", slog.String("page", page))
				target, atomize = page, true
			}
		}

		res, err = h.resolver.Resolve(target)
		switch {
		case errors.Is(err, resolve.ErrCGIDirectory):
			return x.rw.WriteHeader(gemini.StatusBadRequest, "Cannot access directory over CGI")
		case err != nil:
			return x.rw.WriteHeader(gemini.StatusNotFound, "Resource not found")
		}

		if !inCGI {
			break
		}

		next, err := h.runCGI(ctx, x, uri, res)
		if err != nil || next == nil {
			return err
		}
		x.logger.Debug("Local redirect", slog.String("location", next.String()))
		h.metrics.RecordLocalRedirect(ctx)
		uri = next
	}

	if atomize {
		return h.serveFeed(x, uri, res.Path)
	}
	return h.serveFile(x, res.Path)
}

// readRequestLine reads one "\n" or "\r\n" terminated line, taking at most
// one byte more than MaxRequestBytes so an overlong line can be detected.
func readRequestLine(r io.Reader) (string, error) {
	bounded, err := stream.NewBoundedReader(r, MaxRequestBytes+1)
	if err != nil {
		return "", err
	}
	line, err := bufio.NewReader(bounded).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read request: %w", err)
	}
	if line == "" {
		return "", fmt.Errorf("failed to read request: %w", io.ErrUnexpectedEOF)
	}
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return strings.TrimSpace(line), nil
}

// runCGI runs the script for res. A non-nil URL is a local redirect to
// follow; otherwise the script's response has been written.
func (h *Handler) runCGI(ctx context.Context, x *exchange, uri *url.URL, res resolve.Resource) (*url.URL, error) {
	env := cgi.Environment(cgi.Request{
		URI:           uri,
		Script:        res.Path,
		ExtraPathInfo: res.ExtraPathInfo,
		RemoteAddr:    x.conn.RemoteAddr(),
		TLS:           cgi.NewTLSInfo(x.tls),
		Client:        x.client,
	}, h.settings, h.now())

	proc, err := h.spawner.Start(res.Path, env)
	if err != nil {
		x.logger.Error("Failed to start CGI script", slog.String("script", res.Path), slog.Any("error", err))
		return nil, x.rw.WriteHeader(gemini.StatusTemporaryFailure, "Failed to start CGI script")
	}
	x.logger.Debug("Executing CGI", slog.String("command", proc.Command))
	defer h.waitCGI(ctx, x, proc)

	md, err := cgi.ReadHeaders(proc.Stdout(), x.logger)
	if err != nil {
		x.logger.Error("CGI script returned invalid response headers",
			slog.String("command", proc.Command),
			slog.Any("error", err),
		)
		return nil, x.rw.WriteHeader(gemini.StatusCGIError, "CGI script returned invalid response headers")
	}

	if md.IsLocalRedirect() {
		return uri.ResolveReference(md.Location), nil
	}

	status := md.ResponseStatus()
	meta := md.ContentType
	switch {
	case md.Location != nil:
		meta = md.Location.String()
	case !status.IsSuccess() && md.ReasonPhrase != "":
		meta = md.ReasonPhrase
	}
	if err := x.rw.WriteHeader(status, meta); err != nil {
		return nil, err
	}
	if md.Location != nil || !status.IsSuccess() {
		return nil, nil
	}
	return nil, h.copyBody(x.rw, proc.Stdout(), meta)
}

// waitCGI reaps the script. A failing script never changes the response.
func (h *Handler) waitCGI(ctx context.Context, x *exchange, proc *cgi.Process) {
	code, err := proc.Finish()
	if err != nil {
		x.logger.Error("Failed waiting for CGI script", slog.Any("error", err))
	} else if code != 0 {
		x.logger.Warn("CGI exited with non-zero code",
			slog.String("command", proc.Command),
			slog.Int("exit_code", code),
		)
	}
	h.metrics.RecordCGI(ctx, code, proc.Elapsed())
}

func (h *Handler) serveFeed(x *exchange, uri *url.URL, page string) error {
	content, err := os.ReadFile(page) // #nosec G304 - page was resolved under the document root
	if err != nil {
		return fmt.Errorf("failed to read feed page %s: %w", page, err)
	}

	dir := *uri
	dir.Path = strings.TrimSuffix(dir.Path, "/"+feed.FileName)
	dir.RawPath = ""
	dir.RawQuery = ""
	dir.ForceQuery = false

	return h.writeString(x, feed.ContentType, h.feeds.Atomize(dir.String(), string(content)))
}

func (h *Handler) serveFile(x *exchange, file string) error {
	info, err := os.Stat(file)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", file, err)
	}
	if info.IsDir() {
		file, err = h.resolver.Index(file)
		if err != nil {
			return x.rw.WriteHeader(gemini.StatusNotFound, "Index file not found")
		}
	}

	contentType := h.types.ContentTypeFor(filepath.Base(file))
	meta := contentType
	if h.cfg.EnableCharsetDetection && mediatype.IsText(contentType) {
		charset, err := h.charsets.Detect(file)
		if err != nil {
			x.logger.Warn("Charset detection failed", slog.String("file", file), slog.Any("error", err))
		} else if charset != "" {
			meta = contentType + ";charset=" + charset
		}
	}
	x.logger.Debug("Serving file", slog.String("file", file), slog.String("meta", meta))

	f, err := os.Open(file) // #nosec G304 - file was resolved under the document root
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", file, err)
	}
	defer f.Close()

	if err := x.rw.WriteHeader(gemini.StatusSuccess, meta); err != nil {
		return err
	}
	return h.copyBody(x.rw, f, contentType)
}

// copyBody streams src as the body, canonicalizing line endings of text
// when configured.
func (h *Handler) copyBody(rw *ResponseWriter, src io.Reader, contentType string) error {
	if !h.cfg.ForceCanonicalText || !mediatype.IsText(contentType) {
		_, err := io.Copy(rw, src)
		return err
	}

	lw := stream.NewLineEndingWriter(rw)
	if _, err := io.Copy(lw, src); err != nil {
		return err
	}
	return lw.Close()
}

func (h *Handler) writeString(x *exchange, meta, body string) error {
	if err := x.rw.WriteHeader(gemini.StatusSuccess, meta); err != nil {
		return err
	}
	_, err := io.WriteString(x.rw, body)
	return err
}

func remoteIP(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
