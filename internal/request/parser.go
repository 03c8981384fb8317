// Package request validates Gemini request lines.
//
// A request line is a single absolute URI. Parse accepts it only when the
// scheme is gemini, the URI carries no user info or fragment, and the
// authority names the host and port this server is configured for.
package request

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"unicode"

	"github.com/sufield/geminid/internal/gemini"
)

// Error is a request rejection. Status is the response status to send and
// Message its meta text.
type Error struct {
	Status  gemini.Status
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d %s", int(e.Status), e.Message)
}

func badRequest(msg string) *Error {
	return &Error{Status: gemini.StatusBadRequest, Message: msg}
}

func refused(msg string) *Error {
	return &Error{Status: gemini.StatusProxyRequestRefused, Message: msg}
}

// Parser checks request lines against the configured host and port.
type Parser struct {
	host string
	port int
}

// NewParser returns a Parser for the given server host and port.
func NewParser(host string, port int) *Parser {
	return &Parser{host: host, port: port}
}

// Parse validates line and returns the parsed URI. Any failure is an *Error.
//
// Checks run in order:
//   - the line is a syntactically valid URI without whitespace
//   - a scheme is present and is exactly "gemini"
//   - no user info and no fragment
//   - the host matches the configured host, ignoring case
//   - an explicit port matches the configured port
func (p *Parser) Parse(line string) (*url.URL, error) {
	if line == "" || strings.IndexFunc(line, unicode.IsSpace) >= 0 {
		return nil, badRequest("Invalid request URI")
	}

	u, err := url.Parse(line)
	if err != nil {
		return nil, badRequest("Invalid request URI")
	}

	if u.Scheme == "" {
		return nil, badRequest("The gemini scheme is required")
	}
	// url.Parse lowercases the scheme, so compare against the raw prefix.
	if !strings.HasPrefix(line, gemini.Scheme+":") {
		return nil, refused("Only the gemini scheme is supported")
	}

	if u.User != nil {
		return nil, badRequest("User info is not allowed")
	}
	if u.Fragment != "" || strings.Contains(line, "#") {
		return nil, badRequest("Fragment is not allowed")
	}

	if !strings.EqualFold(u.Hostname(), p.host) {
		return nil, refused("Invalid host")
	}
	if port := u.Port(); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil || n != p.port {
			return nil, refused("Invalid port")
		}
	}

	return u, nil
}

// Normalize resolves dot segments in the URI path and returns a copy.
// An empty path becomes "/".
func Normalize(u *url.URL) *url.URL {
	out := *u
	if out.Path == "" {
		out.Path = "/"
		out.RawPath = ""
		return &out
	}
	ref := &url.URL{Path: out.Path, RawPath: out.RawPath, RawQuery: out.RawQuery, ForceQuery: out.ForceQuery}
	resolved := out.ResolveReference(ref)
	resolved.Fragment = ""
	return resolved
}
