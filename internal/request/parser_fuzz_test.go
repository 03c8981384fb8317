package request

import (
	"errors"
	"strings"
	"testing"

	"github.com/sufield/geminid/internal/gemini"
)

// FuzzParse checks that every request line is either accepted for the
// configured host or rejected with a request error.
func FuzzParse(f *testing.F) {
	f.Add("gemini://example.org/")
	f.Add("gemini://example.org:1965/a?b")
	f.Add("https://example.org/")
	f.Add("gemini://user@example.org/")
	f.Add("gemini://example.org/#frag")
	f.Add("//example.org/")
	f.Add("")

	p := NewParser("example.org", 1965)
	f.Fuzz(func(t *testing.T, line string) {
		u, err := p.Parse(line)
		if err != nil {
			var reqErr *Error
			if !errors.As(err, &reqErr) {
				t.Fatalf("Parse(%q) returned %T, want *Error", line, err)
			}
			if reqErr.Status != gemini.StatusBadRequest && reqErr.Status != gemini.StatusProxyRequestRefused {
				t.Fatalf("Parse(%q) status %d", line, reqErr.Status)
			}
			return
		}
		if !strings.EqualFold(u.Hostname(), "example.org") {
			t.Fatalf("Parse(%q) accepted host %q", line, u.Hostname())
		}
		if u.User != nil || u.Fragment != "" {
			t.Fatalf("Parse(%q) accepted user info or fragment", line)
		}
		if n := Normalize(u); n.Path == "" {
			t.Fatalf("Normalize(%q) left an empty path", line)
		}
	})
}
