// Package mediatype guesses content types and charsets for static files.
package mediatype

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/htmlindex"
)

// Gemini is the media type of gemtext documents.
const Gemini = "text/gemini"

// sniffLen is how much of a file Detect examines.
const sniffLen = 8192

// Resolver maps file names to content types.
type Resolver struct {
	geminiSuffixes []string
	fallback       string
}

// NewResolver returns a Resolver. Names ending in one of geminiSuffixes are
// text/gemini; other names use the system MIME table and then fallback.
func NewResolver(geminiSuffixes []string, fallback string) *Resolver {
	return &Resolver{geminiSuffixes: geminiSuffixes, fallback: fallback}
}

// ContentTypeFor returns the content type for name, without parameters.
func (r *Resolver) ContentTypeFor(name string) string {
	for _, suffix := range r.geminiSuffixes {
		if strings.HasSuffix(name, suffix) {
			return Gemini
		}
	}
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		mediaType, _, _ := strings.Cut(t, ";")
		return strings.TrimSpace(mediaType)
	}
	return r.fallback
}

// IsText reports whether contentType is a text/* type.
func IsText(contentType string) bool {
	return strings.HasPrefix(contentType, "text/")
}

// Detector guesses the charset of text files.
type Detector struct {
	fallback string
}

// NewDetector returns a Detector that answers fallback when a file is
// neither valid UTF-8 nor marked with a byte order mark.
func NewDetector(fallback string) *Detector {
	return &Detector{fallback: fallback}
}

// Detect inspects the start of the file at path. US-ASCII content is
// reported as UTF-8.
func (d *Detector) Detect(path string) (string, error) {
	f, err := os.Open(path) // #nosec G304 - path was resolved under the document root
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, sniffLen)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return d.DetectBytes(buf[:n]), nil
}

// DetectBytes is Detect over an in-memory prefix.
func (d *Detector) DetectBytes(content []byte) string {
	if _, name, certain := charset.DetermineEncoding(content, "text/plain"); certain {
		return strings.ToUpper(name)
	}
	if validUTF8Prefix(content) {
		return "UTF-8"
	}
	return d.fallback
}

// validUTF8Prefix ignores a rune cut off at the end of the sniffed prefix.
func validUTF8Prefix(b []byte) bool {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if !utf8.FullRune(b[i:]) {
				b = b[:i]
			}
			break
		}
	}
	return utf8.Valid(b)
}

// CanonicalCharset returns the canonical name for a charset label, or an
// error when the label is unknown.
func CanonicalCharset(label string) (string, error) {
	enc, err := htmlindex.Get(label)
	if err != nil {
		return "", fmt.Errorf("unknown charset %q: %w", label, err)
	}
	name, err := htmlindex.Name(enc)
	if err != nil {
		return "", fmt.Errorf("unknown charset %q: %w", label, err)
	}
	return name, nil
}
