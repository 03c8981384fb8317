package mediatype

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_ContentTypeFor(t *testing.T) {
	r := NewResolver([]string{".gmi", ".gemini"}, "application/octet-stream")

	tests := []struct {
		name string
		want string
	}{
		{name: "index.gmi", want: Gemini},
		{name: "notes.gemini", want: Gemini},
		{name: "page.html", want: "text/html"},
		{name: "image.png", want: "image/png"},
		{name: "README", want: "application/octet-stream"},
		{name: "archive.unknownext", want: "application/octet-stream"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.ContentTypeFor(tt.name))
		})
	}
}

func TestResolver_CustomSuffixes(t *testing.T) {
	r := NewResolver([]string{".txt"}, "text/plain")
	assert.Equal(t, Gemini, r.ContentTypeFor("a.txt"))
	assert.NotEqual(t, Gemini, r.ContentTypeFor("a.gmi"))
}

func TestIsText(t *testing.T) {
	assert.True(t, IsText("text/gemini"))
	assert.True(t, IsText("text/plain"))
	assert.False(t, IsText("image/png"))
}

func TestDetector_DetectBytes(t *testing.T) {
	d := NewDetector("ISO-8859-1")

	tests := []struct {
		name    string
		content []byte
		want    string
	}{
		{name: "ascii reported as utf-8", content: []byte("plain old text\n"), want: "UTF-8"},
		{name: "utf-8", content: []byte("naïve café\n"), want: "UTF-8"},
		{name: "utf-8 bom", content: []byte("\xef\xbb\xbfhello"), want: "UTF-8"},
		{name: "utf-16be bom", content: []byte("\xfe\xff\x00h\x00i"), want: "UTF-16BE"},
		{name: "utf-16le bom", content: []byte("\xff\xfeh\x00i\x00"), want: "UTF-16LE"},
		{name: "latin-1 falls back", content: []byte("caf\xe9 cr\xe8me\n"), want: "ISO-8859-1"},
		{name: "truncated rune at end", content: []byte("caf\xc3"), want: "UTF-8"},
		{name: "empty", content: nil, want: "UTF-8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, d.DetectBytes(tt.content))
		})
	}
}

func TestDetector_Detect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.gmi")
	require.NoError(t, os.WriteFile(path, []byte("# Hello\n"), 0o644))

	got, err := NewDetector("UTF-8").Detect(path)
	require.NoError(t, err)
	assert.Equal(t, "UTF-8", got)

	_, err = NewDetector("UTF-8").Detect(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestCanonicalCharset(t *testing.T) {
	name, err := CanonicalCharset("latin1")
	require.NoError(t, err)
	assert.Equal(t, "windows-1252", name)

	name, err = CanonicalCharset("UTF-8")
	require.NoError(t, err)
	assert.Equal(t, "utf-8", name)

	_, err = CanonicalCharset("klingon")
	assert.Error(t, err)
}
