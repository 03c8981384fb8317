package resolve

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTree builds a document root with a cgi-bin directory holding a single
// script "s" and a "tools" subdirectory.
func newTree(t *testing.T) *Resolver {
	t.Helper()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "cgi-bin", "tools"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "cgi-bin", "s"), []byte("#!/bin/sh\n"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "a.gmi"), []byte("# A\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "index.gemini"), []byte("# Index\n"), 0o644))

	r, err := New(root, "cgi-bin", []string{".gmi", ".gemini"})
	require.NoError(t, err)
	return r
}

func TestRelativePath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "/", want: ""},
		{in: "", want: ""},
		{in: "/docs/a.gmi", want: "docs/a.gmi"},
		{in: "/docs/", want: "docs/"},
		{in: "/docs/./x/../a.gmi", want: "docs/a.gmi"},
		{in: "//docs//a.gmi", want: "docs/a.gmi"},
		{in: "/..", wantErr: true},
		{in: "/docs/../../etc/passwd", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := RelativePath(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrIllegalPath)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolver_InCGI(t *testing.T) {
	r := newTree(t)

	assert.True(t, r.InCGI("cgi-bin"))
	assert.True(t, r.InCGI("cgi-bin/"))
	assert.True(t, r.InCGI("cgi-bin/s/a/b"))
	assert.False(t, r.InCGI("cgi-binary"))
	assert.False(t, r.InCGI("docs/a.gmi"))

	noCGI := &Resolver{Root: r.Root}
	assert.False(t, noCGI.InCGI("cgi-bin/s"))
}

func TestResolver_ScriptWithExtraPath(t *testing.T) {
	r := newTree(t)

	tests := []struct {
		rel   string
		extra string
	}{
		{rel: "cgi-bin/s", extra: ""},
		{rel: "cgi-bin/s/", extra: ""},
		{rel: "cgi-bin/s/a", extra: "a"},
		{rel: "cgi-bin/s/a/b", extra: "a/b"},
		{rel: "cgi-bin/s/a/b/c/d/e", extra: "a/b/c/d/e"},
	}
	for _, tt := range tests {
		t.Run(tt.rel, func(t *testing.T) {
			res, err := r.Resolve(tt.rel)
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(r.Root, "cgi-bin", "s"), res.Path)
			assert.Equal(t, tt.extra, res.ExtraPathInfo)
		})
	}
}

func TestResolver_CGIFailures(t *testing.T) {
	r := newTree(t)

	_, err := r.Resolve("cgi-bin/missing/x")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = r.Resolve("cgi-bin")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = r.Resolve("cgi-bin/tools/x")
	assert.ErrorIs(t, err, ErrCGIDirectory)
}

func TestResolver_Static(t *testing.T) {
	r := newTree(t)

	res, err := r.Resolve("docs/a.gmi")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(r.Root, "docs", "a.gmi"), res.Path)
	assert.Empty(t, res.ExtraPathInfo)

	res, err = r.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, r.Root, res.Path)

	_, err = r.Resolve("docs/nope.gmi")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolver_Index(t *testing.T) {
	r := newTree(t)

	p, err := r.Index(filepath.Join(r.Root, "docs"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(r.Root, "docs", "index.gemini"), p)

	require.NoError(t, os.WriteFile(filepath.Join(r.Root, "docs", "index.gmi"), []byte("# First\n"), 0o644))
	p, err = r.Index(filepath.Join(r.Root, "docs"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(r.Root, "docs", "index.gmi"), p)

	_, err = r.Index(r.Root)
	assert.ErrorIs(t, err, ErrNoIndex)
}

func TestNew_CGIDirOutsideRoot(t *testing.T) {
	root := t.TempDir()

	_, err := New(root, "../elsewhere", nil)
	assert.Error(t, err)

	_, err = New(root, "/definitely/elsewhere", nil)
	assert.Error(t, err)

	r, err := New(root, filepath.Join(root, "cgi"), nil)
	require.NoError(t, err)
	assert.Equal(t, "cgi", r.CGIDir)
}
