// Package resolve maps request paths onto the document root.
package resolve

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/sufield/geminid/internal/assert"
)

var (
	// ErrNotFound means no file backs the requested path.
	ErrNotFound = errors.New("resource not found")
	// ErrIllegalPath means the path escapes the document root.
	ErrIllegalPath = errors.New("illegal path")
	// ErrCGIDirectory means a CGI path resolved to a directory.
	ErrCGIDirectory = errors.New("cannot access directory over CGI")
	// ErrNoIndex means a directory has no index file.
	ErrNoIndex = errors.New("index file not found")
)

// Resource is a file under the document root. For CGI scripts,
// ExtraPathInfo holds the path segments that followed the script name.
type Resource struct {
	Path          string
	ExtraPathInfo string
}

// Resolver locates resources under Root. CGIDir, when set, is a path
// relative to Root whose subtree is served by scripts.
type Resolver struct {
	Root     string
	CGIDir   string
	Suffixes []string
}

// New returns a Resolver. cgiDir may be absolute, in which case it must lie
// inside root.
func New(root, cgiDir string, indexSuffixes []string) (*Resolver, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("invalid root %q: %w", root, err)
	}

	rel := ""
	if cgiDir != "" {
		if filepath.IsAbs(cgiDir) {
			rel, err = filepath.Rel(absRoot, cgiDir)
			if err != nil {
				return nil, fmt.Errorf("invalid cgi_dir %q: %w", cgiDir, err)
			}
		} else {
			rel = filepath.Clean(cgiDir)
		}
		rel = filepath.ToSlash(rel)
		if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
			return nil, fmt.Errorf("cgi_dir %q must be a directory inside root", cgiDir)
		}
	}

	return &Resolver{Root: absRoot, CGIDir: rel, Suffixes: indexSuffixes}, nil
}

// RelativePath turns a decoded URI path into a root-relative slash path
// without a leading slash. It rejects paths that climb above the root.
func RelativePath(uriPath string) (string, error) {
	var stack []string
	for _, seg := range strings.Split(uriPath, "/") {
		switch seg {
		case "", ".":
		case "..":
			if len(stack) == 0 {
				return "", ErrIllegalPath
			}
			stack = stack[:len(stack)-1]
		default:
			stack = append(stack, seg)
		}
	}
	rel := strings.Join(stack, "/")
	if len(stack) > 0 && strings.HasSuffix(uriPath, "/") {
		rel += "/"
	}
	return rel, nil
}

// InCGI reports whether rel lies under the CGI directory.
func (r *Resolver) InCGI(rel string) bool {
	if r.CGIDir == "" {
		return false
	}
	rel = strings.TrimSuffix(rel, "/")
	return rel == r.CGIDir || strings.HasPrefix(rel, r.CGIDir+"/")
}

// Abs returns the filesystem path for rel.
func (r *Resolver) Abs(rel string) string {
	p := filepath.Join(r.Root, filepath.FromSlash(rel))
	assert.Invariant(within(r.Root, p), "resolved path must stay under the document root")
	return p
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Resolve finds the file backing rel.
//
// Outside the CGI directory the path must exist as is. Inside it, the
// resolver walks up from the full path and the first existing ancestor is
// the script; the segments walked over become ExtraPathInfo. Reaching the
// CGI directory itself without a match is ErrNotFound, and a script that
// turns out to be a directory is ErrCGIDirectory.
func (r *Resolver) Resolve(rel string) (Resource, error) {
	if !r.InCGI(rel) {
		p := r.Abs(rel)
		if _, err := os.Stat(p); err != nil {
			return Resource{}, fmt.Errorf("%w: %s", ErrNotFound, rel)
		}
		return Resource{Path: p}, nil
	}

	current := strings.TrimSuffix(rel, "/")
	var extra []string
	for current != r.CGIDir {
		info, err := os.Stat(r.Abs(current))
		if err == nil {
			if info.IsDir() {
				return Resource{}, fmt.Errorf("%w: %s", ErrCGIDirectory, current)
			}
			res := Resource{Path: r.Abs(current), ExtraPathInfo: strings.Join(extra, "/")}
			assert.Invariant(!strings.HasPrefix(res.ExtraPathInfo, "/"), "extra path info is relative")
			return res, nil
		}
		extra = append([]string{path.Base(current)}, extra...)
		current = path.Dir(current)
	}
	return Resource{}, fmt.Errorf("%w: %s", ErrNotFound, rel)
}

// Index returns the first index file in dir, trying "index" plus each
// suffix in order.
func (r *Resolver) Index(dir string) (string, error) {
	for _, suffix := range r.Suffixes {
		p := filepath.Join(dir, "index"+suffix)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNoIndex, dir)
}
