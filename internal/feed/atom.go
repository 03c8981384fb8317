// Package feed turns gemtext index pages into Atom feeds.
//
// The first level one heading becomes the feed title and a level two
// heading directly after it the subtitle. Link lines of the form
//
//	=> path YYYY-MM-DD Entry title
//
// become entries dated at noon UTC on the given day.
package feed

import (
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// FileName is the request name that triggers feed synthesis.
const FileName = "atom.xml"

// ContentType is the meta sent with a synthesized feed.
const ContentType = "text/xml;charset=utf-8"

const atomNS = "http://www.w3.org/2005/Atom"

var (
	h1Pattern    = regexp.MustCompile(`^#([^#]+)$`)
	h2Pattern    = regexp.MustCompile(`^##([^#]+)$`)
	entryPattern = regexp.MustCompile(`^=>\s*(\S+)\s+(\d{4}-\d{2}-\d{2})(.+)$`)
	titleJunk    = regexp.MustCompile(`^[\s[:punct:]]*`)
)

type atomLink struct {
	Rel  string `xml:"rel,attr,omitempty"`
	Href string `xml:"href,attr"`
}

type atomEntry struct {
	Title   string   `xml:"title"`
	Link    atomLink `xml:"link"`
	ID      string   `xml:"id"`
	Updated string   `xml:"updated"`
}

type atomFeed struct {
	XMLName  xml.Name    `xml:"feed"`
	NS       string      `xml:"xmlns,attr"`
	Title    string      `xml:"title"`
	Subtitle string      `xml:"subtitle,omitempty"`
	Link     atomLink    `xml:"link"`
	Updated  string      `xml:"updated"`
	ID       string      `xml:"id"`
	Entries  []atomEntry `xml:"entry"`
}

// Atomizer builds feeds. Now supplies the updated time of feeds without
// dated entries.
type Atomizer struct {
	Now    func() time.Time
	Logger *slog.Logger
}

// NewAtomizer returns an Atomizer using the wall clock.
func NewAtomizer(logger *slog.Logger) *Atomizer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Atomizer{Now: time.Now, Logger: logger}
}

// Atomize converts page, the gemtext index found at feedDirURI, into an
// Atom document.
func (a *Atomizer) Atomize(feedDirURI, page string) string {
	if !strings.HasSuffix(feedDirURI, "/") {
		feedDirURI += "/"
	}
	base, baseErr := url.Parse(feedDirURI)

	var (
		title, subtitle   string
		haveTitle         bool
		subtitleAvailable = true
		updated           time.Time
		entries           []atomEntry
	)

	for _, line := range strings.Split(page, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		if !haveTitle {
			if m := h1Pattern.FindStringSubmatch(line); m != nil {
				title, haveTitle = strings.TrimSpace(m[1]), true
				continue
			}
		}

		if haveTitle && subtitleAvailable {
			if !strings.HasPrefix(line, "#") {
				subtitleAvailable = false
			} else if m := h2Pattern.FindStringSubmatch(line); m != nil {
				subtitle = strings.TrimSpace(m[1])
				subtitleAvailable = false
				continue
			}
		}

		if !strings.HasPrefix(line, "=>") {
			continue
		}
		m := entryPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		link := feedDirURI + m[1]
		if baseErr == nil {
			if ref, err := url.Parse(m[1]); err == nil {
				link = base.ResolveReference(ref).String()
			}
		}
		stamp := m[2] + "T12:00:00Z"
		entries = append(entries, atomEntry{
			Title:   cleanTitle(m[3]),
			Link:    atomLink{Rel: "alternate", Href: link},
			ID:      link,
			Updated: stamp,
		})

		t, err := time.Parse(time.RFC3339, stamp)
		if err != nil {
			a.logger().Warn("failed to parse feed entry date", "date", m[2], "entry", link)
			continue
		}
		if t.After(updated) {
			updated = t
		}
	}

	if !haveTitle {
		title = fmt.Sprintf("Feed: %s", feedDirURI)
	}
	if updated.IsZero() {
		updated = a.now()
	}

	doc := atomFeed{
		NS:       atomNS,
		Title:    title,
		Subtitle: subtitle,
		Link:     atomLink{Href: feedDirURI},
		Updated:  updated.UTC().Format(time.RFC3339),
		ID:       feedDirURI,
		Entries:  entries,
	}
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		// Only plain strings are marshaled, so this cannot fail.
		panic(fmt.Sprintf("feed: marshal atom document: %v", err))
	}
	return xml.Header + string(out) + "\n"
}

func (a *Atomizer) now() time.Time {
	if a.Now == nil {
		return time.Now()
	}
	return a.Now()
}

func (a *Atomizer) logger() *slog.Logger {
	if a.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return a.Logger
}

func cleanTitle(s string) string {
	return titleJunk.ReplaceAllString(strings.TrimSpace(s), "")
}
