// Package opml reads and writes subscription lists in OPML 2.0.
package opml

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bryan-buckman/feedwatch/internal/model"
	"github.com/samber/lo"
)

// ErrNoFeeds is returned by Parse when the document holds no feed outlines.
var ErrNoFeeds = errors.New("opml document contains no feeds")

type document struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    head     `xml:"head"`
	Body    body     `xml:"body"`
}

type head struct {
	Title       string `xml:"title,omitempty"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

type body struct {
	Outlines []outline `xml:"outline"`
}

type outline struct {
	Text        string    `xml:"text,attr"`
	Title       string    `xml:"title,attr,omitempty"`
	Type        string    `xml:"type,attr,omitempty"`
	Description string    `xml:"description,attr,omitempty"`
	XMLURL      string    `xml:"xmlUrl,attr,omitempty"`
	Outlines    []outline `xml:"outline,omitempty"`
}

// Entry is one subscription found in an OPML document.
type Entry struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Parse returns every feed outline in r, depth first. Folders are flattened.
// Entries with a repeated URL are dropped.
func Parse(r io.Reader) ([]Entry, error) {
	var doc document
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode opml: %w", err)
	}

	var entries []Entry
	var walk func(outlines []outline)
	walk = func(outlines []outline) {
		for _, o := range outlines {
			if u := strings.TrimSpace(o.XMLURL); u != "" {
				title := o.Title
				if title == "" {
					title = o.Text
				}
				entries = append(entries, Entry{Title: strings.TrimSpace(title), URL: u})
			}
			walk(o.Outlines)
		}
	}
	walk(doc.Body.Outlines)

	entries = lo.UniqBy(entries, func(e Entry) string { return e.URL })
	if len(entries) == 0 {
		return nil, ErrNoFeeds
	}
	return entries, nil
}

// Export renders feeds as a flat OPML document in collection order.
func Export(title string, feeds []model.Feed, now time.Time) ([]byte, error) {
	doc := document{
		Version: "2.0",
		Head: head{
			Title:       title,
			DateCreated: now.UTC().Format(time.RFC1123Z),
		},
		Body: body{
			Outlines: lo.Map(feeds, func(f model.Feed, _ int) outline {
				return outline{
					Text:        f.Title,
					Title:       f.Title,
					Type:        "rss",
					Description: f.Description,
					XMLURL:      f.Link,
				}
			}),
		},
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode opml: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}
