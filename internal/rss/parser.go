// Package rss parses feed documents and keeps the local item collection in
// sync with registered sources.
package rss

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
)

// ParsedItem is one entry of a parsed document, before identity assignment.
type ParsedItem struct {
	Title       string  `json:"title"`
	Link        string  `json:"link"`
	Description string  `json:"description"`
	PublishedAt *string `json:"published_at,omitempty"`
}

// ParsedFeed is the result of parsing a feed document.
type ParsedFeed struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Items       []ParsedItem `json:"items"`
}

// Parse turns raw RSS, Atom or JSON Feed text into a ParsedFeed. It fails
// with KindNotAFeed when the text is not a feed or a required field (feed
// title and description, item title, link and description) is empty.
// Descriptions are reduced to plain text.
func Parse(raw string) (*ParsedFeed, error) {
	doc, err := gofeed.NewParser().ParseString(raw)
	if err != nil {
		return nil, &Error{Kind: KindNotAFeed, Err: err}
	}

	out := &ParsedFeed{
		Title:       strings.TrimSpace(doc.Title),
		Description: plainText(doc.Description),
		Items:       make([]ParsedItem, 0, len(doc.Items)),
	}
	if out.Title == "" || out.Description == "" {
		return nil, &Error{Kind: KindNotAFeed, Err: fmt.Errorf("feed is missing title or description")}
	}

	for i, it := range doc.Items {
		desc := it.Description
		if strings.TrimSpace(desc) == "" {
			desc = it.Content
		}
		item := ParsedItem{
			Title:       strings.TrimSpace(it.Title),
			Link:        strings.TrimSpace(it.Link),
			Description: plainText(desc),
		}
		if item.Title == "" || item.Link == "" || item.Description == "" {
			return nil, &Error{Kind: KindNotAFeed, Err: fmt.Errorf("item %d is missing title, link or description", i)}
		}
		if pub := strings.TrimSpace(it.Published); pub != "" {
			item.PublishedAt = &pub
		}
		out.Items = append(out.Items, item)
	}
	return out, nil
}

func plainText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
