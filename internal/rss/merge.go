package rss

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/bryan-buckman/feedwatch/internal/fetch"
	"github.com/bryan-buckman/feedwatch/internal/ident"
	"github.com/bryan-buckman/feedwatch/internal/model"
	"github.com/samber/lo"
)

// Defaults for Options.
const (
	DefaultInterval       = 5 * time.Second
	DefaultRequestTimeout = 10 * time.Second
	DefaultConcurrency    = 10
	DefaultMaxPerHost     = 2
)

// Options tunes the submission pipeline and the refresh loop.
type Options struct {
	// Interval is the delay between refresh cycles.
	Interval time.Duration
	// RequestTimeout bounds each outbound fetch.
	RequestTimeout time.Duration
	// Concurrency is the number of feeds fetched in parallel per cycle.
	Concurrency int
	// MaxPerHost limits parallel requests to a single host.
	MaxPerHost int
	// Now stamps processedAt. Defaults to time.Now.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.Concurrency < 1 {
		o.Concurrency = DefaultConcurrency
	}
	if o.MaxPerHost < 1 {
		o.MaxPerHost = DefaultMaxPerHost
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// IDs holds the per-kind identifier generators shared by the submission
// pipeline and the refresh loop.
type IDs struct {
	Feeds *ident.Generator
	Items *ident.Generator
}

// NewIDs returns generators starting at 1.
func NewIDs() IDs {
	return IDs{Feeds: ident.New(1), Items: ident.New(1)}
}

type candidate struct {
	feedID int64
	item   ParsedItem
}

var errNothingNew = errors.New("no new items")

// appendNew stamps every candidate whose link is not yet in existing and
// returns the merged collection along with the appended items. Links are
// unique across the whole collection.
func appendNew(existing []model.Item, candidates []candidate, ids *ident.Generator, now time.Time) ([]model.Item, []model.Item) {
	known := lo.SliceToMap(existing, func(it model.Item) (string, struct{}) {
		return it.Link, struct{}{}
	})

	var added []model.Item
	for _, c := range candidates {
		if _, ok := known[c.item.Link]; ok {
			continue
		}
		known[c.item.Link] = struct{}{}
		added = append(added, model.Item{
			ID:          ids.Next(),
			FeedID:      c.feedID,
			Title:       c.item.Title,
			Link:        c.item.Link,
			Description: c.item.Description,
			PublishedAt: c.item.PublishedAt,
			ProcessedAt: now,
		})
	}
	return append(existing, added...), added
}

// classifyFetch maps a collaborator error onto the engine's taxonomy. A
// response with a bad status means the address does not serve a feed.
func classifyFetch(err error) Kind {
	var se *fetch.StatusError
	var te *fetch.TransportError
	switch {
	case errors.As(err, &se):
		return KindNotAFeed
	case errors.As(err, &te),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return KindTransport
	default:
		return KindUnknown
	}
}

func hostOf(address string) string {
	u, err := url.Parse(address)
	if err != nil {
		return address
	}
	return u.Host
}
