package rss_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bryan-buckman/feedwatch/internal/fetch"
)

type testItem struct {
	title, link, description, pubDate string
}

func rssDoc(title, description string, items ...testItem) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><rss version="2.0"><channel>`)
	fmt.Fprintf(&b, "<title>%s</title><description>%s</description><link>https://example.com</link>", title, description)
	for _, it := range items {
		b.WriteString("<item>")
		fmt.Fprintf(&b, "<title>%s</title><link>%s</link><description>%s</description>", it.title, it.link, it.description)
		if it.pubDate != "" {
			fmt.Fprintf(&b, "<pubDate>%s</pubDate>", it.pubDate)
		}
		b.WriteString("</item>")
	}
	b.WriteString("</channel></rss>")
	return b.String()
}

func item(n int, host string) testItem {
	return testItem{
		title:       fmt.Sprintf("Post %d", n),
		link:        fmt.Sprintf("https://%s/posts/%d", host, n),
		description: fmt.Sprintf("Body %d", n),
	}
}

// fakeFetcher serves canned responses keyed by address.
type fakeFetcher struct {
	mu        sync.Mutex
	docs      map[string]string
	errs      map[string]error
	delays    map[string]time.Duration
	calls     map[string]int
	onRequest func(address string)
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		docs:   make(map[string]string),
		errs:   make(map[string]error),
		delays: make(map[string]time.Duration),
		calls:  make(map[string]int),
	}
}

func (f *fakeFetcher) serve(address, contents string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[address] = contents
	delete(f.errs, address)
}

func (f *fakeFetcher) fail(address string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[address] = err
}

func (f *fakeFetcher) delay(address string, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delays[address] = d
}

func (f *fakeFetcher) callCount(address string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[address]
}

func (f *fakeFetcher) Fetch(ctx context.Context, address string) (fetch.Document, error) {
	f.mu.Lock()
	f.calls[address]++
	doc, ok := f.docs[address]
	err := f.errs[address]
	d := f.delays[address]
	hook := f.onRequest
	f.mu.Unlock()

	if hook != nil {
		hook(address)
	}
	if d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return fetch.Document{}, &fetch.TransportError{Address: address, Err: ctx.Err()}
		}
	}
	if err != nil {
		return fetch.Document{}, err
	}
	if !ok {
		return fetch.Document{}, &fetch.StatusError{Address: address, StatusCode: 404}
	}
	return fetch.Document{Contents: doc}, nil
}

// fixedClock returns monotonically advancing times starting at base.
type fixedClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func newClock() *fixedClock {
	return &fixedClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), step: time.Second}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}
