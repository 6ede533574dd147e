package rss_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bryan-buckman/feedwatch/internal/fetch"
	"github.com/bryan-buckman/feedwatch/internal/rss"
	"github.com/bryan-buckman/feedwatch/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCycleWithoutFeeds(t *testing.T) {
	h := newHarness(t, rss.Options{})
	res := h.poller().RunCycle(context.Background())
	assert.Equal(t, rss.CycleResult{}, res)
	assert.Empty(t, h.rec.values(state.Items))
}

func TestRunCycleUnchangedFeedAddsNothing(t *testing.T) {
	h := newHarness(t, rss.Options{})
	h.fetcher.serve("https://a.example/rss", rssDoc("A", "D", item(1, "a.example"), item(2, "a.example")))
	h.mustSubmit(t, "https://a.example/rss")
	before := h.store.Items()
	notified := len(h.rec.values(state.Items))

	res := h.poller().RunCycle(context.Background())

	assert.Equal(t, rss.CycleResult{Feeds: 1}, res)
	assert.Equal(t, before, h.store.Items())
	assert.Len(t, h.rec.values(state.Items), notified)
}

func TestRunCycleAppendsOnlyNewItems(t *testing.T) {
	h := newHarness(t, rss.Options{})
	h.fetcher.serve("https://a.example/rss", rssDoc("A", "D", item(1, "a.example"), item(2, "a.example")))
	feed := h.mustSubmit(t, "https://a.example/rss")
	before := h.store.Items()

	h.fetcher.serve("https://a.example/rss", rssDoc("A", "D", item(3, "a.example"), item(1, "a.example"), item(2, "a.example")))
	res := h.poller().RunCycle(context.Background())

	assert.Equal(t, 1, res.NewItems)
	items := h.store.Items()
	require.Len(t, items, 3)
	assert.Equal(t, before, items[:2])
	assert.Equal(t, int64(3), items[2].ID)
	assert.Equal(t, feed.ID, items[2].FeedID)
	assert.Equal(t, "https://a.example/posts/3", items[2].Link)
	assert.True(t, items[2].ProcessedAt.After(before[0].ProcessedAt))
}

func TestRunCycleMergesAllFeedsInOneMutation(t *testing.T) {
	h := newHarness(t, rss.Options{})
	h.fetcher.serve("https://a.example/rss", rssDoc("A", "D", item(1, "a.example")))
	h.fetcher.serve("https://b.example/rss", rssDoc("B", "D", item(1, "b.example")))
	h.mustSubmit(t, "https://a.example/rss")
	h.mustSubmit(t, "https://b.example/rss")
	notified := len(h.rec.values(state.Items))

	h.fetcher.serve("https://a.example/rss", rssDoc("A", "D", item(1, "a.example"), item(2, "a.example"), item(3, "a.example")))
	h.fetcher.serve("https://b.example/rss", rssDoc("B", "D", item(1, "b.example"), item(2, "b.example")))
	res := h.poller().RunCycle(context.Background())

	assert.Equal(t, 3, res.NewItems)
	assert.Len(t, h.store.Items(), 5)
	assert.Len(t, h.rec.values(state.Items), notified+1)
}

func TestRunCycleIsolatesFailures(t *testing.T) {
	h := newHarness(t, rss.Options{})
	for _, host := range []string{"a.example", "b.example", "c.example"} {
		h.fetcher.serve("https://"+host+"/rss", rssDoc(host, "D", item(1, host)))
		h.mustSubmit(t, "https://"+host+"/rss")
	}

	h.fetcher.serve("https://a.example/rss", rssDoc("a", "D", item(1, "a.example"), item(2, "a.example")))
	h.fetcher.fail("https://b.example/rss", &fetch.TransportError{Address: "https://b.example/rss", Err: errors.New("reset")})
	h.fetcher.serve("https://c.example/rss", "garbage")
	res := h.poller().RunCycle(context.Background())

	assert.Equal(t, rss.CycleResult{Feeds: 3, Failed: 2, NewItems: 1}, res)
	assert.Len(t, h.store.Items(), 4)
	assert.Len(t, h.store.Feeds(), 3)
}

func TestRunCycleSlowFeedDoesNotBlockOthers(t *testing.T) {
	h := newHarness(t, rss.Options{RequestTimeout: 50 * time.Millisecond})
	h.fetcher.serve("https://fast.example/rss", rssDoc("F", "D", item(1, "fast.example")))
	h.fetcher.serve("https://slow.example/rss", rssDoc("S", "D", item(1, "slow.example")))
	h.mustSubmit(t, "https://fast.example/rss")
	h.mustSubmit(t, "https://slow.example/rss")

	h.fetcher.serve("https://fast.example/rss", rssDoc("F", "D", item(1, "fast.example"), item(2, "fast.example")))
	h.fetcher.delay("https://slow.example/rss", 5*time.Second)

	start := time.Now()
	res := h.poller().RunCycle(context.Background())

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.NewItems)
}

func TestRunCycleDedupesNewLinkSharedByFeeds(t *testing.T) {
	h := newHarness(t, rss.Options{})
	h.fetcher.serve("https://a.example/rss", rssDoc("A", "D"))
	h.fetcher.serve("https://b.example/rss", rssDoc("B", "D"))
	h.mustSubmit(t, "https://a.example/rss")
	h.mustSubmit(t, "https://b.example/rss")

	shared := testItem{title: "Shared", link: "https://news.example/x", description: "X"}
	h.fetcher.serve("https://a.example/rss", rssDoc("A", "D", shared))
	h.fetcher.serve("https://b.example/rss", rssDoc("B", "D", shared))
	res := h.poller().RunCycle(context.Background())

	assert.Equal(t, 1, res.NewItems)
	items := h.store.Items()
	require.Len(t, items, 1)
	assert.Equal(t, int64(1), items[0].FeedID)
}

func TestPollerStartStop(t *testing.T) {
	h := newHarness(t, rss.Options{Interval: 10 * time.Millisecond})
	h.fetcher.serve("https://a.example/rss", rssDoc("A", "D", item(1, "a.example")))
	h.mustSubmit(t, "https://a.example/rss")

	p := h.poller()
	p.Start(context.Background())
	h.fetcher.serve("https://a.example/rss", rssDoc("A", "D", item(1, "a.example"), item(2, "a.example")))

	require.Eventually(t, func() bool {
		return len(h.store.Items()) == 2
	}, 2*time.Second, 5*time.Millisecond)

	p.Stop()
	p.Stop()

	calls := h.fetcher.callCount("https://a.example/rss")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, h.fetcher.callCount("https://a.example/rss"))
}

func TestPollerStopCancelsInFlightCycle(t *testing.T) {
	h := newHarness(t, rss.Options{Interval: time.Millisecond, RequestTimeout: time.Minute})
	h.fetcher.serve("https://a.example/rss", rssDoc("A", "D"))
	h.mustSubmit(t, "https://a.example/rss")
	h.fetcher.delay("https://a.example/rss", time.Minute)

	p := h.poller()
	p.Start(context.Background())
	require.Eventually(t, func() bool {
		return h.fetcher.callCount("https://a.example/rss") >= 2
	}, 2*time.Second, time.Millisecond)

	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestPollerStopsWithContext(t *testing.T) {
	h := newHarness(t, rss.Options{Interval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	p := h.poller()
	p.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
