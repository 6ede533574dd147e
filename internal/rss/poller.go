package rss

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bryan-buckman/feedwatch/internal/fetch"
	"github.com/bryan-buckman/feedwatch/internal/model"
	"github.com/bryan-buckman/feedwatch/internal/state"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

// hostLimiter caps parallel requests to any single host.
type hostLimiter struct {
	mu         sync.Mutex
	max        int
	semaphores map[string]chan struct{}
}

func newHostLimiter(max int) *hostLimiter {
	return &hostLimiter{
		max:        max,
		semaphores: make(map[string]chan struct{}),
	}
}

// acquire gets a slot for host, blocking until one frees up or ctx is done.
func (hl *hostLimiter) acquire(ctx context.Context, host string) error {
	hl.mu.Lock()
	sem, ok := hl.semaphores[host]
	if !ok {
		sem = make(chan struct{}, hl.max)
		hl.semaphores[host] = sem
	}
	hl.mu.Unlock()

	select {
	case sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (hl *hostLimiter) release(host string) {
	hl.mu.Lock()
	sem := hl.semaphores[host]
	hl.mu.Unlock()
	<-sem
}

// CycleResult summarizes one refresh cycle.
type CycleResult struct {
	Feeds    int `json:"feeds"`
	Failed   int `json:"failed"`
	NewItems int `json:"new_items"`
}

type feedResult struct {
	feed   model.Feed
	parsed *ParsedFeed
	err    error
}

// Poller re-fetches every known feed on a fixed cadence and appends items
// whose links have not been seen before. A failing feed never affects the
// others in the same cycle.
type Poller struct {
	store    *state.Store
	fetcher  fetch.Fetcher
	ids      IDs
	opts     Options
	limiter  *hostLimiter
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPoller creates a refresh loop over the feeds in store.
func NewPoller(store *state.Store, fetcher fetch.Fetcher, ids IDs, opts Options) *Poller {
	opts = opts.withDefaults()
	return &Poller{
		store:    store,
		fetcher:  fetcher,
		ids:      ids,
		opts:     opts,
		limiter:  newHostLimiter(opts.MaxPerHost),
		stopChan: make(chan struct{}),
	}
}

// Start begins the loop. The first cycle runs one interval after Start, and
// each following cycle one interval after the previous one finished, so
// cycles never overlap.
func (p *Poller) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			select {
			case <-p.stopChan:
				cancel()
			case <-ctx.Done():
			}
		}()

		timer := time.NewTimer(p.opts.Interval)
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}

			res := p.RunCycle(ctx)
			log.WithFields(log.Fields{
				"feeds":     res.Feeds,
				"failed":    res.Failed,
				"new_items": res.NewItems,
			}).Debug("Refresh cycle finished")

			timer.Reset(p.opts.Interval)
		}
	}()
}

// Stop ends the loop, cancelling any in-flight cycle, and waits for it.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stopChan) })
	p.wg.Wait()
}

// RunCycle performs one refresh over a snapshot of the feed collection.
func (p *Poller) RunCycle(ctx context.Context) CycleResult {
	start := time.Now()
	defer func() {
		refreshCyclesTotal.Inc()
		refreshCycleDuration.Observe(time.Since(start).Seconds())
	}()

	feeds := p.store.Feeds()
	res := CycleResult{Feeds: len(feeds)}
	if len(feeds) == 0 {
		return res
	}

	known := lo.SliceToMap(p.store.Items(), func(it model.Item) (string, struct{}) {
		return it.Link, struct{}{}
	})

	var candidates []candidate
	for _, r := range p.fetchParallel(ctx, feeds) {
		if r.err != nil {
			res.Failed++
			kind := KindOf(r.err)
			refreshFeedErrors.WithLabelValues(kind.String()).Inc()
			log.WithFields(log.Fields{
				"feed_id": r.feed.ID,
				"link":    r.feed.Link,
				"kind":    kind,
			}).Warnf("Refresh failed: %v", r.err)
			continue
		}
		fresh := lo.Filter(r.parsed.Items, func(it ParsedItem, _ int) bool {
			_, seen := known[it.Link]
			return !seen
		})
		for _, it := range fresh {
			candidates = append(candidates, candidate{feedID: r.feed.ID, item: it})
		}
	}
	if len(candidates) == 0 {
		return res
	}

	now := p.opts.Now()
	err := p.store.Update(state.Items, func(old any) (any, error) {
		merged, added := appendNew(old.([]model.Item), candidates, p.ids.Items, now)
		if len(added) == 0 {
			return nil, errNothingNew
		}
		res.NewItems = len(added)
		return merged, nil
	})
	if err != nil && !errors.Is(err, errNothingNew) {
		log.Errorf("Refresh merge failed: %v", err)
	}
	refreshItemsAdded.Add(float64(res.NewItems))
	return res
}

// fetchParallel runs fetchFeed over a worker pool. Results keep feed order.
func (p *Poller) fetchParallel(ctx context.Context, feeds []model.Feed) []feedResult {
	var wg sync.WaitGroup
	results := make([]feedResult, len(feeds))
	jobs := make(chan int, len(feeds))
	for i := range feeds {
		jobs <- i
	}
	close(jobs)

	workers := min(p.opts.Concurrency, len(feeds))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				parsed, err := p.fetchFeed(ctx, feeds[i])
				results[i] = feedResult{feed: feeds[i], parsed: parsed, err: err}
			}
		}()
	}
	wg.Wait()
	return results
}

func (p *Poller) fetchFeed(ctx context.Context, feed model.Feed) (*ParsedFeed, error) {
	host := hostOf(feed.Link)
	if err := p.limiter.acquire(ctx, host); err != nil {
		return nil, &Error{Kind: KindTransport, Address: feed.Link, Err: err}
	}
	defer p.limiter.release(host)

	return retrieve(ctx, p.fetcher, feed.Link, p.opts.RequestTimeout)
}
