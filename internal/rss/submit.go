package rss

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bryan-buckman/feedwatch/internal/fetch"
	"github.com/bryan-buckman/feedwatch/internal/model"
	"github.com/bryan-buckman/feedwatch/internal/state"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

// Submitter runs the pipeline that registers a new feed: validate, fetch,
// parse, assign ids, merge, report. Concurrent submissions are serialized.
type Submitter struct {
	store   *state.Store
	fetcher fetch.Fetcher
	ids     IDs
	opts    Options
	mu      sync.Mutex
}

// NewSubmitter creates a submission pipeline writing into store.
func NewSubmitter(store *state.Store, fetcher fetch.Fetcher, ids IDs, opts Options) *Submitter {
	return &Submitter{
		store:   store,
		fetcher: fetcher,
		ids:     ids,
		opts:    opts.withDefaults(),
	}
}

// Submit registers address as a new feed. The outcome is always reflected in
// the form and fetch state; the returned error is an *Error for callers that
// want it. On failure the feed and item collections are left unchanged.
func (s *Submitter) Submit(ctx context.Context, address string) (model.Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	address = strings.TrimSpace(address)
	s.reset()
	s.set(state.FormStatus, model.FormValidating)

	if err := validateAddress(address, s.store.Feeds()); err != nil {
		return model.Feed{}, s.fail(err)
	}
	s.set(state.FormStatus, model.FormValid)

	s.set(state.FetchStatus, model.FetchFetching)
	parsed, err := retrieve(ctx, s.fetcher, address, s.opts.RequestTimeout)
	if err != nil {
		return model.Feed{}, s.fail(err)
	}
	s.set(state.FetchStatus, model.FetchSucceeded)

	feed, added, err := s.merge(address, parsed)
	if err != nil {
		return model.Feed{}, s.fail(err)
	}

	s.set(state.FormMessage, model.FormMessage{Key: model.MessageSuccess, Kind: model.MessageKindSuccess})
	s.set(state.FormStatus, model.FormUpdated)
	submissionsTotal.WithLabelValues("success").Inc()

	log.WithFields(log.Fields{
		"feed_id": feed.ID,
		"link":    feed.Link,
		"items":   added,
	}).Info("Feed added")
	return feed, nil
}

// Check fetches and parses address without touching any store. It applies
// the same rules as a submission, minus validation against known feeds.
func Check(ctx context.Context, fetcher fetch.Fetcher, address string, timeout time.Duration) (*ParsedFeed, error) {
	if err := validateAddress(address, nil); err != nil {
		return nil, err
	}
	return retrieve(ctx, fetcher, address, timeout)
}

func retrieve(ctx context.Context, fetcher fetch.Fetcher, address string, timeout time.Duration) (*ParsedFeed, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	doc, err := fetcher.Fetch(ctx, address)
	if err != nil {
		return nil, &Error{Kind: classifyFetch(err), Address: address, Err: err}
	}
	if strings.TrimSpace(doc.Contents) == "" {
		return nil, &Error{Kind: KindEmptyFeed, Address: address, Err: errEmptyDocument}
	}
	parsed, err := Parse(doc.Contents)
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			e.Address = address
		}
		return nil, err
	}
	return parsed, nil
}

// merge appends the feed and then its items. Items whose link is already
// known from any feed are not duplicated.
func (s *Submitter) merge(address string, parsed *ParsedFeed) (model.Feed, int, error) {
	feed := model.Feed{
		ID:          s.ids.Feeds.Next(),
		Link:        address,
		Title:       parsed.Title,
		Description: parsed.Description,
	}

	err := s.store.Update(state.Feeds, func(old any) (any, error) {
		feeds := old.([]model.Feed)
		if err := checkUnique(address, feeds); err != nil {
			return nil, err
		}
		return append(feeds, feed), nil
	})
	if err != nil {
		return model.Feed{}, 0, err
	}

	candidates := lo.Map(parsed.Items, func(it ParsedItem, _ int) candidate {
		return candidate{feedID: feed.ID, item: it}
	})
	var added []model.Item
	err = s.store.Update(state.Items, func(old any) (any, error) {
		var merged []model.Item
		merged, added = appendNew(old.([]model.Item), candidates, s.ids.Items, s.opts.Now())
		return merged, nil
	})
	if err != nil {
		return model.Feed{}, 0, err
	}
	return feed, len(added), nil
}

// fail records err in the form and fetch state and returns it as an *Error.
func (s *Submitter) fail(err error) error {
	var e *Error
	if !errors.As(err, &e) {
		e = &Error{Kind: KindUnknown, Err: err}
	}
	submissionsTotal.WithLabelValues(e.Kind.String()).Inc()

	switch e.Kind {
	case KindMalformedURL, KindDuplicateLink:
		s.set(state.FormMessage, model.FormMessage{Key: e.Kind.MessageKey(), Kind: model.MessageKindDanger})
		s.set(state.FormStatus, model.FormInvalid)
		log.WithField("address", e.Address).Debugf("Submission rejected: %v", e)
	case KindTransport, KindEmptyFeed, KindNotAFeed:
		s.set(state.FetchMessage, model.FetchMessage{Key: e.Kind.MessageKey()})
		s.set(state.FetchStatus, model.FetchFailed)
		s.set(state.FormStatus, model.FormIdle)
		log.WithField("address", e.Address).Infof("Submission failed: %v", e)
	case KindUnknown:
		s.set(state.FetchMessage, model.FetchMessage{Key: e.Kind.MessageKey()})
		s.set(state.FetchStatus, model.FetchFailed)
		s.set(state.FormStatus, model.FormIdle)
		log.WithField("address", e.Address).Errorf("Submission failed unexpectedly: %v", e)
	}
	return e
}

// reset clears the outcome of the previous submission.
func (s *Submitter) reset() {
	s.set(state.FormMessage, model.FormMessage{})
	s.set(state.FetchMessage, model.FetchMessage{})
	s.set(state.FetchStatus, model.FetchIdle)
	s.set(state.FormStatus, model.FormIdle)
}

func (s *Submitter) set(p state.Path, value any) {
	if err := s.store.Set(p, value); err != nil {
		log.WithField("path", p).Errorf("State update failed: %v", err)
	}
}

func validateAddress(address string, feeds []model.Feed) error {
	u, err := url.ParseRequestURI(address)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		if err == nil {
			err = errNotAURL
		}
		return &Error{Kind: KindMalformedURL, Address: address, Err: err}
	}
	return checkUnique(address, feeds)
}

func checkUnique(address string, feeds []model.Feed) error {
	if lo.ContainsBy(feeds, func(f model.Feed) bool { return f.Link == address }) {
		return &Error{Kind: KindDuplicateLink, Address: address, Err: fmt.Errorf("%w: %s", errKnownFeed, address)}
	}
	return nil
}

// Outcome is the result of one address in a bulk submission.
type Outcome struct {
	Address    string           `json:"url"`
	Feed       *model.Feed      `json:"feed,omitempty"`
	Kind       string           `json:"kind,omitempty"`
	MessageKey model.MessageKey `json:"message_key"`
}

// SubmitAll submits each address in order, stopping early only if ctx is
// done. Every address gets an Outcome.
func (s *Submitter) SubmitAll(ctx context.Context, addresses []string) []Outcome {
	out := make([]Outcome, 0, len(addresses))
	for _, address := range addresses {
		if ctx.Err() != nil {
			out = append(out, Outcome{Address: address, Kind: KindTransport.String(), MessageKey: KindTransport.MessageKey()})
			continue
		}
		feed, err := s.Submit(ctx, address)
		if err != nil {
			kind := KindOf(err)
			out = append(out, Outcome{Address: address, Kind: kind.String(), MessageKey: kind.MessageKey()})
			continue
		}
		out = append(out, Outcome{Address: address, Feed: &feed, MessageKey: model.MessageSuccess})
	}
	return out
}
