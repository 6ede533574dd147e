// Package state holds the application state tree and notifies subscribers
// of every mutation.
package state

import (
	"errors"
	"fmt"
	"sync"

	"github.com/bryan-buckman/feedwatch/internal/model"
)

// Path names one mutable field of the state tree. The set is closed.
type Path string

const (
	FormStatus   Path = "form.status"
	FormMessage  Path = "form.message"
	FetchStatus  Path = "fetch.status"
	FetchMessage Path = "fetch.message"
	Feeds        Path = "data.feeds"
	Items        Path = "data.items"
	ModalItem    Path = "ui.modal.openItemId"
	ViewedItems  Path = "ui.viewedItemIds"
)

// Paths lists every path the store accepts.
var Paths = []Path{
	FormStatus, FormMessage,
	FetchStatus, FetchMessage,
	Feeds, Items,
	ModalItem, ViewedItems,
}

var (
	ErrUnknownPath  = errors.New("unknown state path")
	ErrTypeMismatch = errors.New("value type does not match path")
)

// Mutator reads and writes the state tree. Subscribers receive one bound to
// the in-progress mutation and must use it, not the Store, to re-enter.
type Mutator interface {
	Get(p Path) any
	Set(p Path, value any) error
	Update(p Path, fn func(old any) (any, error)) error
}

// Subscriber is notified synchronously after each mutation.
type Subscriber interface {
	OnChange(m Mutator, p Path, value any)
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(m Mutator, p Path, value any)

func (f SubscriberFunc) OnChange(m Mutator, p Path, value any) { f(m, p, value) }

// Store is a change-tracked container for model.State. Every Set or Update
// yields exactly one notification per subscriber, delivered before the call
// returns. Mutations from different goroutines never interleave with each
// other's notifications.
type Store struct {
	mu          sync.Mutex
	state       model.State
	subscribers []Subscriber
}

// New creates a store holding the initial state.
func New(subscribers ...Subscriber) *Store {
	return &Store{
		state:       model.NewState(),
		subscribers: subscribers,
	}
}

// Subscribe registers another subscriber. Must not be called from a callback.
func (s *Store) Subscribe(sub Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, sub)
}

// Get returns a copy of the value at p, or nil for an unknown path.
func (s *Store) Get(p Path) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(p)
}

// Set replaces the value at p and notifies subscribers.
func (s *Store) Set(p Path, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(p, value)
}

// Update applies fn to the current value at p and stores the result as a
// single mutation. If fn fails nothing is written and nobody is notified.
func (s *Store) Update(p Path, fn func(old any) (any, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.update(p, fn)
}

// Snapshot returns a deep copy of the whole tree.
func (s *Store) Snapshot() model.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Feeds returns a copy of the feed collection.
func (s *Store) Feeds() []model.Feed {
	return s.Get(Feeds).([]model.Feed)
}

// Items returns a copy of the item collection.
func (s *Store) Items() []model.Item {
	return s.Get(Items).([]model.Item)
}

func (s *Store) update(p Path, fn func(old any) (any, error)) error {
	if !p.valid() {
		return fmt.Errorf("%w: %q", ErrUnknownPath, p)
	}
	next, err := fn(s.read(p))
	if err != nil {
		return err
	}
	return s.write(p, next)
}

func (s *Store) write(p Path, value any) error {
	if err := s.apply(p, value); err != nil {
		return err
	}
	m := bound{s}
	for _, sub := range s.subscribers {
		sub.OnChange(m, p, s.read(p))
	}
	return nil
}

func (s *Store) apply(p Path, value any) error {
	mismatch := func() error {
		return fmt.Errorf("%w: %q got %T", ErrTypeMismatch, p, value)
	}
	switch p {
	case FormStatus:
		v, ok := value.(model.FormStatus)
		if !ok {
			return mismatch()
		}
		s.state.Form.Status = v
	case FormMessage:
		v, ok := value.(model.FormMessage)
		if !ok {
			return mismatch()
		}
		s.state.Form.Message = v
	case FetchStatus:
		v, ok := value.(model.FetchStatus)
		if !ok {
			return mismatch()
		}
		s.state.Fetch.Status = v
	case FetchMessage:
		v, ok := value.(model.FetchMessage)
		if !ok {
			return mismatch()
		}
		s.state.Fetch.Message = v
	case Feeds:
		v, ok := value.([]model.Feed)
		if !ok {
			return mismatch()
		}
		s.state.Feeds = append(make([]model.Feed, 0, len(v)), v...)
	case Items:
		v, ok := value.([]model.Item)
		if !ok {
			return mismatch()
		}
		s.state.Items = append(make([]model.Item, 0, len(v)), v...)
	case ModalItem:
		switch v := value.(type) {
		case nil:
			s.state.UI.Modal.OpenItemID = nil
		case *int64:
			if v == nil {
				s.state.UI.Modal.OpenItemID = nil
			} else {
				id := *v
				s.state.UI.Modal.OpenItemID = &id
			}
		default:
			return mismatch()
		}
	case ViewedItems:
		v, ok := value.(model.IDSet)
		if !ok {
			return mismatch()
		}
		s.state.UI.ViewedItemIDs = v.Clone()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownPath, p)
	}
	return nil
}

func (s *Store) read(p Path) any {
	switch p {
	case FormStatus:
		return s.state.Form.Status
	case FormMessage:
		return s.state.Form.Message
	case FetchStatus:
		return s.state.Fetch.Status
	case FetchMessage:
		return s.state.Fetch.Message
	case Feeds:
		return append(make([]model.Feed, 0, len(s.state.Feeds)), s.state.Feeds...)
	case Items:
		return append(make([]model.Item, 0, len(s.state.Items)), s.state.Items...)
	case ModalItem:
		if s.state.UI.Modal.OpenItemID == nil {
			return (*int64)(nil)
		}
		id := *s.state.UI.Modal.OpenItemID
		return &id
	case ViewedItems:
		return s.state.UI.ViewedItemIDs.Clone()
	}
	return nil
}

func (p Path) valid() bool {
	for _, known := range Paths {
		if p == known {
			return true
		}
	}
	return false
}

// bound is the Mutator handed to subscribers. The store lock is already held.
type bound struct {
	s *Store
}

func (b bound) Get(p Path) any { return b.s.read(p) }

func (b bound) Set(p Path, value any) error { return b.s.write(p, value) }

func (b bound) Update(p Path, fn func(old any) (any, error)) error { return b.s.update(p, fn) }
