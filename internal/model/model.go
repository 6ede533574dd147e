// Package model defines shared data structures.
package model

import (
	"encoding/json"
	"sort"
	"time"
)

// Feed represents a registered RSS/Atom source. Link is unique across feeds.
type Feed struct {
	ID          int64  `json:"id"`
	Link        string `json:"link"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Item represents a single entry from a feed. Link is the dedup key across
// all feeds.
type Item struct {
	ID          int64     `json:"id"`
	FeedID      int64     `json:"feed_id"`
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	Description string    `json:"description"`
	PublishedAt *string   `json:"published_at,omitempty"` // raw value from the document
	ProcessedAt time.Time `json:"processed_at"`
}

// FormStatus is the submission form lifecycle.
type FormStatus string

const (
	FormIdle       FormStatus = "idle"
	FormValidating FormStatus = "validating"
	FormInvalid    FormStatus = "invalid"
	FormValid      FormStatus = "valid"
	FormUpdated    FormStatus = "updated"
)

// FetchStatus reflects the network step of a submission.
type FetchStatus string

const (
	FetchIdle      FetchStatus = "idle"
	FetchFetching  FetchStatus = "fetching"
	FetchSucceeded FetchStatus = "succeeded"
	FetchFailed    FetchStatus = "failed"
)

// MessageKey is a locale-independent identifier the presentation layer maps
// to text.
type MessageKey string

const (
	MessageNone       MessageKey = ""
	MessageInvalidURL MessageKey = "errors.invalidUrl"
	MessageNonUnique  MessageKey = "errors.nonUnique"
	MessageNoRSS      MessageKey = "errors.noRss"
	MessageNetwork    MessageKey = "errors.network"
	MessageUnknown    MessageKey = "errors.unknown"
	MessageSuccess    MessageKey = "success"
)

// MessageKind tells the presentation layer how to style a form message.
type MessageKind string

const (
	MessageKindNone    MessageKind = ""
	MessageKindSuccess MessageKind = "success"
	MessageKindDanger  MessageKind = "danger"
)

// FormMessage is the message attached to the form.
type FormMessage struct {
	Key  MessageKey  `json:"key"`
	Kind MessageKind `json:"kind"`
}

// FetchMessage is the message attached to the network step.
type FetchMessage struct {
	Key MessageKey `json:"key"`
}

// FormState is the submission form substate.
type FormState struct {
	Status  FormStatus  `json:"status"`
	Message FormMessage `json:"message"`
}

// FetchState is the network step substate of the current submission.
type FetchState struct {
	Status  FetchStatus  `json:"status"`
	Message FetchMessage `json:"message"`
}

// Modal holds the item currently shown in the detail view, if any.
type Modal struct {
	OpenItemID *int64 `json:"open_item_id"`
}

// IDSet is a set of item ids.
type IDSet map[int64]struct{}

// Clone returns an independent copy of the set.
func (s IDSet) Clone() IDSet {
	out := make(IDSet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

// Has reports whether id is in the set.
func (s IDSet) Has(id int64) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the ids in ascending order.
func (s IDSet) Sorted() []int64 {
	ids := make([]int64, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// MarshalJSON encodes the set as a sorted array.
func (s IDSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UIState is owned by the presentation layer and only stored by the core.
type UIState struct {
	Modal         Modal `json:"modal"`
	ViewedItemIDs IDSet `json:"viewed_item_ids"`
}

// State is the full application state tree.
type State struct {
	Form  FormState  `json:"form"`
	Fetch FetchState `json:"fetch"`
	Feeds []Feed     `json:"feeds"`
	Items []Item     `json:"items"`
	UI    UIState    `json:"ui"`
}

// NewState returns the initial state tree.
func NewState() State {
	return State{
		Form:  FormState{Status: FormIdle},
		Fetch: FetchState{Status: FetchIdle},
		Feeds: []Feed{},
		Items: []Item{},
		UI:    UIState{ViewedItemIDs: IDSet{}},
	}
}

// Clone returns a deep copy of the state tree.
func (s State) Clone() State {
	out := s
	out.Feeds = append(make([]Feed, 0, len(s.Feeds)), s.Feeds...)
	out.Items = append(make([]Item, 0, len(s.Items)), s.Items...)
	if s.UI.Modal.OpenItemID != nil {
		id := *s.UI.Modal.OpenItemID
		out.UI.Modal.OpenItemID = &id
	}
	out.UI.ViewedItemIDs = s.UI.ViewedItemIDs.Clone()
	return out
}
