package rss

import (
	"errors"
	"fmt"

	"github.com/bryan-buckman/feedwatch/internal/model"
)

// Kind classifies a submission or refresh failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindMalformedURL
	KindDuplicateLink
	KindTransport
	KindEmptyFeed
	KindNotAFeed
)

func (k Kind) String() string {
	switch k {
	case KindMalformedURL:
		return "malformed_url"
	case KindDuplicateLink:
		return "duplicate_link"
	case KindTransport:
		return "transport"
	case KindEmptyFeed:
		return "empty_feed"
	case KindNotAFeed:
		return "not_a_feed"
	default:
		return "unknown"
	}
}

// MessageKey is the key the presentation layer shows for this kind.
func (k Kind) MessageKey() model.MessageKey {
	switch k {
	case KindMalformedURL:
		return model.MessageInvalidURL
	case KindDuplicateLink:
		return model.MessageNonUnique
	case KindTransport:
		return model.MessageNetwork
	case KindEmptyFeed, KindNotAFeed:
		return model.MessageNoRSS
	default:
		return model.MessageUnknown
	}
}

// IsValidation reports whether the failure happened before any fetch.
func (k Kind) IsValidation() bool {
	return k == KindMalformedURL || k == KindDuplicateLink
}

// Error is the single error type surfaced by the engine.
type Error struct {
	Kind    Kind
	Address string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Address)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Address, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of err, or KindUnknown if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

var (
	errEmptyDocument = errors.New("empty response body")
	errNotAURL       = errors.New("not an absolute http(s) url")
	errKnownFeed     = errors.New("feed already registered")
)
