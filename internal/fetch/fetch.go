// Package fetch retrieves raw feed documents over HTTP.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

var requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "feedwatch_fetch_requests_total",
	Help: "Outbound document requests by result",
}, []string{"result"})

// MaxDocumentSize caps how much of a response body is read.
const MaxDocumentSize = 10 << 20

// Document is the raw text of a fetched feed.
type Document struct {
	Contents string
}

// Fetcher retrieves the document at address.
type Fetcher interface {
	Fetch(ctx context.Context, address string) (Document, error)
}

// TransportError is a failure to reach the remote or read its response.
type TransportError struct {
	Address string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Address, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusError is a response with a non-2xx status code.
type StatusError struct {
	Address    string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d", e.Address, e.StatusCode)
}

// Options configures an HTTP fetcher.
type Options struct {
	// Client defaults to a client with Timeout.
	Client    *http.Client
	Timeout   time.Duration
	UserAgent string
	// Retries is how many extra attempts a transient failure gets.
	Retries   uint64
	RetryWait time.Duration
}

// HTTP fetches documents directly from their address.
type HTTP struct {
	client    *http.Client
	userAgent string
	retries   uint64
	retryWait time.Duration
}

var _ Fetcher = (*HTTP)(nil)

// NewHTTP creates a direct fetcher.
func NewHTTP(opts Options) *HTTP {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	wait := opts.RetryWait
	if wait <= 0 {
		wait = 500 * time.Millisecond
	}
	return &HTTP{
		client:    client,
		userAgent: opts.UserAgent,
		retries:   opts.Retries,
		retryWait: wait,
	}
}

// Fetch retrieves address, retrying transport failures and 5xx responses.
func (h *HTTP) Fetch(ctx context.Context, address string) (Document, error) {
	body, err := h.get(ctx, address)
	if err != nil {
		return Document{}, err
	}
	return Document{Contents: string(body)}, nil
}

func (h *HTTP) get(ctx context.Context, address string) ([]byte, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = h.retryWait
	b.MaxInterval = 10 * h.retryWait
	b.MaxElapsedTime = 0

	var body []byte
	op := func() error {
		var err error
		body, err = h.once(ctx, address)
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode < 500 {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		log.WithFields(log.Fields{
			"address": address,
			"wait":    wait,
		}).Debugf("Retrying fetch: %v", err)
	}

	err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(b, h.retries), ctx), notify)
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (h *HTTP) once(ctx context.Context, address string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, address, nil)
	if err != nil {
		requestsTotal.WithLabelValues("transport_error").Inc()
		return nil, &TransportError{Address: address, Err: err}
	}
	if h.userAgent != "" {
		req.Header.Set("User-Agent", h.userAgent)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		requestsTotal.WithLabelValues("transport_error").Inc()
		return nil, &TransportError{Address: address, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		requestsTotal.WithLabelValues("status_error").Inc()
		return nil, &StatusError{Address: address, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxDocumentSize))
	if err != nil {
		requestsTotal.WithLabelValues("transport_error").Inc()
		return nil, &TransportError{Address: address, Err: fmt.Errorf("read body: %w", err)}
	}
	requestsTotal.WithLabelValues("ok").Inc()
	return body, nil
}
