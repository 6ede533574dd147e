package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Proxy fetches documents through an allorigins-compatible relay, which
// answers GET /get?url=<address> with {"contents": "..."}.
type Proxy struct {
	base *url.URL
	http *HTTP
}

var _ Fetcher = (*Proxy)(nil)

// NewProxy creates a fetcher relaying through base.
func NewProxy(base string, opts Options) (*Proxy, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse proxy url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("parse proxy url: %q is not absolute", base)
	}
	return &Proxy{base: u, http: NewHTTP(opts)}, nil
}

// Fetch retrieves address via the relay.
func (p *Proxy) Fetch(ctx context.Context, address string) (Document, error) {
	body, err := p.http.get(ctx, p.requestURL(address))
	if err != nil {
		return Document{}, err
	}

	var payload struct {
		Contents string `json:"contents"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Document{}, &TransportError{Address: address, Err: fmt.Errorf("decode proxy response: %w", err)}
	}
	return Document{Contents: payload.Contents}, nil
}

func (p *Proxy) requestURL(address string) string {
	u := *p.base
	u.Path = strings.TrimRight(u.Path, "/") + "/get"
	q := url.Values{}
	q.Set("disableCache", "true")
	q.Set("url", address)
	u.RawQuery = q.Encode()
	return u.String()
}
