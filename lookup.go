package fyk

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Thomah6/fetchyourkeys-go/api"
)

// Lookup is the successful outcome of Get: the sanitized record plus
// where it came from.
type Lookup struct {
	Key api.Key

	// Cached is true when the record was served from the local cache
	// (always true in the current design: the cache is the read path).
	Cached bool

	// Online reports whether the last remote interaction succeeded.
	Online bool

	// Timestamp is when the cache was last written.
	Timestamp time.Time
}

// maxSuggestedLabels caps the diagnostic label list on KEY_NOT_FOUND.
const maxSuggestedLabels = 10

// Get returns the record stored under label. It waits for initialization
// to settle, surfaces any stored terminal error, and re-verifies cache
// ownership before reading. A missing label fails with KEY_NOT_FOUND
// carrying up to ten available labels for diagnostics.
func (c *Client) Get(ctx context.Context, label string) (*Lookup, error) {
	if err := c.await(ctx); err != nil {
		return nil, err
	}
	if err := c.checkOwnership(); err != nil {
		return nil, err
	}

	key, ok := c.store.Get(label)
	if !ok {
		c.countMisses.Add(1)
		return nil, c.notFound(label)
	}
	c.countHits.Add(1)
	return &Lookup{
		Key:       key.Sanitized(),
		Cached:    true,
		Online:    c.Online(),
		Timestamp: c.store.Timestamp(),
	}, nil
}

// SafeGet is the zero-ceremony entry point: it returns the value stored
// under label, or fallback on any failure whatsoever. It never returns an
// error and never panics; an unsettled client simply waits.
func (c *Client) SafeGet(label, fallback string) string {
	res, err := c.Get(context.Background(), label)
	if err != nil || res.Key.Value == "" {
		return fallback
	}
	return res.Key.Value
}

// GetMultiple looks up several labels in one readiness wait. The result
// maps every requested label to its sanitized record, or to nil when
// absent: missing individual labels are not an error.
func (c *Client) GetMultiple(ctx context.Context, labels []string) (map[string]*api.Key, error) {
	if err := c.await(ctx); err != nil {
		return nil, err
	}
	if err := c.checkOwnership(); err != nil {
		return nil, err
	}

	out := make(map[string]*api.Key, len(labels))
	for _, label := range labels {
		if key, ok := c.store.Get(label); ok {
			k := key.Sanitized()
			out[label] = &k
			c.countHits.Add(1)
		} else {
			out[label] = nil
			c.countMisses.Add(1)
		}
	}
	return out, nil
}

// GetAll returns every cached record, sanitized and sorted by label. It
// returns an empty slice on any failure rather than an error.
func (c *Client) GetAll(ctx context.Context) []api.Key {
	if err := c.await(ctx); err != nil {
		return []api.Key{}
	}
	if err := c.checkOwnership(); err != nil {
		return []api.Key{}
	}

	labels := c.store.Keys()
	out := make([]api.Key, 0, len(labels))
	for _, label := range labels {
		if key, ok := c.store.Get(label); ok {
			out = append(out, key.Sanitized())
		}
	}
	return out
}

// Filter returns the cached records for which pred is true, sorted by
// label.
func (c *Client) Filter(ctx context.Context, pred func(api.Key) bool) []api.Key {
	all := c.GetAll(ctx)
	out := make([]api.Key, 0, len(all))
	for _, k := range all {
		if pred(k) {
			out = append(out, k)
		}
	}
	return out
}

// GetByService returns the cached records whose service matches, case
// insensitively.
func (c *Client) GetByService(ctx context.Context, service string) []api.Key {
	return c.Filter(ctx, func(k api.Key) bool {
		return strings.EqualFold(k.Service, service)
	})
}

// await blocks until the initialization pass settles, then surfaces any
// currently gating stored error.
func (c *Client) await(ctx context.Context) error {
	select {
	case <-c.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := c.currentError(); err != nil {
		return err
	}
	return nil
}

// notFound builds the KEY_NOT_FOUND error for label, listing up to ten
// available labels so the caller can spot typos.
func (c *Client) notFound(label string) *Error {
	labels := c.store.Keys()
	count := len(labels)
	sort.Strings(labels)
	if len(labels) > maxSuggestedLabels {
		labels = labels[:maxSuggestedLabels]
	}
	return &Error{
		Code:       CodeKeyNotFound,
		Message:    fmt.Sprintf("no key named %q in this account", label),
		Suggestion: "check the label in your dashboard, or use SafeGet with a fallback",
		Details: map[string]any{
			"availableKeys": labels,
			"count":         count,
		},
	}
}
