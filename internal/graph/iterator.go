package graph

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"net/url"

	"github.com/goccy/go-json"
)

// page is one collection response.
type page[T any] struct {
	Value    []T    `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

// Iterator walks a paged collection lazily. A page is requested only when
// the previous one has been fully consumed and another item is asked for.
// An Iterator is single-pass and not safe for concurrent use.
type Iterator[T any] struct {
	fetcher *Fetcher
	header  http.Header
	host    string
	next    string

	buf   []T
	pos   int
	cur   T
	err   error
	pages int
}

// Iterate returns an iterator starting at initialURL. header is sent with
// every page request.
func Iterate[T any](f *Fetcher, initialURL string, header http.Header) *Iterator[T] {
	it := &Iterator[T]{fetcher: f, header: header, next: initialURL}
	if u, err := url.Parse(initialURL); err == nil {
		it.host = u.Host
	}
	return it
}

// Next advances to the next item, fetching a page if needed. It returns
// false at the end of the collection or on error; check Err.
func (it *Iterator[T]) Next(ctx context.Context) bool {
	for {
		if it.err != nil {
			return false
		}
		if it.pos < len(it.buf) {
			it.cur = it.buf[it.pos]
			it.pos++
			return true
		}
		if it.next == "" {
			return false
		}
		it.fetch(ctx)
	}
}

func (it *Iterator[T]) fetch(ctx context.Context) {
	link := it.next
	it.next = ""
	it.buf, it.pos = nil, 0

	// Continuation links carry the caller's bearer token; never follow
	// one to another host.
	if u, err := url.Parse(link); err != nil || (it.host != "" && u.Host != it.host) {
		it.err = fmt.Errorf("graph: refusing continuation link to a different host")
		return
	}

	body, err := it.fetcher.FetchPage(ctx, link, it.header)
	if err != nil {
		it.err = err
		return
	}
	var p page[T]
	if err := json.Unmarshal(body, &p); err != nil {
		it.err = fmt.Errorf("graph: decode page: %w", err)
		return
	}
	it.pages++
	it.fetcher.metrics.RecordGraphPage(ctx)
	it.buf = p.Value
	it.next = p.NextLink
}

// Item returns the current item.
func (it *Iterator[T]) Item() T { return it.cur }

// Err returns the error that stopped iteration, if any.
func (it *Iterator[T]) Err() error { return it.err }

// Pages returns how many pages have been fetched so far.
func (it *Iterator[T]) Pages() int { return it.pages }

// All adapts the iterator to a range-over-func sequence. An error is
// yielded once with the zero value and ends the sequence.
func (it *Iterator[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for it.Next(ctx) {
			if !yield(it.cur, nil) {
				return
			}
		}
		if it.err != nil {
			var zero T
			yield(zero, it.err)
		}
	}
}

// Collect drains up to limit items (limit <= 0 means all). It never
// requests a page whose items would not be used.
func Collect[T any](ctx context.Context, it *Iterator[T], limit int) ([]T, error) {
	var out []T
	for limit <= 0 || len(out) < limit {
		if !it.Next(ctx) {
			break
		}
		out = append(out, it.Item())
	}
	return out, it.Err()
}
