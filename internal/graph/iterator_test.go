package graph

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	ID string `json:"id"`
}

// pagedServer serves pages of the given sizes, linking each to the next.
func pagedServer(t *testing.T, sizes ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var requests atomic.Int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		var pageNo int
		_, _ = fmt.Sscanf(r.URL.Query().Get("page"), "%d", &pageNo)
		if pageNo >= len(sizes) {
			http.Error(w, "no such page", http.StatusNotFound)
			return
		}

		offset := 0
		for _, s := range sizes[:pageNo] {
			offset += s
		}
		var values []string
		for i := 0; i < sizes[pageNo]; i++ {
			values = append(values, fmt.Sprintf(`{"id":"m%d"}`, offset+i))
		}
		next := ""
		if pageNo+1 < len(sizes) {
			next = fmt.Sprintf(`,"@odata.nextLink":"%s/items?page=%d"`, srv.URL, pageNo+1)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"value":[%s]%s}`, join(values), next)
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func join(values []string) string {
	out := ""
	for i, v := range values {
		if i > 0 {
			out += ","
		}
		out += v
	}
	return out
}

func TestIterator_FollowsNextLinks(t *testing.T) {
	srv, requests := pagedServer(t, 2, 2, 1)
	f := NewFetcher(WithHTTPClient(srv.Client()))
	it := Iterate[item](f, srv.URL+"/items?page=0", nil)

	var ids []string
	for it.Next(context.Background()) {
		ids = append(ids, it.Item().ID)
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []string{"m0", "m1", "m2", "m3", "m4"}, ids)
	assert.Equal(t, 3, it.Pages())
	assert.Equal(t, int32(3), requests.Load())
	assert.False(t, it.Next(context.Background()), "iterator must stay exhausted")
}

func TestIterator_EarlyStopFetchesNoFurtherPages(t *testing.T) {
	srv, requests := pagedServer(t, 2, 2, 1)
	f := NewFetcher(WithHTTPClient(srv.Client()))

	items, err := Collect(context.Background(), Iterate[item](f, srv.URL+"/items?page=0", nil), 2)
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, int32(1), requests.Load())

	items, err = Collect(context.Background(), Iterate[item](f, srv.URL+"/items?page=0", nil), 3)
	require.NoError(t, err)
	assert.Len(t, items, 3)
	assert.Equal(t, int32(3), requests.Load(), "second collect needs exactly two pages")
}

func TestIterator_AllSupportsBreak(t *testing.T) {
	srv, requests := pagedServer(t, 2, 2, 1)
	f := NewFetcher(WithHTTPClient(srv.Client()))
	it := Iterate[item](f, srv.URL+"/items?page=0", nil)

	var ids []string
	for v, err := range it.All(context.Background()) {
		require.NoError(t, err)
		ids = append(ids, v.ID)
		if len(ids) == 3 {
			break
		}
	}
	assert.Equal(t, []string{"m0", "m1", "m2"}, ids)
	assert.Equal(t, int32(2), requests.Load())
}

func TestIterator_EmptyCollection(t *testing.T) {
	srv, _ := pagedServer(t, 0)
	f := NewFetcher(WithHTTPClient(srv.Client()))

	items, err := Collect(context.Background(), Iterate[item](f, srv.URL+"/items?page=0", nil), 0)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestIterator_PropagatesRemoteError(t *testing.T) {
	srv, _ := pagedServer(t, 2)
	f := NewFetcher(WithHTTPClient(srv.Client()))
	it := Iterate[item](f, srv.URL+"/items?page=7", nil)

	var sawErr error
	for _, err := range it.All(context.Background()) {
		sawErr = err
	}
	var remoteErr *RemoteError
	require.ErrorAs(t, sawErr, &remoteErr)
	assert.Equal(t, 404, remoteErr.Status)
}

func TestIterator_RejectsForeignNextLink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `{"value":[{"id":"a"}],"@odata.nextLink":"https://evil.example.com/steal"}`)
	}))
	defer srv.Close()

	f := NewFetcher(WithHTTPClient(srv.Client()))
	items, err := Collect(context.Background(), Iterate[item](f, srv.URL, nil), 0)
	assert.Error(t, err)
	assert.Len(t, items, 1)
}

func TestIterator_DecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `not json`)
	}))
	defer srv.Close()

	f := NewFetcher(WithHTTPClient(srv.Client()))
	it := Iterate[item](f, srv.URL, nil)
	assert.False(t, it.Next(context.Background()))
	assert.Error(t, it.Err())
}
