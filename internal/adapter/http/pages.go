package adapthttp

import (
	"context"
	"iter"
	"net/http"

	"parkmon/internal/domain"
)

// Pages walks a paginated collection starting at startURL, following the
// next locator of each page until it is empty. At most one request is in
// flight. The sequence ends after yielding the first error.
//
// There is no retry and no page limit: a server that keeps returning a next
// locator keeps the walk going.
func Pages[T any](ctx context.Context, c *Client, startURL string) iter.Seq2[*domain.Page[T], error] {
	return func(yield func(*domain.Page[T], error) bool) {
		next := startURL
		for next != "" {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			var page domain.Page[T]
			if err := c.doJSON(ctx, http.MethodGet, next, nil, &page); err != nil {
				yield(nil, err)
				return
			}
			if !yield(&page, nil) {
				return
			}
			if !page.HasNext() {
				return
			}

			u, err := resolve(next, page.Next)
			if err != nil {
				yield(nil, err)
				return
			}
			next = u
		}
	}
}

// FetchAllPages delivers every page of the collection at startURL to onPage,
// in order. On failure onError is called once and no more pages follow;
// pages already delivered stay delivered. Either callback may be nil.
func FetchAllPages[T any](ctx context.Context, c *Client, startURL string, onPage func(*domain.Page[T]), onError func(error)) {
	for page, err := range Pages[T](ctx, c, startURL) {
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		if onPage != nil {
			onPage(page)
		}
	}
}

// fetchAll is FetchAllPages with the error returned instead.
func fetchAll[T any](ctx context.Context, c *Client, startURL string, onPage func(*domain.Page[T])) error {
	var ferr error
	FetchAllPages(ctx, c, startURL, onPage, func(err error) { ferr = err })
	return ferr
}
