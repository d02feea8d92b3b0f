package core

import (
	"context"
	"errors"
	"fmt"
)

// pageFetcher returns one page of a listing.
type pageFetcher[T any] func(ctx context.Context, page Page) ([]T, error)

// fetchAll drains a paginated listing. A page shorter than pageSize means
// the listing is exhausted; no assumption is made about any server-side
// cap. If maxPages full pages arrive without a short one, the scan fails
// with ErrIndexTruncated instead of returning partial data.
func fetchAll[T any](ctx context.Context, what string, pageSize, maxPages int, fetch pageFetcher[T]) ([]T, error) {
	var all []T
	for pageNum := 0; pageNum < maxPages; pageNum++ {
		if err := ctx.Err(); err != nil {
			return nil, indexContextError(what, err)
		}

		rows, err := fetch(ctx, Page{Limit: pageSize, Offset: pageNum * pageSize})
		if err != nil {
			if ctx.Err() != nil {
				return nil, indexContextError(what, ctx.Err())
			}
			return nil, fmt.Errorf("fetch %s page %d: %w", what, pageNum+1, err)
		}
		all = append(all, rows...)

		if len(rows) < pageSize {
			return all, nil
		}
	}
	return nil, fmt.Errorf("%w: %s exceeded %d pages of %d rows", ErrIndexTruncated, what, maxPages, pageSize)
}

func indexContextError(what string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w while fetching %s: %w", ErrIndexTimeout, what, err)
	}
	return fmt.Errorf("fetch %s: %w", what, err)
}
