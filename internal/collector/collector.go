// Package collector drains cursor-paginated upstream listings.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/stacklok/inventory-mirror/internal/retry"
	"github.com/stacklok/inventory-mirror/internal/upstream"
)

// ErrCursorLoop is returned when the upstream hands back the cursor it was just given
var ErrCursorLoop = errors.New("pagination cursor did not advance")

// PageFunc fetches one page. An empty next cursor marks the last page.
type PageFunc[T any] func(ctx context.Context, cursor string) (items []T, next string, err error)

type page[T any] struct {
	items []T
	next  string
}

// Collect calls list repeatedly, starting from the empty cursor, until the
// upstream reports no further pages. Every page goes through policy.
//
// A not-found failure means the parent resource disappeared while listing; the
// items gathered so far are returned with a nil error. Any other failure is
// returned together with the partial result.
func Collect[T any](ctx context.Context, policy *retry.Policy, list PageFunc[T]) ([]T, error) {
	return collect(ctx, policy, list, true)
}

// CollectStrict is Collect without the not-found tolerance: every failure,
// not-found included, is returned. Use it when a truncated listing would be
// mistaken for a complete one.
func CollectStrict[T any](ctx context.Context, policy *retry.Policy, list PageFunc[T]) ([]T, error) {
	return collect(ctx, policy, list, false)
}

func collect[T any](ctx context.Context, policy *retry.Policy, list PageFunc[T], tolerateNotFound bool) ([]T, error) {
	var (
		all    []T
		cursor string
	)

	for pageNum := 1; ; pageNum++ {
		p, err := retry.Do(ctx, policy, func(ctx context.Context) (page[T], error) {
			items, next, err := list(ctx, cursor)
			return page[T]{items: items, next: next}, err
		})
		if err != nil {
			if tolerateNotFound && upstream.IsNotFound(err) {
				slog.DebugContext(ctx, "Listing target no longer exists, treating remaining pages as empty",
					"page", pageNum,
					"collected", len(all))
				return all, nil
			}
			return all, fmt.Errorf("failed to fetch page %d: %w", pageNum, err)
		}

		all = append(all, p.items...)

		if p.next == "" {
			return all, nil
		}
		if p.next == cursor {
			return all, fmt.Errorf("page %d: %w", pageNum, ErrCursorLoop)
		}
		cursor = p.next
	}
}
