package oci

import (
	"context"
	"fmt"

	"github.com/oracle/oci-go-sdk/v65/common"
	"golang.org/x/time/rate"

	"github.com/stacklok/inventory-mirror/internal/upstream"
)

// Classify maps an SDK failure onto the upstream error taxonomy. Service
// errors are classified by HTTP status; transport and signing failures are
// ClassOther.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if svcErr, ok := common.IsServiceError(err); ok {
		status := svcErr.GetHTTPStatusCode()
		return upstream.NewError(upstream.FromStatusCode(status), status, op, err)
	}
	return upstream.NewError(upstream.ClassOther, 0, op, err)
}

// call waits for a request slot, runs fn and classifies its failure
func call[T any](ctx context.Context, limiter *rate.Limiter, op string, fn func(context.Context) (T, error)) (T, error) {
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			var zero T
			return zero, fmt.Errorf("%s: %w", op, err)
		}
	}
	resp, err := fn(ctx)
	if err != nil {
		return resp, Classify(op, err)
	}
	return resp, nil
}
