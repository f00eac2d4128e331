// Package validation compares a synthetic dataset with the real dataset it
// was generated from: statistical similarity, downstream ML utility and
// resistance to simulated privacy attacks.
package validation

import (
	"context"
	"fmt"
	"time"

	"github.com/inferloop/synthcert/pkg/errors"
	"github.com/inferloop/synthcert/pkg/models"
)

// runSubTest runs fn with an optional per-test timeout and converts a panic
// into an EvaluationFailure
func runSubTest(ctx context.Context, timeout time.Duration, test string, fn func(context.Context) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = errors.NewEvaluationFailure(test, fmt.Errorf("panic: %v", r))
		}
	}()
	return fn(ctx)
}

// subTestStatus maps the outcome of a sub-test onto the status recorded in
// its report slot. Missing data and cancellation skip the test; anything
// else is an error.
func subTestStatus(test string, err error) models.TestStatus {
	var insufficient *errors.InsufficientDataError
	var failure *errors.EvaluationFailure

	switch {
	case err == nil:
		return models.Completed()
	case errors.As(err, &insufficient):
		return models.Skipped(insufficient.Message)
	case errors.Is(err, context.DeadlineExceeded):
		return models.Skipped(fmt.Sprintf("%s timed out", test))
	case errors.Is(err, context.Canceled):
		return models.Skipped(fmt.Sprintf("%s was cancelled", test))
	case errors.As(err, &failure):
		return models.Errored(failure)
	default:
		return models.Errored(errors.NewEvaluationFailure(test, err))
	}
}
