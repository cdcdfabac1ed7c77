package gemini

import (
	"context"
	"errors"
	"time"
)

// ErrPollExhausted is returned when a poll runs out of attempts.
var ErrPollExhausted = errors.New("operation did not complete in time")

// poll calls check until it reports done, waiting a fixed interval between
// calls. attempts <= 0 means no limit. The context ends the wait early.
func poll(ctx context.Context, interval time.Duration, attempts int, check func(ctx context.Context) (bool, error)) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for n := 0; attempts <= 0 || n < attempts; n++ {
		done, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		timer.Reset(interval)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return ErrPollExhausted
}
