package runtime

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/busterhq/agentcore/agent/transport"
)

// streamWithRetry issues req against client with up to three total attempts
// (one initial plus two retries) with exponential backoff: it waits 100ms
// before the first retry and 200ms before the second, per spec §4.1 step 6.
// Only
// TransientError failures are retried; anything else is surfaced
// immediately.
func streamWithRetry(ctx context.Context, client transport.Client, req transport.Request) (transport.Receiver, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	retrier := backoff.WithMaxRetries(bo, 2)

	var recv transport.Receiver
	operation := func() error {
		r, err := client.StreamChatCompletion(ctx, req)
		if err != nil {
			if IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		recv = r
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(retrier, ctx)); err != nil {
		var perm *backoff.PermanentError
		if pe, ok := asPermanent(err); ok {
			perm = pe
			return nil, perm.Err
		}
		return nil, err
	}
	return recv, nil
}

func asPermanent(err error) (*backoff.PermanentError, bool) {
	pe, ok := err.(*backoff.PermanentError)
	return pe, ok
}
