package originclient

import (
	"context"
	"time"
)

// backoffStrategy is a doubling backoff with a hard ceiling. Grounded on
// sonroyaalmerol-m3u-stream-merger-proxy's proxy/backoff.go — the pack's
// only actually-imported backoff idiom (github.com/cenkalti/backoff appears
// in one example's go.mod but is never imported by any file in the pack, so
// it is not a grounded choice; see DESIGN.md).
type backoffStrategy struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

func newBackoff(initial, max time.Duration) *backoffStrategy {
	return &backoffStrategy{initial: initial, max: max, current: initial}
}

func (b *backoffStrategy) next() time.Duration {
	if b.max == 0 {
		return b.initial
	}
	current := b.current
	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	return current
}

func (b *backoffStrategy) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(b.next()):
	}
}
