package endpoint

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// RunWriterTicks drives every StatefulWriter currently returned by writers
// with a SendTick on sendPeriod and a HeartbeatTick on heartbeatPeriod,
// until ctx is canceled. writers is re-invoked on every tick so a writer
// matched or created after the loop starts is picked up without a
// restart.
func RunWriterTicks(ctx context.Context, writers func() []*StatefulWriter, sendPeriod, heartbeatPeriod time.Duration) error {
	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		return tick(ctx, sendPeriod, func() {
			for _, w := range writers() {
				w.SendTick()
			}
		})
	})
	wg.Go(func() error {
		return tick(ctx, heartbeatPeriod, func() {
			for _, w := range writers() {
				w.HeartbeatTick()
			}
		})
	})
	return wg.Wait()
}

// RunReaderTicks drives every StatefulReader currently returned by readers
// with an AckNackTick on period, until ctx is canceled.
func RunReaderTicks(ctx context.Context, readers func() []*StatefulReader, period time.Duration) error {
	return tick(ctx, period, func() {
		for _, r := range readers() {
			r.AckNackTick()
		}
	})
}

func tick(ctx context.Context, period time.Duration, fn func()) error {
	if period <= 0 {
		period = time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fn()
		}
	}
}
