package outbox

import (
	"context"
	"time"
)

// ProcessFunc performs one row's idempotent side effect.
type ProcessFunc func(ctx context.Context, row Row) error

// RunConsumer implements the canonical consumer loop: load offset, fetch a
// batch, process rows in order, commit the maximum successfully-processed
// seq. A failing row aborts the batch without advancing past it, so
// redelivery is at-least-once; the loop backs off briefly before retrying.
// Empty batches wait on wake (a notify-channel hint) or pollInterval,
// whichever comes first. onError is invoked (non-blocking call site
// concern) for every fetch, row-processing and offset-commit failure, for
// logging.
func RunConsumer(ctx context.Context, ob *Outbox, consumer string, batchSize int, pollInterval time.Duration, wake <-chan struct{}, process ProcessFunc, onError func(error)) error {
	const transientBackoff = time.Second

	lastSeq, err := ob.LoadOffset(ctx, consumer)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		rows, err := ob.FetchAfter(ctx, lastSeq, batchSize)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			if !sleepOrDone(ctx, transientBackoff) {
				return ctx.Err()
			}
			continue
		}

		if len(rows) == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-wake:
			case <-ticker.C:
			}
			continue
		}

		processed := lastSeq
		var rowErr error
		for _, row := range rows {
			if rowErr = process(ctx, row); rowErr != nil {
				if onError != nil {
					onError(rowErr)
				}
				break
			}
			processed = row.Seq
		}

		if processed > lastSeq {
			if err := ob.CommitOffset(ctx, consumer, processed); err != nil {
				if onError != nil {
					onError(err)
				}
				return err
			}
			lastSeq = processed
		}

		if rowErr != nil {
			if !sleepOrDone(ctx, transientBackoff) {
				return ctx.Err()
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
