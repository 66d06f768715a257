package index

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kukuri-network/community-node/internal/config"
	"github.com/kukuri-network/community-node/internal/outbox"
)

// ConsumerName is the outbox consumer identity the index worker commits
// offsets under.
const ConsumerName = "index-worker"

// ConfigSource is the minimal watcher seam Run needs, satisfied by
// *config.Watcher.
type ConfigSource interface {
	Current() *config.Snapshot
}

// Run drives the index worker's three cooperative loops until ctx is
// cancelled: the outbox consumer, the reindex job runner, and the
// expiration sweeper. Each runs on its own ticker so a slow reindex job
// never blocks event-at-a-time indexing.
func Run(ctx context.Context, cfg ConfigSource, ob *outbox.Outbox, worker *Worker, reindexer *Reindexer, sweeper *ExpirationSweeper, wake <-chan struct{}, log *logrus.Logger) error {
	if log == nil {
		log = logrus.New()
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 3)

	wg.Add(1)
	go func() {
		defer wg.Done()
		idx := cfg.Current().Index // read once; re-evaluated only on restart
		err := outbox.RunConsumer(ctx, ob, ConsumerName,
			idx.Consumer.BatchSize, config.EveryNSeconds(idx.Consumer.PollIntervalSecs),
			wake, worker.Process, func(err error) { log.WithError(err).Warn("index: consumer error") })
		errCh <- err
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		interval := config.EveryNSeconds(cfg.Current().Index.Reindex.PollIntervalSeconds)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case <-ticker.C:
				if _, err := reindexer.RunOnce(ctx); err != nil {
					log.WithError(err).Warn("index: reindex job error")
				}
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		interval := config.EveryNSeconds(cfg.Current().Index.Expiration.SweepIntervalSeconds)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case <-ticker.C:
				if _, err := sweeper.RunOnce(ctx); err != nil {
					log.WithError(err).Warn("index: expiration sweep error")
				}
			}
		}
	}()

	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}
	return nil
}
