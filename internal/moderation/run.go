package moderation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kukuri-network/community-node/internal/config"
	"github.com/kukuri-network/community-node/internal/outbox"
)

// ConsumerName is the outbox consumer identity the moderation worker
// commits offsets under.
const ConsumerName = "moderation-worker"

// ConfigSource is the minimal watcher seam Run needs.
type ConfigSource interface {
	Current() *config.Snapshot
}

// Run drives the moderation worker's two cooperative loops until ctx is
// cancelled: the outbox consumer (enqueues jobs) and the job worker poll
// loop (processes them).
func Run(ctx context.Context, cfg ConfigSource, ob *outbox.Outbox, worker *Worker, wake <-chan struct{}, log *logrus.Logger) error {
	if log == nil {
		log = logrus.New()
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		mod := cfg.Current().Moderation
		err := outbox.RunConsumer(ctx, ob, ConsumerName,
			mod.Consumer.BatchSize, config.EveryNSeconds(mod.Consumer.PollIntervalSecs),
			wake, worker.EnqueueFromOutbox, func(err error) { log.WithError(err).Warn("moderation: consumer error") })
		errCh <- err
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(config.EveryNSeconds(cfg.Current().Moderation.Consumer.PollIntervalSecs))
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case <-ticker.C:
				for {
					ran, err := worker.RunJobOnce(ctx)
					if err != nil {
						log.WithError(err).Warn("moderation: job error")
						break
					}
					if !ran {
						break
					}
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
