package trust

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kukuri-network/community-node/internal/config"
	"github.com/kukuri-network/community-node/internal/outbox"
)

// ConsumerName is the outbox consumer identity the trust engine commits
// offsets under.
const ConsumerName = "trust-engine"

// ConfigSource is the minimal watcher seam Run needs.
type ConfigSource interface {
	Current() *config.Snapshot
}

// Run drives the trust engine's three cooperative loops until ctx is
// cancelled: the outbox consumer (classifies evidence, recomputes inline),
// the schedule tick (enqueues periodic full-recompute jobs), and the job
// worker poll loop (processes them).
func Run(ctx context.Context, cfg ConfigSource, ob *outbox.Outbox, worker *Worker, wake <-chan struct{}, log *logrus.Logger) error {
	if log == nil {
		log = logrus.New()
	}

	if err := worker.EnsureSchedules(ctx); err != nil {
		return err
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 3)

	wg.Add(1)
	go func() {
		defer wg.Done()
		trust := cfg.Current().Trust
		err := outbox.RunConsumer(ctx, ob, ConsumerName,
			trust.Consumer.BatchSize, config.EveryNSeconds(trust.Consumer.PollIntervalSecs),
			wake, worker.Process, func(err error) { log.WithError(err).Warn("trust: consumer error") })
		errCh <- err
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(config.EveryNSeconds(cfg.Current().Trust.Jobs.SchedulePollSeconds))
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case <-ticker.C:
				if err := worker.Tick(ctx); err != nil {
					log.WithError(err).Warn("trust: schedule tick error")
				}
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(config.EveryNSeconds(cfg.Current().Trust.Jobs.SchedulePollSeconds))
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
						log.WithError(err).Warn("trust: job error")
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
