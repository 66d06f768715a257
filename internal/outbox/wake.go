package outbox

import (
	"context"

	"github.com/kukuri-network/community-node/pkg/pgnotify"
)

// Wake bridges a pgnotify subscription to the plain channel RunConsumer
// waits on; the payload itself carries no information the loop needs (the
// durable source of truth is always the outbox rows), it's a wakeup hint.
func Wake(bus *pgnotify.Bus, channel string) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)
	err := bus.Subscribe(channel, func(_ context.Context, _ pgnotify.Event) error {
		select {
		case ch <- struct{}{}:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ch, nil
}
