// Package pgnotify provides a PostgreSQL NOTIFY/LISTEN based pub/sub bus.
// It backs the relay_outbox wakeup-hint channel: the durable source of
// truth always remains the outbox rows, this is a notify-only shortcut so
// consumers don't have to poll on a tight interval.
package pgnotify

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/lib/pq"
)

// Event represents a published notification.
type Event struct {
	Channel   string          `json:"channel"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Handler is called when an event is received on a subscribed channel.
type Handler func(ctx context.Context, event Event) error

// ProblemFunc observes listener connection problems, including reconnects.
type ProblemFunc func(ev pq.ListenerEventType, err error)

// Bus is a PostgreSQL NOTIFY/LISTEN based pub/sub bus.
type Bus struct {
	db       *sql.DB
	listener *pq.Listener

	mu       sync.RWMutex
	handlers map[string][]Handler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new bus, opening its own database connection.
func New(dsn string) (*Bus, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("pgnotify: open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pgnotify: ping: %w", err)
	}
	return NewWithDB(db, dsn, nil)
}

// NewWithDB creates a new bus reusing an existing connection pool for
// Publish, but a dedicated pq.Listener connection for Subscribe/Listen.
// onProblem, if non-nil, is invoked on every listener connection event
// (including reconnects), which is where the caller can log with jitter-aware
// backoff context; reconnect attempts themselves always carry small random
// jitter on top of the fixed base delay to avoid a thundering herd of
// consumer processes reconnecting in lockstep.
func NewWithDB(db *sql.DB, dsn string, onProblem ProblemFunc) (*Bus, error) {
	reportProblem := func(ev pq.ListenerEventType, err error) {
		if onProblem != nil {
			onProblem(ev, err)
		}
	}

	minReconnect := jitter(2*time.Second, 500*time.Millisecond)
	maxReconnect := jitter(time.Minute, 10*time.Second)
	listener := pq.NewListener(dsn, minReconnect, maxReconnect, reportProblem)

	ctx, cancel := context.WithCancel(context.Background())

	b := &Bus{
		db:       db,
		listener: listener,
		handlers: make(map[string][]Handler),
		ctx:      ctx,
		cancel:   cancel,
	}

	b.wg.Add(1)
	go b.listen()

	return b, nil
}

// jitter returns base plus a random offset in [0, spread).
func jitter(base, spread time.Duration) time.Duration {
	if spread <= 0 {
		return base
	}
	return base + time.Duration(rand.Int63n(int64(spread)))
}

// Publish sends payload to channel via pg_notify, carrying the max committed
// seq (or any other small text payload) as the wakeup hint.
func (b *Bus) Publish(ctx context.Context, channel string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("pgnotify: marshal payload: %w", err)
	}

	envelope := Event{Channel: channel, Payload: data, Timestamp: time.Now().UTC()}
	envelopeData, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("pgnotify: marshal envelope: %w", err)
	}

	if _, err := b.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, string(envelopeData)); err != nil {
		return fmt.Errorf("pgnotify: notify: %w", err)
	}
	return nil
}

// Subscribe registers a handler for a channel, issuing LISTEN on first
// subscriber.
func (b *Bus) Subscribe(channel string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.handlers[channel]) == 0 {
		if err := b.listener.Listen(channel); err != nil {
			return fmt.Errorf("pgnotify: listen: %w", err)
		}
	}
	b.handlers[channel] = append(b.handlers[channel], handler)
	return nil
}

// Unsubscribe removes all handlers for a channel and issues UNLISTEN.
func (b *Bus) Unsubscribe(channel string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.handlers, channel)
	if err := b.listener.Unlisten(channel); err != nil {
		return fmt.Errorf("pgnotify: unlisten: %w", err)
	}
	return nil
}

// Close shuts the bus down, stopping the listener goroutine.
func (b *Bus) Close() error {
	b.cancel()
	b.wg.Wait()
	return b.listener.Close()
}

// Channels returns all channels with at least one subscriber.
func (b *Bus) Channels() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	channels := make([]string, 0, len(b.handlers))
	for ch := range b.handlers {
		channels = append(channels, ch)
	}
	return channels
}

func (b *Bus) listen() {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return

		case notification := <-b.listener.Notify:
			if notification == nil {
				// Connection lost; pq.Listener reconnects with jittered backoff.
				continue
			}
			b.dispatch(notification)

		case <-time.After(90 * time.Second):
			b.ping()
		}
	}
}

func (b *Bus) dispatch(notification *pq.Notification) {
	var event Event
	if err := json.Unmarshal([]byte(notification.Extra), &event); err != nil {
		event = Event{
			Channel:   notification.Channel,
			Payload:   json.RawMessage(notification.Extra),
			Timestamp: time.Now().UTC(),
		}
	}

	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[notification.Channel]))
	copy(handlers, b.handlers[notification.Channel])
	b.mu.RUnlock()

	for _, h := range handlers {
		b.invokeHandler(h, event)
	}
}

func (b *Bus) invokeHandler(handler Handler, event Event) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := handler(ctx, event); err != nil {
			fmt.Printf("pgnotify: handler error: %v\n", err)
		}
	}()
}

func (b *Bus) ping() {
	go func() {
		if err := b.listener.Ping(); err != nil {
			fmt.Printf("pgnotify: ping error: %v\n", err)
		}
	}()
}
