package index

import (
	"context"
	"fmt"

	"github.com/kukuri-network/community-node/internal/nostr"
	"github.com/kukuri-network/community-node/internal/ports"
	"github.com/kukuri-network/community-node/internal/store"
)

const expirationSweepPageSize = 200

// ExpirationSweeper pulls expired, unswept (event, topic) pairs and deletes
// their documents, recording each pair idempotently right after its delete so
// a recorded pair is never swept again. A crash between a delete and its
// record makes the next run delete that pair's document once more.
type ExpirationSweeper struct {
	store *store.Store
	sink  ports.SearchSink
	now   func() int64
}

// NewExpirationSweeper builds an ExpirationSweeper.
func NewExpirationSweeper(st *store.Store, sink ports.SearchSink) *ExpirationSweeper {
	return &ExpirationSweeper{store: st, sink: sink, now: nostr.NowUnix}
}

// RunOnce sweeps up to one page of expired documents. swept is the number
// processed, which may be expirationSweepPageSize if more work remains.
func (s *ExpirationSweeper) RunOnce(ctx context.Context) (swept int, err error) {
	now := s.now()
	pairs, err := s.store.ListExpiredUnswept(ctx, now, expirationSweepPageSize)
	if err != nil {
		return 0, err
	}
	for _, p := range pairs {
		if err := s.sink.DeleteDocument(ctx, indexUID(p.TopicID), p.EventID); err != nil {
			return swept, fmt.Errorf("index: sweep delete %s/%s: %w", p.TopicID, p.EventID, err)
		}
		if err := s.store.RecordExpiredSweep(ctx, p.EventID, p.TopicID, now); err != nil {
			return swept, err
		}
		swept++
	}
	return swept, nil
}
