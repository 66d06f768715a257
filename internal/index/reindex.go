package index

import (
	"context"
	"fmt"

	"github.com/kukuri-network/community-node/internal/nostr"
	"github.com/kukuri-network/community-node/internal/ports"
	"github.com/kukuri-network/community-node/internal/store"
)

const reindexPageSize = 200

// EnabledTopics reports which topics this node currently serves, used to
// pick the target set for a reindex job that does not scope a single topic.
type EnabledTopics interface {
	EnabledTopics() []string
}

// Reindexer drives the reindex job runner: claim one pending job, purge and
// repage each target topic's index, then commit the consumer offset up to
// the job's cutoff_seq.
type Reindexer struct {
	store    *store.Store
	sink     ports.SearchSink
	consumer string
	nodeTops EnabledTopics
	now      func() int64
}

// NewReindexer builds a Reindexer. consumer is the index worker's outbox
// consumer name, so a successful reindex can fast-forward it.
func NewReindexer(st *store.Store, sink ports.SearchSink, consumer string, nodeTops EnabledTopics) *Reindexer {
	return &Reindexer{store: st, sink: sink, consumer: consumer, nodeTops: nodeTops, now: nostr.NowUnix}
}

// RunOnce claims and fully processes at most one pending reindex job. ran is
// false if there was no pending job.
func (r *Reindexer) RunOnce(ctx context.Context) (ran bool, err error) {
	job, ok, err := r.store.ClaimReindexJob(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	topicIDs, err := r.targetTopics(ctx, job)
	if err != nil {
		if failErr := r.store.FailReindexJob(ctx, job.JobID, err.Error()); failErr != nil {
			return true, failErr
		}
		return true, nil
	}

	total := 0
	for _, topicID := range topicIDs {
		if err := r.sink.DeleteAllDocuments(ctx, indexUID(topicID)); err != nil {
			_ = r.store.FailReindexJob(ctx, job.JobID, fmt.Sprintf("purge %s: %v", topicID, err))
			return true, nil
		}
		n, err := r.reindexTopic(ctx, job, topicID)
		if err != nil {
			_ = r.store.FailReindexJob(ctx, job.JobID, fmt.Sprintf("reindex %s: %v", topicID, err))
			return true, nil
		}
		total += n
		if err := r.store.UpdateReindexProgress(ctx, job.JobID, total, total); err != nil {
			return true, err
		}
	}

	cutoff := int64(0)
	if job.CutoffSeq != nil {
		cutoff = *job.CutoffSeq
	}
	if err := r.store.CompleteReindexJob(ctx, job.JobID, r.consumer, cutoff); err != nil {
		return true, err
	}
	return true, nil
}

func (r *Reindexer) targetTopics(ctx context.Context, job store.ReindexJob) ([]string, error) {
	if job.TopicID != nil {
		return []string{*job.TopicID}, nil
	}
	if r.nodeTops != nil {
		if topics := r.nodeTops.EnabledTopics(); len(topics) > 0 {
			return topics, nil
		}
	}
	return r.store.AllObservedTopics(ctx)
}

func (r *Reindexer) reindexTopic(ctx context.Context, job store.ReindexJob, topicID string) (int, error) {
	now := r.now()
	var afterCreatedAt int64
	afterEventID := ""
	total := 0
	for {
		page, err := r.store.ListCurrentForTopic(ctx, topicID, afterCreatedAt, afterEventID, now, reindexPageSize)
		if err != nil {
			return total, err
		}
		if len(page) == 0 {
			return total, nil
		}
		docs := make([]ports.SearchDocument, len(page))
		for i, rec := range page {
			docs[i] = BuildDocument(rec, topicID)
		}
		if err := r.sink.UpsertDocuments(ctx, indexUID(topicID), docs); err != nil {
			return total, err
		}
		total += len(page)
		last := page[len(page)-1]
		afterCreatedAt, afterEventID = last.CreatedAt, last.EventID
		if len(page) < reindexPageSize {
			return total, nil
		}
	}
}
