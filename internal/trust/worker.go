package trust

import (
	"context"
	"strconv"

	"github.com/kukuri-network/community-node/internal/config"
	"github.com/kukuri-network/community-node/internal/identity"
	"github.com/kukuri-network/community-node/internal/nostr"
	"github.com/kukuri-network/community-node/internal/outbox"
	"github.com/kukuri-network/community-node/internal/store"
)

// ReportKind and LabelKind are the two fixed application kinds the trust
// engine classifies as graph evidence; LabelKind matches the kind the
// moderation worker signs its label events as.
const (
	ReportKind = 39005
	LabelKind  = 39006
)

// Worker classifies outbox rows into trust graph evidence and recomputes
// scores inline.
type Worker struct {
	store *store.Store
	node  *identity.Node
	cfg   func() config.TrustConfig
	now   func() int64
}

// New builds a trust Worker.
func New(st *store.Store, node *identity.Node, cfg func() config.TrustConfig) *Worker {
	return &Worker{store: st, node: node, cfg: cfg, now: nostr.NowUnix}
}

// Process handles one outbox row, suitable as an outbox.ProcessFunc.
func (w *Worker) Process(ctx context.Context, row outbox.Row) error {
	if row.Op != "upsert" {
		return nil
	}
	rec, ok, err := w.store.GetEvent(ctx, row.EventID)
	if err != nil || !ok {
		return err
	}

	switch rec.Kind {
	case ReportKind:
		return w.processReportOrLabel(ctx, rec, row.TopicID, false)
	case LabelKind:
		return w.processReportOrLabel(ctx, rec, row.TopicID, true)
	default:
		cfg := w.cfg()
		weight, tracked := cfg.CommunicationDensity.InteractionWeights[rec.Kind]
		if !tracked || scopeOf(rec.Tags) != "public" {
			return nil
		}
		return w.processInteraction(ctx, rec, row.TopicID, weight)
	}
}

func (w *Worker) processReportOrLabel(ctx context.Context, rec store.EventRecord, topicID string, isLabel bool) error {
	target, _ := firstTagValue(rec.Tags, "target")
	subject, ok, err := w.store.ResolveSubjectFromTarget(ctx, target)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	reporter := rec.Pubkey
	r := store.ReportEventRecord{
		EventID: rec.EventID, SubjectPubkey: subject, ReporterPubkey: &reporter,
		Target: target, SourceKind: rec.Kind, TopicID: topicID, CreatedAt: rec.CreatedAt,
	}
	if isLabel {
		if v, ok := firstTagValue(rec.Tags, "label"); ok {
			r.Label = &v
		}
		if v, ok := firstTagValue(rec.Tags, "confidence"); ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				r.Confidence = &f
			}
		}
		if v, ok := firstTagValue(rec.Tags, "exp"); ok {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				r.LabelExp = &n
			}
		}
	} else {
		if v, ok := firstTagValue(rec.Tags, "reason"); ok {
			r.Reason = &v
		}
	}

	inserted, err := w.store.InsertReportOrLabel(ctx, r)
	if err != nil {
		return err
	}
	if !inserted {
		return nil
	}

	if isGraphIdentity(reporter) && isGraphIdentity(subject) {
		if err := w.store.UpsertGraphEdge(ctx, "REPORTED", reporter, subject, rec.EventID, 1, rec.Kind, rec.CreatedAt); err != nil {
			return err
		}
	}

	return w.RecomputeReportBased(ctx, subject)
}

func (w *Worker) processInteraction(ctx context.Context, rec store.EventRecord, topicID string, weight float64) error {
	actor := rec.Pubkey
	targets := tagValues(rec.Tags, "p")
	for _, target := range targets {
		if target == actor {
			continue
		}
		inserted, err := w.store.InsertInteraction(ctx, store.InteractionRecord{
			EventID: rec.EventID, ActorPubkey: actor, TargetPubkey: target,
			Weight: weight, TopicID: topicID, CreatedAt: rec.CreatedAt,
		})
		if err != nil {
			return err
		}
		if !inserted {
			continue
		}
		if isGraphIdentity(actor) && isGraphIdentity(target) {
			if err := w.store.UpsertGraphEdge(ctx, "INTERACTED", actor, target, rec.EventID, weight, rec.Kind, rec.CreatedAt); err != nil {
				return err
			}
		}
		if err := w.RecomputeCommunicationDensity(ctx, actor); err != nil {
			return err
		}
		if err := w.RecomputeCommunicationDensity(ctx, target); err != nil {
			return err
		}
	}
	return nil
}

func scopeOf(tags []nostr.Tag) string {
	if v, ok := firstTagValue(tags, "scope"); ok && v != "" {
		return v
	}
	return "public"
}

func firstTagValue(tags []nostr.Tag, name string) (string, bool) {
	for _, t := range tags {
		if t.Name() == name {
			return t.Value(), true
		}
	}
	return "", false
}

func tagValues(tags []nostr.Tag, name string) []string {
	var out []string
	for _, t := range tags {
		if t.Name() == name {
			out = append(out, t.Value())
		}
	}
	return out
}
