// Package ingest implements the event admission pipeline: validation,
// topic/auth/expiry gating, persistence via Store, and outbox emission.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kukuri-network/community-node/internal/apperrors"
	"github.com/kukuri-network/community-node/internal/config"
	"github.com/kukuri-network/community-node/internal/nostr"
	"github.com/kukuri-network/community-node/internal/ports"
	"github.com/kukuri-network/community-node/internal/store"
	"github.com/kukuri-network/community-node/internal/topics"
)

// Source identifies how a raw event arrived.
type Source int

const (
	SourceGossip Source = iota
	SourceWS
)

// Context carries per-ingest call metadata supplied by the transport.
type Context struct {
	AuthPubkey  string
	SourceTopic string
	PeerID      string
}

// Outcome is the pipeline's result.
type Outcome struct {
	Accepted        bool
	Duplicate       bool
	BroadcastGossip bool
	TopicIDs        []string
	RejectReason    string
	RejectCode      apperrors.Code
}

// ConsentChecker and SubscriptionChecker are the two auth-gate collaborators;
// deliberately narrow so the core never needs to know how consents or
// subscriptions are represented upstream (admin/API concerns are
// out of scope here).
type ConsentChecker interface {
	HasCurrentConsent(ctx context.Context, pubkey string) (bool, error)
}

type SubscriptionChecker interface {
	HasActiveSubscription(ctx context.Context, pubkey, topicID string) (bool, error)
}

// NodeTopics reports the topics currently enabled on this node.
type NodeTopics interface {
	Enabled(topicID string) bool
}

// Engine runs the ingest pipeline against one Store.
type Engine struct {
	store       *store.Store
	limiter     ports.RateLimiter
	consents    ConsentChecker
	subs        SubscriptionChecker
	nodeTopics  NodeTopics
	notifyAfter func(ctx context.Context, maxSeq int64) error
	now         func() int64
}

// New builds an ingest Engine. notifyAfter is called with the maximum new
// outbox seq after a successful commit (typically a pgnotify publish);
// it may be nil if notification is wired separately.
func New(st *store.Store, limiter ports.RateLimiter, consents ConsentChecker, subs SubscriptionChecker, nodeTopics NodeTopics, notifyAfter func(ctx context.Context, maxSeq int64) error) *Engine {
	return &Engine{
		store: st, limiter: limiter, consents: consents, subs: subs,
		nodeTopics: nodeTopics, notifyAfter: notifyAfter,
		now: nostr.NowUnix,
	}
}

func rejected(code apperrors.Code, reason string) Outcome {
	return Outcome{Accepted: false, RejectCode: code, RejectReason: reason}
}

// Ingest runs the full pipeline for one raw event.
func (e *Engine) Ingest(ctx context.Context, raw []byte, source Source, ictx Context, relayCfg config.RelayConfig) (Outcome, error) {
	ev, err := nostr.Parse(raw)
	if err != nil {
		return rejected(apperrors.Invalid, "invalid: malformed json"), nil
	}

	// 1. Size/shape.
	if len(raw) > relayCfg.Limits.MaxEventBytes {
		return rejected(apperrors.Invalid, "invalid: event too large"), nil
	}
	if len(ev.Tags) > relayCfg.Limits.MaxTags {
		return rejected(apperrors.Invalid, "invalid: too many tags"), nil
	}

	// 2. Signature.
	if err := ev.Verify(); err != nil {
		return rejected(apperrors.Invalid, fmt.Sprintf("invalid: signature failed (%v)", err)), nil
	}

	// 3. KIP validation (declarative schema, signature already verified).
	now := e.now()
	if nostr.IsKnownKind(ev.Kind) {
		if err := nostr.ValidateSchema(ev, now); err != nil {
			return rejected(apperrors.Invalid, fmt.Sprintf("invalid: kip validation failed (%v)", err)), nil
		}
	}

	// 4. Topic normalization.
	normalizedTopics := topics.NormalizeAll(ev.TopicIDsRaw())
	if len(normalizedTopics) == 0 {
		return rejected(apperrors.Invalid, "invalid: missing topic"), nil
	}

	// 5. Source-topic guard.
	if ictx.SourceTopic != "" {
		matched := false
		for _, t := range normalizedTopics {
			if t == ictx.SourceTopic {
				matched = true
				break
			}
		}
		if !matched {
			return rejected(apperrors.Invalid, "invalid: topic mismatch"), nil
		}
	}

	// 6. Node-topic gate (WS only).
	if source == SourceWS && e.nodeTopics != nil {
		for _, t := range normalizedTopics {
			if !e.nodeTopics.Enabled(t) {
				return rejected(apperrors.Restricted, "restricted: topic not enabled"), nil
			}
		}
	}

	// 7. Expiration.
	if exp, ok := ev.ExpiresAt(); ok && exp <= now {
		return rejected(apperrors.Invalid, "invalid: expired"), nil
	}

	// 8. Scope/epoch.
	if scope := ev.Scope(); scope != "public" {
		epoch, ok := ev.Epoch()
		if !ok {
			return rejected(apperrors.Invalid, "invalid: missing epoch"), nil
		}
		if epoch <= 0 {
			return rejected(apperrors.Invalid, "invalid: epoch must be positive"), nil
		}
	}

	// 9. Auth gate (WS only, when required at current time).
	if source == SourceWS && relayAuthRequired(relayCfg, now) {
		if ictx.AuthPubkey == "" {
			return rejected(apperrors.AuthRequired, "auth-required: missing auth"), nil
		}
		if ictx.AuthPubkey != ev.Pubkey {
			return rejected(apperrors.AuthRequired, "auth-required: pubkey mismatch"), nil
		}
		if e.consents != nil {
			ok, err := e.consents.HasCurrentConsent(ctx, ictx.AuthPubkey)
			if err != nil {
				return Outcome{}, apperrors.InternalErr("check consent", err)
			}
			if !ok {
				return rejected(apperrors.ConsentRequired, "consent-required"), nil
			}
		}
		if e.subs != nil {
			for _, t := range normalizedTopics {
				ok, err := e.subs.HasActiveSubscription(ctx, ictx.AuthPubkey, t)
				if err != nil {
					return Outcome{}, apperrors.InternalErr("check subscription", err)
				}
				if !ok {
					return rejected(apperrors.Restricted, "restricted: subscription required"), nil
				}
			}
		}
	}

	// 11. Ephemeral short-circuit.
	class := nostr.Classify(ev.Kind)
	if class == nostr.Ephemeral {
		return Outcome{
			Accepted: true, Duplicate: false,
			BroadcastGossip: source == SourceWS,
			TopicIDs:        normalizedTopics,
		}, nil
	}

	return e.persist(ctx, ev, raw, class, source, normalizedTopics)
}

// relayAuthRequired mirrors the original requires_auth(now) check: auth is
// optional until EnforceAt (if set), then required after a grace window.
func relayAuthRequired(cfg config.RelayConfig, now int64) bool {
	switch cfg.Auth.Mode {
	case "required":
		return true
	case "optional", "":
		return false
	case "scheduled":
		if cfg.Auth.EnforceAt == nil {
			return false
		}
		return now >= *cfg.Auth.EnforceAt+int64(cfg.Auth.GraceSeconds)
	default:
		return false
	}
}

func (e *Engine) persist(ctx context.Context, ev *nostr.Event, raw []byte, class nostr.Class, source Source, normalizedTopics []string) (Outcome, error) {
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return Outcome{}, apperrors.InternalErr("begin tx", err)
	}
	defer tx.Rollback()

	// 12. Dedupe.
	fresh, err := e.store.InsertDedupe(ctx, tx, ev.ID)
	if err != nil {
		return Outcome{}, apperrors.InternalErr("dedupe", err)
	}
	if !fresh {
		if err := tx.Commit(); err != nil {
			return Outcome{}, apperrors.InternalErr("commit dedupe", err)
		}
		return Outcome{Accepted: true, Duplicate: true, TopicIDs: normalizedTopics}, nil
	}

	// 13. Compute keys.
	var replaceableKey, addressableKey *string
	switch class {
	case nostr.Replaceable:
		key := fmt.Sprintf("%s:%d", ev.Pubkey, ev.Kind)
		replaceableKey = &key
	case nostr.Addressable:
		d, ok := ev.DTag()
		if !ok || d == "" {
			return rejected(apperrors.Invalid, "invalid: missing d tag"), nil
		}
		key := fmt.Sprintf("%d:%s:%s", ev.Kind, ev.Pubkey, d)
		addressableKey = &key
	}

	// 14. Promotion.
	isCurrent := true
	if replaceableKey != nil {
		promoted, err := e.store.PromoteReplaceable(ctx, tx, *replaceableKey, ev.CreatedAt, ev.ID, ev.Pubkey, ev.Kind)
		if err != nil {
			return Outcome{}, apperrors.InternalErr("promote replaceable", err)
		}
		isCurrent = promoted
	}
	if addressableKey != nil {
		d, _ := ev.DTag()
		promoted, err := e.store.PromoteAddressable(ctx, tx, *addressableKey, ev.CreatedAt, ev.ID, ev.Pubkey, ev.Kind, d)
		if err != nil {
			return Outcome{}, apperrors.InternalErr("promote addressable", err)
		}
		isCurrent = isCurrent && promoted
	}

	// 15. Persist event row.
	var expiresAt *int64
	if exp, ok := ev.ExpiresAt(); ok {
		expiresAt = &exp
	}
	rawJSON, err := json.Marshal(ev)
	if err != nil {
		return Outcome{}, apperrors.InternalErr("marshal event", err)
	}
	_ = raw // original transport bytes are not persisted verbatim; canonical re-marshal is.
	if err := e.store.WriteEvent(ctx, tx, ev, rawJSON, isCurrent, replaceableKey, addressableKey, expiresAt); err != nil {
		return Outcome{}, apperrors.InternalErr("write event", err)
	}

	// 16. Topic edges.
	for _, t := range normalizedTopics {
		if err := e.store.AddTopic(ctx, tx, ev.ID, t); err != nil {
			return Outcome{}, apperrors.InternalErr("add topic", err)
		}
	}

	// 17. Apply pending tombstones.
	tombstoned, err := e.store.ApplyTombstonesFor(ctx, tx, ev.ID, replaceableKey, addressableKey, ev.Pubkey)
	if err != nil {
		return Outcome{}, apperrors.InternalErr("apply tombstones", err)
	}
	if tombstoned {
		isCurrent = false
	}

	// 18. Outbox.
	var rows []store.OutboxRow
	effectiveKey := replaceableKey
	if effectiveKey == nil {
		effectiveKey = addressableKey
	}
	if isCurrent && !tombstoned {
		for _, t := range normalizedTopics {
			rows = append(rows, store.OutboxRow{
				Op: "upsert", EventID: ev.ID, TopicID: t,
				Kind: ev.Kind, CreatedAt: ev.CreatedAt, EffectiveKey: effectiveKey,
			})
		}
	} else if tombstoned {
		reason := "nip09"
		for _, t := range normalizedTopics {
			rows = append(rows, store.OutboxRow{
				Op: "delete", EventID: ev.ID, TopicID: t,
				Kind: ev.Kind, CreatedAt: ev.CreatedAt, Reason: &reason,
			})
		}
	}

	// 19. Deletion side effects.
	if ev.Kind == nostr.DeletionKind {
		deleteRows, err := e.store.ApplyDeletion(ctx, tx, ev)
		if err != nil {
			return Outcome{}, apperrors.InternalErr("apply deletion", err)
		}
		rows = append(rows, deleteRows...)
	}

	maxSeq, err := e.store.AppendOutbox(ctx, tx, rows)
	if err != nil {
		return Outcome{}, apperrors.InternalErr("append outbox", err)
	}

	if err := tx.Commit(); err != nil {
		return Outcome{}, apperrors.InternalErr("commit", err)
	}

	// 20. Notify, after commit so listeners never see a seq that isn't
	// durably visible yet.
	if maxSeq > 0 && e.notifyAfter != nil {
		if err := e.notifyAfter(ctx, maxSeq); err != nil {
			return Outcome{}, apperrors.InternalErr("notify", err)
		}
	}

	return Outcome{
		Accepted:        true,
		Duplicate:       false,
		BroadcastGossip: source == SourceWS && isCurrent,
		TopicIDs:        normalizedTopics,
	}, nil
}
