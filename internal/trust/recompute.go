package trust

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kukuri-network/community-node/internal/store"
)

// RecomputeReportBased recalculates subject's report-based score and issues
// a fresh attestation when the recomputation has any in-window evidence.
func (w *Worker) RecomputeReportBased(ctx context.Context, subject string) error {
	cfg := w.cfg()
	since := w.now() - int64(cfg.ReportBased.WindowDays)*86400
	reports, labels, err := w.store.ReportBasedCounters(ctx, subject, since)
	if err != nil {
		return err
	}
	score, counters := ReportBasedScore(cfg.ReportBased, reports, labels)
	return w.recordScore(ctx, subject, ClaimReportBased, score, counters, since, reports+labels > 0, cfg.Attestation.ExpSeconds)
}

// RecomputeCommunicationDensity recalculates subject's communication-density
// score and issues a fresh attestation when there is any in-window evidence.
func (w *Worker) RecomputeCommunicationDensity(ctx context.Context, subject string) error {
	cfg := w.cfg()
	since := w.now() - int64(cfg.CommunicationDensity.WindowDays)*86400
	edges, peers, weightSum, err := w.store.CommunicationDensityCounters(ctx, subject, since)
	if err != nil {
		return err
	}
	score, counters := CommunicationDensityScore(cfg.CommunicationDensity, edges, peers, weightSum)
	return w.recordScore(ctx, subject, ClaimCommunicationDensity, score, counters, since, edges > 0, cfg.Attestation.ExpSeconds)
}

// recordScore persists the score row and, when there is in-window evidence,
// signs and stores a fresh attestation event; a no-evidence recomputation
// keeps whatever attestation id the subject/claim pair already had.
func (w *Worker) recordScore(ctx context.Context, subject, claim string, score float64, counters map[string]any, windowStart int64, hasEvidence bool, attestationExpSeconds int) error {
	now := w.now()
	attestationID, err := w.store.CurrentAttestationID(ctx, subject, claim)
	if err != nil {
		return err
	}
	var attestationExp *int64

	if hasEvidence {
		ev, err := BuildAndSignAttestationEvent(w.node, AttestationParams{
			Subject:    subject,
			Claim:      claim,
			Score:      score,
			ExpSeconds: attestationExpSeconds,
			CreatedAt:  now,
		})
		if err != nil {
			return fmt.Errorf("trust: build attestation: %w", err)
		}

		valueJSON, _ := json.Marshal(map[string]any{"score": score})
		evidenceJSON, err := json.Marshal(counters)
		if err != nil {
			return fmt.Errorf("trust: marshal attestation evidence: %w", err)
		}
		contextJSON, _ := json.Marshal(map[string]any{"window_start": windowStart, "window_end": now})
		eventJSON, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("trust: marshal attestation event: %w", err)
		}

		exp := now + int64(attestationExpSeconds)
		if err := w.store.InsertAttestation(ctx, store.AttestationRecord{
			AttestationID: ev.ID,
			Subject:       subject,
			Claim:         claim,
			Score:         score,
			Exp:           exp,
			IssuerPubkey:  ev.Pubkey,
			ValueJSON:     valueJSON,
			EvidenceJSON:  evidenceJSON,
			ContextJSON:   contextJSON,
			EventJSON:     eventJSON,
		}); err != nil {
			return err
		}
		id := ev.ID
		attestationID = &id
		attestationExp = &exp
	}

	return w.store.UpsertTrustScore(ctx, subject, claim, score, counters, windowStart, now, attestationID, attestationExp)
}
