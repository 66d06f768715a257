package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ResolveSubjectFromTarget resolves a report/label target tag, either
// "pubkey:<hex>" directly or "event:<hex>" via the referenced event's
// author.
func (s *Store) ResolveSubjectFromTarget(ctx context.Context, target string) (subject string, ok bool, err error) {
	parts := strings.SplitN(target, ":", 2)
	if len(parts) != 2 {
		return "", false, nil
	}
	switch parts[0] {
	case "pubkey":
		return parts[1], true, nil
	case "event":
		rec, found, err := s.GetEvent(ctx, parts[1])
		if err != nil {
			return "", false, err
		}
		if !found {
			return "", false, nil
		}
		return rec.Pubkey, true, nil
	default:
		return "", false, nil
	}
}

// ReportEventRecord is one row of relay_trust_reports.
type ReportEventRecord struct {
	EventID        string
	SubjectPubkey  string
	ReporterPubkey *string
	Target         string
	Reason         *string
	Label          *string
	Confidence     *float64
	LabelExp       *int64
	SourceKind     int
	TopicID        string
	CreatedAt      int64
}

// InsertReportOrLabel inserts a report/label record, unique on event_id.
// inserted is false on a conflict (already processed this outbox row).
func (s *Store) InsertReportOrLabel(ctx context.Context, r ReportEventRecord) (inserted bool, err error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO relay_trust_reports
			(event_id, subject_pubkey, reporter_pubkey, target, reason, label, confidence,
			 label_exp, source_kind, topic_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (event_id) DO NOTHING
	`, r.EventID, r.SubjectPubkey, r.ReporterPubkey, r.Target, r.Reason, r.Label, r.Confidence,
		r.LabelExp, r.SourceKind, r.TopicID, r.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("store: insert report/label: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: insert report/label rows affected: %w", err)
	}
	return affected > 0, nil
}

// InteractionRecord is one row of relay_trust_interactions.
type InteractionRecord struct {
	EventID      string
	ActorPubkey  string
	TargetPubkey string
	Weight       float64
	TopicID      string
	CreatedAt    int64
}

// InsertInteraction inserts an interaction, unique on (event_id, target_pubkey).
func (s *Store) InsertInteraction(ctx context.Context, r InteractionRecord) (inserted bool, err error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO relay_trust_interactions (event_id, actor_pubkey, target_pubkey, weight, topic_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id, target_pubkey) DO NOTHING
	`, r.EventID, r.ActorPubkey, r.TargetPubkey, r.Weight, r.TopicID, r.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("store: insert interaction: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: insert interaction rows affected: %w", err)
	}
	return affected > 0, nil
}

// UpsertGraphEdge records a MERGE-by-identity node pair and a
// MERGE-by-relationship-identity edge ({event_id}), backed relationally: a
// users table keyed by pubkey and an edges table keyed by event_id.
func (s *Store) UpsertGraphEdge(ctx context.Context, relation, fromPubkey, toPubkey, eventID string, weight float64, kind int, createdAt int64) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO relay_trust_users (pubkey) VALUES ($1), ($2) ON CONFLICT DO NOTHING
	`, fromPubkey, toPubkey); err != nil {
		return fmt.Errorf("store: merge trust users: %w", err)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relay_trust_edges (event_id, relation, from_pubkey, to_pubkey, weight, kind, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id) DO UPDATE SET
			relation = EXCLUDED.relation, from_pubkey = EXCLUDED.from_pubkey,
			to_pubkey = EXCLUDED.to_pubkey, weight = EXCLUDED.weight
	`, eventID, relation, fromPubkey, toPubkey, weight, kind, createdAt)
	if err != nil {
		return fmt.Errorf("store: merge trust edge: %w", err)
	}
	return nil
}

// ReportBasedCounters returns R (reports) and L (labels) with
// created_at >= since for subject.
func (s *Store) ReportBasedCounters(ctx context.Context, subject string, since int64) (reports, labels int, err error) {
	err = s.db.GetContext(ctx, &reports, `
		SELECT COUNT(*) FROM relay_trust_reports
		WHERE subject_pubkey = $1 AND created_at >= $2 AND reason IS NOT NULL
	`, subject, since)
	if err != nil {
		return 0, 0, fmt.Errorf("store: report counters: %w", err)
	}
	err = s.db.GetContext(ctx, &labels, `
		SELECT COUNT(*) FROM relay_trust_reports
		WHERE subject_pubkey = $1 AND created_at >= $2 AND label IS NOT NULL
	`, subject, since)
	if err != nil {
		return 0, 0, fmt.Errorf("store: label counters: %w", err)
	}
	return reports, labels, nil
}

// CommunicationDensityCounters returns E (edge count, both directions),
// P (distinct peers), W (sum of weights) for subject within the window.
func (s *Store) CommunicationDensityCounters(ctx context.Context, subject string, since int64) (edges int, peers int, weightSum float64, err error) {
	err = s.db.GetContext(ctx, &edges, `
		SELECT COUNT(*) FROM relay_trust_edges
		WHERE relation = 'INTERACTED' AND created_at >= $2 AND (from_pubkey = $1 OR to_pubkey = $1)
	`, subject, since)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("store: communication edge count: %w", err)
	}
	err = s.db.GetContext(ctx, &peers, `
		SELECT COUNT(DISTINCT CASE WHEN from_pubkey = $1 THEN to_pubkey ELSE from_pubkey END)
		FROM relay_trust_edges
		WHERE relation = 'INTERACTED' AND created_at >= $2 AND (from_pubkey = $1 OR to_pubkey = $1)
	`, subject, since)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("store: communication peer count: %w", err)
	}
	err = s.db.GetContext(ctx, &weightSum, `
		SELECT COALESCE(SUM(weight), 0) FROM relay_trust_edges
		WHERE relation = 'INTERACTED' AND created_at >= $2 AND (from_pubkey = $1 OR to_pubkey = $1)
	`, subject, since)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("store: communication weight sum: %w", err)
	}
	return edges, peers, weightSum, nil
}

// TrustScoreRow is one row of relay_trust_scores.
type TrustScoreRow struct {
	AttestationID *string
}

// CurrentAttestationID returns the subject's existing attestation id for
// method, if any, so a no-evidence recomputation can keep it.
func (s *Store) CurrentAttestationID(ctx context.Context, subject, method string) (id *string, err error) {
	var row TrustScoreRow
	err = s.db.GetContext(ctx, &row, `
		SELECT attestation_id FROM relay_trust_scores WHERE subject_pubkey = $1 AND method = $2
	`, subject, method)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: current attestation id: %w", err)
	}
	return row.AttestationID, nil
}

// UpsertTrustScore records a recomputed score.
func (s *Store) UpsertTrustScore(ctx context.Context, subject, method string, score float64, counters map[string]any, windowStart, windowEnd int64, attestationID *string, attestationExp *int64) error {
	countersJSON, err := json.Marshal(counters)
	if err != nil {
		return fmt.Errorf("store: marshal counters: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO relay_trust_scores
			(subject_pubkey, method, score, counters, window_start, window_end, attestation_id, attestation_exp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (subject_pubkey, method) DO UPDATE SET
			score = EXCLUDED.score, counters = EXCLUDED.counters,
			window_start = EXCLUDED.window_start, window_end = EXCLUDED.window_end,
			attestation_id = EXCLUDED.attestation_id, attestation_exp = EXCLUDED.attestation_exp
	`, subject, method, score, countersJSON, windowStart, windowEnd, attestationID, attestationExp)
	if err != nil {
		return fmt.Errorf("store: upsert trust score: %w", err)
	}
	return nil
}

// AttestationRecord is one row of relay_trust_attestations.
type AttestationRecord struct {
	AttestationID string
	Subject       string
	Claim         string
	Score         float64
	Exp           int64
	TopicID       *string
	IssuerPubkey  string
	ValueJSON     []byte
	EvidenceJSON  []byte
	ContextJSON   []byte
	EventJSON     []byte
}

// InsertAttestation inserts an attestation, unique on attestation_id.
func (s *Store) InsertAttestation(ctx context.Context, a AttestationRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relay_trust_attestations
			(attestation_id, subject, claim, score, exp, topic_id, issuer_pubkey,
			 value_json, evidence_json, context_json, event_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (attestation_id) DO NOTHING
	`, a.AttestationID, a.Subject, a.Claim, a.Score, a.Exp, a.TopicID, a.IssuerPubkey,
		a.ValueJSON, a.EvidenceJSON, a.ContextJSON, a.EventJSON)
	if err != nil {
		return fmt.Errorf("store: insert attestation: %w", err)
	}
	return nil
}

// DistinctReportSubjects returns every subject with at least one
// report/label record, the subject set for an unscoped report_based job.
func (s *Store) DistinctReportSubjects(ctx context.Context) ([]string, error) {
	var subjects []string
	err := s.db.SelectContext(ctx, &subjects, `SELECT DISTINCT subject_pubkey FROM relay_trust_reports`)
	if err != nil {
		return nil, fmt.Errorf("store: distinct report subjects: %w", err)
	}
	return subjects, nil
}

// DistinctInteractionSubjects returns every pubkey appearing in an
// interaction edge, the subject set for an unscoped communication_density job.
func (s *Store) DistinctInteractionSubjects(ctx context.Context) ([]string, error) {
	var subjects []string
	err := s.db.SelectContext(ctx, &subjects, `
		SELECT DISTINCT pubkey FROM (
			SELECT from_pubkey AS pubkey FROM relay_trust_edges WHERE relation = 'INTERACTED'
			UNION
			SELECT to_pubkey AS pubkey FROM relay_trust_edges WHERE relation = 'INTERACTED'
		) p
	`)
	if err != nil {
		return nil, fmt.Errorf("store: distinct interaction subjects: %w", err)
	}
	return subjects, nil
}
