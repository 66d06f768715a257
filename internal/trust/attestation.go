package trust

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/kukuri-network/community-node/internal/identity"
	"github.com/kukuri-network/community-node/internal/nostr"
)

// AttestationKind is the application kind every trust attestation event
// carries; distinct claim tag values distinguish the scoring method.
const AttestationKind = 39007

// AttestationParams describes the attestation event to build and sign.
type AttestationParams struct {
	Subject    string
	Claim      string
	Score      float64
	TopicID    *string
	ExpSeconds int
	CreatedAt  int64
}

// BuildAndSignAttestationEvent constructs and signs one attestation event.
func BuildAndSignAttestationEvent(node *identity.Node, p AttestationParams) (*nostr.Event, error) {
	exp := p.CreatedAt + int64(p.ExpSeconds)
	tags := []nostr.Tag{
		{"subject", p.Subject},
		{"claim", p.Claim},
		{"score", strconv.FormatFloat(p.Score, 'f', -1, 64)},
		{"exp", strconv.FormatInt(exp, 10)},
	}
	if p.TopicID != nil {
		tags = append(tags, nostr.Tag{"t", *p.TopicID})
	}

	content, err := json.Marshal(map[string]any{"schema": "kukuri-attestation/1", "claim": p.Claim, "score": p.Score})
	if err != nil {
		return nil, fmt.Errorf("trust: marshal attestation content: %w", err)
	}

	ev := &nostr.Event{
		Pubkey:    node.Pubkey(),
		CreatedAt: p.CreatedAt,
		Kind:      AttestationKind,
		Tags:      tags,
		Content:   string(content),
	}
	id, err := ev.ComputeID()
	if err != nil {
		return nil, fmt.Errorf("trust: compute attestation id: %w", err)
	}
	ev.ID = id

	idBytes, err := hex.DecodeString(id)
	if err != nil {
		return nil, fmt.Errorf("trust: decode attestation id: %w", err)
	}
	sig, err := node.Sign(idBytes)
	if err != nil {
		return nil, fmt.Errorf("trust: sign attestation: %w", err)
	}
	ev.Sig = sig
	return ev, nil
}
