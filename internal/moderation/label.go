package moderation

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/kukuri-network/community-node/internal/identity"
	"github.com/kukuri-network/community-node/internal/nostr"
)

// LabelKind is the application kind a signed label event carries, the same
// kind the trust engine consumes as input for report/label scoring.
const LabelKind = 39006

// LabelParams describes the label event to build and sign.
type LabelParams struct {
	Target     string
	TopicID    string
	Label      string
	Confidence *float64
	ExpSeconds int
	PolicyURL  string
	PolicyRef  string
	CreatedAt  int64
}

// BuildAndSignLabelEvent constructs the deterministic tag set, computes the
// content hash id, and signs it with the node's key. The returned event's
// id becomes the label_id once persisted.
func BuildAndSignLabelEvent(node *identity.Node, p LabelParams) (*nostr.Event, error) {
	exp := p.CreatedAt + int64(p.ExpSeconds)
	tags := []nostr.Tag{
		{"target", p.Target},
		{"label", p.Label},
		{"exp", strconv.FormatInt(exp, 10)},
		{"t", p.TopicID},
	}
	if p.Confidence != nil {
		tags = append(tags, nostr.Tag{"confidence", strconv.FormatFloat(*p.Confidence, 'f', -1, 64)})
	}
	if p.PolicyURL != "" {
		tags = append(tags, nostr.Tag{"policy_url", p.PolicyURL})
	}
	if p.PolicyRef != "" {
		tags = append(tags, nostr.Tag{"policy_ref", p.PolicyRef})
	}

	content, err := json.Marshal(map[string]string{"schema": "kukuri-label/1", "label": p.Label})
	if err != nil {
		return nil, fmt.Errorf("moderation: marshal label content: %w", err)
	}

	ev := &nostr.Event{
		Pubkey:    node.Pubkey(),
		CreatedAt: p.CreatedAt,
		Kind:      LabelKind,
		Tags:      tags,
		Content:   string(content),
	}
	id, err := ev.ComputeID()
	if err != nil {
		return nil, fmt.Errorf("moderation: compute label id: %w", err)
	}
	ev.ID = id

	idBytes, err := hex.DecodeString(id)
	if err != nil {
		return nil, fmt.Errorf("moderation: decode label id: %w", err)
	}
	sig, err := node.Sign(idBytes)
	if err != nil {
		return nil, fmt.Errorf("moderation: sign label: %w", err)
	}
	ev.Sig = sig

	return ev, nil
}
