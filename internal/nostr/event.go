// Package nostr implements the canonical Nostr-compatible event model: wire
// parsing, content-hash id verification, schnorr signature verification, tag
// accessors, and kind classification. Events are immutable once parsed;
// downstream code never re-parses raw tag soup.
package nostr

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// Tag is a single ordered, non-empty sequence of strings.
type Tag []string

// Name returns the tag's first element, the conventional tag name.
func (t Tag) Name() string {
	if len(t) == 0 {
		return ""
	}
	return t[0]
}

// Value returns the tag's second element (its primary value), or "".
func (t Tag) Value() string {
	if len(t) < 2 {
		return ""
	}
	return t[1]
}

// Event is the canonical Nostr-like record described by the wire format:
// {id, pubkey, created_at, kind, tags, content, sig}.
type Event struct {
	ID        string `json:"id"`
	Pubkey    string `json:"pubkey"`
	CreatedAt int64  `json:"created_at"`
	Kind      int    `json:"kind"`
	Tags      []Tag  `json:"tags"`
	Content   string `json:"content"`
	Sig       string `json:"sig"`
}

// Parse decodes raw wire JSON into an Event without verifying anything.
func Parse(raw []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("nostr: invalid json: %w", err)
	}
	return &ev, nil
}

// canonicalSerialization builds the exact byte sequence the id and
// signature are computed over: [0, pubkey, created_at, kind, tags, content].
func (e *Event) canonicalSerialization() ([]byte, error) {
	tags := e.Tags
	if tags == nil {
		tags = []Tag{}
	}
	arr := []any{0, e.Pubkey, e.CreatedAt, e.Kind, tags, e.Content}
	return json.Marshal(arr)
}

// ComputeID returns the content-hash id for the event's current fields.
func (e *Event) ComputeID() (string, error) {
	data, err := e.canonicalSerialization()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyID checks that e.ID matches the content hash of its fields.
func (e *Event) VerifyID() error {
	want, err := e.ComputeID()
	if err != nil {
		return err
	}
	if !strings.EqualFold(want, e.ID) {
		return fmt.Errorf("nostr: id mismatch: computed %s, got %s", want, e.ID)
	}
	return nil
}

// VerifySignature checks the schnorr signature over the event id using the
// event's pubkey. Call VerifyID first (or call Verify, which does both).
func (e *Event) VerifySignature() error {
	pubkeyBytes, err := hex.DecodeString(e.Pubkey)
	if err != nil || len(pubkeyBytes) != 32 {
		return fmt.Errorf("nostr: bad pubkey encoding")
	}
	sigBytes, err := hex.DecodeString(e.Sig)
	if err != nil || len(sigBytes) != 64 {
		return fmt.Errorf("nostr: bad signature encoding")
	}
	idBytes, err := hex.DecodeString(e.ID)
	if err != nil || len(idBytes) != 32 {
		return fmt.Errorf("nostr: bad id encoding")
	}

	pubkey, err := schnorr.ParsePubKey(pubkeyBytes)
	if err != nil {
		return fmt.Errorf("nostr: parse pubkey: %w", err)
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return fmt.Errorf("nostr: parse signature: %w", err)
	}
	if !sig.Verify(idBytes, pubkey) {
		return fmt.Errorf("nostr: signature failed")
	}
	return nil
}

// Verify checks both the content-hash id and the schnorr signature.
func (e *Event) Verify() error {
	if err := e.VerifyID(); err != nil {
		return err
	}
	return e.VerifySignature()
}

// FirstTagValue returns the value of the first tag named name, or ("", false).
func (e *Event) FirstTagValue(name string) (string, bool) {
	for _, t := range e.Tags {
		if t.Name() == name {
			return t.Value(), true
		}
	}
	return "", false
}

// TagValues returns the primary values of every tag named name, in order.
func (e *Event) TagValues(name string) []string {
	var out []string
	for _, t := range e.Tags {
		if t.Name() == name {
			out = append(out, t.Value())
		}
	}
	return out
}

// DTag returns the event's "d" tag value, used as the addressable
// discriminator. ok is false if absent.
func (e *Event) DTag() (string, bool) {
	return e.FirstTagValue("d")
}

// TopicIDsRaw returns the raw (unnormalized) "t" tag values.
func (e *Event) TopicIDsRaw() []string {
	return e.TagValues("t")
}

// ExpiresAt returns the event's expiry unix timestamp from "exp" or
// "expiration" tags, whichever is present. ok is false if neither is set or
// the value does not parse as an integer.
func (e *Event) ExpiresAt() (int64, bool) {
	for _, name := range []string{"exp", "expiration"} {
		if v, found := e.FirstTagValue(name); found {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return 0, false
			}
			return n, true
		}
	}
	return 0, false
}

// Scope returns the event's "scope" tag value, defaulting to "public".
func (e *Event) Scope() string {
	if v, ok := e.FirstTagValue("scope"); ok && v != "" {
		return v
	}
	return "public"
}

// Epoch returns the event's "epoch" tag value as an integer. ok is false if
// absent or not a valid integer.
func (e *Event) Epoch() (int64, bool) {
	v, found := e.FirstTagValue("epoch")
	if !found {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
