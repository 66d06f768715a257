// Package identity manages the node's own signing keypair, used to produce
// label and attestation events. Secret storage (OS keyring, vault, encrypted
// disk) is a collaborator concern; this package only turns an already
// resolved key source (hex string or file path) into a usable signer.
package identity

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// Node holds the node's keypair and exposes its public identity plus a
// signing operation for node-authored events.
type Node struct {
	priv   *btcec.PrivateKey
	pubHex string
}

// Pubkey returns the node's 32-byte x-only public key, hex-encoded.
func (n *Node) Pubkey() string {
	return n.pubHex
}

// Sign produces a schnorr signature over msg (an event's content-hash id,
// already decoded from hex), returning the hex-encoded signature.
func (n *Node) Sign(msg []byte) (string, error) {
	if len(msg) != 32 {
		return "", fmt.Errorf("identity: sign: message must be 32 bytes, got %d", len(msg))
	}
	sig, err := schnorr.Sign(n.priv, msg)
	if err != nil {
		return "", fmt.Errorf("identity: sign: %w", err)
	}
	return hex.EncodeToString(sig.Serialize()), nil
}

// FromHex builds a Node from a hex-encoded 32-byte private key.
func FromHex(keyHex string) (*Node, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(keyHex))
	if err != nil {
		return nil, fmt.Errorf("identity: decode key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("identity: key must be 32 bytes, got %d", len(raw))
	}
	priv, pub := btcec.PrivKeyFromBytes(raw)
	return &Node{
		priv:   priv,
		pubHex: hex.EncodeToString(pub.SerializeCompressed()[1:]),
	}, nil
}

// FromFile reads a hex-encoded private key from path, trimming whitespace.
func FromFile(path string) (*Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("identity: read key file: %w", err)
	}
	return FromHex(string(data))
}

// Generate creates a fresh random keypair, for first-run bootstrap and
// tests.
func Generate() (*Node, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("identity: generate: %w", err)
	}
	return &Node{
		priv:   priv,
		pubHex: hex.EncodeToString(priv.PubKey().SerializeCompressed()[1:]),
	}, nil
}
