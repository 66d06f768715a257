// Package topics canonicalizes raw "t" tag values into namespaced topic ids.
package topics

import (
	"encoding/hex"
	"strings"

	"github.com/zeebo/blake3"
)

const (
	prefix      = "kukuri:"
	globalTopic = prefix + "global"
)

// Normalize maps a raw "t" tag value to its canonical topic id. The literal
// "public" (case-insensitive) maps to the node-wide default topic. A value
// already carrying the "kukuri:" prefix is returned lowercased as-is;
// anything else is hashed to a stable suffix so arbitrary free-text topics
// get a well-formed, collision-resistant id.
func Normalize(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if strings.EqualFold(trimmed, "public") {
		return globalTopic
	}
	lower := strings.ToLower(trimmed)
	if strings.HasPrefix(lower, prefix) {
		return lower
	}
	sum := blake3.Sum256([]byte(lower))
	return prefix + hex.EncodeToString(sum[:])
}

// NormalizeAll normalizes every raw value, preserving order and dropping
// duplicates (first occurrence wins).
func NormalizeAll(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		id := Normalize(r)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Global returns the node-wide default topic id.
func Global() string {
	return globalTopic
}
