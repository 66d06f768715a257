// Package trust implements the trust engine: an outbox consumer that
// classifies reports/labels/interactions into a property-graph-shaped
// relational schema, the Report-Based and Communication-Density scoring
// formulas, signed attestation issuance, and the periodic recomputation
// scheduler.
package trust

import "regexp"

var hex64Pattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// isGraphIdentity reports whether s is a well-formed 64-char lowercase hex
// pubkey or event id, the only values allowed to enter the graph as edge
// endpoints. Non-conforming values still get their relational record
// persisted; they just skip edge upsert.
func isGraphIdentity(s string) bool {
	return hex64Pattern.MatchString(s)
}
