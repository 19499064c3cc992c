// Package integrity provides tamper-evident hashing of workflow log entries
// and Merkle roots over a ticket's log trail. All functions are pure and
// deterministic.
package integrity

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/ashita-ai/madoguchi/internal/model"
)

const hashPrefix = "v1:"

// ComputeEntryHash returns a versioned SHA-256 digest over the immutable
// fields of e. The ContentHash field itself is ignored.
func ComputeEntryHash(e model.WorkflowLogEntry) string {
	h := sha256.New()
	writeField := func(s string) {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s))) //nolint:gosec // fields are bounded by ticket text limits
		h.Write(lenBuf[:])
		h.Write([]byte(s))
	}
	writeField(e.ID.String())
	writeField(e.TicketID)
	writeField(e.UserID)
	writeField(e.SessionID)
	writeField(string(e.Stage))
	writeField(string(e.Type))
	writeField(string(e.Severity))
	writeField(e.Message)
	writeField(canonicalPayload(e.Payload))
	writeField(e.CreatedAt.UTC().Format(time.RFC3339Nano))
	return hashPrefix + hex.EncodeToString(h.Sum(nil))
}

// VerifyEntryHash reports whether e.ContentHash matches its fields.
func VerifyEntryHash(e model.WorkflowLogEntry) bool {
	return strings.HasPrefix(e.ContentHash, hashPrefix) && e.ContentHash == ComputeEntryHash(e)
}

// canonicalPayload encodes the payload with sorted map keys. A payload that
// cannot be encoded hashes as empty; Seal callers always pass JSON-safe maps.
func canonicalPayload(p map[string]any) string {
	if len(p) == 0 {
		return ""
	}
	b, err := json.Marshal(p)
	if err != nil {
		return ""
	}
	return string(b)
}

// hashPair produces SHA-256(0x01 || a || b) as a hex string. The 0x01 prefix
// separates internal nodes from leaves (RFC 6962).
func hashPair(a, b string) string {
	h := sha256.New()
	h.Write([]byte{0x01})
	h.Write([]byte(a))
	h.Write([]byte(b))
	return hex.EncodeToString(h.Sum(nil))
}

// BuildMerkleRoot folds leaf hashes into a single root, in the given order.
// Empty input gives "", a single leaf is its own root, and an odd node is
// paired with itself.
func BuildMerkleRoot(leaves []string) string {
	if len(leaves) == 0 {
		return ""
	}
	level := append([]string(nil), leaves...)
	for len(level) > 1 {
		next := make([]string, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			j := i + 1
			if j == len(level) {
				j = i
			}
			next = append(next, hashPair(level[i], level[j]))
		}
		level = next
	}
	return level[0]
}

// TrailRoot returns the Merkle root over the entry hashes of a ticket trail,
// in log order.
func TrailRoot(entries []model.WorkflowLogEntry) string {
	leaves := make([]string, len(entries))
	for i, e := range entries {
		leaves[i] = e.ContentHash
	}
	return BuildMerkleRoot(leaves)
}
