package cache

import (
	"crypto/sha256"
	"encoding/hex"
)

// BuildQueryKey derives the exact-match key for a question.
//
// The raw text bytes are hashed with SHA-256 — no case folding, no
// whitespace trimming. Two questions that differ only in spacing are
// distinct keys on purpose: the similarity tier already covers
// near-duplicate phrasing, so the exact tier stays byte-exact.
func BuildQueryKey(text string) QueryKey {
	sum := sha256.Sum256([]byte(text))
	return QueryKey{
		Hash: hex.EncodeToString(sum[:]),
	}
}
