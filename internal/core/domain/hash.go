package domain

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentHash returns a deterministic digest of an item's title and
// body. Unchanged hashes let the embedding pipeline skip redundant
// provider calls. The separator keeps ("ab","c") and ("a","bc")
// distinct.
func ContentHash(title, body string) string {
	h := sha256.New()
	h.Write([]byte(title))
	h.Write([]byte{0})
	h.Write([]byte(body))
	return hex.EncodeToString(h.Sum(nil))
}
