// ABOUTME: Deterministic, order-independent conversation ids for DM threads.
// ABOUTME: The id is the only key used for history pagination, never a raw handle.

package federation

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// ConversationID derives the canonical DM thread key for two canonical
// actor ids. The pair is sorted before hashing, so
// ConversationID(a, b) == ConversationID(b, a) always holds.
func ConversationID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	h := blake3.New()
	h.Write([]byte(a))
	h.Write([]byte{0}) // separator so ("ab","c") != ("a","bc")
	h.Write([]byte(b))
	sum := h.Sum(nil)
	return "conv-" + hex.EncodeToString(sum[:16])
}
