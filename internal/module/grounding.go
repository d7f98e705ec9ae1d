package module

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashLength is the number of hex characters kept from the content digest.
const HashLength = 16

// ContentHash returns a short, stable digest of content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])[:HashLength]
}

// Document grounding states.
const (
	StateUngrounded = "ungrounded"
	StatePartial    = "partial"
	StateGrounded   = "grounded"
)

// AggregateState derives a document's grounding state from its modules' flags.
// A document is grounded only when it has modules and every one is grounded.
func AggregateState(grounded []bool) string {
	if len(grounded) == 0 {
		return StateUngrounded
	}
	n := 0
	for _, g := range grounded {
		if g {
			n++
		}
	}
	switch n {
	case len(grounded):
		return StateGrounded
	case 0:
		return StateUngrounded
	default:
		return StatePartial
	}
}
