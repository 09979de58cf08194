// Package pairstats maintains running sufficient statistics for pairs of
// jointly rated entities and derives a linear regression model per pair.
package pairstats

import (
	"fmt"

	"github.com/okian/ratorade/internal/domain/model"
)

// PairKey is the canonical, unordered identifier pair with Lo <= Hi.
type PairKey struct {
	Lo any
	Hi any
}

// Canonical orders two identifiers. It reports whether a took the lo role;
// equal identifiers give a the lo role. Only the values matter, never the
// argument order, so Canonical(a, b) and Canonical(b, a) yield the same key.
func Canonical(a, b any) (PairKey, bool) {
	if model.Compare(a, b) <= 0 {
		return PairKey{Lo: a, Hi: b}, true
	}
	return PairKey{Lo: b, Hi: a}, false
}

// String renders the key for logs.
func (k PairKey) String() string {
	return fmt.Sprintf("(%v, %v)", k.Lo, k.Hi)
}
