package repository

import "github.com/okian/ratorade/internal/domain/model"

// Predicate selects documents during scans.
type Predicate interface {
	Match(doc Document) bool
}

// PredicateFunc adapts a function to Predicate.
type PredicateFunc func(doc Document) bool

// Match implements Predicate.
func (f PredicateFunc) Match(doc Document) bool { return f(doc) }

// All matches every document.
func All() Predicate {
	return PredicateFunc(func(Document) bool { return true })
}

// Eq matches documents whose field equals v.
func Eq(field string, v any) Predicate {
	want := normalize(v)
	return PredicateFunc(func(doc Document) bool {
		got, ok := Lookup(doc, field)
		if !ok {
			return want == nil
		}
		return model.Compare(got, want) == 0
	})
}

// Range matches documents whose numeric field lies in [gte, lt).
func Range(field string, gte, lt float64) Predicate {
	return PredicateFunc(func(doc Document) bool {
		v, ok := doc.Number(field)
		return ok && v >= gte && v < lt
	})
}

// And matches documents that satisfy every non-nil predicate.
func And(preds ...Predicate) Predicate {
	return PredicateFunc(func(doc Document) bool {
		for _, p := range preds {
			if p != nil && !p.Match(doc) {
				return false
			}
		}
		return true
	})
}

// Or matches documents that satisfy at least one non-nil predicate.
func Or(preds ...Predicate) Predicate {
	return PredicateFunc(func(doc Document) bool {
		for _, p := range preds {
			if p != nil && p.Match(doc) {
				return true
			}
		}
		return false
	})
}
