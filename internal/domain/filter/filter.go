// Package filter turns user supplied record filters into store predicates.
// Expressions use CEL with the record bound to the variable "record", e.g.
//
//	record.style == "ipa" && record.abv >= 6.5
package filter

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/okian/ratorade/internal/adapters/repository"
	"github.com/okian/ratorade/internal/domain/histogram"
)

// ErrInvalidFilter reports an expression or pair that does not compile.
var ErrInvalidFilter = errors.New("invalid filter")

var (
	env     *cel.Env
	envErr  error
	envOnce sync.Once
)

func getEnv() (*cel.Env, error) {
	envOnce.Do(func() {
		env, envErr = cel.NewEnv(
			cel.Variable("record", cel.DynType),
			cel.CrossTypeNumericComparisons(true),
		)
	})
	return env, envErr
}

// Compile builds a predicate from a CEL expression. An empty expression
// matches every record. Records on which evaluation fails, for example by
// touching an absent field, do not match.
func Compile(expr string) (repository.Predicate, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, nil
	}
	e, err := getEnv()
	if err != nil {
		return nil, fmt.Errorf("cel environment: %w", err)
	}
	ast, issues := e.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, issues.Err())
	}
	if t := ast.OutputType(); !t.IsExactType(cel.BoolType) && !t.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("%w: expression yields %s, want bool", ErrInvalidFilter, t)
	}
	prg, err := e.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	return repository.PredicateFunc(func(doc repository.Document) bool {
		out, _, err := prg.Eval(map[string]any{"record": map[string]any(doc)})
		if err != nil {
			return false
		}
		b, ok := out.Value().(bool)
		return ok && b
	}), nil
}

// FromPairs builds an equality predicate from "attr=value" pairs, all of
// which must hold. Numeric values are compared as numbers.
func FromPairs(pairs []string) (repository.Predicate, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	preds := make([]repository.Predicate, 0, len(pairs))
	for _, p := range pairs {
		attr, value, ok := strings.Cut(p, "=")
		attr = strings.TrimSpace(attr)
		if !ok || attr == "" {
			return nil, fmt.Errorf("%w: %q is not attr=value", ErrInvalidFilter, p)
		}
		preds = append(preds, repository.Eq(attr, histogram.ParseValue(strings.TrimSpace(value))))
	}
	return repository.And(preds...), nil
}

// Combine ANDs the non-nil predicates, returning nil when none remain.
func Combine(preds ...repository.Predicate) repository.Predicate {
	var out []repository.Predicate
	for _, p := range preds {
		if p != nil {
			out = append(out, p)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return repository.And(out...)
}
