package repository

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/okian/ratorade/internal/domain/model"
)

// Lookup returns the value at a dotted path, e.g. "_id.a".
func Lookup(doc Document, path string) (any, bool) {
	var cur any = map[string]any(doc)
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, cur != nil
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Document:
		return m, true
	case Key:
		return m, true
	case model.Record:
		return m, true
	}
	return nil, false
}

// normalize converts a value into the shape every backend returns after a
// round trip: numbers as float64, maps as map[string]any and times as
// RFC3339 strings.
func normalize(v any) any {
	switch x := v.(type) {
	case nil, string, bool, float64:
		return x
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalize(e)
		}
		return out
	}
	if m, ok := asMap(v); ok {
		out := make(map[string]any, len(m))
		for k, e := range m {
			out[k] = normalize(e)
		}
		return out
	}
	if f, ok := model.ToFloat(v); ok {
		return f
	}
	return v
}

// copyDocument deep-copies a stored document so callers cannot alias
// backend state.
func copyDocument(doc Document) Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = copyValue(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = copyValue(e)
		}
		return out
	}
	return v
}

// encodeKey returns the canonical string form of a key. Map keys are
// emitted in sorted order, so equal keys always encode identically.
func encodeKey(key Key) (string, error) {
	if len(key) == 0 {
		return "", ErrInvalidKey
	}
	b, err := json.Marshal(normalize(map[string]any(key)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return string(b), nil
}

func decodeKey(s string) (Key, error) {
	var k map[string]any
	if err := json.Unmarshal([]byte(s), &k); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return Key(k), nil
}

// project keeps only the listed fields plus IDField.
func project(doc Document, fields []string) Document {
	if len(fields) == 0 {
		return doc
	}
	out := make(Document, len(fields)+1)
	out[IDField] = doc[IDField]
	for _, f := range fields {
		if v, ok := doc[f]; ok {
			out[f] = v
		}
	}
	return out
}

func matches(pred Predicate, doc Document) bool {
	return pred == nil || pred.Match(doc)
}

type keyedDocument struct {
	key string
	doc Document
}

// sortDocuments orders documents by the value at path, breaking ties by
// key so results are deterministic. Missing values sort as null.
func sortDocuments(docs []keyedDocument, path string, descending bool) {
	sort.SliceStable(docs, func(i, j int) bool {
		vi, _ := Lookup(docs[i].doc, path)
		vj, _ := Lookup(docs[j].doc, path)
		c := model.Compare(vi, vj)
		if descending {
			c = -c
		}
		if c != 0 {
			return c < 0
		}
		return docs[i].key < docs[j].key
	})
}

// emitSorted sorts, applies the limit and calls fn in order.
func emitSorted(docs []keyedDocument, path string, descending bool, limit int, fn func(Document) error) error {
	sortDocuments(docs, path, descending)
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	for _, d := range docs {
		if err := fn(d.doc); err != nil {
			return err
		}
	}
	return nil
}
