// Package model contains domain models passed between layers.
package model

import (
	"math"
	"strconv"
	"time"
)

// Record is a schema-less entity record, e.g. one rating row.
type Record map[string]any

// Value returns the raw attribute value.
func (r Record) Value(attr string) (any, bool) {
	if r == nil {
		return nil, false
	}
	v, ok := r[attr]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// Number returns the attribute as a float64 if it is numeric.
func (r Record) Number(attr string) (float64, bool) {
	v, ok := r.Value(attr)
	if !ok {
		return 0, false
	}
	return ToFloat(v)
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// ToFloat converts any Go numeric value to float64. NaN is rejected.
func ToFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int8:
		f = float64(n)
	case int16:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint8:
		f = float64(n)
	case uint16:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case interface{ Float64() (float64, error) }:
		x, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = x
	default:
		return 0, false
	}
	if math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// ParseID interprets a textual identifier, e.g. from a URL path. Values that
// parse as numbers become float64, everything else stays a string.
func ParseID(s string) any {
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}
	return s
}

// Attrs names the identifier and rating attributes of a rating space.
type Attrs struct {
	ID     string `json:"id_attr"`
	Rating string `json:"rating_attr"`
}

// Observation is one joint rating of two entities by the same rater.
// Previous, when set, is the prior version of New and marks a revision.
type Observation struct {
	ID       string
	New      Record
	Ref      Record
	Previous Record
	Attrs    Attrs
	TS       time.Time
}

// IsRevision reports whether the observation revises an existing rating.
func (o *Observation) IsRevision() bool {
	return o.Previous != nil
}
