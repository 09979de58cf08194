package pairstats

import (
	"fmt"
	"time"

	"github.com/okian/ratorade/internal/adapters/repository"
	"github.com/okian/ratorade/internal/domain/model"
)

// Persisted field names.
const (
	fieldIDAttr     = "id_attr"
	fieldRatingAttr = "rating_attr"
	fieldLo         = "lo"
	fieldHi         = "hi"
	fieldX          = "x"
	fieldY          = "y"

	fieldN         = "n"
	fieldS0        = "s0"
	fieldS1        = "s1"
	fieldS00       = "s00"
	fieldS11       = "s11"
	fieldS01       = "s01"
	fieldRR        = "rr"
	fieldA         = "a"
	fieldB         = "b"
	fieldUpdatedAt = "updated_at"
)

// Stats holds the running sums for one pair: index 0 is the lo entity and
// index 1 the hi entity.
type Stats struct {
	Attrs     model.Attrs
	Key       PairKey
	N         float64
	S0        float64
	S1        float64
	S00       float64
	S11       float64
	S01       float64
	UpdatedAt time.Time
}

// Model is one directional regression y ≈ A*x + B.
type Model struct {
	Attrs     model.Attrs
	X         any
	Y         any
	N         float64
	RSquared  float64
	A         float64
	B         float64
	UpdatedAt time.Time
}

// Predict applies the model to a rating of X.
func (m Model) Predict(x float64) float64 {
	return m.A*x + m.B
}

func statsKey(attrs model.Attrs, k PairKey) repository.Key {
	return repository.Key{
		fieldIDAttr:     attrs.ID,
		fieldRatingAttr: attrs.Rating,
		fieldLo:         k.Lo,
		fieldHi:         k.Hi,
	}
}

func modelKey(attrs model.Attrs, x, y any) repository.Key {
	return repository.Key{
		fieldIDAttr:     attrs.ID,
		fieldRatingAttr: attrs.Rating,
		fieldX:          x,
		fieldY:          y,
	}
}

func parseTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return ts
		}
	}
	return time.Time{}
}

func keyString(key repository.Key, field string) string {
	s, _ := key[field].(string)
	return s
}

// StatsFromDocument decodes a stored statistics row.
func StatsFromDocument(doc repository.Document) (Stats, error) {
	key := doc.ID()
	if key == nil {
		return Stats{}, fmt.Errorf("stats row without %s", repository.IDField)
	}
	lo, okLo := key[fieldLo]
	hi, okHi := key[fieldHi]
	if !okLo || !okHi {
		return Stats{}, fmt.Errorf("stats row %v: %w: pair ids", key, ErrMissingAttribute)
	}
	num := func(f string) float64 {
		v, _ := doc.Number(f)
		return v
	}
	return Stats{
		Attrs:     model.Attrs{ID: keyString(key, fieldIDAttr), Rating: keyString(key, fieldRatingAttr)},
		Key:       PairKey{Lo: lo, Hi: hi},
		N:         num(fieldN),
		S0:        num(fieldS0),
		S1:        num(fieldS1),
		S00:       num(fieldS00),
		S11:       num(fieldS11),
		S01:       num(fieldS01),
		UpdatedAt: parseTime(doc[fieldUpdatedAt]),
	}, nil
}

// ModelFromDocument decodes a stored model row.
func ModelFromDocument(doc repository.Document) (Model, error) {
	key := doc.ID()
	if key == nil {
		return Model{}, fmt.Errorf("model row without %s", repository.IDField)
	}
	num := func(f string) float64 {
		v, _ := doc.Number(f)
		return v
	}
	return Model{
		Attrs:     model.Attrs{ID: keyString(key, fieldIDAttr), Rating: keyString(key, fieldRatingAttr)},
		X:         key[fieldX],
		Y:         key[fieldY],
		N:         num(fieldN),
		RSquared:  num(fieldRR),
		A:         num(fieldA),
		B:         num(fieldB),
		UpdatedAt: parseTime(doc[fieldUpdatedAt]),
	}, nil
}
