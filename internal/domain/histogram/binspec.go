package histogram

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/okian/ratorade/internal/domain/model"
)

// BinSpec describes uniform-width numeric bucketing for one group key.
// Nil bounds are discovered by scanning the source.
type BinSpec struct {
	Bins int      `json:"bins"`
	Min  *float64 `json:"min,omitempty"`
	Max  *float64 `json:"max,omitempty"`
}

// Bound returns a pointer for BinSpec.Min and BinSpec.Max literals.
func Bound(v float64) *float64 { return &v }

// binning is a resolved BinSpec.
type binning struct {
	min   float64
	width float64
}

// bucket maps v to the lower edge of its bin. Values at max fall into the
// bin starting at max.
func (b binning) bucket(v float64) float64 {
	return math.Floor((v-b.min)/b.width)*b.width + b.min
}

// integral reports whether v holds a whole number and returns it.
func integral(v any) (int, bool) {
	f, ok := model.ToFloat(v)
	if !ok || f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int(f), true
}

// ParseBinSpecs decodes a JSON object of per-key bin specs. Bin counts may
// arrive as any JSON number but must be whole and positive.
func ParseBinSpecs(raw []byte) (map[string]BinSpec, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, nil
	}
	var loose map[string]map[string]any
	if err := json.Unmarshal(raw, &loose); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBinSpec, err)
	}
	specs := make(map[string]BinSpec, len(loose))
	for key, fields := range loose {
		spec, err := binSpecFromMap(key, fields)
		if err != nil {
			return nil, err
		}
		specs[key] = spec
	}
	return specs, nil
}

func binSpecFromMap(key string, fields map[string]any) (BinSpec, error) {
	var spec BinSpec
	raw, ok := fields["bins"]
	if !ok {
		return spec, fmt.Errorf("%w: %s has no bin count", ErrInvalidBinSpec, key)
	}
	bins, ok := integral(raw)
	if !ok || bins <= 0 {
		return spec, fmt.Errorf("%w: %s bin count %v is not a positive integer", ErrInvalidBinSpec, key, raw)
	}
	spec.Bins = bins
	for name, dst := range map[string]**float64{"min": &spec.Min, "max": &spec.Max} {
		v, ok := fields[name]
		if !ok || v == nil {
			continue
		}
		f, ok := model.ToFloat(v)
		if !ok {
			return spec, fmt.Errorf("%w: %s %s %v is not numeric", ErrInvalidBinSpec, key, name, v)
		}
		*dst = Bound(f)
	}
	return spec, nil
}

// ParseBinArg parses the command-line form "key:bins=N[,min=X][,max=Y]".
func ParseBinArg(arg string) (string, BinSpec, error) {
	key, rest, ok := strings.Cut(arg, ":")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", BinSpec{}, fmt.Errorf("%w: %q is not key:bins=N[,min=X][,max=Y]", ErrInvalidBinSpec, arg)
	}
	fields := make(map[string]any)
	for _, pair := range strings.Split(rest, ",") {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return "", BinSpec{}, fmt.Errorf("%w: %q in %q is not name=value", ErrInvalidBinSpec, pair, arg)
		}
		fields[strings.TrimSpace(name)] = ParseValue(strings.TrimSpace(value))
	}
	spec, err := binSpecFromMap(key, fields)
	return key, spec, err
}

// ParseValue coerces a command-line value to a number when it parses as
// one and otherwise keeps the string.
func ParseValue(s string) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return float64(i)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}
	return s
}
