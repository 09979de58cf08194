package model

import "strings"

// Type ranks for Compare. Lower ranks sort first.
const (
	rankNull = iota
	rankNumber
	rankString
	rankBool
	rankOther
)

func typeRank(v any) int {
	if v == nil {
		return rankNull
	}
	if _, ok := ToFloat(v); ok {
		return rankNumber
	}
	switch v.(type) {
	case string:
		return rankString
	case bool:
		return rankBool
	default:
		return rankOther
	}
}

// Compare orders two scalar values the way a document store does: null
// first, then numbers (numerically), then strings (lexically), then
// booleans (false before true). Values of any other type compare equal
// within their rank.
func Compare(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch ra {
	case rankNumber:
		fa, _ := ToFloat(a)
		fb, _ := ToFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case rankString:
		return strings.Compare(a.(string), b.(string))
	case rankBool:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		}
		return 1
	}
	return 0
}

// Orderable reports whether v can serve as an entity identifier.
func Orderable(v any) bool {
	r := typeRank(v)
	return r == rankNumber || r == rankString
}
