package pairstats

import "math"

// Fit is the least-squares fit derived from one Stats row.
// A0, B0 predict hi from lo; A1, B1 predict lo from hi.
type Fit struct {
	R          float64
	RSquared   float64
	A0         float64
	B0         float64
	A1         float64
	B1         float64
	Degenerate bool
}

// FitStats derives correlation and both regression lines from the sums.
// When either side has no variance the fit is degenerate and every
// coefficient is zero. Variances at or below zero count as none, since
// cancellation in n*s00 - s0² can leave a tiny negative.
func FitStats(s Stats) Fit {
	nn := s.N*s.S01 - s.S0*s.S1
	d0 := s.N*s.S00 - s.S0*s.S0
	d1 := s.N*s.S11 - s.S1*s.S1
	if s.N <= 0 || d0 <= 0 || d1 <= 0 {
		return Fit{Degenerate: true}
	}

	r := nn / math.Sqrt(d0*d1)
	r = math.Max(-1, math.Min(1, r))
	a0 := nn / d0
	a1 := nn / d1
	return Fit{
		R:        r,
		RSquared: r * r,
		A0:       a0,
		B0:       (s.S1 - a0*s.S0) / s.N,
		A1:       a1,
		B1:       (s.S0 - a1*s.S1) / s.N,
	}
}
