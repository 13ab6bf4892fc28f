package planner

import (
	"math/big"

	"github.com/pkg/errors"

	"gpsfreak/internal/rational"
)

// maxRefDivCandidates bounds the divisor enumeration so a sloppy band request
// cannot make the chooser spin for minutes.
const maxRefDivCandidates = 1 << 21

// RefDivisor is a chosen time-pulse divisor and what it produces.
type RefDivisor struct {
	Divisor *big.Int
	Freq    rational.Rational
	// Distance is the worst-case aliasing distance: the smallest distance,
	// over all avoided clocks, of clock/Freq from the nearest integer.
	// Larger is better; an exact submultiple has distance zero.
	Distance rational.Rational
}

// ChooseReferenceDivisor selects a divisor of the GPS receiver's internal
// clock for its time-pulse output, to be used as the synthesizer's reference.
//
// Candidate divisors are those giving an output frequency in [lo, hi]. A
// divisor whose output is an exact integer submultiple of any clock in avoid,
// or within margin of one, produces a slow beat against that clock and shows
// up as a periodic aliasing spur, so such divisors are rejected; among the
// rest the one maximizing the distance from the nearest aliasing ratio wins,
// ties going to the smaller divisor.
//
// The distance for one clock c is |c/f - round(c/f)|: the phase slip, in
// cycles of c, accumulated per time-pulse cycle. Zero means the spur sits at
// DC; 1/2 is as far from aliasing as possible.
func ChooseReferenceDivisor(base, lo, hi rational.Rational, avoid []rational.Rational, margin rational.Rational) (RefDivisor, error) {
	if base.Sign() <= 0 {
		return RefDivisor{}, errors.New("planner: base clock must be positive")
	}
	if lo.Sign() <= 0 || hi.Cmp(lo) < 0 {
		return RefDivisor{}, errors.Errorf("planner: bad candidate band [%s, %s]", lo.FormatHz(), hi.FormatHz())
	}
	half, _ := rational.New(1, 2)
	if margin.Sign() < 0 || margin.Cmp(half) >= 0 {
		return RefDivisor{}, errors.New("planner: aliasing margin must be in [0, 1/2)")
	}

	qLo, _ := base.Div(hi)
	qHi, _ := base.Div(lo)
	dLo := qLo.Ceil()
	dHi := qHi.Floor()
	one := big.NewInt(1)
	if dLo.Cmp(one) < 0 {
		dLo = one
	}
	if dLo.Cmp(dHi) > 0 {
		return RefDivisor{}, errors.Errorf("planner: no divisor of %s lands in [%s, %s]",
			base.FormatHz(), lo.FormatHz(), hi.FormatHz())
	}
	span := new(big.Int).Sub(dHi, dLo)
	if !span.IsInt64() || span.Int64() >= maxRefDivCandidates {
		return RefDivisor{}, errors.Errorf("planner: candidate band too wide (%s divisors)", span)
	}

	var best RefDivisor
	found := false
	for d := new(big.Int).Set(dLo); d.Cmp(dHi) <= 0; d.Add(d, one) {
		div := mustFromInt(d)
		f, err := base.Div(div)
		if err != nil {
			continue
		}
		dist, ok := aliasingDistance(f, avoid)
		if !ok || dist.Cmp(margin) <= 0 {
			continue
		}
		if !found || dist.Cmp(best.Distance) > 0 {
			best = RefDivisor{Divisor: new(big.Int).Set(d), Freq: f, Distance: dist}
			found = true
		}
	}
	if !found {
		return RefDivisor{}, errors.Errorf("planner: every divisor in [%s, %s] aliases within margin %s",
			dLo, dHi, margin)
	}
	return best, nil
}

// aliasingDistance returns the smallest distance-from-integer of c/f over the
// avoided clocks; with no clocks to avoid every frequency is maximally far.
// ok is false only when f is zero.
func aliasingDistance(f rational.Rational, avoid []rational.Rational) (rational.Rational, bool) {
	half, _ := rational.New(1, 2)
	best := half
	for _, c := range avoid {
		if c.Sign() <= 0 {
			continue
		}
		ratio, err := c.Div(f)
		if err != nil {
			return rational.Zero, false
		}
		d := ratio.Sub(mustFromInt(nearestInt(ratio))).Abs()
		if d.Cmp(best) < 0 {
			best = d
		}
	}
	return best, true
}
