// Package chip models the clock-synthesizer hardware: the static constraint
// table describing the two PLLs and four outputs, the plan data model, and the
// encoding of a plan into ordered register writes.
//
// All chip-specific magic numbers live here. The planning algorithms in
// internal/planner only ever see the query methods, so a different chip
// topology is supported by substituting this package's table.
package chip

import (
	"math/big"

	"gpsfreak/internal/rational"
)

// PLL identifies one of the two on-chip PLLs.
type PLL int

const (
	PLL1 PLL = 1 // BAW-based DPLL, narrow VCO range around 2.5 GHz
	PLL2 PLL = 2 // wide-range fractional PLL
)

// NumOutputs is the number of output channels.
const NumOutputs = 4

// PLLCaps describes one PLL's legal operating region.
type PLLCaps struct {
	// VCO frequency limits, inclusive.
	VCOMin, VCOMax rational.Rational
	// Preferred (officially characterized) VCO sub-range. Frequencies
	// between the outer and preferred limits are usable but avoided when an
	// equally good in-range choice exists.
	VCOPrefMin, VCOPrefMax rational.Rational
	// Feedback divider integer part limits.
	FBIntMin, FBIntMax int64
	// Upper bound (inclusive) on the feedback fractional-part denominator.
	FBDenBound *big.Int
}

// OutputCaps describes one output channel.
type OutputCaps struct {
	// PLLs this output may draw from.
	PLLs []PLL
	// Output divider limits, inclusive.
	DivMin, DivMax rational.Rational
	// Fractional reports whether the divider supports fractional steps;
	// when true FracDenBound bounds the divider denominator, otherwise the
	// divider must be an integer.
	Fractional   bool
	FracDenBound *big.Int
}

// Constraints is the full constraint table. Built once at process start and
// never mutated.
type Constraints struct {
	Reference rational.Rational // nominal reference input, used for display only
	plls      map[PLL]PLLCaps
	outs      [NumOutputs]OutputCaps
}

// Default returns the constraint table for the GPS Freak's synthesizer.
//
// PLL1 is the BAW oscillator disciplined by the GPS time pulse: its VCO holds
// 2.5 GHz within ±50 ppm, steered through a 40-bit fractional feedback
// divider. PLL2 officially runs 5500-6250 MHz; the extended 5340-6410 MHz
// range works in practice and is needed to cover outputs up to 800 MHz, but is
// only used when the official range cannot give an equally exact plan.
func Default() *Constraints {
	mhz := func(n int64) rational.Rational { return rational.FromInt(n * 1_000_000) }
	ppm := func(f rational.Rational, n int64) rational.Rational {
		d, _ := f.MulInt(n).DivInt(1_000_000)
		return d
	}
	baw := mhz(2500)
	c := &Constraints{
		Reference: rational.FromInt(8844582),
		plls: map[PLL]PLLCaps{
			PLL1: {
				VCOMin:     baw.Sub(ppm(baw, 50)),
				VCOMax:     baw.Add(ppm(baw, 50)),
				VCOPrefMin: baw.Sub(ppm(baw, 50)),
				VCOPrefMax: baw.Add(ppm(baw, 50)),
				FBIntMin:   2,
				FBIntMax:   1<<16 - 1,
				FBDenBound: fieldMax(40),
			},
			PLL2: {
				VCOMin:     mhz(5340),
				VCOMax:     mhz(6410),
				VCOPrefMin: mhz(5500),
				VCOPrefMax: mhz(6250),
				FBIntMin:   2,
				FBIntMax:   1<<16 - 1,
				FBDenBound: fieldMax(24),
			},
		},
	}
	c.outs = [NumOutputs]OutputCaps{
		// Outputs 1 and 2: plain single-stage dividers off either PLL.
		{PLLs: []PLL{PLL1, PLL2}, DivMin: rational.FromInt(2), DivMax: rational.FromInt(256)},
		{PLLs: []PLL{PLL1, PLL2}, DivMin: rational.FromInt(2), DivMax: rational.FromInt(256)},
		// Output 3 carries the cascaded divider and reaches 1 Hz.
		{PLLs: []PLL{PLL1, PLL2}, DivMin: rational.FromInt(2), DivMax: rational.FromInt(1 << 32)},
		// Output 4: fractional-capable divider, PLL2 only.
		{
			PLLs: []PLL{PLL2}, DivMin: rational.FromInt(2), DivMax: rational.FromInt(1 << 10),
			Fractional: true, FracDenBound: fieldMax(24),
		},
	}
	return c
}

// CandidatePLLs returns the PLLs output out (1..NumOutputs) may draw from.
func (c *Constraints) CandidatePLLs(out int) []PLL {
	return c.outs[out-1].PLLs
}

// OutputDividerRange returns the divider capabilities of output out.
func (c *Constraints) OutputDividerRange(out int) OutputCaps {
	return c.outs[out-1]
}

// PLLVCORange returns the (outer) VCO limits of pll.
func (c *Constraints) PLLVCORange(pll PLL) (min, max rational.Rational) {
	p := c.plls[pll]
	return p.VCOMin, p.VCOMax
}

// FeedbackCapability returns the feedback divider limits of pll.
func (c *Constraints) FeedbackCapability(pll PLL) PLLCaps {
	return c.plls[pll]
}

// PreferredVCO reports whether vco lies in pll's preferred sub-range.
func (c *Constraints) PreferredVCO(pll PLL, vco rational.Rational) bool {
	p := c.plls[pll]
	return vco.Cmp(p.VCOPrefMin) >= 0 && vco.Cmp(p.VCOPrefMax) <= 0
}

// VCOPrefMid returns the midpoint of pll's preferred range, used as the
// search origin when several VCO values would do.
func (c *Constraints) VCOPrefMid(pll PLL) rational.Rational {
	p := c.plls[pll]
	m, _ := p.VCOPrefMin.Add(p.VCOPrefMax).DivInt(2)
	return m
}

// LegalDivider reports whether div is a legal divider value for output out.
func (c *Constraints) LegalDivider(out int, div rational.Rational) bool {
	o := c.outs[out-1]
	if div.Cmp(o.DivMin) < 0 || div.Cmp(o.DivMax) > 0 {
		return false
	}
	if o.Fractional {
		return div.Den().Cmp(o.FracDenBound) <= 0
	}
	return div.IsInt()
}

// LegalFeedback reports whether fb is a representable feedback divider value
// for pll.
func (c *Constraints) LegalFeedback(pll PLL, fb rational.Rational) bool {
	p := c.plls[pll]
	i := fb.Floor()
	if !i.IsInt64() || i.Int64() < p.FBIntMin || i.Int64() > p.FBIntMax {
		return false
	}
	return fb.Den().Cmp(p.FBDenBound) <= 0
}
