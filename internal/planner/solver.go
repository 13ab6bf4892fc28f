// Package planner turns requested output frequencies into a complete chip
// configuration: it assigns outputs to PLLs, chooses each PLL's VCO frequency
// and feedback divider, and solves every output divider, all in exact rational
// arithmetic.
//
// Planning is pure: it takes the reference frequency and an optional snapshot
// of the current plan as explicit inputs, touches no shared state, and is
// safe to call concurrently.
package planner

import (
	"fmt"
	"math/big"
	"strings"

	"gpsfreak/internal/chip"
	"gpsfreak/internal/rational"
)

// OutputDiag describes how close planning could get to one output's target.
type OutputDiag struct {
	Output int
	Target rational.Rational
	// Best is the closest achievable frequency found before giving up, and
	// Deviation its distance from the target. Achievable is false when no
	// legal divider exists at all for this output.
	Best       rational.Rational
	Deviation  rational.Rational
	Achievable bool
}

// Infeasible is returned when no divider/VCO combination meets the tolerance
// policy. It carries the closest deviation found per failed output so the
// caller can decide whether to retry in best-effort mode.
type Infeasible struct {
	Outputs []OutputDiag
}

func (e *Infeasible) Error() string {
	var b strings.Builder
	b.WriteString("no feasible plan")
	for _, d := range e.Outputs {
		if !d.Achievable {
			fmt.Fprintf(&b, "; out%d: %s has no legal divider",
				d.Output, d.Target.FormatHz())
			continue
		}
		fmt.Fprintf(&b, "; out%d: %s off by %s (closest %s)",
			d.Output, d.Target.FormatHz(), d.Deviation.Abs().FormatHz(), d.Best.FormatHz())
	}
	return b.String()
}

// solveOutput finds the divider realizing target from vco on output out.
//
// The exact divider is vco/target; when it is legal (in range, and integral
// or within the fractional denominator bound depending on the output's
// granularity) the solution is exact with zero deviation. Otherwise the
// nearest legal divider is returned, deviation ties broken toward the
// smaller divider. ok is false when the output has no legal divider at all
// for this VCO.
func solveOutput(c *chip.Constraints, out int, pll chip.PLL, vco, target rational.Rational) (sol chip.OutputSolution, ok bool) {
	q, err := vco.Div(target)
	if err != nil || q.Sign() <= 0 {
		return chip.OutputSolution{}, false
	}
	caps := c.OutputDividerRange(out)

	if c.LegalDivider(out, q) {
		return chip.OutputSolution{
			Output: out, Enabled: true, PLL: pll,
			Divider: q, Target: target, Achieved: target,
		}, true
	}

	var candidates []rational.Rational
	if caps.Fractional {
		d := clamp(q, caps.DivMin, caps.DivMax)
		approx, _ := d.ApproxDenominator(caps.FracDenBound)
		candidates = append(candidates, clamp(approx, caps.DivMin, caps.DivMax))
	} else {
		lo := clampInt(q.Floor(), caps.DivMin, caps.DivMax)
		hi := clampInt(q.Ceil(), caps.DivMin, caps.DivMax)
		candidates = append(candidates, mustFromInt(lo))
		if hi.Cmp(lo) != 0 {
			candidates = append(candidates, mustFromInt(hi))
		}
	}

	for _, d := range candidates {
		if !c.LegalDivider(out, d) {
			continue
		}
		f, err := vco.Div(d)
		if err != nil {
			continue
		}
		dev := f.Sub(target)
		if !ok || better(dev, d, sol) {
			sol = chip.OutputSolution{
				Output: out, Enabled: true, PLL: pll,
				Divider: d, Target: target, Achieved: f, Deviation: dev,
			}
			ok = true
		}
	}
	return sol, ok
}

// better reports whether (dev, div) improves on the current solution: smaller
// absolute deviation wins, equal deviations go to the smaller divider.
func better(dev rational.Rational, div rational.Rational, cur chip.OutputSolution) bool {
	switch dev.Abs().Cmp(cur.Deviation.Abs()) {
	case -1:
		return true
	case 1:
		return false
	}
	return div.Cmp(cur.Divider) < 0
}

func clamp(x, lo, hi rational.Rational) rational.Rational {
	if x.Cmp(lo) < 0 {
		return lo
	}
	if x.Cmp(hi) > 0 {
		return hi
	}
	return x
}

// clampInt clamps integer n into the integer range [lo, hi].
func clampInt(n *big.Int, lo, hi rational.Rational) *big.Int {
	if n.Cmp(lo.Num()) < 0 {
		return lo.Num()
	}
	if n.Cmp(hi.Num()) > 0 {
		return hi.Num()
	}
	return n
}

func mustFromInt(n *big.Int) rational.Rational {
	x, _ := rational.FromBig(n, big.NewInt(1))
	return x
}

// nearestInt rounds x to the nearest integer (half away from midpoint is not
// significant here; halves round up).
func nearestInt(x rational.Rational) *big.Int {
	half, _ := rational.New(1, 2)
	return x.Add(half).Floor()
}
