package planner

import (
	"math/big"

	"github.com/pkg/errors"

	"gpsfreak/internal/chip"
	"gpsfreak/internal/rational"
)

// Target is the request for one output.
type Target struct {
	// Unchanged keeps the output at the frequency it currently produces
	// (resolved against the plan snapshot).
	Unchanged bool
	// Freq is the requested frequency in Hz; zero turns the output off.
	Freq rational.Rational
}

// Request is a full frequency-change request.
type Request struct {
	Targets [chip.NumOutputs]Target
	// BestEffort permits non-zero deviations. Without it any deviation
	// makes the whole plan infeasible.
	BestEffort bool
}

// maxSweep caps any single VCO candidate sweep, counted outward from the
// preferred midpoint.
const maxSweep = 21401

// resolved is an output after "unchanged" resolution: a concrete frequency,
// possibly pinned to the PLL it currently draws from.
type resolved struct {
	out    int
	freq   rational.Rational
	pinned chip.PLL // 0 when the output may move between PLLs
}

// Plan computes a complete chip configuration for req.
//
// snapshot is the currently applied plan (nil when unknown); it is only used
// to resolve Unchanged targets. Planning is atomic: either every requested
// output gets a satisfying configuration or the error is *Infeasible and
// nothing should be pushed to hardware.
func Plan(c *chip.Constraints, ref rational.Rational, req Request, snapshot *chip.Plan) (*chip.Plan, error) {
	if ref.Sign() <= 0 {
		return nil, errors.New("planner: reference frequency must be positive")
	}

	active, err := resolveTargets(req, snapshot)
	if err != nil {
		return nil, err
	}

	best, diags := searchAssignments(c, ref, active)
	if best == nil {
		return nil, &Infeasible{Outputs: diags}
	}
	if !req.BestEffort {
		var bad []OutputDiag
		for _, g := range best.groups {
			for _, o := range g.sol.Outputs {
				if !o.Exact() {
					bad = append(bad, OutputDiag{
						Output: o.Output, Target: o.Target,
						Best: o.Achieved, Deviation: o.Deviation, Achievable: true,
					})
				}
			}
		}
		if len(bad) > 0 {
			return nil, &Infeasible{Outputs: bad}
		}
	}

	plan := &chip.Plan{Reference: ref, Feasible: true}
	for _, g := range best.groups {
		plan.PLLs[g.sol.PLL-1] = g.sol
	}
	return plan, nil
}

func resolveTargets(req Request, snapshot *chip.Plan) ([]resolved, error) {
	var active []resolved
	for i := 0; i < chip.NumOutputs; i++ {
		t := req.Targets[i]
		out := i + 1
		switch {
		case t.Unchanged:
			if snapshot == nil {
				return nil, errors.Errorf("planner: out%d requested unchanged but no current plan is known", out)
			}
			o := snapshot.Output(out)
			if o == nil || !o.Enabled {
				continue // currently off, stays off
			}
			active = append(active, resolved{out: out, freq: o.Achieved, pinned: o.PLL})
		case t.Freq.IsZero():
			// Output off.
		case t.Freq.Sign() < 0:
			return nil, errors.Errorf("planner: out%d frequency must be positive", out)
		default:
			active = append(active, resolved{out: out, freq: t.Freq})
		}
	}
	return active, nil
}

// assignmentResult is one PLL-allocation alternative, fully planned.
type assignmentResult struct {
	groups   []groupResult
	exact    bool
	totalDev rational.Rational
	nonPref  int
}

// betterAssignment ranks fully planned alternatives: exact plans first, then
// smaller summed deviation, then fewer PLLs outside their preferred range.
func betterAssignment(a, b *assignmentResult) bool {
	if a.exact != b.exact {
		return a.exact
	}
	if d := a.totalDev.Cmp(b.totalDev); d != 0 {
		return d < 0
	}
	return a.nonPref < b.nonPref
}

// searchAssignments tries every legal allocation of outputs to PLLs and
// returns the best fully planned alternative, or nil with per-output
// diagnostics when none is feasible.
func searchAssignments(c *chip.Constraints, ref rational.Rational, active []resolved) (*assignmentResult, []OutputDiag) {
	// Per-output PLL choices; pinned outputs have exactly one.
	choices := make([][]chip.PLL, len(active))
	for i, o := range active {
		if o.pinned != 0 {
			choices[i] = []chip.PLL{o.pinned}
		} else {
			choices[i] = c.CandidatePLLs(o.out)
		}
	}

	var best *assignmentResult
	diags := map[int]OutputDiag{}

	idx := make([]int, len(active))
	for {
		groups := map[chip.PLL][]resolved{}
		for i, o := range active {
			groups[choices[i][idx[i]]] = append(groups[choices[i][idx[i]]], o)
		}

		res := &assignmentResult{exact: true}
		feasible := true
		for _, pll := range []chip.PLL{chip.PLL1, chip.PLL2} {
			g := planGroup(c, ref, pll, groups[pll])
			res.groups = append(res.groups, g)
			for _, d := range g.diags {
				mergeDiag(diags, d)
			}
			if !g.feasible {
				feasible = false
				continue
			}
			res.exact = res.exact && g.exact
			res.totalDev = res.totalDev.Add(g.totalDev)
			if g.sol.Enabled && !c.PreferredVCO(pll, g.sol.VCO) {
				res.nonPref++
			}
		}
		if feasible && (best == nil || betterAssignment(res, best)) {
			best = res
		}

		k := len(idx) - 1
		for ; k >= 0; k-- {
			idx[k]++
			if idx[k] < len(choices[k]) {
				break
			}
			idx[k] = 0
		}
		if k < 0 || len(active) == 0 {
			break
		}
	}

	if best != nil {
		return best, nil
	}
	var out []OutputDiag
	for _, o := range active {
		out = append(out, diagFor(diags, o))
	}
	return nil, out
}

// diagFor looks up the best diagnostic recorded for an output, falling back
// to an unachievable entry when no candidate ever reached it.
func diagFor(m map[int]OutputDiag, o resolved) OutputDiag {
	if d, ok := m[o.out]; ok {
		return d
	}
	return OutputDiag{Output: o.out, Target: o.freq}
}

// mergeDiag keeps the closest-deviation diagnostic seen for an output.
func mergeDiag(m map[int]OutputDiag, d OutputDiag) {
	cur, seen := m[d.Output]
	if !seen {
		m[d.Output] = d
		return
	}
	if !cur.Achievable && d.Achievable {
		m[d.Output] = d
		return
	}
	if cur.Achievable && d.Achievable && d.Deviation.Abs().Cmp(cur.Deviation.Abs()) < 0 {
		m[d.Output] = d
	}
}

// groupResult is the outcome of planning one PLL with its assigned outputs.
type groupResult struct {
	sol      chip.PLLSolution
	feasible bool
	exact    bool
	totalDev rational.Rational
	diags    []OutputDiag
}

// candidate is one evaluated VCO alternative for a group.
type candidate struct {
	sol       chip.PLLSolution
	exact     bool
	preferred bool
	totalDev  rational.Rational
	distMid   rational.Rational
}

// betterCandidate ranks VCO alternatives within a group: exactness first,
// then the preferred VCO sub-range, then smaller total deviation, proximity
// to the range midpoint, and finally the lower VCO.
func betterCandidate(a, b *candidate) bool {
	if a.exact != b.exact {
		return a.exact
	}
	if !a.exact {
		if d := a.totalDev.Cmp(b.totalDev); d != 0 {
			return d < 0
		}
	}
	if a.preferred != b.preferred {
		return a.preferred
	}
	if d := a.distMid.Cmp(b.distMid); d != 0 {
		return d < 0
	}
	return a.sol.VCO.Cmp(b.sol.VCO) < 0
}

// planGroup chooses a single VCO frequency making every output in the group
// realizable, preferring exact solutions and falling back to the candidate
// minimizing the summed per-output deviation.
//
// Candidate VCO values come from two sweeps, both outward from the preferred
// midpoint: multiples of the least common multiple of the integer-granularity
// targets (the only frequencies at which all of them can be exact
// simultaneously), and per-output anchors target*divider, which seed the
// best-effort fallback and cover fractional-capable outputs.
func planGroup(c *chip.Constraints, ref rational.Rational, pll chip.PLL, outs []resolved) groupResult {
	if len(outs) == 0 {
		return groupResult{sol: chip.PLLSolution{PLL: pll}, feasible: true, exact: true}
	}

	vcoMin, vcoMax := c.PLLVCORange(pll)
	mid := c.VCOPrefMid(pll)
	caps := c.FeedbackCapability(pll)
	diags := map[int]OutputDiag{}

	var best *candidate
	evaluate := func(targetVCO rational.Rational) {
		if targetVCO.Cmp(vcoMin) < 0 || targetVCO.Cmp(vcoMax) > 0 {
			return
		}
		fbExact, err := targetVCO.Div(ref)
		if err != nil {
			return
		}
		fb, _ := fbExact.ApproxDenominator(caps.FBDenBound)
		if !c.LegalFeedback(pll, fb) {
			return
		}
		actual := ref.Mul(fb)
		if actual.Cmp(vcoMin) < 0 || actual.Cmp(vcoMax) > 0 {
			return
		}

		cand := &candidate{
			sol: chip.PLLSolution{
				PLL: pll, Enabled: true,
				VCO: actual, TargetVCO: targetVCO, Feedback: fb,
			},
			exact:     true,
			preferred: c.PreferredVCO(pll, actual),
			distMid:   actual.Sub(mid).Abs(),
		}
		for _, o := range outs {
			sol, ok := solveOutput(c, o.out, pll, actual, o.freq)
			if !ok {
				mergeDiag(diags, OutputDiag{Output: o.out, Target: o.freq})
				return
			}
			mergeDiag(diags, OutputDiag{
				Output: o.out, Target: o.freq,
				Best: sol.Achieved, Deviation: sol.Deviation, Achievable: true,
			})
			cand.sol.Outputs = append(cand.sol.Outputs, sol)
			cand.exact = cand.exact && sol.Exact()
			cand.totalDev = cand.totalDev.Add(sol.Deviation.Abs())
		}
		if best == nil || betterCandidate(cand, best) {
			best = cand
		}
	}
	// A preferred exact candidate cannot be beaten by anything found later
	// in an outward sweep.
	done := func() bool { return best != nil && best.exact && best.preferred }

	// Sweep 1: common multiples of the integer-granularity targets.
	var lcm rational.Rational
	haveLCM := false
	for _, o := range outs {
		if c.OutputDividerRange(o.out).Fractional {
			continue
		}
		if !haveLCM {
			lcm, haveLCM = o.freq, true
		} else {
			lcm = fractLCM(lcm, o.freq)
		}
	}
	if haveLCM {
		sweepMultiples(lcm, vcoMin, vcoMax, mid, evaluate, done)
	}

	// Sweep 2: per-output anchors. These cover groups with only
	// fractional-capable outputs and provide the least-total-deviation
	// fallback when the targets have no common VCO.
	if !done() {
		for _, o := range outs {
			ocaps := c.OutputDividerRange(o.out)
			lo := o.freq.Mul(ocaps.DivMin)
			if lo.Cmp(vcoMin) < 0 {
				lo = vcoMin
			}
			hi := o.freq.Mul(ocaps.DivMax)
			if hi.Cmp(vcoMax) > 0 {
				hi = vcoMax
			}
			sweepMultiples(o.freq, lo, hi, mid, evaluate, done)
			if done() {
				break
			}
		}
	}

	if best == nil {
		var ds []OutputDiag
		for _, o := range outs {
			ds = append(ds, diagFor(diags, o))
		}
		return groupResult{sol: chip.PLLSolution{PLL: pll}, diags: ds}
	}
	return groupResult{
		sol:      best.sol,
		feasible: true,
		exact:    best.exact,
		totalDev: best.totalDev,
	}
}

// sweepMultiples calls eval with integer multiples of step lying in
// [lo, hi], working outward from the multiple nearest mid, lower multiple
// first on equal distance. The sweep is capped at maxSweep candidates and
// stops early once done reports a candidate that cannot be improved.
func sweepMultiples(step, lo, hi, mid rational.Rational, eval func(rational.Rational), done func() bool) {
	qLo, err := lo.Div(step)
	if err != nil {
		return
	}
	qHi, _ := hi.Div(step)
	mLo := qLo.Ceil()
	mHi := qHi.Floor()
	if mLo.Cmp(mHi) > 0 {
		return
	}
	qMid, _ := mid.Div(step)
	mMid := clampInt(nearestInt(qMid), mustFromInt(mLo), mustFromInt(mHi))

	m := new(big.Int).Set(mMid)
	evalAt := func(m *big.Int) {
		eval(step.Mul(mustFromInt(m)))
	}
	evalAt(m)
	one := big.NewInt(1)
	down := new(big.Int).Sub(mMid, one)
	up := new(big.Int).Add(mMid, one)
	for n := 1; n < maxSweep; n++ {
		if done() {
			return
		}
		inDown := down.Cmp(mLo) >= 0
		inUp := up.Cmp(mHi) <= 0
		if !inDown && !inUp {
			return
		}
		if inDown {
			evalAt(down)
			down.Sub(down, one)
		}
		if done() {
			return
		}
		if inUp {
			evalAt(up)
			up.Add(up, one)
		}
	}
}

// fractLCM returns the least common multiple of two positive rationals: the
// smallest value that is an integer multiple of both.
func fractLCM(a, b rational.Rational) rational.Rational {
	u := new(big.Int).Mul(a.Den(), b.Num())
	v := new(big.Int).Mul(a.Num(), b.Den())
	g := new(big.Int).GCD(nil, nil, u, v)
	u.Div(u, g)
	return a.Mul(mustFromInt(u))
}
