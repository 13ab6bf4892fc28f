package chip

import (
	"fmt"
	"strings"

	"gpsfreak/internal/rational"
)

// OutputSolution is the planned configuration of one output channel.
type OutputSolution struct {
	Output  int // 1..NumOutputs
	Enabled bool
	PLL     PLL
	// Divider is the exact output divider; fractional only on
	// fractional-capable outputs.
	Divider rational.Rational
	// Target is the requested frequency, Achieved the exact frequency the
	// divider realizes, Deviation their difference (zero when exact).
	Target    rational.Rational
	Achieved  rational.Rational
	Deviation rational.Rational
}

// Exact reports whether the output hits its target with zero deviation.
func (o OutputSolution) Exact() bool { return o.Deviation.IsZero() }

// PLLSolution is the planned configuration of one PLL. A PLL with no outputs
// assigned is disabled (powered down), with zero VCO and feedback values.
type PLLSolution struct {
	PLL     PLL
	Enabled bool
	// VCO is the frequency the PLL actually produces; TargetVCO is the
	// value planning aimed for. They differ only when the feedback divider
	// had to be approximated to its denominator bound.
	VCO       rational.Rational
	TargetVCO rational.Rational
	// Feedback is the exact feedback divider: VCO = reference * Feedback.
	Feedback rational.Rational
	// Outputs drawing from this PLL.
	Outputs []OutputSolution
}

// Plan is a complete, internally consistent chip configuration. It is
// immutable once computed.
type Plan struct {
	Reference rational.Rational
	PLLs      [2]PLLSolution // indexed by PLL-1
	Feasible  bool
}

// PLLFor returns the solution for pll.
func (p *Plan) PLLFor(pll PLL) *PLLSolution { return &p.PLLs[pll-1] }

// Output returns the solution for output out (1..NumOutputs), or nil when the
// output is disabled in this plan.
func (p *Plan) Output(out int) *OutputSolution {
	for i := range p.PLLs {
		for j := range p.PLLs[i].Outputs {
			if p.PLLs[i].Outputs[j].Output == out {
				return &p.PLLs[i].Outputs[j]
			}
		}
	}
	return nil
}

// Frequencies returns the achieved frequency per output, zero for disabled
// outputs.
func (p *Plan) Frequencies() []rational.Rational {
	fs := make([]rational.Rational, NumOutputs)
	for i := 1; i <= NumOutputs; i++ {
		if o := p.Output(i); o != nil && o.Enabled {
			fs[i-1] = o.Achieved
		}
	}
	return fs
}

// String renders the plan for the CLI.
func (p *Plan) String() string {
	var b strings.Builder
	for _, pll := range p.PLLs {
		if !pll.Enabled {
			fmt.Fprintf(&b, "PLL%d: off\n", pll.PLL)
			continue
		}
		fmt.Fprintf(&b, "PLL%d: VCO %s, feedback %s\n",
			pll.PLL, pll.VCO.FormatHz(), pll.Feedback)
		if !pll.VCO.Equal(pll.TargetVCO) {
			fmt.Fprintf(&b, "  (target VCO %s, offset %s)\n",
				pll.TargetVCO.FormatHz(), pll.VCO.Sub(pll.TargetVCO).FormatHz())
		}
		for _, o := range pll.Outputs {
			fmt.Fprintf(&b, "  out%d: /%s = %s", o.Output, o.Divider, o.Achieved.FormatHz())
			if !o.Exact() {
				fmt.Fprintf(&b, " (wanted %s, off by %s)",
					o.Target.FormatHz(), o.Deviation.Abs().FormatHz())
			}
			b.WriteByte('\n')
		}
	}
	return b.String()
}
