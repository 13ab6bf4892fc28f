package chip

import (
	"math/big"
	"testing"

	"gpsfreak/internal/rational"
)

// testPlan builds a feasible plan by hand: PLL1 at 2.5 GHz feeding out1 and
// out3, PLL2 at 17600/3 MHz feeding out4 through a fractional divider.
func testPlan(t *testing.T) *Plan {
	t.Helper()
	ref := rational.FromInt(8_844_582)
	vco1 := rational.FromInt(2_500_000_000)
	fb1, err := vco1.Div(ref)
	if err != nil {
		t.Fatalf("Div: %v", err)
	}
	vco2, _ := rational.New(17_600_000_000, 3)
	fb2, err := vco2.Div(ref)
	if err != nil {
		t.Fatalf("Div: %v", err)
	}
	out := func(n int, pll PLL, div rational.Rational) OutputSolution {
		f, err := map[PLL]rational.Rational{PLL1: vco1, PLL2: vco2}[pll].Div(div)
		if err != nil {
			t.Fatalf("Div: %v", err)
		}
		return OutputSolution{Output: n, Enabled: true, PLL: pll, Divider: div, Target: f, Achieved: f}
	}
	return &Plan{
		Reference: ref,
		Feasible:  true,
		PLLs: [2]PLLSolution{
			{
				PLL: PLL1, Enabled: true, VCO: vco1, TargetVCO: vco1, Feedback: fb1,
				Outputs: []OutputSolution{
					out(1, PLL1, rational.FromInt(250)),
					out(3, PLL1, rational.FromInt(2_500_000_000)),
				},
			},
			{
				PLL: PLL2, Enabled: true, VCO: vco2, TargetVCO: vco2, Feedback: fb2,
				Outputs: []OutputSolution{
					out(4, PLL2, rational.FromInt(176)),
				},
			},
		},
	}
}

func applyWrites(t *testing.T, writes []RegisterWrite) []byte {
	t.Helper()
	window := make([]byte, DataSize)
	for i, w := range writes {
		if w.Index != i {
			t.Fatalf("write %d carries index %d", i, w.Index)
		}
		if int(w.Addr) >= DataSize {
			t.Fatalf("write to R%d outside the register window", w.Addr)
		}
		window[w.Addr] = w.Value
	}
	return window
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	p := testPlan(t)
	writes, err := Encode(p)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	back, err := Decode(applyWrites(t, writes), p.Reference)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	for _, pll := range []PLL{PLL1, PLL2} {
		a, b := p.PLLFor(pll), back.PLLFor(pll)
		if a.Enabled != b.Enabled || !a.VCO.Equal(b.VCO) || !a.Feedback.Equal(b.Feedback) {
			t.Fatalf("PLL%d mismatch: %+v vs %+v", pll, a, b)
		}
	}
	for n := 1; n <= NumOutputs; n++ {
		a, b := p.Output(n), back.Output(n)
		if (a == nil) != (b == nil) {
			t.Fatalf("out%d enable mismatch", n)
		}
		if a == nil {
			continue
		}
		if !a.Divider.Equal(b.Divider) || !a.Achieved.Equal(b.Achieved) || a.PLL != b.PLL {
			t.Fatalf("out%d mismatch: %+v vs %+v", n, a, b)
		}
	}
}

func TestEncodeStrobesLast(t *testing.T) {
	writes, err := Encode(testPlan(t))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	strobe := map[uint16]bool{regPLL1Update: true, regPLL2Update: true}
	seen := false
	for _, w := range writes {
		if strobe[w.Addr] {
			seen = true
			continue
		}
		if seen {
			t.Fatalf("value write to R%d after an update strobe", w.Addr)
		}
	}
	if !seen {
		t.Fatalf("no update strobes emitted")
	}
}

func TestEncodeDisabledBlocks(t *testing.T) {
	p := testPlan(t)
	p.PLLs[1] = PLLSolution{PLL: PLL2}
	writes, err := Encode(p)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	window := applyWrites(t, writes)
	if window[regPLL2Ctrl]&ctrlEnable != 0 {
		t.Fatalf("PLL2 control should clear the enable bit")
	}
	if window[regOut4Ctrl]&ctrlEnable != 0 {
		t.Fatalf("out4 control should clear the enable bit")
	}
	back, err := Decode(window, p.Reference)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if back.PLLFor(PLL2).Enabled || back.Output(4) != nil {
		t.Fatalf("disabled blocks resurfaced after decode")
	}
}

func TestEncodeRefusesInfeasible(t *testing.T) {
	p := testPlan(t)
	p.Feasible = false
	if _, err := Encode(p); err == nil {
		t.Fatalf("expected refusal")
	}
}

func TestEncodeFieldOverflow(t *testing.T) {
	p := testPlan(t)
	// Force an out1 divider whose value-1 does not fit one byte.
	p.PLLs[0].Outputs[0].Divider = rational.FromInt(300)
	_, err := Encode(p)
	fe, ok := err.(*FieldError)
	if !ok {
		t.Fatalf("want *FieldError, got %v", err)
	}
	if fe.Addr != regOut1Div || fe.Bytes != 1 {
		t.Fatalf("unexpected field: %+v", fe)
	}
}

// TestEncodeFeedbackAtFieldBounds pins the constraint table to the register
// layout: the largest feedback divider LegalFeedback accepts must fit the
// feedback fields, so a FieldError can never surface for a planned value.
func TestEncodeFeedbackAtFieldBounds(t *testing.T) {
	c := Default()
	for _, pll := range []PLL{PLL1, PLL2} {
		caps := c.FeedbackCapability(pll)
		frac, err := rational.FromBig(new(big.Int).Sub(caps.FBDenBound, big.NewInt(1)), caps.FBDenBound)
		if err != nil {
			t.Fatalf("FromBig: %v", err)
		}
		fb := rational.FromInt(caps.FBIntMax).Add(frac)
		if !c.LegalFeedback(pll, fb) {
			t.Fatalf("PLL%d: maximal feedback %s rejected", pll, fb)
		}
		if c.LegalFeedback(pll, rational.FromInt(caps.FBIntMax+1)) {
			t.Fatalf("PLL%d: integer part %d exceeds the register field", pll, caps.FBIntMax+1)
		}

		p := &Plan{Reference: rational.FromInt(8_844_582), Feasible: true}
		*p.PLLFor(pll) = PLLSolution{
			PLL: pll, Enabled: true,
			VCO: p.Reference.Mul(fb), TargetVCO: p.Reference.Mul(fb), Feedback: fb,
		}
		other := PLL1
		if pll == PLL1 {
			other = PLL2
		}
		p.PLLFor(other).PLL = other
		if _, err := Encode(p); err != nil {
			t.Fatalf("PLL%d: maximal feedback does not encode: %v", pll, err)
		}
	}
}

func TestDecodeRejectsShortWindow(t *testing.T) {
	if _, err := Decode(make([]byte, DataSize-1), rational.FromInt(8_844_582)); err == nil {
		t.Fatalf("short window accepted")
	}
}

func TestDecodeRejectsZeroDenominator(t *testing.T) {
	writes, err := Encode(testPlan(t))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	window := make([]byte, DataSize)
	for _, w := range writes {
		window[w.Addr] = w.Value
	}
	for i := 0; i < 3; i++ {
		window[regOut4Den+i] = 0
	}
	if _, err := Decode(window, rational.FromInt(8_844_582)); err == nil {
		t.Fatalf("zero out4 denominator accepted")
	}
}

func TestDecodeRejectsOrphanOutput(t *testing.T) {
	window := make([]byte, DataSize)
	// out1 enabled and sourced from PLL1, but PLL1 is down.
	window[regOut1Ctrl] = ctrlEnable
	window[regOut1Div] = 249
	if _, err := Decode(window, rational.FromInt(8_844_582)); err == nil {
		t.Fatalf("output from a disabled PLL accepted")
	}
}

func TestFieldMax(t *testing.T) {
	if fieldMax(8).Cmp(big.NewInt(255)) != 0 {
		t.Fatalf("fieldMax(8) = %s", fieldMax(8))
	}
	want := new(big.Int).Lsh(big.NewInt(1), 40)
	want.Sub(want, big.NewInt(1))
	if fieldMax(40).Cmp(want) != 0 {
		t.Fatalf("fieldMax(40) = %s", fieldMax(40))
	}
}
