package chip

import (
	"fmt"
	"math/big"

	"github.com/pkg/errors"

	"gpsfreak/internal/rational"
)

// DataSize is the size of the chip's register window. Reads and the flat
// register-file format cover addresses [0, DataSize).
const DataSize = 353

// Register layout. Multi-byte fields are big-endian, highest byte at the
// lowest address. The update strobes latch the divider values written before
// them, so Encode always emits them last.
const (
	regPLL1FBInt  = 100 // 2 bytes, feedback integer part
	regPLL1FBNum  = 102 // 5 bytes, feedback fractional numerator
	regPLL1FBDen  = 107 // 5 bytes, feedback fractional denominator
	regPLL1Ctrl   = 112 // bit0: enable
	regPLL1Update = 113 // bit0: divider update strobe (self-clearing)

	regPLL2FBInt  = 120 // 2 bytes
	regPLL2FBNum  = 122 // 3 bytes
	regPLL2FBDen  = 125 // 3 bytes
	regPLL2Ctrl   = 128 // bit0: enable
	regPLL2Update = 129 // bit0: divider update strobe (self-clearing)

	regOut1Ctrl = 140 // bit0: enable, bit1: source (0=PLL1, 1=PLL2)
	regOut1Div  = 141 // 1 byte, stores divider-1
	regOut2Ctrl = 144
	regOut2Div  = 145
	regOut3Ctrl = 148
	regOut3Div  = 149 // 4 bytes, stores divider-1
	regOut4Ctrl = 156
	regOut4Int  = 157 // 2 bytes, divider integer part
	regOut4Num  = 159 // 3 bytes, divider fractional numerator
	regOut4Den  = 162 // 3 bytes, divider fractional denominator

	ctrlEnable = 1 << 0
	ctrlSrc2   = 1 << 1
)

// Writable reports whether addr may be bulk-written when uploading a register
// file. The identification block at the bottom of the window is read-only and
// the self-clearing update strobes must not be replayed from a file.
func Writable(addr uint16) bool {
	if addr < 8 || addr >= DataSize {
		return false
	}
	return addr != regPLL1Update && addr != regPLL2Update
}

// fieldMax returns the largest value a bits-wide register field holds.
func fieldMax(bits uint) *big.Int {
	m := new(big.Int).Lsh(big.NewInt(1), bits)
	return m.Sub(m, big.NewInt(1))
}

// RegisterWrite is one register write. A plan is realized as an ordered
// sequence of these; Index is the position in that sequence.
type RegisterWrite struct {
	Addr  uint16
	Value uint8
	Index int
}

// FieldError reports a plan value that does not fit its register field. It is
// an internal invariant violation: the planner enforces range legality before
// encoding, so seeing one is a defect, not a runtime condition.
type FieldError struct {
	Addr  uint16
	Bytes int
	Value *big.Int
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("chip: value %s overflows %d-byte field at R%d",
		e.Value, e.Bytes, e.Addr)
}

type encoder struct {
	writes []RegisterWrite
}

func (e *encoder) put(addr uint16, value uint8) {
	e.writes = append(e.writes, RegisterWrite{Addr: addr, Value: value, Index: len(e.writes)})
}

// putBig writes value big-endian into the n-byte field at addr.
func (e *encoder) putBig(addr uint16, n int, value *big.Int) error {
	if value.Sign() < 0 || value.BitLen() > 8*n {
		return &FieldError{Addr: addr, Bytes: n, Value: new(big.Int).Set(value)}
	}
	b := value.FillBytes(make([]byte, n))
	for i := 0; i < n; i++ {
		e.put(addr+uint16(i), b[i])
	}
	return nil
}

// splitFraction splits a non-negative rational into integer part and
// fractional numerator/denominator.
func splitFraction(x rational.Rational) (ip, num, den *big.Int) {
	ip = x.Floor()
	fr := x.Sub(mustInt(ip))
	return ip, fr.Num(), fr.Den()
}

func mustInt(i *big.Int) rational.Rational {
	x, _ := rational.FromBig(i, big.NewInt(1))
	return x
}

func (e *encoder) pll(p *PLLSolution, fbInt, fbNum, fbDen, ctrl uint16, numBytes int) error {
	if !p.Enabled {
		e.put(ctrl, 0)
		return nil
	}
	ip, num, den := splitFraction(p.Feedback)
	if err := e.putBig(fbInt, 2, ip); err != nil {
		return err
	}
	if err := e.putBig(fbNum, numBytes, num); err != nil {
		return err
	}
	if err := e.putBig(fbDen, numBytes, den); err != nil {
		return err
	}
	e.put(ctrl, ctrlEnable)
	return nil
}

func ctrlByte(o *OutputSolution) uint8 {
	v := uint8(ctrlEnable)
	if o.PLL == PLL2 {
		v |= ctrlSrc2
	}
	return v
}

// Encode maps a plan to the ordered register write sequence realizing it.
// The order matters: divider update strobes are emitted after every value
// field they latch.
func Encode(p *Plan) ([]RegisterWrite, error) {
	if !p.Feasible {
		return nil, errors.New("chip: refusing to encode an infeasible plan")
	}
	var e encoder

	if err := e.pll(p.PLLFor(PLL1), regPLL1FBInt, regPLL1FBNum, regPLL1FBDen, regPLL1Ctrl, 5); err != nil {
		return nil, err
	}
	if err := e.pll(p.PLLFor(PLL2), regPLL2FBInt, regPLL2FBNum, regPLL2FBDen, regPLL2Ctrl, 3); err != nil {
		return nil, err
	}

	outCtrl := [NumOutputs]uint16{regOut1Ctrl, regOut2Ctrl, regOut3Ctrl, regOut4Ctrl}
	for i := 1; i <= NumOutputs; i++ {
		o := p.Output(i)
		if o == nil || !o.Enabled {
			e.put(outCtrl[i-1], 0)
			continue
		}
		switch i {
		case 1, 2:
			div := new(big.Int).Sub(o.Divider.Num(), big.NewInt(1))
			addr := uint16(regOut1Div)
			if i == 2 {
				addr = regOut2Div
			}
			if err := e.putBig(addr, 1, div); err != nil {
				return nil, err
			}
		case 3:
			div := new(big.Int).Sub(o.Divider.Num(), big.NewInt(1))
			if err := e.putBig(regOut3Div, 4, div); err != nil {
				return nil, err
			}
		case 4:
			ip, num, den := splitFraction(o.Divider)
			if err := e.putBig(regOut4Int, 2, ip); err != nil {
				return nil, err
			}
			if err := e.putBig(regOut4Num, 3, num); err != nil {
				return nil, err
			}
			if err := e.putBig(regOut4Den, 3, den); err != nil {
				return nil, err
			}
		}
		e.put(outCtrl[i-1], ctrlByte(o))
	}

	// Strobes last, after every value field they apply to.
	e.put(regPLL1Update, 1)
	e.put(regPLL2Update, 1)
	return e.writes, nil
}

func getBig(window []byte, addr uint16, n int) *big.Int {
	return new(big.Int).SetBytes(window[addr : addr+uint16(n)])
}

// Decode reconstructs a plan from a register window, given the reference
// input frequency. It is the inverse of Encode for feasible plans; the
// decoded targets are the achieved frequencies and all deviations are zero.
func Decode(window []byte, ref rational.Rational) (*Plan, error) {
	if len(window) < DataSize {
		return nil, errors.Errorf("chip: register window too short: %d < %d", len(window), DataSize)
	}
	p := &Plan{Reference: ref, Feasible: true}

	type pllRegs struct {
		pll                 PLL
		fbInt, fbNum, fbDen uint16
		ctrl                uint16
		numBytes            int
	}
	for _, r := range []pllRegs{
		{PLL1, regPLL1FBInt, regPLL1FBNum, regPLL1FBDen, regPLL1Ctrl, 5},
		{PLL2, regPLL2FBInt, regPLL2FBNum, regPLL2FBDen, regPLL2Ctrl, 3},
	} {
		sol := PLLSolution{PLL: r.pll}
		if window[r.ctrl]&ctrlEnable != 0 {
			den := getBig(window, r.fbDen, r.numBytes)
			if den.Sign() == 0 {
				return nil, errors.Errorf("chip: PLL%d fractional denominator is zero", r.pll)
			}
			frac, err := rational.FromBig(getBig(window, r.fbNum, r.numBytes), den)
			if err != nil {
				return nil, err
			}
			fb := mustInt(getBig(window, r.fbInt, 2)).Add(frac)
			sol.Enabled = true
			sol.Feedback = fb
			sol.VCO = ref.Mul(fb)
			sol.TargetVCO = sol.VCO
		}
		p.PLLs[r.pll-1] = sol
	}

	type outRegs struct {
		out  int
		ctrl uint16
	}
	for _, r := range []outRegs{{1, regOut1Ctrl}, {2, regOut2Ctrl}, {3, regOut3Ctrl}, {4, regOut4Ctrl}} {
		cb := window[r.ctrl]
		if cb&ctrlEnable == 0 {
			continue
		}
		pll := PLL1
		if cb&ctrlSrc2 != 0 {
			pll = PLL2
		}
		var div rational.Rational
		switch r.out {
		case 1:
			div = rational.FromInt(int64(window[regOut1Div]) + 1)
		case 2:
			div = rational.FromInt(int64(window[regOut2Div]) + 1)
		case 3:
			d := getBig(window, regOut3Div, 4)
			d.Add(d, big.NewInt(1))
			div = mustInt(d)
		case 4:
			den := getBig(window, regOut4Den, 3)
			if den.Sign() == 0 {
				return nil, errors.New("chip: out4 fractional denominator is zero")
			}
			frac, err := rational.FromBig(getBig(window, regOut4Num, 3), den)
			if err != nil {
				return nil, err
			}
			div = mustInt(getBig(window, regOut4Int, 2)).Add(frac)
		}
		src := p.PLLFor(pll)
		if !src.Enabled {
			return nil, errors.Errorf("chip: out%d enabled but PLL%d is down", r.out, pll)
		}
		f, err := src.VCO.Div(div)
		if err != nil {
			return nil, errors.Wrapf(err, "chip: out%d divider", r.out)
		}
		src.Outputs = append(src.Outputs, OutputSolution{
			Output: r.out, Enabled: true, PLL: pll,
			Divider: div, Target: f, Achieved: f,
		})
	}
	return p, nil
}
