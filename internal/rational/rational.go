// Package rational provides exact rational arithmetic for frequency values.
//
// Every frequency in the planner is a Rational: comparisons are done by
// cross-multiplication and no step silently converts to floating point.
// Approximation (needed when a divider has a bounded-precision fractional
// part) is explicit via ApproxDenominator, which also returns the residual.
package rational

import (
	"math/big"
	"strings"

	"github.com/pkg/errors"
)

// ErrDivisionByZero is returned when dividing by an exact zero, or when
// constructing a Rational with a zero denominator.
var ErrDivisionByZero = errors.New("rational: division by zero")

// Rational is an immutable exact fraction. The zero value is 0. The
// denominator is always positive and the fraction is stored in lowest terms.
type Rational struct {
	r big.Rat
}

// Zero is the Rational 0.
var Zero = Rational{}

// New returns num/den. den must be non-zero.
func New(num, den int64) (Rational, error) {
	if den == 0 {
		return Rational{}, ErrDivisionByZero
	}
	var x Rational
	x.r.SetFrac64(num, den)
	return x, nil
}

// FromInt returns n as a Rational.
func FromInt(n int64) Rational {
	var x Rational
	x.r.SetInt64(n)
	return x
}

// FromBig returns num/den from arbitrary-precision parts. den must be
// non-zero. The inputs are copied.
func FromBig(num, den *big.Int) (Rational, error) {
	if den.Sign() == 0 {
		return Rational{}, ErrDivisionByZero
	}
	var x Rational
	x.r.SetFrac(num, den)
	return x, nil
}

// unit suffixes in decreasing match-length order, scale in Hz.
var unitScales = []struct {
	suffix string
	scale  int64
}{
	{"khz", 1e3},
	{"mhz", 1e6},
	{"ghz", 1e9},
	{"hz", 1},
	{"k", 1e3},
	{"m", 1e6},
	{"g", 1e9},
}

// Parse interprets a frequency literal and returns its value in Hz.
//
// The literal is a decimal or a/b fraction with an optional unit suffix
// (Hz, kHz, MHz, GHz, or the bare k/M/G letters, case-insensitive).
// Without a suffix the value is taken to be in MHz. Examples:
// "10MHz", "8844582Hz", "100/3MHz", "33.333", "1Hz".
func Parse(s string) (Rational, error) {
	t := strings.ToLower(strings.TrimSpace(s))
	scale := int64(1e6)
	for _, u := range unitScales {
		if strings.HasSuffix(t, u.suffix) {
			t = strings.TrimSpace(strings.TrimSuffix(t, u.suffix))
			scale = u.scale
			break
		}
	}
	if t == "" {
		return Rational{}, errors.Errorf("rational: empty frequency %q", s)
	}
	var x Rational
	if _, ok := x.r.SetString(t); !ok {
		return Rational{}, errors.Errorf("rational: cannot parse frequency %q", s)
	}
	var sc big.Rat
	sc.SetInt64(scale)
	x.r.Mul(&x.r, &sc)
	return x, nil
}

// ParseRatio interprets a dimensionless decimal or a/b fraction, with no unit
// handling and no implied scale.
func ParseRatio(s string) (Rational, error) {
	var x Rational
	if _, ok := x.r.SetString(strings.TrimSpace(s)); !ok {
		return Rational{}, errors.Errorf("rational: cannot parse ratio %q", s)
	}
	return x, nil
}

// MustParse is Parse for compiled-in literals; it panics on error.
func MustParse(s string) Rational {
	x, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return x
}

// Num returns a copy of the (signed) numerator.
func (x Rational) Num() *big.Int { return new(big.Int).Set(x.r.Num()) }

// Den returns a copy of the (positive) denominator.
func (x Rational) Den() *big.Int { return new(big.Int).Set(x.r.Denom()) }

// Add returns x + y.
func (x Rational) Add(y Rational) Rational {
	var z Rational
	z.r.Add(&x.r, &y.r)
	return z
}

// Sub returns x - y.
func (x Rational) Sub(y Rational) Rational {
	var z Rational
	z.r.Sub(&x.r, &y.r)
	return z
}

// Mul returns x * y.
func (x Rational) Mul(y Rational) Rational {
	var z Rational
	z.r.Mul(&x.r, &y.r)
	return z
}

// Div returns x / y, or ErrDivisionByZero if y is zero.
func (x Rational) Div(y Rational) (Rational, error) {
	if y.r.Sign() == 0 {
		return Rational{}, ErrDivisionByZero
	}
	var z Rational
	z.r.Quo(&x.r, &y.r)
	return z, nil
}

// MulInt returns x * n.
func (x Rational) MulInt(n int64) Rational {
	var z Rational
	z.r.SetInt64(n)
	z.r.Mul(&x.r, &z.r)
	return z
}

// DivInt returns x / n. n must be non-zero.
func (x Rational) DivInt(n int64) (Rational, error) {
	if n == 0 {
		return Rational{}, ErrDivisionByZero
	}
	var z Rational
	z.r.SetFrac64(1, n)
	z.r.Mul(&x.r, &z.r)
	return z, nil
}

// Neg returns -x.
func (x Rational) Neg() Rational {
	var z Rational
	z.r.Neg(&x.r)
	return z
}

// Abs returns |x|.
func (x Rational) Abs() Rational {
	var z Rational
	z.r.Abs(&x.r)
	return z
}

// Cmp compares x and y exactly: -1 if x < y, 0 if equal, +1 if x > y.
func (x Rational) Cmp(y Rational) int { return x.r.Cmp(&y.r) }

// Sign returns the sign of x.
func (x Rational) Sign() int { return x.r.Sign() }

// IsZero reports whether x == 0.
func (x Rational) IsZero() bool { return x.r.Sign() == 0 }

// IsInt reports whether x is an exact integer.
func (x Rational) IsInt() bool { return x.r.IsInt() }

// Equal reports whether x == y exactly.
func (x Rational) Equal(y Rational) bool { return x.r.Cmp(&y.r) == 0 }

// Floor returns the largest integer <= x.
func (x Rational) Floor() *big.Int {
	q := new(big.Int)
	m := new(big.Int)
	q.DivMod(x.r.Num(), x.r.Denom(), m)
	return q
}

// Ceil returns the smallest integer >= x.
func (x Rational) Ceil() *big.Int {
	q := x.Floor()
	if !x.r.IsInt() {
		q.Add(q, big.NewInt(1))
	}
	return q
}

// IsMultipleOf reports whether x is an exact integer multiple of y.
// A zero y is never a divisor of anything.
func (x Rational) IsMultipleOf(y Rational) bool {
	if y.r.Sign() == 0 {
		return false
	}
	q, _ := x.Div(y)
	return q.IsInt()
}

// Float64 returns the nearest float64. Display only; never used for planning
// decisions.
func (x Rational) Float64() float64 {
	f, _ := x.r.Float64()
	return f
}

// ApproxDenominator returns the closest Rational to x whose denominator does
// not exceed maxDen, together with the exact residual x - approx. maxDen must
// be at least 1. When x already satisfies the bound the approximation is x
// itself and the residual is zero.
//
// The approximation walks the continued-fraction convergents of x and then
// checks the final semiconvergent, which yields the best possible
// approximation under the denominator bound.
func (x Rational) ApproxDenominator(maxDen *big.Int) (Rational, Rational) {
	one := big.NewInt(1)
	if maxDen.Cmp(one) < 0 {
		panic("rational: ApproxDenominator bound < 1")
	}
	if x.r.Denom().Cmp(maxDen) <= 0 {
		return x, Rational{}
	}

	// Continued-fraction expansion of |x|.
	n := new(big.Int).Abs(x.r.Num())
	d := new(big.Int).Set(x.r.Denom())
	p0, q0 := big.NewInt(0), big.NewInt(1)
	p1, q1 := big.NewInt(1), big.NewInt(0)
	a, rem, q2 := new(big.Int), new(big.Int), new(big.Int)
	for {
		a.DivMod(n, d, rem)
		q2.Mul(a, q1)
		q2.Add(q2, q0)
		if q2.Cmp(maxDen) > 0 {
			break
		}
		p2 := new(big.Int).Mul(a, p1)
		p2.Add(p2, p0)
		p0, q0, p1, q1 = p1, q1, p2, new(big.Int).Set(q2)
		n, d = d, new(big.Int).Set(rem)
		// d cannot hit zero here: an exact expansion means the original
		// denominator was within the bound, handled above.
	}

	// Best semiconvergent between the last two convergents.
	k := new(big.Int).Sub(maxDen, q0)
	k.Div(k, q1)
	sp := new(big.Int).Mul(k, p1)
	sp.Add(sp, p0)
	sq := new(big.Int).Mul(k, q1)
	sq.Add(sq, q0)

	xabs := x.Abs()
	cand1, _ := FromBig(sp, sq)
	cand2, _ := FromBig(p1, q1)
	best := cand2
	if xabs.Sub(cand1).Abs().Cmp(xabs.Sub(cand2).Abs()) < 0 {
		best = cand1
	}
	if x.Sign() < 0 {
		best = best.Neg()
	}
	return best, x.Sub(best)
}

// String formats x as "n" or "n/d".
func (x Rational) String() string { return x.r.RatString() }

var hzScales = []struct {
	limit  Rational
	scale  Rational
	suffix string
}{
	// VCO-range frequencies below 10 GHz read better in MHz.
	{FromInt(10_000_000_000), FromInt(1e9), "GHz"},
	{FromInt(1e6), FromInt(1e6), "MHz"},
	{FromInt(1e3), FromInt(1e3), "kHz"},
}

// FormatHz renders a frequency (in Hz) with an SI suffix. Exact fractions keep
// their fractional part as "+n/d" rather than a rounded decimal.
func (x Rational) FormatHz() string {
	if x.IsZero() {
		return "off"
	}
	a := x.Abs()
	for _, s := range hzScales {
		if a.Cmp(s.limit) >= 0 {
			v, _ := x.Div(s.scale)
			return formatScaled(v, s.suffix)
		}
	}
	return formatScaled(x, "Hz")
}

func formatScaled(v Rational, suffix string) string {
	if v.IsInt() {
		return v.r.Num().String() + " " + suffix
	}
	// Terminating decimals are shown as such (exactly); other small
	// denominators read better as a fraction; the rest get a 9-digit decimal.
	if new(big.Int).Mod(billion, v.r.Denom()).Sign() == 0 || v.r.Denom().Cmp(big.NewInt(1000)) > 0 {
		return strings.TrimRight(strings.TrimRight(v.r.FloatString(9), "0"), ".") + " " + suffix
	}
	i := v.Floor()
	frac := v.Sub(Rational{r: *new(big.Rat).SetInt(i)})
	return i.String() + "+" + frac.String() + " " + suffix
}

var billion = big.NewInt(1_000_000_000)
