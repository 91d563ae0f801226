/*
Package money implements the unit & money model: parsing and formatting of
mixed-unit product quantities (kg-grams, piece, foot, ...) and rounded money
arithmetic.

All cross-component arithmetic elsewhere in this module happens in base
units (the smallest unit for the product's unit type, e.g. grams for
kg-grams); display conversion happens only at the edge, via Format.

SEE ALSO:
  - storage: persists base-unit integers (quantity_base) alongside the
    entered display string (quantity_display)
  - stock: works on plain int64 base-unit deltas for stock_movements
*/
package money

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// UnitType enumerates the product unit families the engine understands.
type UnitType string

const (
	UnitKgGrams UnitType = "kg-grams"
	UnitKg      UnitType = "kg"
	UnitPiece   UnitType = "piece"
	UnitBag     UnitType = "bag"
	UnitMeter   UnitType = "meter"
	UnitFoot    UnitType = "foot"
	UnitTon     UnitType = "ton"
)

// Money is a monetary amount, always rounded to 2 decimals, half-away-from-zero.
type Money struct {
	d decimal.Decimal
}

// Zero is the additive identity.
var Zero = Money{d: decimal.Zero}

// NewMoney rounds v to 2 decimals (half-away-from-zero) and wraps it.
func NewMoney(v decimal.Decimal) Money {
	return Money{d: roundHalfAwayFromZero(v, 2)}
}

// NewMoneyFromFloat is a convenience constructor for literals in code and tests.
func NewMoneyFromFloat(v float64) Money {
	return NewMoney(decimal.NewFromFloat(v))
}

// ParseMoney parses a decimal string into a rounded Money value.
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Money{}, fmt.Errorf("money: invalid amount %q: %w", s, err)
	}
	return NewMoney(d), nil
}

func (m Money) Decimal() decimal.Decimal { return m.d }
func (m Money) Add(o Money) Money        { return NewMoney(m.d.Add(o.d)) }
func (m Money) Sub(o Money) Money        { return NewMoney(m.d.Sub(o.d)) }
func (m Money) Neg() Money               { return NewMoney(m.d.Neg()) }
func (m Money) IsZero() bool             { return m.d.IsZero() }
func (m Money) IsNegative() bool         { return m.d.IsNegative() }
func (m Money) IsPositive() bool         { return m.d.IsPositive() }
func (m Money) GreaterThan(o Money) bool { return m.d.GreaterThan(o.d) }
func (m Money) LessThan(o Money) bool    { return m.d.LessThan(o.d) }
func (m Money) Equal(o Money) bool       { return m.d.Equal(o.d) }

// Max0 floors the amount at zero (used for remaining_balance = max(0, ...)).
func (m Money) Max0() Money {
	if m.d.IsNegative() {
		return Zero
	}
	return m
}

func (m Money) Min(o Money) Money {
	if m.LessThan(o) {
		return m
	}
	return o
}

// String renders with exactly 2 decimal places.
func (m Money) String() string { return m.d.StringFixed(2) }

// roundHalfAwayFromZero rounds v to `places` decimals, rounding .5 away from
// zero rather than banker's rounding (shopspring/decimal's default Round
// uses half-away-from-zero already; this wrapper documents the contract so
// callers never reach for a different rounding mode by accident).
func roundHalfAwayFromZero(v decimal.Decimal, places int32) decimal.Decimal {
	return v.Round(places)
}

// Quantity is a product quantity expressed as an integer count of base
// units (grams for kg-grams/kg/ton, the item itself for piece/bag,
// thousandths of a meter/foot for meter/foot). All engine arithmetic on
// quantities happens on this integer; Format renders it for display only.
type Quantity struct {
	BaseUnits int64
	Unit      UnitType
}

// scale returns how many base units make up one "whole" display unit, and
// whether the unit type accepts fractional whole-unit input (foot/meter do;
// piece/bag do not).
func scale(u UnitType) (base int64, fractional bool) {
	switch u {
	case UnitKgGrams, UnitKg:
		return 1000, false // base unit: grams
	case UnitTon:
		return 1000000, false // base unit: grams (1 ton = 1,000,000 g)
	case UnitPiece, UnitBag:
		return 1, false // base unit: the item itself, integer only
	case UnitMeter, UnitFoot:
		return 1000, true // base unit: thousandths, decimals allowed
	default:
		return 1, false
	}
}

// Parse converts a display string into a base-unit Quantity.
//
// kg-grams uses "<kg>-<grams>" syntax, e.g. "5-200" -> 5*1000+200 = 5200 g.
// kg and ton accept a decimal, e.g. "5.5" -> 5500 g (kg) or 5500000 g (ton).
// piece and bag are integer-only.
// meter and foot accept a decimal with millimeter-equivalent precision.
func Parse(s string, unit UnitType) (Quantity, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Quantity{}, fmt.Errorf("money: empty quantity for unit %s", unit)
	}

	switch unit {
	case UnitKgGrams:
		parts := strings.SplitN(s, "-", 2)
		kg, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return Quantity{}, fmt.Errorf("money: invalid kg component in %q: %w", s, err)
		}
		var grams int64
		if len(parts) == 2 && parts[1] != "" {
			grams, err = strconv.ParseInt(parts[1], 10, 64)
			if err != nil {
				return Quantity{}, fmt.Errorf("money: invalid gram component in %q: %w", s, err)
			}
			if grams < 0 || grams >= 1000 {
				return Quantity{}, fmt.Errorf("money: gram component out of range in %q", s)
			}
		}
		if kg < 0 {
			return Quantity{}, fmt.Errorf("money: negative quantity %q", s)
		}
		return Quantity{BaseUnits: kg*1000 + grams, Unit: unit}, nil

	case UnitPiece, UnitBag:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Quantity{}, fmt.Errorf("money: %s requires an integer, got %q: %w", unit, s, err)
		}
		if n < 0 {
			return Quantity{}, fmt.Errorf("money: negative quantity %q", s)
		}
		return Quantity{BaseUnits: n, Unit: unit}, nil

	case UnitKg, UnitTon, UnitMeter, UnitFoot:
		d, err := decimal.NewFromString(s)
		if err != nil {
			return Quantity{}, fmt.Errorf("money: invalid quantity %q: %w", s, err)
		}
		if d.IsNegative() {
			return Quantity{}, fmt.Errorf("money: negative quantity %q", s)
		}
		base, _ := scale(unit)
		scaled := d.Mul(decimal.NewFromInt(base)).Round(0)
		return Quantity{BaseUnits: scaled.IntPart(), Unit: unit}, nil

	default:
		return Quantity{}, fmt.Errorf("money: unknown unit type %q", unit)
	}
}

// Format renders a base-unit Quantity back into its display string.
func Format(baseUnits int64, unit UnitType) string {
	switch unit {
	case UnitKgGrams:
		kg := baseUnits / 1000
		g := baseUnits % 1000
		if g < 0 {
			g = -g
		}
		return fmt.Sprintf("%d-%d", kg, g)

	case UnitPiece, UnitBag:
		return strconv.FormatInt(baseUnits, 10)

	case UnitKg, UnitTon, UnitMeter, UnitFoot:
		base, _ := scale(unit)
		d := decimal.NewFromInt(baseUnits).Div(decimal.NewFromInt(base))
		return d.StringFixed(3)

	default:
		return strconv.FormatInt(baseUnits, 10)
	}
}

// Add sums two base-unit deltas with an overflow check; the engine never
// expects products at a scale where int64 addition overflows, so this is a
// defensive guard rather than a real operating condition.
func Add(a, b int64) (int64, error) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, fmt.Errorf("money: quantity overflow adding %d and %d", a, b)
	}
	return sum, nil
}
