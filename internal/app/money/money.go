// Package money converts between decimal amounts on the wire and the int64
// minor units the ledger stores.
package money

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultScale is the number of fractional digits in one unit.
const DefaultScale int32 = 2

var (
	ErrTooPrecise = errors.New("amount has too many fractional digits")
	ErrOutOfRange = errors.New("amount out of range")
)

var maxMinor = decimal.NewFromInt(math.MaxInt64)

// Codec formats and parses amounts at a fixed scale.
type Codec struct {
	Scale    int32
	Currency string
}

// NewCodec returns a codec; a negative scale falls back to DefaultScale.
func NewCodec(scale int32, currency string) Codec {
	if scale < 0 {
		scale = DefaultScale
	}
	return Codec{Scale: scale, Currency: strings.TrimSpace(currency)}
}

// Format renders minor units as a fixed-point string, e.g. 2500 -> "25.00".
func (c Codec) Format(minor int64) string {
	return decimal.New(minor, -c.Scale).StringFixed(c.Scale)
}

// Parse converts a decimal string to minor units.
func (c Codec) Parse(s string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return c.ToMinor(d)
}

// ToMinor converts d to minor units. It fails rather than rounds when d has
// more fractional digits than the scale allows.
func (c Codec) ToMinor(d decimal.Decimal) (int64, error) {
	shifted := d.Shift(c.Scale)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("%w: at most %d allowed", ErrTooPrecise, c.Scale)
	}
	if shifted.Abs().GreaterThan(maxMinor) {
		return 0, ErrOutOfRange
	}
	return shifted.IntPart(), nil
}
