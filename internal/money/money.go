// Package money wraps github.com/shopspring/decimal with the parsing and
// formatting rules the wire facade and domain layer both rely on: decimal
// strings with up to 18 fractional digits, and parse failure classified as
// an InvalidArgument rather than a panic or a bare error string.
package money

import (
	"github.com/rishav/clob-exchange/internal/apperr"
	"github.com/shopspring/decimal"
)

// MaxFractionalDigits is the precision ceiling the wire protocol promises
// clients: decimal strings with up to this many fractional digits.
const MaxFractionalDigits = 18

// Zero is the additive identity, reused to avoid repeated allocation at
// call sites that need a fresh zero value.
var Zero = decimal.Zero

// Parse converts a decimal string (as found in request fields like
// "amount" or "price") into a decimal.Decimal. An empty or malformed
// string is InvalidArgument, matching the error taxonomy for malformed
// decimals.
func Parse(field, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Decimal{}, apperr.Invalid("%s: missing decimal value", field)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, apperr.Wrap(apperr.InvalidArgument, field+": malformed decimal", err)
	}
	if d.Exponent() < -MaxFractionalDigits {
		return decimal.Decimal{}, apperr.Invalid("%s: more than %d fractional digits", field, MaxFractionalDigits)
	}
	return d, nil
}

// ParsePositive is Parse plus a requirement that the value is strictly
// greater than zero, the shape most amount fields need.
func ParsePositive(field, s string) (decimal.Decimal, error) {
	d, err := Parse(field, s)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if !d.IsPositive() {
		return decimal.Decimal{}, apperr.Invalid("%s: must be positive", field)
	}
	return d, nil
}

// Format renders a decimal back to its canonical wire string.
func Format(d decimal.Decimal) string {
	return d.String()
}
