package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/cockroachdb/apd/v3"
)

// Sign flags of the numeric wire format.
const (
	numericPos  uint16 = 0x0000
	numericNeg  uint16 = 0x4000
	numericNaN  uint16 = 0xC000
	numericPInf uint16 = 0xD000
	numericNInf uint16 = 0xF000
)

const (
	numericGroupDigits = 4
	numericBase        = 10000
	numericHeaderLen   = 8
)

// EncodeNumeric encodes a plain decimal string ("-12.50", "0.001", "42").
// Exponent notation is not accepted; use EncodeDecimal for apd values.
func EncodeNumeric(s string) ([]byte, error) {
	return AppendNumeric(nil, s)
}

// AppendNumeric appends the encoding of the decimal string s to buf.
func AppendNumeric(buf []byte, s string) ([]byte, error) {
	neg, intPart, fracPart, ok := splitDecimal(s)
	if !ok {
		return nil, fmt.Errorf("numeric: invalid decimal %q", s)
	}
	if intPart == "" {
		intPart = "0"
	}

	dscale := len(fracPart)
	if dscale > math.MaxInt16 {
		return nil, fmt.Errorf("numeric: scale %d out of range", dscale)
	}

	if r := len(intPart) % numericGroupDigits; r != 0 {
		intPart = strings.Repeat("0", numericGroupDigits-r) + intPart
	}
	if r := len(fracPart) % numericGroupDigits; r != 0 {
		fracPart += strings.Repeat("0", numericGroupDigits-r)
	}

	all := intPart + fracPart
	groups := make([]uint16, len(all)/numericGroupDigits)
	for i := range groups {
		var g uint16
		for _, ch := range all[i*numericGroupDigits : (i+1)*numericGroupDigits] {
			g = g*10 + uint16(ch-'0')
		}
		groups[i] = g
	}

	weight := len(intPart)/numericGroupDigits - 1
	for len(groups) > 1 && groups[0] == 0 {
		groups = groups[1:]
		weight--
	}
	if len(groups) > math.MaxInt16 || weight > math.MaxInt16 || weight < math.MinInt16 {
		return nil, fmt.Errorf("numeric: %q out of range", s)
	}

	sign := numericPos
	if neg {
		sign = numericNeg
	}

	buf = binary.BigEndian.AppendUint16(buf, uint16(int16(len(groups))))
	buf = binary.BigEndian.AppendUint16(buf, uint16(int16(weight)))
	buf = binary.BigEndian.AppendUint16(buf, sign)
	buf = binary.BigEndian.AppendUint16(buf, uint16(dscale))
	for _, g := range groups {
		buf = binary.BigEndian.AppendUint16(buf, g)
	}
	return buf, nil
}

// DecodeNumeric decodes a numeric into its plain decimal string. The NaN and
// infinity signs are errors, never numbers.
func DecodeNumeric(src []byte) (string, error) {
	if len(src) < numericHeaderLen {
		return "", fmt.Errorf("numeric: buffer too short (%d bytes)", len(src))
	}
	ndigits := int(int16(binary.BigEndian.Uint16(src[0:])))
	weight := int(int16(binary.BigEndian.Uint16(src[2:])))
	sign := binary.BigEndian.Uint16(src[4:])
	dscale := int(binary.BigEndian.Uint16(src[6:]))

	switch sign {
	case numericPos, numericNeg:
	case numericNaN:
		return "", ErrNumericNaN
	case numericPInf, numericNInf:
		return "", ErrNumericInfinity
	default:
		return "", fmt.Errorf("numeric: invalid sign 0x%04x", sign)
	}
	if ndigits < 0 || len(src) != numericHeaderLen+2*ndigits {
		return "", fmt.Errorf("numeric: %d digit groups do not match %d byte buffer", ndigits, len(src))
	}

	groups := make([]int, ndigits)
	for i := range groups {
		g := int(binary.BigEndian.Uint16(src[numericHeaderLen+2*i:]))
		if g >= numericBase {
			return "", fmt.Errorf("numeric: digit group %d out of range", g)
		}
		groups[i] = g
	}
	group := func(i int) int {
		if i < 0 || i >= len(groups) {
			return 0
		}
		return groups[i]
	}

	var intb strings.Builder
	for i := 0; i <= weight; i++ {
		fmt.Fprintf(&intb, "%04d", group(i))
	}
	intStr := strings.TrimLeft(intb.String(), "0")
	if intStr == "" {
		intStr = "0"
	}

	var fracb strings.Builder
	for k := 1; fracb.Len() < dscale; k++ {
		fmt.Fprintf(&fracb, "%04d", group(weight+k))
	}

	out := intStr
	if dscale > 0 {
		out += "." + fracb.String()[:dscale]
	}
	if sign == numericNeg {
		out = "-" + out
	}
	return out, nil
}

// EncodeDecimal encodes an apd decimal. NaN and infinities are rejected.
func EncodeDecimal(d *apd.Decimal) ([]byte, error) {
	if d.Form != apd.Finite {
		return nil, fmt.Errorf("numeric: cannot encode %s", d.String())
	}
	return EncodeNumeric(d.Text('f'))
}

// DecodeDecimal decodes a numeric into an apd decimal, keeping its scale.
func DecodeDecimal(src []byte) (*apd.Decimal, error) {
	s, err := DecodeNumeric(src)
	if err != nil {
		return nil, err
	}
	d, _, err := apd.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("numeric: %w", err)
	}
	return d, nil
}

// splitDecimal splits an optionally signed plain decimal ("-12.50", ".5")
// into sign, integer and fraction digits. ok is false for anything else,
// including exponent notation and NaN.
func splitDecimal(s string) (neg bool, intPart, fracPart string, ok bool) {
	digits := s
	if strings.HasPrefix(digits, "-") {
		neg = true
		digits = digits[1:]
	} else if strings.HasPrefix(digits, "+") {
		digits = digits[1:]
	}

	intPart, fracPart, _ = strings.Cut(digits, ".")
	if intPart == "" && fracPart == "" {
		return false, "", "", false
	}
	if !allDigits(intPart) || !allDigits(fracPart) {
		return false, "", "", false
	}
	return neg, intPart, fracPart, true
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Numeric is the Codec for numeric columns. It encodes apd decimals and plain
// decimal strings, and decodes into *apd.Decimal.
type Numeric struct{}

func (Numeric) OID() uint32 { return NumericOID }

// Accepts takes apd decimals and plain decimal strings. Other strings
// ("NaN", "1e5") are left to the driver's numeric codec.
func (Numeric) Accepts(v any) bool {
	switch x := v.(type) {
	case apd.Decimal, *apd.Decimal:
		return true
	case string:
		_, _, _, ok := splitDecimal(x)
		return ok
	}
	return false
}

func (c Numeric) Encode(v any) ([]byte, error) {
	switch d := v.(type) {
	case *apd.Decimal:
		if d == nil {
			return nil, nil
		}
		return EncodeDecimal(d)
	case apd.Decimal:
		return EncodeDecimal(&d)
	case string:
		return EncodeNumeric(d)
	}
	return nil, unsupported(c, v)
}

func (Numeric) Decode(src []byte) (any, error) {
	return DecodeDecimal(src)
}
