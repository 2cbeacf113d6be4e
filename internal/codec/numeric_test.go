package codec

import (
	"encoding/binary"
	"testing"

	"github.com/cockroachdb/apd/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func numericHeader(ndigits, weight int16, sign, dscale uint16, groups ...uint16) []byte {
	b := binary.BigEndian.AppendUint16(nil, uint16(ndigits))
	b = binary.BigEndian.AppendUint16(b, uint16(weight))
	b = binary.BigEndian.AppendUint16(b, sign)
	b = binary.BigEndian.AppendUint16(b, dscale)
	for _, g := range groups {
		b = binary.BigEndian.AppendUint16(b, g)
	}
	return b
}

func TestEncodeNumeric_Layout(t *testing.T) {
	tests := []struct {
		in   string
		want []byte
	}{
		{"0", numericHeader(1, 0, numericPos, 0, 0)},
		{"12345.678", numericHeader(3, 1, numericPos, 3, 1, 2345, 6780)},
		{"-12.50", numericHeader(2, 0, numericNeg, 2, 12, 5000)},
		{"0.5", numericHeader(1, -1, numericPos, 1, 5000)},
		{"0.00000001", numericHeader(1, -2, numericPos, 8, 1)},
		{"10000", numericHeader(2, 1, numericPos, 0, 1, 0)},
		{".25", numericHeader(1, -1, numericPos, 2, 2500)},
		{"+7", numericHeader(1, 0, numericPos, 0, 7)},
		{"0007.10", numericHeader(2, 0, numericPos, 2, 7, 1000)},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := EncodeNumeric(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNumeric_RoundTrip(t *testing.T) {
	values := []string{
		"0", "1", "-1", "9999", "10000", "-10000", "0.1", "0.0001", "0.00001",
		"123456789012345678901234567890.123456789012345678901234567890",
		"-0.000000000000000000000000000001", "1.10", "42.000", "99999999.99999999",
		"0.0", "-0", "100000000", "5.",
	}

	for _, v := range values {
		t.Run(v, func(t *testing.T) {
			b, err := EncodeNumeric(v)
			require.NoError(t, err)
			got, err := DecodeNumeric(b)
			require.NoError(t, err)

			want := v
			if want == "5." {
				want = "5"
			}
			assert.Equal(t, want, got)
		})
	}
}

func TestEncodeNumeric_Invalid(t *testing.T) {
	for _, in := range []string{"", "-", ".", "abc", "1.2.3", "1e5", "NaN", "1,5", " 1"} {
		_, err := EncodeNumeric(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestDecodeNumeric_NaNIsError(t *testing.T) {
	_, err := DecodeNumeric(numericHeader(0, 0, numericNaN, 0))
	assert.ErrorIs(t, err, ErrNumericNaN)

	_, err = DecodeNumeric(numericHeader(0, 0, numericPInf, 0))
	assert.ErrorIs(t, err, ErrNumericInfinity)

	_, err = DecodeNumeric(numericHeader(0, 0, numericNInf, 0))
	assert.ErrorIs(t, err, ErrNumericInfinity)
}

func TestDecodeNumeric_Malformed(t *testing.T) {
	tests := map[string][]byte{
		"short header":    {0, 1, 0},
		"missing groups":  numericHeader(2, 0, numericPos, 0, 1),
		"extra groups":    numericHeader(1, 0, numericPos, 0, 1, 2),
		"group too large": numericHeader(1, 0, numericPos, 0, 10000),
		"bad sign":        numericHeader(1, 0, 0x1234, 0, 1),
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeNumeric(src)
			assert.Error(t, err)
		})
	}
}

func TestDecodeNumeric_ServerZero(t *testing.T) {
	// the server sends zero with no digit groups
	got, err := DecodeNumeric(numericHeader(0, 0, numericPos, 2))
	require.NoError(t, err)
	assert.Equal(t, "0.00", got)
}

func TestDecimal_RoundTrip(t *testing.T) {
	for _, s := range []string{"12.50", "-0.001", "1000", "31415926535.8979"} {
		d, _, err := apd.NewFromString(s)
		require.NoError(t, err)

		b, err := EncodeDecimal(d)
		require.NoError(t, err)

		got, err := DecodeDecimal(b)
		require.NoError(t, err)
		assert.Equal(t, 0, got.Cmp(d), s)
		assert.Equal(t, s, got.Text('f'))
	}
}

func TestEncodeDecimal_RejectsSpecial(t *testing.T) {
	nan := &apd.Decimal{Form: apd.NaN}
	_, err := EncodeDecimal(nan)
	assert.Error(t, err)

	inf := &apd.Decimal{Form: apd.Infinite}
	_, err = EncodeDecimal(inf)
	assert.Error(t, err)
}

func TestNumericCodec(t *testing.T) {
	c := Numeric{}
	assert.Equal(t, NumericOID, c.OID())
	assert.True(t, c.Accepts("1.5"))
	assert.True(t, c.Accepts("-.5"))
	assert.False(t, c.Accepts("NaN"))
	assert.False(t, c.Accepts("1e5"))
	assert.False(t, c.Accepts(""))
	assert.True(t, c.Accepts(apd.New(15, -1)))
	assert.False(t, c.Accepts(1.5))

	b, err := c.Encode(*apd.New(15, -1))
	require.NoError(t, err)
	v, err := c.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, "1.5", v.(*apd.Decimal).Text('f'))

	b, err = c.Encode((*apd.Decimal)(nil))
	require.NoError(t, err)
	assert.Nil(t, b)

	_, err = c.Encode(1.5)
	assert.Error(t, err)
}
