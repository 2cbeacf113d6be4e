package codec

import (
	"testing"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMap(r BlobResolver) *pgtype.Map {
	m := pgtype.NewMap()
	Register(m, "numeric", Numeric{})
	Register(m, "timestamptz", NewTimestamp(TimestamptzOID))
	Register(m, "blob_ref", NewBlob(90001, r))
	return m
}

func TestPGX_NumericThroughMap(t *testing.T) {
	m := newTestMap(nil)

	buf, err := m.Encode(NumericOID, pgtype.BinaryFormatCode, "12345.678", nil)
	require.NoError(t, err)
	want, err := EncodeNumeric("12345.678")
	require.NoError(t, err)
	assert.Equal(t, want, buf)

	var d apd.Decimal
	require.NoError(t, m.Scan(NumericOID, pgtype.BinaryFormatCode, buf, &d))
	assert.Equal(t, "12345.678", d.Text('f'))

	var s string
	require.NoError(t, m.Scan(NumericOID, pgtype.BinaryFormatCode, buf, &s))
	assert.Equal(t, "12345.678", s)

	var anyv any
	require.NoError(t, m.Scan(NumericOID, pgtype.BinaryFormatCode, buf, &anyv))
	assert.Equal(t, "12345.678", anyv.(*apd.Decimal).Text('f'))
}

func TestPGX_NumericFallback(t *testing.T) {
	m := newTestMap(nil)

	// float64 is not handled by Numeric; the built-in codec takes over
	buf, err := m.Encode(NumericOID, pgtype.BinaryFormatCode, float64(2.5), nil)
	require.NoError(t, err)

	got, err := DecodeNumeric(buf)
	require.NoError(t, err)
	assert.Equal(t, "2.5", got)
}

func TestPGX_TimestampThroughMap(t *testing.T) {
	m := newTestMap(nil)
	ts := time.Date(2024, 2, 29, 12, 34, 56, 789_000_000, time.UTC)

	buf, err := m.Encode(TimestamptzOID, pgtype.BinaryFormatCode, ts, nil)
	require.NoError(t, err)

	var got time.Time
	require.NoError(t, m.Scan(TimestamptzOID, pgtype.BinaryFormatCode, buf, &got))
	assert.True(t, got.Equal(ts))

	buf, err = m.Encode(TimestamptzOID, pgtype.BinaryFormatCode, MaxTime, nil)
	require.NoError(t, err)
	require.NoError(t, m.Scan(TimestamptzOID, pgtype.BinaryFormatCode, buf, &got))
	assert.True(t, got.Equal(MaxTime))
}

func TestPGX_BlobRefNullAndValue(t *testing.T) {
	src := &testSource{data: []byte("abc")}
	r := &fakeResolver{uploaded: map[*testSource]BlobRef{src: {ID: "fs1:01", Length: 3}}}
	m := newTestMap(r)

	buf, err := m.Encode(90001, pgtype.BinaryFormatCode, src, nil)
	require.NoError(t, err)

	var h *testHandle
	require.NoError(t, m.Scan(90001, pgtype.BinaryFormatCode, buf, &h))
	require.NotNil(t, h)
	assert.Equal(t, BlobRef{ID: "fs1:01", Length: 3}, h.ref)

	buf, err = m.Encode(90001, pgtype.BinaryFormatCode, BlobRef{ID: "fs1:01"}, nil)
	require.NoError(t, err)
	assert.Nil(t, buf, "zero length encodes as NULL")

	require.NoError(t, m.Scan(90001, pgtype.BinaryFormatCode, nil, &h))
	assert.Nil(t, h)
}

func TestPGX_RegisterTwiceKeepsOriginalFallback(t *testing.T) {
	m := pgtype.NewMap()
	Register(m, "numeric", Numeric{})
	Register(m, "numeric", Numeric{})

	typ, ok := m.TypeForOID(NumericOID)
	require.True(t, ok)
	pc, ok := typ.Codec.(*pgxCodec)
	require.True(t, ok)
	_, nested := pc.fallback.(*pgxCodec)
	assert.False(t, nested)
}

func TestAssign(t *testing.T) {
	var tm time.Time
	ts := time.Unix(100, 0)
	require.NoError(t, assign(&tm, ts))
	assert.True(t, tm.Equal(ts))

	require.NoError(t, assign(&tm, nil))
	assert.True(t, tm.IsZero())

	var n int
	assert.Error(t, assign(&n, ts))
	assert.Error(t, assign(n, ts))
}

// recordingNumeric is the built-in numeric codec, noting what it was asked
// to encode.
type recordingNumeric struct {
	pgtype.NumericCodec
	planned []any
}

func (c *recordingNumeric) PlanEncode(m *pgtype.Map, oid uint32, format int16, value any) pgtype.EncodePlan {
	c.planned = append(c.planned, value)
	return c.NumericCodec.PlanEncode(m, oid, format, value)
}

func TestPGX_NonPlainNumericStringsFallThrough(t *testing.T) {
	fallback := &recordingNumeric{}
	p := PGX(Numeric{}, fallback)
	m := pgtype.NewMap()

	assert.NotNil(t, p.PlanEncode(m, NumericOID, pgtype.BinaryFormatCode, "12.5"))
	assert.Empty(t, fallback.planned)

	for _, s := range []string{"NaN", "1e5", "Infinity"} {
		p.PlanEncode(m, NumericOID, pgtype.BinaryFormatCode, s)
	}
	assert.Equal(t, []any{"NaN", "1e5", "Infinity"}, fallback.planned)
}
