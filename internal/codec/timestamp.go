package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// pgEpochMillis is 2000-01-01T00:00:00Z in Unix milliseconds.
const pgEpochMillis int64 = 946_684_800_000

// Reserved wire patterns.
const (
	infinityMicros    int64 = math.MaxInt64 // 0x7FFFFFFFFFFFFFFF
	negInfinityMicros int64 = math.MinInt64 // 0x8000000000000000
)

// maxRelMicros is the largest wire value that still fits in Unix microseconds.
const maxRelMicros = math.MaxInt64 - pgEpochMillis*1000

var (
	// MaxTime is the application "max" date. It travels as +infinity.
	MaxTime = time.UnixMilli(8_640_000_000_000_000).UTC()

	// DefaultTime is the application "default" date, the zero time.Time.
	// It travels as -infinity.
	DefaultTime = time.Time{}
)

// EncodeTimestamp encodes t at millisecond precision.
func EncodeTimestamp(t time.Time) ([]byte, error) {
	return AppendTimestamp(make([]byte, 0, 8), t)
}

// AppendTimestamp appends the encoding of t to buf.
func AppendTimestamp(buf []byte, t time.Time) ([]byte, error) {
	var us int64
	switch {
	case t.Equal(MaxTime):
		us = infinityMicros
	case t.IsZero():
		us = negInfinityMicros
	default:
		rel := t.UnixMilli() - pgEpochMillis
		if rel > maxRelMicros/1000 || rel < math.MinInt64/1000 {
			return nil, fmt.Errorf("timestamp %s out of range", t.Format(time.RFC3339))
		}
		us = rel * 1000
	}
	return binary.BigEndian.AppendUint64(buf, uint64(us)), nil
}

// DecodeTimestamp decodes an 8-byte timestamp. Infinity patterns map back to
// MaxTime and DefaultTime; everything else is returned in UTC.
func DecodeTimestamp(src []byte) (time.Time, error) {
	if len(src) != 8 {
		return time.Time{}, fmt.Errorf("timestamp: invalid length %d, want 8", len(src))
	}
	us := int64(binary.BigEndian.Uint64(src))
	switch us {
	case infinityMicros:
		return MaxTime, nil
	case negInfinityMicros:
		return DefaultTime, nil
	}
	if us > maxRelMicros {
		return time.Time{}, fmt.Errorf("timestamp: %d microseconds past 2000-01-01 out of range", us)
	}
	return time.UnixMicro(us + pgEpochMillis*1000).UTC(), nil
}

// Timestamp is the Codec for timestamp and timestamptz columns.
type Timestamp struct {
	oid uint32
}

// NewTimestamp returns a timestamp codec for the given type identifier
// (TimestampOID or TimestamptzOID).
func NewTimestamp(oid uint32) Timestamp {
	return Timestamp{oid: oid}
}

func (c Timestamp) OID() uint32 { return c.oid }

func (c Timestamp) Accepts(v any) bool {
	switch v.(type) {
	case time.Time, *time.Time:
		return true
	}
	return false
}

func (c Timestamp) Encode(v any) ([]byte, error) {
	switch t := v.(type) {
	case time.Time:
		return EncodeTimestamp(t)
	case *time.Time:
		if t == nil {
			return nil, nil
		}
		return EncodeTimestamp(*t)
	}
	return nil, unsupported(c, v)
}

func (c Timestamp) Decode(src []byte) (any, error) {
	return DecodeTimestamp(src)
}
