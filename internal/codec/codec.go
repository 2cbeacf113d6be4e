package codec

import (
	"errors"
	"fmt"
)

// Well-known type identifiers. Composite types such as blob_ref have
// server-assigned identifiers resolved at bootstrap.
const (
	Int8OID        uint32 = 20
	TextOID        uint32 = 25
	VarcharOID     uint32 = 1043
	TimestampOID   uint32 = 1114
	TimestamptzOID uint32 = 1184
	NumericOID     uint32 = 1700
)

// Codec maps values of one wire type to and from their binary encoding.
type Codec interface {
	// OID is the wire type identifier this codec handles.
	OID() uint32

	// Accepts reports whether v is an in-memory value this codec can encode.
	Accepts(v any) bool

	// Encode returns the binary encoding of v. A nil slice with a nil error
	// means SQL NULL.
	Encode(v any) ([]byte, error)

	// Decode parses a non-NULL binary value.
	Decode(src []byte) (any, error)
}

var (
	// ErrNumericNaN is returned when a numeric carries the NaN sign.
	ErrNumericNaN = errors.New("numeric value is NaN")

	// ErrNumericInfinity is returned when a numeric carries an infinity sign.
	ErrNumericInfinity = errors.New("numeric value is infinite")

	// ErrBlobNotUploaded is returned when encoding a blob source that the blob
	// store has never uploaded. Encoding it anyway would silently drop data.
	ErrBlobNotUploaded = errors.New("blob source has not been uploaded")
)

// BlobProtocolError reports malformed blob_ref composite bytes.
type BlobProtocolError struct {
	// Offset is the byte position where decoding stopped.
	Offset int

	// Reason describes the mismatch.
	Reason string
}

// Error implements the error interface.
func (e *BlobProtocolError) Error() string {
	return fmt.Sprintf("blob_ref protocol error at byte %d: %s", e.Offset, e.Reason)
}

// IsBlobProtocolError returns true if err wraps a BlobProtocolError.
func IsBlobProtocolError(err error) bool {
	var pe *BlobProtocolError
	return errors.As(err, &pe)
}

func unsupported(c Codec, v any) error {
	return fmt.Errorf("codec %d: cannot encode %T", c.OID(), v)
}
