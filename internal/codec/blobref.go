package codec

import (
	"encoding/binary"
	"fmt"
	"math"
)

// blobRefFields is the field count of the blob_ref composite.
const blobRefFields = 2

// BlobRef is the wire form of a stored blob: its identifier and length.
type BlobRef struct {
	ID     string
	Length int64
}

// BlobResolver connects the blob_ref codec to a blob store.
type BlobResolver interface {
	// BlobRef returns the reference for v. ok is false when v is not a blob
	// value at all. A source the store has not uploaded yields
	// ErrBlobNotUploaded.
	BlobRef(v any) (ref BlobRef, ok bool, err error)

	// OpenBlob builds a lazy handle for a decoded reference.
	OpenBlob(ref BlobRef) any
}

// EncodeBlobRef encodes ref as a blob_ref composite. A zero-length blob is
// NULL and encodes to a nil slice.
func EncodeBlobRef(ref BlobRef) ([]byte, error) {
	if ref.Length == 0 {
		return nil, nil
	}
	if ref.Length < 0 {
		return nil, fmt.Errorf("blob_ref: negative length %d", ref.Length)
	}
	if ref.ID == "" {
		return nil, fmt.Errorf("blob_ref: empty identifier")
	}
	if len(ref.ID) > math.MaxInt32 {
		return nil, fmt.Errorf("blob_ref: identifier too long")
	}

	buf := make([]byte, 0, 4+8+len(ref.ID)+8+8)
	buf = binary.BigEndian.AppendUint32(buf, blobRefFields)

	buf = binary.BigEndian.AppendUint32(buf, TextOID)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(ref.ID)))
	buf = append(buf, ref.ID...)

	buf = binary.BigEndian.AppendUint32(buf, Int8OID)
	buf = binary.BigEndian.AppendUint32(buf, 8)
	buf = binary.BigEndian.AppendUint64(buf, uint64(ref.Length))
	return buf, nil
}

// DecodeBlobRef decodes a non-NULL blob_ref composite. Every header is checked
// against the remaining buffer; any mismatch is a *BlobProtocolError.
func DecodeBlobRef(src []byte) (BlobRef, error) {
	var ref BlobRef
	fail := func(off int, format string, args ...any) (BlobRef, error) {
		return BlobRef{}, &BlobProtocolError{Offset: off, Reason: fmt.Sprintf(format, args...)}
	}

	if len(src) < 4 {
		return fail(0, "truncated field count (%d bytes)", len(src))
	}
	if n := int32(binary.BigEndian.Uint32(src)); n != blobRefFields {
		return fail(0, "expected %d fields, got %d", blobRefFields, n)
	}
	off := 4

	// field 1: identifier
	oid, size, err := fieldHeader(src, off)
	if err != nil {
		return BlobRef{}, err
	}
	if oid != TextOID && oid != VarcharOID {
		return fail(off, "field 1: expected text type %d, got %d", TextOID, oid)
	}
	off += 8
	if size < 0 {
		return fail(off, "field 1: identifier is NULL")
	}
	if int(size) > len(src)-off {
		return fail(off, "field 1: declared length %d exceeds remaining %d bytes", size, len(src)-off)
	}
	ref.ID = string(src[off : off+int(size)])
	off += int(size)

	// field 2: length
	oid, size, err = fieldHeader(src, off)
	if err != nil {
		return BlobRef{}, err
	}
	if oid != Int8OID {
		return fail(off, "field 2: expected int8 type %d, got %d", Int8OID, oid)
	}
	off += 8
	if size != 8 {
		return fail(off, "field 2: expected length 8, got %d", size)
	}
	if len(src)-off < 8 {
		return fail(off, "field 2: truncated value (%d bytes remaining)", len(src)-off)
	}
	ref.Length = int64(binary.BigEndian.Uint64(src[off:]))
	off += 8

	if off != len(src) {
		return fail(off, "%d trailing bytes", len(src)-off)
	}
	return ref, nil
}

func fieldHeader(src []byte, off int) (oid uint32, size int32, err error) {
	if len(src)-off < 8 {
		return 0, 0, &BlobProtocolError{
			Offset: off,
			Reason: fmt.Sprintf("truncated field header (%d bytes remaining)", len(src)-off),
		}
	}
	return binary.BigEndian.Uint32(src[off:]), int32(binary.BigEndian.Uint32(src[off+4:])), nil
}

// Blob is the Codec for the blob_ref composite type. Its identifier is
// assigned by the server and resolved at bootstrap.
type Blob struct {
	oid      uint32
	resolver BlobResolver
}

// NewBlob returns a blob_ref codec. resolver may be nil, in which case only
// BlobRef values are encoded and decoding yields BlobRef values.
func NewBlob(oid uint32, resolver BlobResolver) Blob {
	return Blob{oid: oid, resolver: resolver}
}

func (c Blob) OID() uint32 { return c.oid }

func (c Blob) Accepts(v any) bool {
	switch v.(type) {
	case BlobRef, *BlobRef:
		return true
	}
	if c.resolver == nil {
		return false
	}
	_, ok, _ := c.resolver.BlobRef(v)
	return ok
}

func (c Blob) Encode(v any) ([]byte, error) {
	switch r := v.(type) {
	case BlobRef:
		return EncodeBlobRef(r)
	case *BlobRef:
		if r == nil {
			return nil, nil
		}
		return EncodeBlobRef(*r)
	}
	if c.resolver != nil {
		ref, ok, err := c.resolver.BlobRef(v)
		if err != nil {
			return nil, fmt.Errorf("blob_ref: %w", err)
		}
		if ok {
			return EncodeBlobRef(ref)
		}
	}
	return nil, unsupported(c, v)
}

func (c Blob) Decode(src []byte) (any, error) {
	ref, err := DecodeBlobRef(src)
	if err != nil {
		return nil, err
	}
	if c.resolver == nil {
		return ref, nil
	}
	return c.resolver.OpenBlob(ref), nil
}
