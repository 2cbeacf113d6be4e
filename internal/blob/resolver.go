package blob

import (
	"github.com/roach88/dbwork/internal/codec"
)

// BlobRef implements codec.BlobResolver. Handles encode as themselves; a
// Source encodes as the handle it was uploaded to, and a Source that was
// never uploaded is an error.
func (s *Store) BlobRef(v any) (codec.BlobRef, bool, error) {
	switch b := v.(type) {
	case *Handle:
		if b == nil {
			return codec.BlobRef{}, true, nil
		}
		return b.Ref(), true, nil
	case *Source:
		if b.Len() == 0 {
			return codec.BlobRef{}, true, nil
		}
		h, ok := s.cache.get(b)
		if !ok {
			return codec.BlobRef{}, true, codec.ErrBlobNotUploaded
		}
		return h.Ref(), true, nil
	}
	return codec.BlobRef{}, false, nil
}

// OpenBlob implements codec.BlobResolver.
func (s *Store) OpenBlob(ref codec.BlobRef) any {
	return s.Open(ref)
}
