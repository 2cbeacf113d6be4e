package blob

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/roach88/dbwork/internal/codec"
)

// ErrNoStore is returned by reads on a handle not bound to a store.
var ErrNoStore = errors.New("blob handle has no store")

// Handle is a lazy reference to a stored blob. Every read recomputes the
// path from the identifier; content is never cached on the handle.
type Handle struct {
	id     string
	length int64
	store  *Store
}

func (h *Handle) ID() string { return h.id }

func (h *Handle) Length() int64 { return h.length }

// Ref returns the wire reference.
func (h *Handle) Ref() codec.BlobRef {
	return codec.BlobRef{ID: h.id, Length: h.length}
}

func (h *Handle) String() string {
	if h == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s (%d bytes)", h.id, h.length)
}

// Path returns the file backing the handle.
func (h *Handle) Path() (string, error) {
	if h.store == nil {
		return "", ErrNoStore
	}
	return h.store.Path(h.id)
}

// Open opens the blob for reading.
func (h *Handle) Open() (io.ReadCloser, error) {
	p, err := h.Path()
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("open blob %s: %w", h.id, err)
	}
	return f, nil
}

// Bytes reads the whole blob. A file whose size differs from the recorded
// length is reported as corrupt.
func (h *Handle) Bytes() ([]byte, error) {
	p, err := h.Path()
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", h.id, err)
	}
	if int64(len(b)) != h.length {
		return nil, fmt.Errorf("read blob %s: corrupt: %d bytes on disk, %d recorded", h.id, len(b), h.length)
	}
	return b, nil
}

// Text reads the blob as text, honoring and stripping a byte-order mark.
// Without a BOM the content is taken as UTF-8.
func (h *Handle) Text() (string, error) {
	b, err := h.Bytes()
	if err != nil {
		return "", err
	}
	dec := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	out, _, err := transform.Bytes(dec, b)
	if err != nil {
		return "", fmt.Errorf("decode blob %s: %w", h.id, err)
	}
	return string(out), nil
}
