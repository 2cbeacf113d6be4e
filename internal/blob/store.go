// Package blob implements content-addressed blob storage on the local
// filesystem, linked to the database through a blob_registry row written in
// the caller's transaction.
//
// File writes are not transactional. A rolled-back transaction can leave an
// orphaned file behind; this package never garbage-collects them.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/roach88/dbwork/internal/codec"
)

// Strategy tags identifiers produced by this store.
const Strategy = "fs1:"

// RegistryInsert records an uploaded blob.
const RegistryInsert = `INSERT INTO blob_registry (id, length) VALUES ($1, $2)`

// Execer runs a statement inside the caller's current transaction.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) error
}

// Store writes blobs under a data root.
type Store struct {
	root   string
	logger *slog.Logger
	cache  *cache
	writes atomic.Int64
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// NewStore opens a store rooted at root, creating the directory if needed.
func NewStore(root string, opts ...Option) (*Store, error) {
	if root == "" {
		return nil, errors.New("blob store: empty data root")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("blob store: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("blob store: create root: %w", err)
	}

	s := &Store{
		root:   abs,
		logger: slog.Default(),
		cache:  newCache(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root returns the absolute data root.
func (s *Store) Root() string {
	return s.root
}

// Writes reports how many files this store has written.
func (s *Store) Writes() int64 {
	return s.writes.Load()
}

// Path maps an identifier to its file: <root>/<hex[0:2]>/<hex[2:]>.
func (s *Store) Path(id string) (string, error) {
	hex, ok := strings.CutPrefix(id, Strategy)
	if !ok {
		return "", fmt.Errorf("blob %q: unknown storage strategy", id)
	}
	if len(hex) != 32 || strings.Trim(hex, "0123456789abcdef") != "" {
		return "", fmt.Errorf("blob %q: malformed identifier", id)
	}
	return filepath.Join(s.root, hex[:2], hex[2:]), nil
}

// Upload stores src and records it in the registry through tx.
//
// Accepted sources are nil, *Source, []byte, string, io.Reader and *Handle.
// Nil and empty sources return a nil handle and no error. A *Handle is
// returned unchanged. A *Source that was already uploaded returns the cached
// handle without touching disk or the registry.
func (s *Store) Upload(ctx context.Context, tx Execer, src any) (*Handle, error) {
	switch v := src.(type) {
	case nil:
		return nil, nil
	case *Handle:
		if v == nil {
			return nil, nil
		}
		if !strings.HasPrefix(v.id, Strategy) {
			return nil, fmt.Errorf("upload: handle %q belongs to another storage strategy", v.id)
		}
		return v, nil
	case *Source:
		if v.Len() == 0 {
			return nil, nil
		}
		if h, ok := s.cache.get(v); ok {
			return h, nil
		}
		h, err := s.write(ctx, tx, bytes.NewReader(v.data))
		if err != nil {
			return nil, err
		}
		if h != nil {
			s.cache.put(v, h)
		}
		return h, nil
	case []byte:
		if len(v) == 0 {
			return nil, nil
		}
		return s.write(ctx, tx, bytes.NewReader(v))
	case string:
		if v == "" {
			return nil, nil
		}
		return s.write(ctx, tx, strings.NewReader(v))
	case io.Reader:
		return s.write(ctx, tx, v)
	default:
		return nil, fmt.Errorf("upload: unsupported source type %T", src)
	}
}

// Forget drops src from the dedup cache, so the next upload writes it again.
func (s *Store) Forget(src *Source) {
	s.cache.remove(src)
}

// Cached returns the handle recorded for src, if any.
func (s *Store) Cached(src *Source) (*Handle, bool) {
	return s.cache.get(src)
}

// Open returns a handle for a known reference without touching disk.
func (s *Store) Open(ref codec.BlobRef) *Handle {
	return &Handle{id: ref.ID, length: ref.Length, store: s}
}

func (s *Store) write(ctx context.Context, tx Execer, r io.Reader) (h *Handle, err error) {
	id := newID()
	final, err := s.Path(id)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return nil, fmt.Errorf("upload %s: create shard: %w", id, err)
	}

	f, err := os.CreateTemp(filepath.Dir(final), ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("upload %s: create temp: %w", id, err)
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	if _, err = io.Copy(f, r); err != nil {
		return nil, fmt.Errorf("upload %s: write: %w", id, err)
	}
	if err = f.Sync(); err != nil {
		return nil, fmt.Errorf("upload %s: sync: %w", id, err)
	}
	if err = f.Close(); err != nil {
		return nil, fmt.Errorf("upload %s: close: %w", id, err)
	}
	if err = os.Rename(tmp, final); err != nil {
		return nil, fmt.Errorf("upload %s: rename: %w", id, err)
	}

	fi, err := os.Stat(final)
	if err != nil {
		return nil, fmt.Errorf("upload %s: stat: %w", id, err)
	}
	size := fi.Size()
	if size == 0 {
		// an empty reader is "no blob"
		os.Remove(final)
		return nil, nil
	}
	s.writes.Add(1)

	if err = tx.Exec(ctx, RegistryInsert, id, size); err != nil {
		// nothing references the file yet
		os.Remove(final)
		return nil, fmt.Errorf("upload %s: register: %w", id, err)
	}

	s.logger.Debug("blob uploaded", "id", id, "length", size)
	return &Handle{id: id, length: size, store: s}, nil
}

func newID() string {
	u := uuid.New()
	return Strategy + strings.ReplaceAll(u.String(), "-", "")
}
