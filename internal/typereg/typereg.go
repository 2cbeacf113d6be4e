// Package typereg performs the one-time, process-wide bootstrap of
// server-assigned type identifiers and installs the wire codecs that depend
// on them.
//
// Any number of connections may call Configure concurrently; exactly one
// catalog lookup is issued per process. A failed lookup is reported to every
// caller that was waiting on it and is then forgotten, so the next caller
// starts a fresh attempt.
package typereg

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/jackc/pgx/v5/pgtype"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/dbwork/internal/codec"
)

// BlobRefType is the composite type backing blob columns.
const BlobRefType = "blob_ref"

// RequiredTypes are looked up in the catalog at bootstrap.
var RequiredTypes = []string{BlobRefType}

// Catalog resolves type names to server-assigned identifiers.
type Catalog interface {
	LookupTypes(ctx context.Context, names []string) (map[string]uint32, error)
}

// ConfigurationError reports a failed catalog lookup.
type ConfigurationError struct {
	Missing []string
	Err     error
}

func (e *ConfigurationError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("configuration error: types not found in catalog: %v", e.Missing)
	}
	return fmt.Sprintf("configuration error: %v", e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// IsConfigurationError returns true if err wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// Registry is the completed configuration: type identifiers by name.
type Registry struct {
	oids map[string]uint32
}

// NewRegistry builds a Registry from known identifiers.
func NewRegistry(oids map[string]uint32) *Registry {
	cp := make(map[string]uint32, len(oids))
	for k, v := range oids {
		cp[k] = v
	}
	return &Registry{oids: cp}
}

// OID returns the identifier registered for name.
func (r *Registry) OID(name string) (uint32, bool) {
	oid, ok := r.oids[name]
	return oid, ok
}

// Names returns the registered type names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.oids))
	for n := range r.oids {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Codecs returns the codecs this registry enables, keyed by type name.
// resolver connects blob_ref values to a blob store and may be nil.
func (r *Registry) Codecs(resolver codec.BlobResolver) map[string]codec.Codec {
	cs := map[string]codec.Codec{
		"numeric":     codec.Numeric{},
		"timestamp":   codec.NewTimestamp(codec.TimestampOID),
		"timestamptz": codec.NewTimestamp(codec.TimestamptzOID),
	}
	if oid, ok := r.oids[BlobRefType]; ok {
		cs[BlobRefType] = codec.NewBlob(oid, resolver)
	}
	return cs
}

// Apply installs the registry's codecs on a connection's type map. Codecs
// from this package take precedence over the driver's built-ins; values they
// do not accept still reach the built-in codec.
func (r *Registry) Apply(m *pgtype.Map, resolver codec.BlobResolver) {
	cs := r.Codecs(resolver)
	names := make([]string, 0, len(cs))
	for n := range cs {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		codec.Register(m, n, cs[n])
	}
}

// Bootstrapper holds the two process-wide slots: the completed registry and
// the in-flight lookup.
type Bootstrapper struct {
	done     atomic.Pointer[Registry]
	inflight singleflight.Group
	lookups  atomic.Int64
}

const configureKey = "configure"

// Configure returns the process registry, performing the catalog lookup if no
// completed registry exists yet. Concurrent callers share one lookup.
func (b *Bootstrapper) Configure(ctx context.Context, cat Catalog) (*Registry, error) {
	if reg := b.done.Load(); reg != nil {
		return reg, nil
	}

	ch := b.inflight.DoChan(configureKey, func() (any, error) {
		// a caller that lost the race to a completed attempt
		if reg := b.done.Load(); reg != nil {
			return reg, nil
		}
		b.lookups.Add(1)
		reg, err := lookup(context.WithoutCancel(ctx), cat)
		if err != nil {
			return nil, err
		}
		b.done.Store(reg)
		return reg, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Registry), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Lookups reports how many catalog lookups this bootstrapper has issued.
func (b *Bootstrapper) Lookups() int64 {
	return b.lookups.Load()
}

// Registry returns the completed registry, or nil before bootstrap.
func (b *Bootstrapper) Registry() *Registry {
	return b.done.Load()
}

func lookup(ctx context.Context, cat Catalog) (*Registry, error) {
	oids, err := cat.LookupTypes(ctx, RequiredTypes)
	if err != nil {
		return nil, &ConfigurationError{Err: fmt.Errorf("catalog lookup: %w", err)}
	}
	var missing []string
	for _, name := range RequiredTypes {
		if _, ok := oids[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, &ConfigurationError{Missing: missing}
	}
	return NewRegistry(oids), nil
}

var defaultBoot atomic.Pointer[Bootstrapper]

// Default returns the process-wide bootstrapper.
func Default() *Bootstrapper {
	if b := defaultBoot.Load(); b != nil {
		return b
	}
	defaultBoot.CompareAndSwap(nil, &Bootstrapper{})
	return defaultBoot.Load()
}

// Configure runs the process-wide bootstrap.
func Configure(ctx context.Context, cat Catalog) (*Registry, error) {
	return Default().Configure(ctx, cat)
}

// Reset drops the process-wide registry so the next Configure performs a
// fresh lookup. Used by tests.
func Reset() {
	defaultBoot.Store(nil)
}
