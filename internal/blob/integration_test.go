package blob_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dbwork/internal/blob"
	"github.com/roach88/dbwork/internal/engine"
	"github.com/roach88/dbwork/internal/store"
)

type env struct {
	db    *store.Store
	blobs *blob.Store
	conn  *engine.Conn
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	db, err := store.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	blobs, err := blob.NewStore(filepath.Join(dir, "blobs"))
	require.NoError(t, err)

	sess, err := db.Session(ctx)
	require.NoError(t, err)
	conn := engine.NewConn(sess, engine.WithBlobStore(blobs))
	t.Cleanup(func() { conn.Close(ctx) })

	return &env{db: db, blobs: blobs, conn: conn}
}

func (e *env) registryRows(t *testing.T) int {
	t.Helper()
	var n int
	require.NoError(t, e.db.DB().QueryRow("SELECT count(*) FROM blob_registry").Scan(&n))
	return n
}

func TestUploadBlob_OneWriteOneRow(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	src := blob.NewSource([]byte("report body"))

	var first, second *blob.Handle
	err := e.conn.RunInWork(ctx, func(ctx context.Context, w *engine.Work) error {
		var err error
		if first, err = w.UploadBlob(ctx, src); err != nil {
			return err
		}
		second, err = w.UploadBlob(ctx, src)
		return err
	}, engine.RunOptions{})
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int64(1), e.blobs.Writes())
	assert.Equal(t, 1, e.registryRows(t))

	var length int64
	require.NoError(t, e.db.DB().QueryRow(
		"SELECT length FROM blob_registry WHERE id = ?", first.ID(),
	).Scan(&length))
	assert.Equal(t, int64(11), length)

	// a later Work still reuses the cached handle
	err = e.conn.RunInWork(ctx, func(ctx context.Context, w *engine.Work) error {
		h, err := w.UploadBlob(ctx, src)
		assert.Same(t, first, h)
		return err
	}, engine.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.blobs.Writes())
}

func TestUploadBlob_NullSourceNeverFails(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	err := e.conn.RunInWork(ctx, func(ctx context.Context, w *engine.Work) error {
		for _, src := range []any{nil, blob.NewSource(nil), []byte{}, ""} {
			h, err := w.UploadBlob(ctx, src)
			if err != nil {
				return err
			}
			assert.Nil(t, h)
		}
		return nil
	}, engine.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, e.registryRows(t))
}

func TestUploadBlob_RollbackDropsRowAndCache(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	src := blob.NewSource([]byte("draft"))

	w, err := e.conn.BeginWork(ctx, engine.WorkOptions{})
	require.NoError(t, err)
	h, err := w.UploadBlob(ctx, src)
	require.NoError(t, err)
	require.NoError(t, w.Rollback(ctx))

	assert.Equal(t, 0, e.registryRows(t))
	_, cached := e.blobs.Cached(src)
	assert.False(t, cached)

	// the orphaned file is left in place
	b, err := h.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "draft", string(b))

	// uploading again writes a new blob
	err = e.conn.RunInWork(ctx, func(ctx context.Context, w *engine.Work) error {
		h2, err := w.UploadBlob(ctx, src)
		if err == nil {
			assert.NotEqual(t, h.ID(), h2.ID())
		}
		return err
	}, engine.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), e.blobs.Writes())
	assert.Equal(t, 1, e.registryRows(t))
}
